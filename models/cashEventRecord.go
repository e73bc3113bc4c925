package models

import (
	"context"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/shopspring/decimal"
)

// CashEventRecord is one outbox row. Written inside the transaction that changed the
// drawer, published to Pub/Sub by the dispatcher after commit.
// Composite index idx_outbox_dispatch: (publish_status, next_attempt_at, id).
type CashEventRecord struct {
	ID            int             `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	ClinicId      string          `gorm:"size:64;index;not null" json:"clinic_id"`
	OccurredAt    time.Time       `gorm:"index;not null" json:"occurred_at"`
	ReferenceType string          `gorm:"size:50;index;not null" json:"reference_type"`
	ReferenceId   string          `gorm:"size:255" json:"reference_id"`
	DrawerId      int             `gorm:"index;not null" json:"drawer_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,5);default:0" json:"amount"`
	Description   string          `gorm:"type:text" json:"description"`
	OldObj        []byte          `gorm:"type:blob" json:"old_obj"`
	NewObj        []byte          `gorm:"type:blob" json:"new_obj"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'QUEUED';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pub_sub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToCashEventMessage(record CashEventRecord) config.CashEventMessage {
	return config.CashEventMessage{
		ID:            record.ID,
		ClinicId:      record.ClinicId,
		OccurredAt:    record.OccurredAt,
		ReferenceType: record.ReferenceType,
		ReferenceId:   record.ReferenceId,
		DrawerId:      record.DrawerId,
		Amount:        record.Amount,
		Description:   record.Description,
		OldObj:        record.OldObj,
		NewObj:        record.NewObj,
		CorrelationId: record.CorrelationId,
	}
}

// ReplayCashEvent re-queues a FAILED or DEAD outbox record so the dispatcher picks it
// up again. Only platform admins may call this (enforced at the route).
func ReplayCashEvent(ctx context.Context, id int) (*CashEventRecord, error) {
	db := config.GetDB()

	var record CashEventRecord
	skipCtx := utils.SetSkipTenantScopeInContext(ctx, true)
	if err := db.WithContext(skipCtx).First(&record, id).Error; err != nil {
		return nil, NewNotFoundError("cash_event_record")
	}
	if record.PublishStatus != CashEventStatusFailed && record.PublishStatus != CashEventStatusDead {
		return nil, NewStateError("cash_event_record", "only FAILED or DEAD records can be replayed")
	}

	err := db.WithContext(skipCtx).Model(&CashEventRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]interface{}{
			"publish_status":     CashEventStatusQueued,
			"next_attempt_at":    nil,
			"locked_at":          nil,
			"locked_by":          nil,
			"last_publish_error": nil,
		}).Error
	if err != nil {
		return nil, err
	}
	record.PublishStatus = CashEventStatusQueued
	return &record, nil
}
