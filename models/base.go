package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EnqueueCashEvent implements the transactional outbox: it writes the event record
// inside the caller's DB transaction but does NOT publish to Pub/Sub. Publishing is
// performed asynchronously by the outbox dispatcher after commit.
func EnqueueCashEvent(ctx context.Context, tx *gorm.DB, clinicId string, refType string, refId string, drawerId int, amount decimal.Decimal, description string, newObj interface{}, oldObj interface{}) error {

	var newInByte []byte
	var oldInByte []byte
	var err error

	if newObj != nil {
		newInByte, err = json.Marshal(newObj)
		if err != nil {
			return err
		}
	}
	if oldObj != nil {
		oldInByte, err = json.Marshal(oldObj)
		if err != nil {
			return err
		}
	}

	record := CashEventRecord{
		ClinicId:      clinicId,
		OccurredAt:    time.Now().UTC(),
		ReferenceType: refType,
		ReferenceId:   refId,
		DrawerId:      drawerId,
		Amount:        amount,
		Description:   description,
		NewObj:        newInByte,
		OldObj:        oldInByte,
		PublishStatus: CashEventStatusQueued,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
