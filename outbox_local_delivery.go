package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/vetmanager/caja_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxLocalDelivery drains outbox records without Pub/Sub.
// This is intended for local/dev environments where no broker is configured:
// records are logged and marked PUBLISHED so drawer flows do not wedge on a
// missing project id while the rest of the pipeline stays exercisable.
type OutboxLocalDelivery struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	WorkerID  string
	BatchSize int
	Interval  time.Duration
	LockTTL   time.Duration
}

func NewOutboxLocalDelivery(db *gorm.DB, logger *logrus.Logger) *OutboxLocalDelivery {
	return &OutboxLocalDelivery{
		DB:        db,
		Logger:    logger,
		WorkerID:  "local-" + time.Now().Format("20060102-150405.000"),
		BatchSize: 50,
		Interval:  2 * time.Second,
		LockTTL:   30 * time.Second,
	}
}

func shouldRunLocalOutboxDelivery() bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv("OUTBOX_LOCAL_DELIVERY")))
	if val == "true" {
		return true
	}
	if val == "false" {
		return false
	}
	// Default: only when no Pub/Sub project is configured. Local delivery must
	// never shadow real publishing.
	return os.Getenv("PUBSUB_PROJECT_ID") == "" &&
		os.Getenv("GOOGLE_CLOUD_PROJECT") == "" &&
		os.Getenv("GCP_PROJECT") == ""
}

func (p *OutboxLocalDelivery) Run(ctx context.Context) {
	if p == nil || p.DB == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.deliverOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.Interval):
		}
	}
}

func (p *OutboxLocalDelivery) deliverOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-p.LockTTL)

	var claimed []models.CashEventRecord
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("publish_status IN ?", []string{models.CashEventStatusQueued, models.CashEventStatusFailed}).
			Where("(locked_at IS NULL OR locked_at <= ?)", staleBefore).
			Order("id ASC").
			Limit(p.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		for i := range claimed {
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &p.WorkerID
			if err := tx.Model(&models.CashEventRecord{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{
					"locked_at": claimed[i].LockedAt,
					"locked_by": claimed[i].LockedBy,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(claimed) == 0 {
		return
	}

	for _, rec := range claimed {
		if p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{
				"field":          "OutboxLocalDelivery",
				"clinic_id":      rec.ClinicId,
				"reference_type": rec.ReferenceType,
				"reference_id":   rec.ReferenceId,
				"drawer_id":      rec.DrawerId,
				"record_id":      rec.ID,
				"correlation_id": rec.CorrelationId,
			}).Info("delivered cash event locally")
		}

		deliveredAt := time.Now().UTC()
		messageId := "local:" + p.WorkerID + ":" + strconv.Itoa(rec.ID)
		if err := p.DB.WithContext(ctx).Model(&models.CashEventRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"publish_status":     models.CashEventStatusPublished,
				"published_at":       &deliveredAt,
				"pub_sub_message_id": &messageId,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": nil,
			}).Error; err != nil {
			errMsg := err.Error()
			_ = p.DB.WithContext(ctx).Model(&models.CashEventRecord{}).
				Where("id = ?", rec.ID).
				Updates(map[string]interface{}{
					"last_publish_error": &errMsg,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error
			if p.Logger != nil {
				p.Logger.WithFields(logrus.Fields{
					"field":     "OutboxLocalDelivery",
					"clinic_id": rec.ClinicId,
					"record_id": rec.ID,
				}).Error("local delivery failed: " + errMsg)
			}
		}
	}
}
