package workflow

import (
	"context"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/models"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// saleEventTransactionTypes maps inbound POS reference types to the ledger
// entry they produce. Anything else is dropped, not retried.
var saleEventTransactionTypes = map[string]models.TransactionType{
	models.CashEventTypePosSalePayment: models.TransactionTypeSaleCash,
	models.CashEventTypePosCashRefund:  models.TransactionTypeRefundCash,
}

// ProcessCashEventMessage posts one inbound sale-feed event to the drawer ledger.
// messageId is the transport-level id (Pub/Sub message id, or the external payment
// id when the sync worker feeds events directly) and is what dedup keys on.
func ProcessCashEventMessage(ctx context.Context, logger *logrus.Logger, messageId string, m config.CashEventMessage) error {
	transactionType, known := saleEventTransactionTypes[m.ReferenceType]
	if !known {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"field":          "CashEventWorkflow",
				"clinic_id":      m.ClinicId,
				"reference_type": m.ReferenceType,
				"message_id":     messageId,
			}).Warn("dropping cash event with unknown reference type")
		}
		// Ack/drop permanently (do not retry); message would otherwise loop forever.
		return nil
	}

	// Ledger entries are recorded on behalf of the feed, not a signed-in user.
	ctx = utils.SetClinicIdInContext(ctx, m.ClinicId)
	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "System")

	db := config.GetDB()
	return db.Transaction(func(tx *gorm.DB) error {
		// Enforce strict per-clinic ordering across instances.
		if err := models.AcquireClinicCashLock(tx.WithContext(ctx), m.ClinicId); err != nil {
			return err
		}
		defer models.ReleaseClinicCashLock(tx.WithContext(ctx), m.ClinicId)

		handlerName := m.ReferenceType
		skip, err := BeginIdempotency(tx.WithContext(ctx), m.ClinicId, handlerName, messageId)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}

		if err := models.AcquireDrawerLock(tx.WithContext(ctx), m.DrawerId); err != nil {
			return err
		}
		defer models.ReleaseDrawerLock(tx.WithContext(ctx), m.DrawerId)

		description := m.Description
		if description == "" {
			if transactionType == models.TransactionTypeRefundCash {
				description = "POS cash refund"
			} else {
				description = "POS cash sale"
			}
		}

		input := &models.NewCashTransaction{
			Type:        transactionType,
			Amount:      m.Amount,
			Description: description,
			RelatedType: m.ReferenceType,
			RelatedId:   m.ReferenceId,
		}
		if _, err := models.RecordCashTransactionTx(tx, ctx, m.ClinicId, 0, m.DrawerId, input); err != nil {
			_ = MarkIdempotencyFailed(tx.WithContext(ctx), m.ClinicId, handlerName, messageId, err)
			// Malformed payloads and unknown drawers never heal on retry: keep the
			// FAILED mark and ack. State errors (drawer not open yet) are retried.
			switch models.ErrorKind(err) {
			case models.ErrKindValidation, models.ErrKindNotFound:
				if logger != nil {
					logger.WithFields(logrus.Fields{
						"field":          "CashEventWorkflow",
						"clinic_id":      m.ClinicId,
						"reference_type": m.ReferenceType,
						"reference_id":   m.ReferenceId,
						"drawer_id":      m.DrawerId,
						"message_id":     messageId,
					}).Warn("dropping unpostable cash event: " + err.Error())
				}
				return nil
			}
			return err
		}
		if err := MarkIdempotencySucceeded(tx.WithContext(ctx), m.ClinicId, handlerName, messageId); err != nil {
			return err
		}
		return nil
	})
}
