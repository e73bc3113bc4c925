package models

// Publish statuses for CashEventRecord.PublishStatus.
// Keep these as strings (DB values).
const (
	CashEventStatusQueued     = "QUEUED"
	CashEventStatusPublishing = "PUBLISHING"
	CashEventStatusPublished  = "PUBLISHED"
	CashEventStatusFailed     = "FAILED"
	CashEventStatusDead       = "DEAD"
)

// Reference types for outbound drawer lifecycle events.
const (
	CashEventTypeDrawerOpened     = "CashDrawerOpened"
	CashEventTypeDrawerClosed     = "CashDrawerClosed"
	CashEventTypeDrawerReconciled = "CashDrawerReconciled"
)

// Reference types accepted by the inbound sale-event intake.
const (
	CashEventTypePosSalePayment = "PosSalePayment"
	CashEventTypePosCashRefund  = "PosCashRefund"
)
