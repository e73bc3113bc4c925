package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CashTransaction is one immutable ledger entry. Amount is strictly positive;
// the direction is implied by Type. The monotonic id is the same-instant
// tiebreak for ordering and shift membership.
// Composite index idx_drawer_ledger: (drawer_id, created_at, id).
type CashTransaction struct {
	ID          int             `gorm:"primary_key;index:idx_drawer_ledger,priority:3" json:"id"`
	ClinicId    string          `gorm:"size:64;index;not null" json:"clinic_id"`
	DrawerId    int             `gorm:"not null;index:idx_drawer_ledger,priority:1" json:"drawer_id"`
	Drawer      *CashDrawer     `gorm:"foreignKey:DrawerId" json:"-"`
	Type        TransactionType `gorm:"type:enum('SALE_CASH','DEPOSIT','ADJUSTMENT_IN','RETURN_IN','REFUND_CASH','TRANSFER_IN','WITHDRAWAL','ADJUSTMENT_OUT','TRANSFER_OUT','EXPIRY_OUT');not null;index" json:"type"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,5);not null" json:"amount"`
	Description string          `gorm:"type:text" json:"description"`
	RelatedType string          `gorm:"size:255" json:"related_type"`
	RelatedId   string          `gorm:"size:255" json:"related_id"`
	RecordedBy  int             `gorm:"index" json:"recorded_by"`
	CreatedAt   time.Time       `gorm:"autoCreateTime;index:idx_drawer_ledger,priority:2" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Ledger entries are append-only. Corrections are new ADJUSTMENT_* entries.
func (t *CashTransaction) BeforeUpdate(tx *gorm.DB) error {
	return NewStateError("cash_transaction", "ledger entries are immutable")
}

func (t *CashTransaction) BeforeDelete(tx *gorm.DB) error {
	return NewStateError("cash_transaction", "ledger entries cannot be deleted")
}

type NewCashTransaction struct {
	Type        TransactionType `json:"type" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	RelatedType string          `json:"related_type"`
	RelatedId   string          `json:"related_id"`
}

type CashTransactionsEdge Edge[CashTransaction]

type CashTransactionsConnection struct {
	PageInfo *PageInfo                `json:"pageInfo"`
	Edges    []*CashTransactionsEdge `json:"edges"`
}

func (obj CashTransaction) GetId() int {
	return obj.ID
}

// implements Cursor
func (t CashTransaction) GetCursor() string {
	return t.CreatedAt.String()
}

func (input *NewCashTransaction) validate() error {
	if !input.Amount.IsPositive() {
		return NewValidationError("amount", "amount must be positive")
	}
	if _, err := input.Type.IsInflow(); err != nil {
		return NewValidationError("type", "unknown transaction type")
	}
	return nil
}

// drawerLedger loads a drawer's full transaction set in reproducible order
// (created_at, then id for same-instant entries).
func drawerLedger(tx *gorm.DB, ctx context.Context, drawerId int) ([]*CashTransaction, error) {
	var transactions []*CashTransaction
	err := tx.WithContext(ctx).
		Where("drawer_id = ?", drawerId).
		Order("created_at, id").
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

// RecordCashTransaction posts one ledger entry through the authenticated API.
func RecordCashTransaction(ctx context.Context, drawerId int, input *NewCashTransaction) (*CashTransaction, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, NewValidationError("user_id", "user id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	var transaction *CashTransaction
	db := config.GetDB()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := AcquireDrawerLock(tx.WithContext(ctx), drawerId); err != nil {
			return err
		}
		defer ReleaseDrawerLock(tx.WithContext(ctx), drawerId)

		result, err := RecordCashTransactionTx(tx, ctx, clinicId, userId, drawerId, input)
		if err != nil {
			return err
		}
		transaction = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	return transaction, nil
}

// RecordCashTransactionTx posts one ledger entry inside the caller's
// transaction and maintains the daily aggregate. The caller must hold the
// drawer advisory lock; both the API path and the event workflow funnel
// through here so a posting is a posting regardless of origin.
func RecordCashTransactionTx(tx *gorm.DB, ctx context.Context, clinicId string, userId int, drawerId int, input *NewCashTransaction) (*CashTransaction, error) {

	if err := input.validate(); err != nil {
		return nil, err
	}

	var drawer CashDrawer
	if err := tx.WithContext(ctx).Where("clinic_id = ?", clinicId).
		First(&drawer, drawerId).Error; err != nil {
		return nil, NewNotFoundError("cash_drawer")
	}
	if drawer.Status != DrawerStatusOpen {
		return nil, NewStateError("cash_drawer", "drawer is not open")
	}

	transaction := CashTransaction{
		ClinicId:    clinicId,
		DrawerId:    drawer.ID,
		Type:        input.Type,
		Amount:      input.Amount,
		Description: input.Description,
		RelatedType: input.RelatedType,
		RelatedId:   input.RelatedId,
		RecordedBy:  userId,
	}
	if err := tx.WithContext(ctx).Create(&transaction).Error; err != nil {
		return nil, err
	}

	timezone := GetClinicTimezone(ctx, clinicId)
	if err := upsertDailyCashSummary(tx, ctx, clinicId, drawer.LocationId, timezone,
		transaction.CreatedAt, transaction.Type, transaction.Amount); err != nil {
		return nil, err
	}

	err := createHistory(tx.WithContext(ctx), "CREATE", transaction.ID, "cash_transactions",
		nil, transaction, fmt.Sprintf("recorded %s of %s", transaction.Type, transaction.Amount.String()))
	if err != nil {
		return nil, err
	}

	return &transaction, nil
}

func PaginateCashTransactions(ctx context.Context, drawerId int, limit *int, after *string, transactionType *TransactionType) (*CashTransactionsConnection, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}
	if err := utils.ValidateResourceId[CashDrawer](ctx, clinicId, drawerId); err != nil {
		return nil, NewNotFoundError("cash_drawer")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("clinic_id = ? AND drawer_id = ?", clinicId, drawerId)
	if transactionType != nil && *transactionType != "" {
		dbCtx = dbCtx.Where("type = ?", *transactionType)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[CashTransaction](dbCtx, pageLimit(limit), after, "created_at", "<")
	if err != nil {
		return nil, err
	}
	var connection CashTransactionsConnection
	connection.PageInfo = pageInfo
	for _, edge := range edges {
		transactionsEdge := CashTransactionsEdge(edge)
		connection.Edges = append(connection.Edges, &transactionsEdge)
	}

	return &connection, nil
}
