package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Shift is one cashier's stretch of responsibility over an open drawer. A
// drawer has exactly one ACTIVE shift at a time; handing off ends the current
// shift at the computed running total and starts the next one at exactly that
// balance, so intermediate counts are never trusted. Ending/expected/difference
// stay nil until the shift ends.
type Shift struct {
	ID              int              `gorm:"primary_key" json:"id"`
	ClinicId        string           `gorm:"size:64;index;not null" json:"clinic_id"`
	DrawerId        int              `gorm:"index;not null" json:"drawer_id"`
	Drawer          *CashDrawer      `gorm:"foreignKey:DrawerId" json:"-"`
	CashierId       int              `gorm:"index;not null" json:"cashier_id"`
	Status          ShiftStatus      `gorm:"type:enum('ACTIVE','HANDED_OFF','ENDED');not null;default:ACTIVE;index" json:"status"`
	StartedAt       time.Time        `gorm:"not null;index" json:"started_at"`
	EndedAt         *time.Time       `json:"ended_at"`
	StartingBalance decimal.Decimal  `gorm:"type:decimal(20,5);default:0" json:"starting_balance"`
	EndingBalance   *decimal.Decimal `gorm:"type:decimal(20,5)" json:"ending_balance"`
	ExpectedBalance *decimal.Decimal `gorm:"type:decimal(20,5)" json:"expected_balance"`
	Difference      *decimal.Decimal `gorm:"type:decimal(20,5)" json:"difference"`
	Notes           string           `gorm:"type:text" json:"notes"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewShiftHandoff struct {
	FromCashierId int    `json:"from_cashier_id"`
	ToCashierId   int    `json:"to_cashier_id" binding:"required"`
	Notes         string `json:"notes"`
}

// ShiftDetail is the read model for one shift: its window of ledger entries,
// the totals they produce, and an hourly breakdown in the clinic's timezone.
// RunningExpected is always recomputed from the ledger, never read back from
// the stored columns.
type ShiftDetail struct {
	*Shift
	Transactions     []*CashTransaction `json:"transactions"`
	TotalIn          decimal.Decimal    `json:"total_in"`
	TotalOut         decimal.Decimal    `json:"total_out"`
	TransactionCount int                `json:"transaction_count"`
	RunningExpected  decimal.Decimal    `json:"running_expected"`
	Hourly           []HourlyBucket     `json:"hourly"`
}

func (obj Shift) GetId() int {
	return obj.ID
}

// shiftTransactions filters a drawer ledger down to one shift's half-open
// window [startedAt, endedAt).
func shiftTransactions(ledger []*CashTransaction, startedAt time.Time, endedAt *time.Time) []*CashTransaction {
	out := make([]*CashTransaction, 0, len(ledger))
	for _, transaction := range ledger {
		if ShiftContains(transaction.CreatedAt, startedAt, endedAt) {
			out = append(out, transaction)
		}
	}
	return out
}

// HandoffShift passes an open drawer from one cashier to the next without
// closing it. The outgoing shift is settled at the computed running total
// (difference zero by construction) and the incoming shift starts at that
// same balance. Only a full close takes a manual count.
func HandoffShift(ctx context.Context, drawerId int, input *NewShiftHandoff) (*Shift, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, NewValidationError("user_id", "user id is required")
	}
	if input.ToCashierId <= 0 {
		return nil, NewValidationError("to_cashier_id", "to cashier id is required")
	}
	if err := utils.ValidateResourceId[User](ctx, clinicId, input.ToCashierId); err != nil {
		return nil, NewNotFoundError("user")
	}
	fromCashierId := input.FromCashierId
	if fromCashierId == 0 {
		fromCashierId = userId
	}
	if input.ToCashierId == fromCashierId {
		return nil, NewValidationError("to_cashier_id", "cannot hand off a shift to its current cashier")
	}

	var incoming Shift
	db := config.GetDB()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := AcquireDrawerLock(tx.WithContext(ctx), drawerId); err != nil {
			return err
		}
		defer ReleaseDrawerLock(tx.WithContext(ctx), drawerId)

		var drawer CashDrawer
		if err := tx.WithContext(ctx).Where("clinic_id = ?", clinicId).
			First(&drawer, drawerId).Error; err != nil {
			return NewNotFoundError("cash_drawer")
		}
		if drawer.Status != DrawerStatusOpen {
			return NewStateError("cash_drawer", "drawer is not open")
		}

		var active Shift
		err := tx.WithContext(ctx).
			Where("drawer_id = ? AND status = ?", drawerId, ShiftStatusActive).
			First(&active).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NewStateError("shift", "drawer has no active shift")
			}
			return err
		}
		if active.CashierId != fromCashierId {
			return NewStateError("shift", "from cashier does not own the active shift")
		}

		now := time.Now().UTC()
		ledger, err := drawerLedger(tx, ctx, drawerId)
		if err != nil {
			return err
		}
		net, err := NetEffect(shiftTransactions(ledger, active.StartedAt, &now))
		if err != nil {
			return err
		}
		running := active.StartingBalance.Add(net)

		err = tx.WithContext(ctx).Model(&Shift{}).Where("id = ?", active.ID).
			Updates(map[string]interface{}{
				"status":           ShiftStatusHandedOff,
				"ended_at":         &now,
				"ending_balance":   running,
				"expected_balance": running,
				"difference":       decimal.Zero,
			}).Error
		if err != nil {
			return err
		}

		incoming = Shift{
			ClinicId:        clinicId,
			DrawerId:        drawerId,
			CashierId:       input.ToCashierId,
			Status:          ShiftStatusActive,
			StartedAt:       now,
			StartingBalance: running,
			Notes:           input.Notes,
		}
		if err := tx.WithContext(ctx).Create(&incoming).Error; err != nil {
			return err
		}

		return SaveDrawerHistory(tx.WithContext(ctx), "HANDOFF", drawerId, active, incoming,
			fmt.Sprintf("handed off drawer %d from cashier %d to cashier %d at balance %s",
				drawerId, active.CashierId, input.ToCashierId, running.String()))
	})
	if err != nil {
		return nil, err
	}

	return &incoming, nil
}

// GetShift returns one shift with its window of ledger entries and totals.
// Read-only, no locks taken.
func GetShift(ctx context.Context, id int) (*ShiftDetail, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}

	db := config.GetDB()
	var shift Shift
	if err := db.WithContext(ctx).Where("clinic_id = ?", clinicId).
		First(&shift, id).Error; err != nil {
		return nil, NewNotFoundError("shift")
	}

	dbCtx := db.WithContext(ctx).
		Where("drawer_id = ? AND created_at >= ?", shift.DrawerId, shift.StartedAt)
	if shift.EndedAt != nil {
		dbCtx = dbCtx.Where("created_at < ?", *shift.EndedAt)
	}
	var transactions []*CashTransaction
	if err := dbCtx.Order("created_at, id").Find(&transactions).Error; err != nil {
		return nil, err
	}

	totalIn, totalOut, err := TotalsByDirection(transactions)
	if err != nil {
		return nil, err
	}

	timezone := GetClinicTimezone(ctx, clinicId)
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	hourly, err := HourlyBreakdown(transactions, location)
	if err != nil {
		return nil, err
	}

	detail := ShiftDetail{
		Shift:            &shift,
		Transactions:     transactions,
		TotalIn:          totalIn,
		TotalOut:         totalOut,
		TransactionCount: len(transactions),
		RunningExpected:  shift.StartingBalance.Add(totalIn).Sub(totalOut),
		Hourly:           hourly,
	}

	return &detail, nil
}
