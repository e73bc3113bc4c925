package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CashDrawer lifecycle is linear: OPEN -> CLOSED -> RECONCILED.
// OpenMarker is 1 while OPEN and NULL afterwards; the composite unique index
// uniq_open_drawer (clinic_id, location_id, open_marker) makes "at most one
// OPEN drawer per clinic+location" a storage invariant instead of a
// read-then-write check. Financial close fields stay NULL until close and are
// frozen once written.
type CashDrawer struct {
	ID             int              `gorm:"primary_key" json:"id"`
	ClinicId       string           `gorm:"size:64;not null;index:uniq_open_drawer,unique" json:"clinic_id"`
	LocationId     int              `gorm:"not null;default:0;index:uniq_open_drawer,unique" json:"location_id"`
	Status         DrawerStatus     `gorm:"type:enum('OPEN','CLOSED','RECONCILED');not null;default:OPEN;index" json:"status"`
	OpenMarker     *int             `gorm:"index:uniq_open_drawer,unique" json:"-"`
	OpenedAt       time.Time        `gorm:"not null" json:"opened_at"`
	OpenedBy       int              `gorm:"index;not null" json:"opened_by"`
	InitialAmount  decimal.Decimal  `gorm:"type:decimal(20,5);default:0" json:"initial_amount"`
	ClosedAt       *time.Time       `json:"closed_at"`
	ClosedBy       *int             `json:"closed_by"`
	FinalAmount    *decimal.Decimal `gorm:"type:decimal(20,5)" json:"final_amount"`
	ExpectedAmount *decimal.Decimal `gorm:"type:decimal(20,5)" json:"expected_amount"`
	Difference     *decimal.Decimal `gorm:"type:decimal(20,5)" json:"difference"`
	ReconciledAt   *time.Time       `json:"reconciled_at"`
	ReconciledBy   *int             `json:"reconciled_by"`
	Notes          string           `gorm:"type:text" json:"notes"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCashDrawer struct {
	LocationId    int             `json:"location_id"`
	CashierId     int             `json:"cashier_id"`
	InitialAmount decimal.Decimal `json:"initial_amount"`
	Notes         string          `json:"notes"`
}

type CloseCashDrawer struct {
	FinalAmount decimal.Decimal `json:"final_amount"`
	Notes       string          `json:"notes"`
}

type CashDrawersEdge Edge[CashDrawer]

type CashDrawersConnection struct {
	PageInfo *PageInfo          `json:"pageInfo"`
	Edges    []*CashDrawersEdge `json:"edges"`
}

func (obj CashDrawer) GetId() int {
	return obj.ID
}

// implements Cursor
func (d CashDrawer) GetCursor() string {
	return d.CreatedAt.String()
}

// CashDrawerDetail is the read payload: the drawer row plus the balance state
// recomputed from the ledger (never the stored close fields).
type CashDrawerDetail struct {
	*CashDrawer
	ActiveShift      *Shift          `json:"active_shift,omitempty"`
	ExpectedBalance  decimal.Decimal `json:"expected_balance"`
	TotalIn          decimal.Decimal `json:"total_in"`
	TotalOut         decimal.Decimal `json:"total_out"`
	TransactionCount int             `json:"transaction_count"`
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func (input *NewCashDrawer) validate(ctx context.Context, clinicId string) error {
	if input.InitialAmount.IsNegative() {
		return NewValidationError("initial_amount", "initial amount cannot be negative")
	}
	if input.LocationId > 0 {
		if err := utils.ValidateResourceId[Location](ctx, clinicId, input.LocationId); err != nil {
			return NewNotFoundError("location")
		}
	}
	if input.CashierId > 0 {
		if err := utils.ValidateResourceId[User](ctx, clinicId, input.CashierId); err != nil {
			return NewNotFoundError("user")
		}
	}
	return nil
}

// OpenDrawer creates an OPEN drawer and its first ACTIVE shift. The clinic
// advisory lock makes the plan-limit count and the insert atomic; the unique
// open marker still backs the at-most-one-OPEN invariant if the lock is ever
// bypassed.
func OpenDrawer(ctx context.Context, input *NewCashDrawer) (*CashDrawer, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, NewValidationError("user_id", "user id is required")
	}
	if err := input.validate(ctx, clinicId); err != nil {
		return nil, err
	}

	cashierId := input.CashierId
	if cashierId == 0 {
		cashierId = userId
	}

	openMarker := 1
	drawer := CashDrawer{
		ClinicId:      clinicId,
		LocationId:    input.LocationId,
		Status:        DrawerStatusOpen,
		OpenMarker:    &openMarker,
		OpenedAt:      time.Now().UTC(),
		OpenedBy:      userId,
		InitialAmount: input.InitialAmount,
		Notes:         input.Notes,
	}

	db := config.GetDB()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := AcquireClinicCashLock(tx.WithContext(ctx), clinicId); err != nil {
			return err
		}
		defer ReleaseClinicCashLock(tx.WithContext(ctx), clinicId)

		maxOpen, err := Capability().MaxOpenDrawers(ctx, clinicId)
		if err != nil {
			return err
		}
		var openCount int64
		if err := tx.WithContext(ctx).Model(&CashDrawer{}).
			Where("clinic_id = ? AND status = ?", clinicId, DrawerStatusOpen).
			Count(&openCount).Error; err != nil {
			return err
		}
		if openCount >= int64(maxOpen) {
			return NewLimitError(maxOpen, fmt.Sprintf("plan allows at most %d open drawer(s)", maxOpen))
		}

		if err := tx.WithContext(ctx).Create(&drawer).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return NewConflictError("a drawer is already open for this location")
			}
			return err
		}

		shift := Shift{
			ClinicId:        clinicId,
			DrawerId:        drawer.ID,
			CashierId:       cashierId,
			Status:          ShiftStatusActive,
			StartedAt:       drawer.OpenedAt,
			StartingBalance: drawer.InitialAmount,
		}
		if err := tx.WithContext(ctx).Create(&shift).Error; err != nil {
			return err
		}

		if err := EnqueueCashEvent(ctx, tx, clinicId, CashEventTypeDrawerOpened,
			strconv.Itoa(drawer.ID), drawer.ID, drawer.InitialAmount,
			"cash drawer opened", drawer, nil); err != nil {
			return err
		}
		return SaveDrawerHistory(tx.WithContext(ctx), "OPEN", drawer.ID, nil, drawer,
			"opened cash drawer with initial amount "+drawer.InitialAmount.String())
	})
	if err != nil {
		return nil, err
	}

	return &drawer, nil
}

// CloseDrawer ends the active shift and freezes the drawer's financial close
// fields. expected = initial + net(ledger); difference = final - expected,
// positive meaning surplus. A failed close rolls back and leaves the drawer
// OPEN and unmodified.
func CloseDrawer(ctx context.Context, id int, input *CloseCashDrawer) (*CashDrawer, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, NewValidationError("user_id", "user id is required")
	}
	if input.FinalAmount.IsNegative() {
		return nil, NewValidationError("final_amount", "final amount cannot be negative")
	}

	var drawer CashDrawer
	db := config.GetDB()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := AcquireDrawerLock(tx.WithContext(ctx), id); err != nil {
			return err
		}
		defer ReleaseDrawerLock(tx.WithContext(ctx), id)

		if err := tx.WithContext(ctx).Where("clinic_id = ?", clinicId).
			First(&drawer, id).Error; err != nil {
			return NewNotFoundError("cash_drawer")
		}
		if drawer.Status != DrawerStatusOpen {
			return NewStateError("cash_drawer", "drawer is not open")
		}

		transactions, err := drawerLedger(tx, ctx, id)
		if err != nil {
			return err
		}
		expected, err := ExpectedBalance(drawer.InitialAmount, transactions)
		if err != nil {
			return err
		}
		difference := Difference(input.FinalAmount, expected)
		now := time.Now().UTC()

		// The final shift takes the manual count as its ending balance; its
		// expected/difference stay computed from its own window.
		var active Shift
		err = tx.WithContext(ctx).
			Where("drawer_id = ? AND status = ?", id, ShiftStatusActive).
			First(&active).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			shiftNet, err := NetEffect(shiftTransactions(transactions, active.StartedAt, &now))
			if err != nil {
				return err
			}
			shiftExpected := active.StartingBalance.Add(shiftNet)
			err = tx.WithContext(ctx).Model(&Shift{}).
				Where("id = ?", active.ID).
				Updates(map[string]interface{}{
					"status":           ShiftStatusEnded,
					"ended_at":         &now,
					"ending_balance":   input.FinalAmount,
					"expected_balance": shiftExpected,
					"difference":       Difference(input.FinalAmount, shiftExpected),
				}).Error
			if err != nil {
				return err
			}
		}

		before := drawer
		drawer.Status = DrawerStatusClosed
		drawer.OpenMarker = nil
		drawer.ClosedAt = &now
		drawer.ClosedBy = &userId
		drawer.FinalAmount = &input.FinalAmount
		drawer.ExpectedAmount = &expected
		drawer.Difference = &difference
		if input.Notes != "" {
			drawer.Notes = input.Notes
		}

		err = tx.WithContext(ctx).Model(&CashDrawer{}).
			Where("id = ?", drawer.ID).
			Updates(map[string]interface{}{
				"status":          DrawerStatusClosed,
				"open_marker":     nil,
				"closed_at":       &now,
				"closed_by":       userId,
				"final_amount":    input.FinalAmount,
				"expected_amount": expected,
				"difference":      difference,
				"notes":           drawer.Notes,
			}).Error
		if err != nil {
			return err
		}

		if err := EnqueueCashEvent(ctx, tx, clinicId, CashEventTypeDrawerClosed,
			strconv.Itoa(drawer.ID), drawer.ID, input.FinalAmount,
			"cash drawer closed", drawer, before); err != nil {
			return err
		}
		return SaveDrawerHistory(tx.WithContext(ctx), "CLOSE", drawer.ID, before, drawer,
			fmt.Sprintf("closed cash drawer: counted %s, expected %s, difference %s",
				input.FinalAmount.String(), expected.String(), difference.String()))
	})
	if err != nil {
		return nil, err
	}

	return &drawer, nil
}

// ReconcileDrawer is the administrative confirmation after close.
func ReconcileDrawer(ctx context.Context, id int) (*CashDrawer, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, NewValidationError("user_id", "user id is required")
	}

	var drawer CashDrawer
	db := config.GetDB()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := AcquireDrawerLock(tx.WithContext(ctx), id); err != nil {
			return err
		}
		defer ReleaseDrawerLock(tx.WithContext(ctx), id)

		if err := tx.WithContext(ctx).Where("clinic_id = ?", clinicId).
			First(&drawer, id).Error; err != nil {
			return NewNotFoundError("cash_drawer")
		}
		if drawer.Status != DrawerStatusClosed {
			return NewStateError("cash_drawer", "only a closed drawer can be reconciled")
		}

		now := time.Now().UTC()
		before := drawer
		drawer.Status = DrawerStatusReconciled
		drawer.ReconciledAt = &now
		drawer.ReconciledBy = &userId

		err := tx.WithContext(ctx).Model(&CashDrawer{}).
			Where("id = ?", drawer.ID).
			Updates(map[string]interface{}{
				"status":        DrawerStatusReconciled,
				"reconciled_at": &now,
				"reconciled_by": userId,
			}).Error
		if err != nil {
			return err
		}

		amount := decimal.Zero
		if drawer.FinalAmount != nil {
			amount = *drawer.FinalAmount
		}
		if err := EnqueueCashEvent(ctx, tx, clinicId, CashEventTypeDrawerReconciled,
			strconv.Itoa(drawer.ID), drawer.ID, amount,
			"cash drawer reconciled", drawer, before); err != nil {
			return err
		}
		return SaveDrawerHistory(tx.WithContext(ctx), "RECONCILE", drawer.ID, before, drawer,
			"reconciled cash drawer")
	})
	if err != nil {
		return nil, err
	}

	return &drawer, nil
}

// GetDrawer returns the drawer plus its live balance state. Read-only: no
// locks, point-in-time snapshot.
func GetDrawer(ctx context.Context, id int) (*CashDrawerDetail, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}

	db := config.GetDB()
	var drawer CashDrawer
	if err := db.WithContext(ctx).Where("clinic_id = ?", clinicId).
		First(&drawer, id).Error; err != nil {
		return nil, NewNotFoundError("cash_drawer")
	}

	transactions, err := drawerLedger(db, ctx, id)
	if err != nil {
		return nil, err
	}
	totalIn, totalOut, err := TotalsByDirection(transactions)
	if err != nil {
		return nil, err
	}

	detail := &CashDrawerDetail{
		CashDrawer:       &drawer,
		ExpectedBalance:  drawer.InitialAmount.Add(totalIn).Sub(totalOut),
		TotalIn:          totalIn,
		TotalOut:         totalOut,
		TransactionCount: len(transactions),
	}

	if drawer.Status == DrawerStatusOpen {
		var active Shift
		err := db.WithContext(ctx).
			Where("drawer_id = ? AND status = ?", id, ShiftStatusActive).
			First(&active).Error
		if err == nil {
			detail.ActiveShift = &active
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return detail, nil
}

func PaginateCashDrawers(ctx context.Context, limit *int, after *string, status *DrawerStatus, locationId *int) (*CashDrawersConnection, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("clinic_id = ?", clinicId)
	if status != nil && *status != "" {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	if locationId != nil && *locationId >= 0 {
		dbCtx = dbCtx.Where("location_id = ?", *locationId)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[CashDrawer](dbCtx, pageLimit(limit), after, "created_at", "<")
	if err != nil {
		return nil, err
	}
	var connection CashDrawersConnection
	connection.PageInfo = pageInfo
	for _, edge := range edges {
		drawersEdge := CashDrawersEdge(edge)
		connection.Edges = append(connection.Edges, &drawersEdge)
	}

	return &connection, nil
}
