package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type DrawerStatus string

const (
	DrawerStatusOpen       DrawerStatus = "OPEN"
	DrawerStatusClosed     DrawerStatus = "CLOSED"
	DrawerStatusReconciled DrawerStatus = "RECONCILED"
)

// convert enum to send response
func (t DrawerStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(t))), nil
}

// convert input to enum type
func (t *DrawerStatus) UnmarshalJSON(data []byte) error {
	str, err := strconv.Unquote(string(data))
	if err != nil {
		return errors.New("drawer status must be string")
	}
	switch str {
	case "OPEN":
		*t = DrawerStatusOpen
	case "CLOSED":
		*t = DrawerStatusClosed
	case "RECONCILED":
		*t = DrawerStatusReconciled
	default:
		return errors.New("invalid drawer status")
	}
	return nil
}

type ShiftStatus string

const (
	ShiftStatusActive    ShiftStatus = "ACTIVE"
	ShiftStatusHandedOff ShiftStatus = "HANDED_OFF"
	ShiftStatusEnded     ShiftStatus = "ENDED"
)

func (t ShiftStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(t))), nil
}

func (t *ShiftStatus) UnmarshalJSON(data []byte) error {
	str, err := strconv.Unquote(string(data))
	if err != nil {
		return errors.New("shift status must be string")
	}
	switch str {
	case "ACTIVE":
		*t = ShiftStatusActive
	case "HANDED_OFF":
		*t = ShiftStatusHandedOff
	case "ENDED":
		*t = ShiftStatusEnded
	default:
		return errors.New("invalid shift status")
	}
	return nil
}

type UserRole string

const (
	UserRoleAdmin   UserRole = "ADMIN"
	UserRoleManager UserRole = "MANAGER"
	UserRoleCashier UserRole = "CASHIER"
)

func (t UserRole) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(t))), nil
}

func (t *UserRole) UnmarshalJSON(data []byte) error {
	str, err := strconv.Unquote(string(data))
	if err != nil {
		return errors.New("user role must be string")
	}
	switch str {
	case "ADMIN":
		*t = UserRoleAdmin
	case "MANAGER":
		*t = UserRoleManager
	case "CASHIER":
		*t = UserRoleCashier
	default:
		return errors.New("invalid user role")
	}
	return nil
}

type TransactionType string

const (
	TransactionTypeSaleCash      TransactionType = "SALE_CASH"
	TransactionTypeDeposit       TransactionType = "DEPOSIT"
	TransactionTypeAdjustmentIn  TransactionType = "ADJUSTMENT_IN"
	TransactionTypeReturnIn      TransactionType = "RETURN_IN"
	TransactionTypeRefundCash    TransactionType = "REFUND_CASH"
	TransactionTypeTransferIn    TransactionType = "TRANSFER_IN"
	TransactionTypeWithdrawal    TransactionType = "WITHDRAWAL"
	TransactionTypeAdjustmentOut TransactionType = "ADJUSTMENT_OUT"
	TransactionTypeTransferOut   TransactionType = "TRANSFER_OUT"
	TransactionTypeExpiryOut     TransactionType = "EXPIRY_OUT"
)

func (t TransactionType) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(t))), nil
}

func (t *TransactionType) UnmarshalJSON(data []byte) error {
	str, err := strconv.Unquote(string(data))
	if err != nil {
		return errors.New("transaction type must be string")
	}
	transactionTypes := map[string]TransactionType{
		"SALE_CASH":      TransactionTypeSaleCash,
		"DEPOSIT":        TransactionTypeDeposit,
		"ADJUSTMENT_IN":  TransactionTypeAdjustmentIn,
		"RETURN_IN":      TransactionTypeReturnIn,
		"REFUND_CASH":    TransactionTypeRefundCash,
		"TRANSFER_IN":    TransactionTypeTransferIn,
		"WITHDRAWAL":     TransactionTypeWithdrawal,
		"ADJUSTMENT_OUT": TransactionTypeAdjustmentOut,
		"TRANSFER_OUT":   TransactionTypeTransferOut,
		"EXPIRY_OUT":     TransactionTypeExpiryOut,
	}
	var ok bool
	*t, ok = transactionTypes[str]
	if !ok {
		return errors.New("invalid transaction type")
	}
	return nil
}

// inflowByType is the exhaustive partition of transaction types. Every type
// appears in exactly one direction; an unmapped type is a programming error
// and must surface as one, never as a silently-zero amount.
var inflowByType = map[TransactionType]bool{
	TransactionTypeSaleCash:      true,
	TransactionTypeDeposit:       true,
	TransactionTypeAdjustmentIn:  true,
	TransactionTypeReturnIn:      true,
	TransactionTypeRefundCash:    true,
	TransactionTypeTransferIn:    true,
	TransactionTypeWithdrawal:    false,
	TransactionTypeAdjustmentOut: false,
	TransactionTypeTransferOut:   false,
	TransactionTypeExpiryOut:     false,
}

func (t TransactionType) IsInflow() (bool, error) {
	inflow, ok := inflowByType[t]
	if !ok {
		return false, fmt.Errorf("unmapped transaction type %q", string(t))
	}
	return inflow, nil
}

// InflowTransactionTypes returns the inflow side of the partition, sorted.
// Report SQL builds its IN clauses from these so the direction split has a
// single source of truth.
func InflowTransactionTypes() []TransactionType {
	return typesByDirection(true)
}

// OutflowTransactionTypes returns the outflow side of the partition, sorted.
func OutflowTransactionTypes() []TransactionType {
	return typesByDirection(false)
}

// SignedAmount applies the direction implied by the type. Amounts are stored
// strictly positive; the sign exists only in computation.
func (t TransactionType) SignedAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	inflow, err := t.IsInflow()
	if err != nil {
		return decimal.Zero, err
	}
	if inflow {
		return amount, nil
	}
	return amount.Neg(), nil
}

type MyDateString time.Time

func (t MyDateString) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Time(t).String())), nil
}

// Parse the string into time.Time object
func (t *MyDateString) UnmarshalJSON(data []byte) error {
	str, err := strconv.Unquote(string(data))
	if err != nil {
		return errors.New("MyDateString must be string")
	}

	// Parse the date string into a time.Time object
	localTime, err := time.Parse("2006-01-02T15:04:05", str)
	if err != nil {
		return errors.New("error parsing datetime")
	}
	*t = MyDateString(localTime)

	return nil
}

func (t *MyDateString) StartOfDayUTCTime(timezone string) error {
	// do nothing if the pointer is nil
	if t == nil {
		return nil
	}

	localTime := time.Time(*t)

	if timezone == "" {
		timezone = "America/Mexico_City"
	}

	// Load the location for the given timezone
	location, err := time.LoadLocation(timezone)
	if err != nil {
		fmt.Println("Error loading location:", err)
		return err
	}

	// Convert the start of the day local time to the specified timezone
	localTimeInZone := time.Date(
		localTime.Year(), localTime.Month(), localTime.Day(),
		0, 0, 0, 0,
		location,
	)

	// Convert the time to UTC
	utcTime := localTimeInZone.In(time.UTC)
	*t = MyDateString(utcTime)

	return nil
}

// NextDayStartUTCTime moves the date to the start of the FOLLOWING local day,
// in UTC. Report windows are half-open [from, to), so the upper bound for an
// inclusive "to" date is the next day's midnight, never 23:59:59.
func (t *MyDateString) NextDayStartUTCTime(timezone string) error {
	// do nothing if the pointer is nil
	if t == nil {
		return nil
	}

	localTime := time.Time(*t)

	if timezone == "" {
		timezone = "America/Mexico_City"
	}

	// Load the location for the given timezone
	location, err := time.LoadLocation(timezone)
	if err != nil {
		fmt.Println("Error loading location:", err)
		return err
	}

	// time.Date normalizes day+1, which keeps DST transitions correct
	localTimeInZone := time.Date(
		localTime.Year(), localTime.Month(), localTime.Day()+1,
		0, 0, 0, 0,
		location,
	)

	// Convert the time to UTC
	utcTime := localTimeInZone.In(time.UTC)
	*t = MyDateString(utcTime)

	return nil
}

// Value implements the driver.Valuer interface
func (t MyDateString) Value() (driver.Value, error) {
	return time.Time(t), nil
}

// Scan implements the sql.Scanner interface
func (t *MyDateString) Scan(value interface{}) error {
	if value == nil {
		*t = MyDateString(time.Time{})
		return nil
	}
	switch v := value.(type) {
	case time.Time:
		*t = MyDateString(v)
	default:
		return fmt.Errorf("cannot convert %T to MyDateString", value)
	}
	return nil
}
