package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"bitbucket.org/vetmanager/caja_backend/models"
	"github.com/shopspring/decimal"
)

var allTransactionTypes = []models.TransactionType{
	models.TransactionTypeSaleCash,
	models.TransactionTypeDeposit,
	models.TransactionTypeAdjustmentIn,
	models.TransactionTypeReturnIn,
	models.TransactionTypeRefundCash,
	models.TransactionTypeTransferIn,
	models.TransactionTypeWithdrawal,
	models.TransactionTypeAdjustmentOut,
	models.TransactionTypeTransferOut,
	models.TransactionTypeExpiryOut,
}

func TestTransactionType_ClassificationIsExhaustive(t *testing.T) {
	for _, transactionType := range allTransactionTypes {
		if _, err := transactionType.IsInflow(); err != nil {
			t.Fatalf("IsInflow(%s) unexpected error: %v", transactionType, err)
		}
	}
}

func TestTransactionType_DirectionPartition(t *testing.T) {
	inflows := models.InflowTransactionTypes()
	outflows := models.OutflowTransactionTypes()

	if len(inflows)+len(outflows) != len(allTransactionTypes) {
		t.Fatalf("partition covers %d types, want %d", len(inflows)+len(outflows), len(allTransactionTypes))
	}

	seen := map[models.TransactionType]bool{}
	for _, transactionType := range inflows {
		seen[transactionType] = true
	}
	for _, transactionType := range outflows {
		if seen[transactionType] {
			t.Fatalf("type %s appears in both directions", transactionType)
		}
		seen[transactionType] = true
	}
	for _, transactionType := range allTransactionTypes {
		if !seen[transactionType] {
			t.Fatalf("type %s missing from the partition", transactionType)
		}
	}
}

func TestTransactionType_ExpectedDirections(t *testing.T) {
	cases := []struct {
		transactionType models.TransactionType
		inflow          bool
	}{
		{models.TransactionTypeSaleCash, true},
		{models.TransactionTypeDeposit, true},
		{models.TransactionTypeAdjustmentIn, true},
		{models.TransactionTypeReturnIn, true},
		{models.TransactionTypeRefundCash, true},
		{models.TransactionTypeTransferIn, true},
		{models.TransactionTypeWithdrawal, false},
		{models.TransactionTypeAdjustmentOut, false},
		{models.TransactionTypeTransferOut, false},
		{models.TransactionTypeExpiryOut, false},
	}
	for _, tc := range cases {
		inflow, err := tc.transactionType.IsInflow()
		if err != nil {
			t.Fatalf("IsInflow(%s) error: %v", tc.transactionType, err)
		}
		if inflow != tc.inflow {
			t.Fatalf("IsInflow(%s) = %v, want %v", tc.transactionType, inflow, tc.inflow)
		}
	}
}

func TestTransactionType_UnknownTypeFailsLoudly(t *testing.T) {
	unknown := models.TransactionType("GIFT_CARD")
	if _, err := unknown.IsInflow(); err == nil {
		t.Fatal("IsInflow on an unmapped type must error, got nil")
	}
	if _, err := unknown.SignedAmount(decimal.NewFromInt(10)); err == nil {
		t.Fatal("SignedAmount on an unmapped type must error, got nil")
	}
}

func TestTransactionType_SignedAmount(t *testing.T) {
	amount := decimal.RequireFromString("250.50")

	signed, err := models.TransactionTypeSaleCash.SignedAmount(amount)
	if err != nil {
		t.Fatalf("SignedAmount(SALE_CASH) error: %v", err)
	}
	if !signed.Equal(amount) {
		t.Fatalf("SALE_CASH signed amount = %s, want %s", signed, amount)
	}

	signed, err = models.TransactionTypeWithdrawal.SignedAmount(amount)
	if err != nil {
		t.Fatalf("SignedAmount(WITHDRAWAL) error: %v", err)
	}
	if !signed.Equal(amount.Neg()) {
		t.Fatalf("WITHDRAWAL signed amount = %s, want %s", signed, amount.Neg())
	}
}

func TestTransactionType_UnmarshalRejectsUnknown(t *testing.T) {
	var transactionType models.TransactionType
	if err := json.Unmarshal([]byte(`"SALE_CASH"`), &transactionType); err != nil {
		t.Fatalf("unmarshal SALE_CASH: %v", err)
	}
	if transactionType != models.TransactionTypeSaleCash {
		t.Fatalf("unmarshal SALE_CASH = %s", transactionType)
	}
	if err := json.Unmarshal([]byte(`"CARD"`), &transactionType); err == nil {
		t.Fatal("unmarshal CARD must fail")
	}
	if err := json.Unmarshal([]byte(`123`), &transactionType); err == nil {
		t.Fatal("unmarshal non-string must fail")
	}
}

func TestDrawerStatus_Unmarshal(t *testing.T) {
	var status models.DrawerStatus
	if err := json.Unmarshal([]byte(`"RECONCILED"`), &status); err != nil {
		t.Fatalf("unmarshal RECONCILED: %v", err)
	}
	if status != models.DrawerStatusReconciled {
		t.Fatalf("unmarshal RECONCILED = %s", status)
	}
	if err := json.Unmarshal([]byte(`"LOCKED"`), &status); err == nil {
		t.Fatal("unmarshal LOCKED must fail")
	}
}

func TestMyDateString_WindowBoundaries(t *testing.T) {
	// Mexico City has been fixed at UTC-6 year round since 2022.
	from := models.MyDateString(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	if err := from.StartOfDayUTCTime("America/Mexico_City"); err != nil {
		t.Fatalf("StartOfDayUTCTime: %v", err)
	}
	want := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	if !time.Time(from).Equal(want) {
		t.Fatalf("start of day = %s, want %s", time.Time(from), want)
	}

	to := models.MyDateString(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	if err := to.NextDayStartUTCTime("America/Mexico_City"); err != nil {
		t.Fatalf("NextDayStartUTCTime: %v", err)
	}
	want = time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC)
	if !time.Time(to).Equal(want) {
		t.Fatalf("next day start = %s, want %s", time.Time(to), want)
	}
}

func TestMyDateString_NextDayStartAcrossDST(t *testing.T) {
	// New York springs forward on 2026-03-08: the upper bound of the 07th is
	// midnight EST, of the 08th midnight EDT. time.Date normalization has to
	// keep both correct.
	cases := []struct {
		day  time.Time
		want time.Time
	}{
		{time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 8, 5, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 4, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		date := models.MyDateString(tc.day)
		if err := date.NextDayStartUTCTime("America/New_York"); err != nil {
			t.Fatalf("NextDayStartUTCTime(%s): %v", tc.day, err)
		}
		if !time.Time(date).Equal(tc.want) {
			t.Fatalf("next day start of %s = %s, want %s", tc.day.Format("2006-01-02"), time.Time(date), tc.want)
		}
	}
}
