package models_test

import (
	"testing"
	"time"

	"bitbucket.org/vetmanager/caja_backend/models"
	"github.com/shopspring/decimal"
)

func ledgerEntry(id int, transactionType models.TransactionType, amount string, createdAt time.Time) *models.CashTransaction {
	return &models.CashTransaction{
		ID:        id,
		Type:      transactionType,
		Amount:    decimal.RequireFromString(amount),
		CreatedAt: createdAt,
	}
}

func TestExpectedBalance_ShiftScenario(t *testing.T) {
	// Open with 1000, sell 500 and 300 cash, withdraw 200: expected 1600.
	at := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	ledger := []*models.CashTransaction{
		ledgerEntry(1, models.TransactionTypeSaleCash, "500", at),
		ledgerEntry(2, models.TransactionTypeSaleCash, "300", at.Add(30*time.Minute)),
		ledgerEntry(3, models.TransactionTypeWithdrawal, "200", at.Add(time.Hour)),
	}

	expected, err := models.ExpectedBalance(decimal.NewFromInt(1000), ledger)
	if err != nil {
		t.Fatalf("ExpectedBalance: %v", err)
	}
	if !expected.Equal(decimal.NewFromInt(1600)) {
		t.Fatalf("expected balance = %s, want 1600", expected)
	}

	// Counting exactly 1600 reconciles clean; 1550 is a 50 shortage.
	if diff := models.Difference(decimal.NewFromInt(1600), expected); !diff.IsZero() {
		t.Fatalf("difference at exact count = %s, want 0", diff)
	}
	diff := models.Difference(decimal.NewFromInt(1550), expected)
	if !diff.Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("difference at 1550 = %s, want -50", diff)
	}
	surplus := models.Difference(decimal.NewFromInt(1650), expected)
	if !surplus.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("difference at 1650 = %s, want 50", surplus)
	}
}

func TestExpectedBalance_NoTransactions(t *testing.T) {
	expected, err := models.ExpectedBalance(decimal.RequireFromString("250.75"), nil)
	if err != nil {
		t.Fatalf("ExpectedBalance: %v", err)
	}
	if !expected.Equal(decimal.RequireFromString("250.75")) {
		t.Fatalf("expected balance = %s, want 250.75", expected)
	}
}

func TestTotalsByDirection(t *testing.T) {
	at := time.Now().UTC()
	ledger := []*models.CashTransaction{
		ledgerEntry(1, models.TransactionTypeSaleCash, "100.25", at),
		ledgerEntry(2, models.TransactionTypeDeposit, "50", at),
		ledgerEntry(3, models.TransactionTypeRefundCash, "10", at),
		ledgerEntry(4, models.TransactionTypeWithdrawal, "30", at),
		ledgerEntry(5, models.TransactionTypeExpiryOut, "5.25", at),
	}
	totalIn, totalOut, err := models.TotalsByDirection(ledger)
	if err != nil {
		t.Fatalf("TotalsByDirection: %v", err)
	}
	if !totalIn.Equal(decimal.RequireFromString("160.25")) {
		t.Fatalf("total in = %s, want 160.25", totalIn)
	}
	if !totalOut.Equal(decimal.RequireFromString("35.25")) {
		t.Fatalf("total out = %s, want 35.25", totalOut)
	}

	net, err := models.NetEffect(ledger)
	if err != nil {
		t.Fatalf("NetEffect: %v", err)
	}
	if !net.Equal(decimal.NewFromInt(125)) {
		t.Fatalf("net = %s, want 125", net)
	}
}

func TestTotalsByDirection_UnmappedTypeAborts(t *testing.T) {
	ledger := []*models.CashTransaction{
		ledgerEntry(1, models.TransactionTypeSaleCash, "100", time.Now().UTC()),
		ledgerEntry(2, models.TransactionType("VOUCHER"), "10", time.Now().UTC()),
	}
	if _, _, err := models.TotalsByDirection(ledger); err == nil {
		t.Fatal("an unmapped type must abort the computation, got nil error")
	}
	if _, err := models.ExpectedBalance(decimal.Zero, ledger); err == nil {
		t.Fatal("ExpectedBalance over an unmapped type must error, got nil")
	}
}

func TestShiftContains_HalfOpenBoundaries(t *testing.T) {
	start := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)

	cases := []struct {
		name string
		at   time.Time
		end  *time.Time
		want bool
	}{
		{"before start", start.Add(-time.Second), &end, false},
		{"exactly at start", start, &end, true},
		{"inside", start.Add(time.Hour), &end, true},
		{"exactly at end goes to the next shift", end, &end, false},
		{"after end", end.Add(time.Second), &end, false},
		{"open-ended shift", end.Add(48 * time.Hour), nil, true},
	}
	for _, tc := range cases {
		if got := models.ShiftContains(tc.at, start, tc.end); got != tc.want {
			t.Fatalf("%s: ShiftContains = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestShiftPartition_EveryTransactionBelongsToExactlyOneShift(t *testing.T) {
	dayStart := time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)
	handoff := dayStart.Add(4 * time.Hour)
	closeAt := dayStart.Add(9 * time.Hour)

	shifts := []struct {
		start time.Time
		end   *time.Time
	}{
		{dayStart, &handoff},
		{handoff, &closeAt},
	}

	// Includes one transaction landing exactly on the handoff instant.
	ledger := []*models.CashTransaction{
		ledgerEntry(1, models.TransactionTypeSaleCash, "100", dayStart.Add(time.Hour)),
		ledgerEntry(2, models.TransactionTypeSaleCash, "200", handoff),
		ledgerEntry(3, models.TransactionTypeWithdrawal, "50", handoff.Add(time.Hour)),
	}

	for _, transaction := range ledger {
		owners := 0
		for _, shift := range shifts {
			if models.ShiftContains(transaction.CreatedAt, shift.start, shift.end) {
				owners++
			}
		}
		if owners != 1 {
			t.Fatalf("transaction %d owned by %d shifts, want exactly 1", transaction.ID, owners)
		}
	}

	// The boundary transaction belongs to the incoming shift.
	if !models.ShiftContains(ledger[1].CreatedAt, shifts[1].start, shifts[1].end) {
		t.Fatal("handoff-instant transaction must belong to the incoming shift")
	}
}

func TestInWindow(t *testing.T) {
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	if !models.InWindow(from, from, to) {
		t.Fatal("window lower bound is inclusive")
	}
	if models.InWindow(to, from, to) {
		t.Fatal("window upper bound is exclusive")
	}
}

func TestAccuracyPercent(t *testing.T) {
	cases := []struct {
		zero, total int
		want        int
		defined     bool
	}{
		{3, 3, 100, true},
		{0, 3, 0, true},
		{2, 3, 67, true},
		{1, 3, 33, true},
		{1, 2, 50, true},
		{5, 8, 63, true}, // 62.5 rounds half away from zero
		{0, 0, 0, false},
	}
	for _, tc := range cases {
		got, defined := models.AccuracyPercent(tc.zero, tc.total)
		if defined != tc.defined {
			t.Fatalf("AccuracyPercent(%d, %d) defined = %v, want %v", tc.zero, tc.total, defined, tc.defined)
		}
		if defined && got != tc.want {
			t.Fatalf("AccuracyPercent(%d, %d) = %d, want %d", tc.zero, tc.total, got, tc.want)
		}
	}
}

func TestSortLedger_SameInstantTiebreaksOnId(t *testing.T) {
	at := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	ledger := []*models.CashTransaction{
		ledgerEntry(7, models.TransactionTypeSaleCash, "10", at),
		ledgerEntry(3, models.TransactionTypeSaleCash, "10", at),
		ledgerEntry(5, models.TransactionTypeSaleCash, "10", at.Add(-time.Minute)),
	}
	models.SortLedger(ledger)
	wantOrder := []int{5, 3, 7}
	for i, transaction := range ledger {
		if transaction.ID != wantOrder[i] {
			t.Fatalf("position %d has id %d, want %d", i, transaction.ID, wantOrder[i])
		}
	}
}

func TestHourlyBreakdown(t *testing.T) {
	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	// 09:xx local (15:xx UTC) and 11:xx local; 10:00 local has no activity
	// and must not appear as an empty bucket.
	ledger := []*models.CashTransaction{
		ledgerEntry(1, models.TransactionTypeSaleCash, "100", time.Date(2026, 2, 3, 15, 10, 0, 0, time.UTC)),
		ledgerEntry(2, models.TransactionTypeSaleCash, "50", time.Date(2026, 2, 3, 15, 40, 0, 0, time.UTC)),
		ledgerEntry(3, models.TransactionTypeWithdrawal, "30", time.Date(2026, 2, 3, 17, 5, 0, 0, time.UTC)),
	}

	buckets, err := models.HourlyBreakdown(ledger, loc)
	if err != nil {
		t.Fatalf("HourlyBreakdown: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("bucket count = %d, want 2", len(buckets))
	}

	first := buckets[0]
	if want := time.Date(2026, 2, 3, 9, 0, 0, 0, loc); !first.Hour.Equal(want) {
		t.Fatalf("first bucket hour = %s, want %s", first.Hour, want)
	}
	if !first.TotalIn.Equal(decimal.NewFromInt(150)) || !first.TotalOut.IsZero() {
		t.Fatalf("first bucket in/out = %s/%s, want 150/0", first.TotalIn, first.TotalOut)
	}
	if first.TransactionCount != 2 {
		t.Fatalf("first bucket count = %d, want 2", first.TransactionCount)
	}

	second := buckets[1]
	if want := time.Date(2026, 2, 3, 11, 0, 0, 0, loc); !second.Hour.Equal(want) {
		t.Fatalf("second bucket hour = %s, want %s", second.Hour, want)
	}
	if !second.Net.Equal(decimal.NewFromInt(-30)) {
		t.Fatalf("second bucket net = %s, want -30", second.Net)
	}
}

func TestHourlyBreakdown_NilLocationDefaultsToUTC(t *testing.T) {
	ledger := []*models.CashTransaction{
		ledgerEntry(1, models.TransactionTypeSaleCash, "10", time.Date(2026, 2, 3, 15, 10, 0, 0, time.UTC)),
	}
	buckets, err := models.HourlyBreakdown(ledger, nil)
	if err != nil {
		t.Fatalf("HourlyBreakdown: %v", err)
	}
	if len(buckets) != 1 {
		t.Fatalf("bucket count = %d, want 1", len(buckets))
	}
	if want := time.Date(2026, 2, 3, 15, 0, 0, 0, time.UTC); !buckets[0].Hour.Equal(want) {
		t.Fatalf("bucket hour = %s, want %s", buckets[0].Hour, want)
	}
}
