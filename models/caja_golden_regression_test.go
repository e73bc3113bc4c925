package models_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bitbucket.org/vetmanager/caja_backend/models"
	"github.com/shopspring/decimal"
)

// Cash ledger golden regression.
//
// Non-negotiable safety: this test pins the reconciliation math — expected
// balances, shift settlement, differences and hourly rollups — over a fixed
// one-day ledger. Any change that shifts a number here changes what a clinic
// is told its drawer should hold, and must be a deliberate decision.
//
// Usage:
// - Run: go test ./models -run CashLedgerGolden -v
// - Update golden snapshot: UPDATE_GOLDEN=1 go test ./models -run CashLedgerGolden -v
//
// Golden files live under models/testdata/golden/.

type shiftSnapshot struct {
	Cashier          string          `json:"cashier"`
	StartingBalance  decimal.Decimal `json:"starting_balance"`
	Net              decimal.Decimal `json:"net"`
	EndingBalance    decimal.Decimal `json:"ending_balance"`
	ExpectedBalance  decimal.Decimal `json:"expected_balance"`
	Difference       decimal.Decimal `json:"difference"`
	TransactionCount int             `json:"transaction_count"`
}

type cashDaySnapshot struct {
	Timezone        string               `json:"timezone"`
	InitialAmount   decimal.Decimal      `json:"initial_amount"`
	CountedFinal    decimal.Decimal      `json:"counted_final"`
	TotalIn         decimal.Decimal      `json:"total_in"`
	TotalOut        decimal.Decimal      `json:"total_out"`
	Net             decimal.Decimal      `json:"net"`
	ExpectedBalance decimal.Decimal      `json:"expected_balance"`
	Difference      decimal.Decimal      `json:"difference"`
	AccuracyPercent int                  `json:"accuracy_percent"`
	Shifts          []shiftSnapshot      `json:"shifts"`
	Hourly          []models.HourlyBucket `json:"hourly"`
}

func goldenPath(name string) string {
	return filepath.Join("testdata", "golden", name+".json")
}

// canonicalizeDecimals re-renders every decimal-looking string leaf through
// decimal.NewFromString, so "95.50" and "95.5" compare equal. Non-numeric
// strings (cashier names, RFC3339 hours) fail to parse and pass through.
func canonicalizeDecimals(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for key, item := range val {
			val[key] = canonicalizeDecimals(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = canonicalizeDecimals(item)
		}
		return val
	case string:
		if d, err := decimal.NewFromString(val); err == nil {
			return d.String()
		}
		return val
	default:
		return v
	}
}

// compareGolden normalizes both sides through plain JSON values so field
// order and decimal rendering never matter, and regenerates the file when
// UPDATE_GOLDEN is set.
func compareGolden(t *testing.T, path string, actual any) {
	t.Helper()

	actualBytes, err := json.MarshalIndent(actual, "", "  ")
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	if strings.TrimSpace(os.Getenv("UPDATE_GOLDEN")) != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir golden dir: %v", err)
		}
		if err := os.WriteFile(path, actualBytes, 0o644); err != nil {
			t.Fatalf("write golden: %v", err)
		}
		t.Logf("wrote golden snapshot: %s", path)
		return
	}

	expectedBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("golden snapshot missing (%s). Re-run with UPDATE_GOLDEN=1 to generate: %v", path, err)
	}

	var expected, got any
	if err := json.Unmarshal(expectedBytes, &expected); err != nil {
		t.Fatalf("unmarshal golden (%s): %v", path, err)
	}
	if err := json.Unmarshal(actualBytes, &got); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	normExpected, _ := json.Marshal(canonicalizeDecimals(expected))
	normActual, _ := json.Marshal(canonicalizeDecimals(got))
	if string(normExpected) != string(normActual) {
		prettyExpected, _ := json.MarshalIndent(expected, "", "  ")
		t.Fatalf("cash ledger regression mismatch\n\nEXPECTED (%s):\n%s\n\nACTUAL:\n%s\n", path, string(prettyExpected), string(actualBytes))
	}
}

func TestCashLedgerGolden_TwoShiftDay(t *testing.T) {
	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	openedAt := time.Date(2026, 2, 3, 14, 30, 0, 0, time.UTC)
	handoffAt := time.Date(2026, 2, 3, 18, 0, 0, 0, time.UTC)
	closedAt := time.Date(2026, 2, 3, 21, 0, 0, 0, time.UTC)
	initial := decimal.NewFromInt(1000)
	counted := decimal.NewFromInt(1665)

	// Deliberately out of order; SortLedger owns the canonical ordering.
	// Entry 5 lands exactly on the handoff instant and must settle with the
	// incoming shift.
	ledger := []*models.CashTransaction{
		ledgerEntry(3, models.TransactionTypeDeposit, "100", time.Date(2026, 2, 3, 16, 10, 0, 0, time.UTC)),
		ledgerEntry(1, models.TransactionTypeSaleCash, "150.25", time.Date(2026, 2, 3, 15, 5, 0, 0, time.UTC)),
		ledgerEntry(5, models.TransactionTypeSaleCash, "300", handoffAt),
		ledgerEntry(2, models.TransactionTypeSaleCash, "200", time.Date(2026, 2, 3, 15, 45, 0, 0, time.UTC)),
		ledgerEntry(7, models.TransactionTypeReturnIn, "10.75", time.Date(2026, 2, 3, 20, 40, 0, 0, time.UTC)),
		ledgerEntry(4, models.TransactionTypeWithdrawal, "75.50", time.Date(2026, 2, 3, 17, 30, 0, 0, time.UTC)),
		ledgerEntry(6, models.TransactionTypeAdjustmentOut, "20", time.Date(2026, 2, 3, 19, 15, 0, 0, time.UTC)),
	}
	models.SortLedger(ledger)

	totalIn, totalOut, err := models.TotalsByDirection(ledger)
	if err != nil {
		t.Fatalf("TotalsByDirection: %v", err)
	}
	net, err := models.NetEffect(ledger)
	if err != nil {
		t.Fatalf("NetEffect: %v", err)
	}
	expected, err := models.ExpectedBalance(initial, ledger)
	if err != nil {
		t.Fatalf("ExpectedBalance: %v", err)
	}

	shiftWindow := func(start time.Time, end *time.Time) []*models.CashTransaction {
		var out []*models.CashTransaction
		for _, transaction := range ledger {
			if models.ShiftContains(transaction.CreatedAt, start, end) {
				out = append(out, transaction)
			}
		}
		return out
	}

	// Shift 1 settles at the computed running total; only the close takes a
	// manual count.
	firstWindow := shiftWindow(openedAt, &handoffAt)
	firstNet, err := models.NetEffect(firstWindow)
	if err != nil {
		t.Fatalf("NetEffect(first shift): %v", err)
	}
	firstEnding := initial.Add(firstNet)

	secondWindow := shiftWindow(handoffAt, &closedAt)
	secondNet, err := models.NetEffect(secondWindow)
	if err != nil {
		t.Fatalf("NetEffect(second shift): %v", err)
	}
	secondExpected := firstEnding.Add(secondNet)

	if !secondExpected.Equal(expected) {
		t.Fatalf("shift chain expected %s diverges from whole-ledger expected %s", secondExpected, expected)
	}

	zeroDifferenceShifts := 0
	firstDifference := models.Difference(firstEnding, firstEnding)
	if firstDifference.IsZero() {
		zeroDifferenceShifts++
	}
	secondDifference := models.Difference(counted, secondExpected)
	if secondDifference.IsZero() {
		zeroDifferenceShifts++
	}
	accuracy, defined := models.AccuracyPercent(zeroDifferenceShifts, 2)
	if !defined {
		t.Fatal("accuracy over two settled shifts must be defined")
	}

	hourly, err := models.HourlyBreakdown(ledger, loc)
	if err != nil {
		t.Fatalf("HourlyBreakdown: %v", err)
	}

	snapshot := cashDaySnapshot{
		Timezone:        loc.String(),
		InitialAmount:   initial,
		CountedFinal:    counted,
		TotalIn:         totalIn,
		TotalOut:        totalOut,
		Net:             net,
		ExpectedBalance: expected,
		Difference:      models.Difference(counted, expected),
		AccuracyPercent: accuracy,
		Shifts: []shiftSnapshot{
			{
				Cashier:          "ana",
				StartingBalance:  initial,
				Net:              firstNet,
				EndingBalance:    firstEnding,
				ExpectedBalance:  firstEnding,
				Difference:       firstDifference,
				TransactionCount: len(firstWindow),
			},
			{
				Cashier:          "bruno",
				StartingBalance:  firstEnding,
				Net:              secondNet,
				EndingBalance:    counted,
				ExpectedBalance:  secondExpected,
				Difference:       secondDifference,
				TransactionCount: len(secondWindow),
			},
		},
		Hourly: hourly,
	}

	compareGolden(t, goldenPath("cash_shift_day"), snapshot)
}
