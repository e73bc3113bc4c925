package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Pure balance math over ledger snapshots. Everything here must be
// re-derivable from the transaction list alone; no cached running balance is
// authoritative.

// TotalsByDirection splits a transaction set into gross inflow and outflow.
// An unmapped type aborts the whole computation rather than contributing zero.
func TotalsByDirection(transactions []*CashTransaction) (totalIn decimal.Decimal, totalOut decimal.Decimal, err error) {
	totalIn = decimal.Zero
	totalOut = decimal.Zero
	for _, txn := range transactions {
		inflow, err := txn.Type.IsInflow()
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		if inflow {
			totalIn = totalIn.Add(txn.Amount)
		} else {
			totalOut = totalOut.Add(txn.Amount)
		}
	}
	return totalIn, totalOut, nil
}

// NetEffect = Σ(inflow) − Σ(outflow).
func NetEffect(transactions []*CashTransaction) (decimal.Decimal, error) {
	totalIn, totalOut, err := TotalsByDirection(transactions)
	if err != nil {
		return decimal.Zero, err
	}
	return totalIn.Sub(totalOut), nil
}

// ExpectedBalance = initialAmount + net effect of the given transactions.
func ExpectedBalance(initialAmount decimal.Decimal, transactions []*CashTransaction) (decimal.Decimal, error) {
	net, err := NetEffect(transactions)
	if err != nil {
		return decimal.Zero, err
	}
	return initialAmount.Add(net), nil
}

// Difference = counted − expected. Positive = surplus, negative = shortage.
// Reports and the UI both classify on this sign; do not flip it.
func Difference(counted, expected decimal.Decimal) decimal.Decimal {
	return counted.Sub(expected)
}

// AccuracyPercent = 100 × zero-difference shifts / total shifts, rounded
// half away from zero to the nearest integer. A cashier with no shifts has
// undefined accuracy; the second return is false and the caller must exclude
// them rather than show 0% or 100%.
func AccuracyPercent(zeroDifferenceShifts, totalShifts int) (int, bool) {
	if totalShifts <= 0 {
		return 0, false
	}
	pct := decimal.NewFromInt(int64(zeroDifferenceShifts) * 100).
		Div(decimal.NewFromInt(int64(totalShifts))).
		Round(0)
	return int(pct.IntPart()), true
}

// InWindow reports membership in the half-open window [start, end).
func InWindow(at, start, end time.Time) bool {
	return !at.Before(start) && at.Before(end)
}

// ShiftContains decides whether a transaction posted at `at` belongs to a
// shift spanning [startedAt, endedAt); a nil endedAt means the shift is still
// open-ended. Boundaries are half-open so a transaction landing exactly on a
// handoff instant belongs to the incoming shift, never to both.
func ShiftContains(at time.Time, startedAt time.Time, endedAt *time.Time) bool {
	if at.Before(startedAt) {
		return false
	}
	if endedAt == nil {
		return true
	}
	return at.Before(*endedAt)
}

// SortLedger orders transactions by (created_at, id) — the reproducible
// ordering used for balances and shift membership when instants collide.
func SortLedger(transactions []*CashTransaction) {
	sort.SliceStable(transactions, func(i, j int) bool {
		if transactions[i].CreatedAt.Equal(transactions[j].CreatedAt) {
			return transactions[i].ID < transactions[j].ID
		}
		return transactions[i].CreatedAt.Before(transactions[j].CreatedAt)
	})
}

type HourlyBucket struct {
	// Hour is the bucket start, truncated to the hour in the clinic timezone.
	Hour             time.Time       `json:"hour"`
	TotalIn          decimal.Decimal `json:"total_in"`
	TotalOut         decimal.Decimal `json:"total_out"`
	Net              decimal.Decimal `json:"net"`
	TransactionCount int             `json:"transaction_count"`
}

// HourlyBreakdown groups a shift's transactions into per-hour buckets in the
// given timezone. Hours with no transactions are omitted. Buckets come back
// in chronological order.
func HourlyBreakdown(transactions []*CashTransaction, loc *time.Location) ([]HourlyBucket, error) {
	if loc == nil {
		loc = time.UTC
	}

	buckets := make(map[time.Time]*HourlyBucket)
	for _, txn := range transactions {
		inflow, err := txn.Type.IsInflow()
		if err != nil {
			return nil, err
		}
		local := txn.CreatedAt.In(loc)
		hour := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
		bucket, ok := buckets[hour]
		if !ok {
			bucket = &HourlyBucket{
				Hour:     hour,
				TotalIn:  decimal.Zero,
				TotalOut: decimal.Zero,
				Net:      decimal.Zero,
			}
			buckets[hour] = bucket
		}
		if inflow {
			bucket.TotalIn = bucket.TotalIn.Add(txn.Amount)
			bucket.Net = bucket.Net.Add(txn.Amount)
		} else {
			bucket.TotalOut = bucket.TotalOut.Add(txn.Amount)
			bucket.Net = bucket.Net.Sub(txn.Amount)
		}
		bucket.TransactionCount++
	}

	results := make([]HourlyBucket, 0, len(buckets))
	for _, bucket := range buckets {
		results = append(results, *bucket)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Hour.Before(results[j].Hour)
	})
	return results, nil
}
