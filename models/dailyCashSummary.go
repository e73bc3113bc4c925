package models

import (
	"context"
	"sort"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DailyCashSummary is a per-day aggregate of the ledger, maintained in the
// same transaction as each posting. Grain: (clinic_id, location_id,
// summary_date), where summary_date is the clinic-local calendar day of the
// posting instant. Derived data; it can be rebuilt from cash_transactions at
// any time with cmd/backfill-daily-cash-summary.
type DailyCashSummary struct {
	ClinicId    string    `gorm:"primaryKey;size:64" json:"clinic_id"`
	LocationId  int       `gorm:"primaryKey" json:"location_id"`
	SummaryDate time.Time `gorm:"primaryKey;type:date" json:"summary_date"`

	TotalIn          decimal.Decimal `gorm:"type:decimal(20,5);not null;default:0" json:"total_in"`
	TotalOut         decimal.Decimal `gorm:"type:decimal(20,5);not null;default:0" json:"total_out"`
	Net              decimal.Decimal `gorm:"type:decimal(20,5);not null;default:0" json:"net"`
	TransactionCount int             `gorm:"not null;default:0" json:"transaction_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// typesByDirection derives one side of the partition for SQL IN clauses,
// sorted so generated statements are stable.
func typesByDirection(inflow bool) []TransactionType {
	out := make([]TransactionType, 0, len(inflowByType))
	for transactionType, isInflow := range inflowByType {
		if isInflow == inflow {
			out = append(out, transactionType)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// upsertDailyCashSummary folds one posting into its clinic-local day bucket.
// Runs inside the posting's transaction so the aggregate never drifts ahead
// of the ledger. CONVERT_TZ maps the UTC posting instant to the clinic's
// calendar day.
func upsertDailyCashSummary(tx *gorm.DB, ctx context.Context, clinicId string, locationId int, timezone string, at time.Time, transactionType TransactionType, amount decimal.Decimal) error {
	inflow, err := transactionType.IsInflow()
	if err != nil {
		return err
	}
	totalIn := decimal.Zero
	totalOut := decimal.Zero
	if inflow {
		totalIn = amount
	} else {
		totalOut = amount
	}

	return tx.WithContext(ctx).Exec(`
		INSERT INTO daily_cash_summaries
			(clinic_id, location_id, summary_date, total_in, total_out, net, transaction_count, created_at, updated_at)
		VALUES (?, ?, DATE(CONVERT_TZ(?, 'UTC', ?)), ?, ?, ?, 1, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
			total_in = total_in + VALUES(total_in),
			total_out = total_out + VALUES(total_out),
			net = net + VALUES(net),
			transaction_count = transaction_count + 1,
			updated_at = NOW()
	`, clinicId, locationId, at, timezone, totalIn, totalOut, totalIn.Sub(totalOut)).Error
}

// RebuildDailyCashSummaries recomputes one clinic's aggregate rows from the
// raw ledger, replacing whatever was there. Returns the number of day buckets
// written.
func RebuildDailyCashSummaries(ctx context.Context, clinicId string, timezone string) (int64, error) {
	db := config.GetDB()
	var rebuilt int64
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).
			Exec(`DELETE FROM daily_cash_summaries WHERE clinic_id = ?`, clinicId).Error; err != nil {
			return err
		}
		result := tx.WithContext(ctx).Exec(`
			INSERT INTO daily_cash_summaries
				(clinic_id, location_id, summary_date, total_in, total_out, net, transaction_count, created_at, updated_at)
			SELECT
				t.clinic_id,
				d.location_id,
				DATE(CONVERT_TZ(t.created_at, 'UTC', ?)) AS summary_date,
				COALESCE(SUM(CASE WHEN t.type IN ? THEN t.amount ELSE 0 END), 0) AS total_in,
				COALESCE(SUM(CASE WHEN t.type IN ? THEN t.amount ELSE 0 END), 0) AS total_out,
				COALESCE(SUM(CASE WHEN t.type IN ? THEN t.amount ELSE -t.amount END), 0) AS net,
				COUNT(*) AS transaction_count,
				NOW(),
				NOW()
			FROM cash_transactions t
			JOIN cash_drawers d ON d.id = t.drawer_id
			WHERE t.clinic_id = ?
			GROUP BY t.clinic_id, d.location_id, summary_date
		`, timezone, typesByDirection(true), typesByDirection(false), typesByDirection(true), clinicId)
		if result.Error != nil {
			return result.Error
		}
		rebuilt = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rebuilt, nil
}
