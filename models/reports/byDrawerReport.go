package reports

import (
	"context"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/models"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/shopspring/decimal"
)

type DrawerRollup struct {
	DrawerId         int             `json:"drawer_id"`
	LocationId       int             `json:"location_id"`
	Status           string          `json:"status"`
	OpenedAt         time.Time       `json:"opened_at"`
	TotalIn          decimal.Decimal `json:"total_in"`
	TotalOut         decimal.Decimal `json:"total_out"`
	Net              decimal.Decimal `json:"net"`
	TransactionCount int             `json:"transaction_count"`
	ShiftCount       int             `json:"shift_count"`
	TotalDifference  decimal.Decimal `json:"total_difference"`
}

// GetCashByDrawerReport rolls the window's ledger and shifts up per drawer.
// A drawer appears if it had a transaction or a shift start inside the window.
// TotalDifference sums every shift's stored difference, so handoff shifts
// contribute zero and only counted closes move it.
func GetCashByDrawerReport(ctx context.Context, fromDate models.MyDateString, toDate models.MyDateString) ([]*DrawerRollup, error) {
	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, models.NewValidationError("clinic_id", "clinic id is required")
	}
	if err := requireCashReports(ctx, clinicId); err != nil {
		return nil, err
	}
	timezone := models.GetClinicTimezone(ctx, clinicId)
	if err := fromDate.StartOfDayUTCTime(timezone); err != nil {
		return nil, err
	}
	if err := toDate.NextDayStartUTCTime(timezone); err != nil {
		return nil, err
	}

	cacheKey := reportCacheKey(clinicId, "by_drawer", fromDate, toDate)
	if reportCacheEnabled() && cacheableWindow(toDate) {
		var cached []*DrawerRollup
		if ok, err := cacheGet(cacheKey, &cached); err == nil && ok {
			return cached, nil
		}
	}
	started := time.Now()

	inflowTypes := models.InflowTransactionTypes()
	outflowTypes := models.OutflowTransactionTypes()

	db := config.GetDB()
	var results []*DrawerRollup

	query := db.WithContext(ctx).Raw(`
		WITH TxnAgg AS (
			SELECT
				t.drawer_id,
				COALESCE(SUM(CASE WHEN t.type IN ? THEN t.amount ELSE 0 END), 0) AS total_in,
				COALESCE(SUM(CASE WHEN t.type IN ? THEN t.amount ELSE 0 END), 0) AS total_out,
				COUNT(*) AS transaction_count
			FROM cash_transactions AS t
			WHERE
				t.clinic_id = ?
				AND t.created_at >= ?
				AND t.created_at < ?
			GROUP BY t.drawer_id
		),
		ShiftAgg AS (
			SELECT
				s.drawer_id,
				COUNT(*) AS shift_count,
				COALESCE(SUM(COALESCE(s.difference, 0)), 0) AS total_difference
			FROM shifts AS s
			WHERE
				s.clinic_id = ?
				AND s.started_at >= ?
				AND s.started_at < ?
			GROUP BY s.drawer_id
		)
		SELECT
			d.id AS drawer_id,
			d.location_id AS location_id,
			d.status AS status,
			d.opened_at AS opened_at,
			COALESCE(ta.total_in, 0) AS total_in,
			COALESCE(ta.total_out, 0) AS total_out,
			COALESCE(ta.total_in, 0) - COALESCE(ta.total_out, 0) AS net,
			COALESCE(ta.transaction_count, 0) AS transaction_count,
			COALESCE(sa.shift_count, 0) AS shift_count,
			COALESCE(sa.total_difference, 0) AS total_difference
		FROM cash_drawers AS d
		LEFT JOIN TxnAgg AS ta ON ta.drawer_id = d.id
		LEFT JOIN ShiftAgg AS sa ON sa.drawer_id = d.id
		WHERE
			d.clinic_id = ?
			AND (ta.drawer_id IS NOT NULL OR sa.drawer_id IS NOT NULL)
		ORDER BY d.id
	`,
		inflowTypes, outflowTypes, clinicId, fromDate, toDate,
		clinicId, fromDate, toDate,
		clinicId,
	)

	if err := query.Scan(&results).Error; err != nil {
		return nil, err
	}

	logSlowReport(ctx, "cash_by_drawer", started, map[string]any{"rows": len(results)})
	if reportCacheEnabled() && cacheableWindow(toDate) {
		_ = cacheSet(cacheKey, results, reportCacheTTL())
	}

	return results, nil
}
