package reports

import (
	"context"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/models"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/shopspring/decimal"
)

type CashierRollup struct {
	CashierId        int             `json:"cashier_id"`
	CashierName      string          `json:"cashier_name"`
	ShiftCount       int             `json:"shift_count"`
	TotalHours       decimal.Decimal `json:"total_hours"`
	TransactionCount int             `json:"transaction_count"`
	TotalDifference  decimal.Decimal `json:"total_difference"`
	Accuracy         *int            `json:"accuracy"`
}

// GetCashByCashierReport rolls the window's shifts up per cashier. Cashiers
// with no shifts in the window do not appear at all. Transactions are
// attributed by shift window, not by who typed them, so event-driven postings
// land on whoever held the drawer. An ACTIVE shift contributes elapsed time up
// to the generation instant; accuracy counts settled shifts only, and stays
// null for a cashier whose every window shift is still active.
func GetCashByCashierReport(ctx context.Context, fromDate models.MyDateString, toDate models.MyDateString) ([]*CashierRollup, error) {
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

	cacheKey := reportCacheKey(clinicId, "by_cashier", fromDate, toDate)
	if reportCacheEnabled() && cacheableWindow(toDate) {
		var cached []*CashierRollup
		if ok, err := cacheGet(cacheKey, &cached); err == nil && ok {
			return cached, nil
		}
	}
	started := time.Now()

	db := config.GetDB()
	rows, err := db.WithContext(ctx).Raw(`
		WITH ShiftWindow AS (
			SELECT
				s.id,
				s.drawer_id,
				s.cashier_id,
				s.started_at,
				s.ended_at,
				s.difference
			FROM shifts AS s
			WHERE
				s.clinic_id = ?
				AND s.started_at >= ?
				AND s.started_at < ?
		),
		ShiftTxn AS (
			SELECT
				sw.cashier_id,
				COUNT(t.id) AS transaction_count
			FROM ShiftWindow AS sw
			LEFT JOIN cash_transactions AS t
				ON t.drawer_id = sw.drawer_id
				AND t.created_at >= sw.started_at
				AND (sw.ended_at IS NULL OR t.created_at < sw.ended_at)
			GROUP BY sw.cashier_id
		)
		SELECT
			sw.cashier_id,
			u.name AS cashier_name,
			COUNT(*) AS shift_count,
			ROUND(SUM(TIMESTAMPDIFF(SECOND, sw.started_at, COALESCE(sw.ended_at, UTC_TIMESTAMP()))) / 3600, 2) AS total_hours,
			COALESCE(MAX(st.transaction_count), 0) AS transaction_count,
			COALESCE(SUM(COALESCE(sw.difference, 0)), 0) AS total_difference,
			SUM(CASE WHEN sw.difference IS NOT NULL AND sw.difference = 0 THEN 1 ELSE 0 END) AS zero_difference_shifts,
			SUM(CASE WHEN sw.difference IS NOT NULL THEN 1 ELSE 0 END) AS settled_shifts
		FROM ShiftWindow AS sw
		JOIN users AS u ON u.id = sw.cashier_id
		LEFT JOIN ShiftTxn AS st ON st.cashier_id = sw.cashier_id
		GROUP BY sw.cashier_id, u.name
		ORDER BY u.name, sw.cashier_id
	`, clinicId, fromDate, toDate).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*CashierRollup
	for rows.Next() {
		var rollup CashierRollup
		var zeroDifferenceShifts, settledShifts int

		err := rows.Scan(
			&rollup.CashierId, &rollup.CashierName, &rollup.ShiftCount,
			&rollup.TotalHours, &rollup.TransactionCount, &rollup.TotalDifference,
			&zeroDifferenceShifts, &settledShifts,
		)
		if err != nil {
			return nil, err
		}

		if accuracy, ok := models.AccuracyPercent(zeroDifferenceShifts, settledShifts); ok {
			rollup.Accuracy = &accuracy
		}

		results = append(results, &rollup)
	}

	logSlowReport(ctx, "cash_by_cashier", started, map[string]any{"rows": len(results)})
	if reportCacheEnabled() && cacheableWindow(toDate) {
		_ = cacheSet(cacheKey, results, reportCacheTTL())
	}

	return results, nil
}
