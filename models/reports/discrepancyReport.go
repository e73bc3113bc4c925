package reports

import (
	"context"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/models"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/shopspring/decimal"
)

type LargestDiscrepancy struct {
	ShiftId     int             `json:"shift_id"`
	DrawerId    int             `json:"drawer_id"`
	CashierId   int             `json:"cashier_id"`
	CashierName string          `json:"cashier_name"`
	EndedAt     *time.Time      `json:"ended_at"`
	Difference  decimal.Decimal `json:"difference"`
}

type DiscrepancySummaryResponse struct {
	TotalDifference       decimal.Decimal     `json:"total_difference"`
	SettledShiftCount     int                 `json:"settled_shift_count"`
	DiscrepancyShiftCount int                 `json:"discrepancy_shift_count"`
	Largest               *LargestDiscrepancy `json:"largest,omitempty"`
}

// GetCashDiscrepancyReport totals the window's shift differences, counts the
// shifts that came up short or over, and names the single largest-magnitude
// discrepancy. Signed totals: surpluses and shortages cancel in
// TotalDifference, which is exactly why the count and the largest entry are
// reported alongside it.
func GetCashDiscrepancyReport(ctx context.Context, fromDate models.MyDateString, toDate models.MyDateString) (*DiscrepancySummaryResponse, error) {
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

	cacheKey := reportCacheKey(clinicId, "discrepancies", fromDate, toDate)
	if reportCacheEnabled() && cacheableWindow(toDate) {
		var cached DiscrepancySummaryResponse
		if ok, err := cacheGet(cacheKey, &cached); err == nil && ok {
			return &cached, nil
		}
	}
	started := time.Now()

	db := config.GetDB()
	var response DiscrepancySummaryResponse

	row := db.WithContext(ctx).Raw(`
		SELECT
			COALESCE(SUM(s.difference), 0) AS total_difference,
			COUNT(*) AS settled_shift_count,
			COALESCE(SUM(CASE WHEN s.difference <> 0 THEN 1 ELSE 0 END), 0) AS discrepancy_shift_count
		FROM shifts AS s
		WHERE
			s.clinic_id = ?
			AND s.started_at >= ?
			AND s.started_at < ?
			AND s.difference IS NOT NULL
	`, clinicId, fromDate, toDate).Row()
	if err := row.Scan(&response.TotalDifference, &response.SettledShiftCount, &response.DiscrepancyShiftCount); err != nil {
		return nil, err
	}

	if response.DiscrepancyShiftCount > 0 {
		rows, err := db.WithContext(ctx).Raw(`
			SELECT
				s.id,
				s.drawer_id,
				s.cashier_id,
				u.name AS cashier_name,
				s.ended_at,
				s.difference
			FROM shifts AS s
			JOIN users AS u ON u.id = s.cashier_id
			WHERE
				s.clinic_id = ?
				AND s.started_at >= ?
				AND s.started_at < ?
				AND s.difference IS NOT NULL
				AND s.difference <> 0
			ORDER BY ABS(s.difference) DESC, s.id
			LIMIT 1
		`, clinicId, fromDate, toDate).Rows()
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		if rows.Next() {
			var largest LargestDiscrepancy
			err := rows.Scan(
				&largest.ShiftId, &largest.DrawerId, &largest.CashierId,
				&largest.CashierName, &largest.EndedAt, &largest.Difference,
			)
			if err != nil {
				return nil, err
			}
			response.Largest = &largest
		}
	}

	logSlowReport(ctx, "cash_discrepancies", started, map[string]any{"settled": response.SettledShiftCount})
	if reportCacheEnabled() && cacheableWindow(toDate) {
		_ = cacheSet(cacheKey, response, reportCacheTTL())
	}

	return &response, nil
}
