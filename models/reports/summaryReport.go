package reports

import (
	"context"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/models"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/shopspring/decimal"
)

type TransactionTypeBreakdown struct {
	Type             string          `json:"type"`
	Direction        string          `json:"direction"`
	Amount           decimal.Decimal `json:"amount"`
	TransactionCount int             `json:"transaction_count"`
}

type CashSummaryResponse struct {
	TotalIn            decimal.Decimal             `json:"total_in"`
	TotalOut           decimal.Decimal             `json:"total_out"`
	Net                decimal.Decimal             `json:"net"`
	TransactionCount   int                         `json:"transaction_count"`
	AverageTransaction decimal.Decimal             `json:"average_transaction"`
	ByType             []*TransactionTypeBreakdown `json:"by_type"`
}

// the report suite is a plan feature; the drawer lifecycle itself is not
func requireCashReports(ctx context.Context, clinicId string) error {
	ok, err := models.Capability().HasFeature(ctx, clinicId, models.FeatureCashReports)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewLimitError(0, "plan does not include cash reports")
	}
	return nil
}

// GetCashSummaryReport totals the window's ledger and breaks it down by
// transaction type. Types with no occurrences in the window are omitted, not
// reported as zero. Average transaction value is absolute volume over count,
// ignoring direction.
func GetCashSummaryReport(ctx context.Context, fromDate models.MyDateString, toDate models.MyDateString) (*CashSummaryResponse, error) {
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

	cacheKey := reportCacheKey(clinicId, "summary", fromDate, toDate)
	if reportCacheEnabled() && cacheableWindow(toDate) {
		var cached CashSummaryResponse
		if ok, err := cacheGet(cacheKey, &cached); err == nil && ok {
			return &cached, nil
		}
	}
	started := time.Now()

	db := config.GetDB()
	rows, err := db.WithContext(ctx).Raw(`
		SELECT
			t.type,
			COALESCE(SUM(t.amount), 0) AS amount,
			COUNT(*) AS transaction_count
		FROM cash_transactions AS t
		WHERE
			t.clinic_id = ?
			AND t.created_at >= ?
			AND t.created_at < ?
		GROUP BY t.type
		ORDER BY t.type
	`, clinicId, fromDate, toDate).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var response CashSummaryResponse
	var absoluteVolume decimal.Decimal
	for rows.Next() {
		var transactionType string
		var amount decimal.Decimal
		var count int

		if err := rows.Scan(&transactionType, &amount, &count); err != nil {
			return nil, err
		}

		inflow, err := models.TransactionType(transactionType).IsInflow()
		if err != nil {
			return nil, err
		}
		direction := "OUT"
		if inflow {
			direction = "IN"
			response.TotalIn = response.TotalIn.Add(amount)
		} else {
			response.TotalOut = response.TotalOut.Add(amount)
		}
		response.TransactionCount += count
		absoluteVolume = absoluteVolume.Add(amount)

		response.ByType = append(response.ByType, &TransactionTypeBreakdown{
			Type:             transactionType,
			Direction:        direction,
			Amount:           amount,
			TransactionCount: count,
		})
	}

	response.Net = response.TotalIn.Sub(response.TotalOut)
	if response.TransactionCount > 0 {
		response.AverageTransaction = absoluteVolume.
			Div(decimal.NewFromInt(int64(response.TransactionCount))).Round(5)
	}

	logSlowReport(ctx, "cash_summary", started, map[string]any{"rows": len(response.ByType)})
	if reportCacheEnabled() && cacheableWindow(toDate) {
		_ = cacheSet(cacheKey, response, reportCacheTTL())
	}

	return &response, nil
}
