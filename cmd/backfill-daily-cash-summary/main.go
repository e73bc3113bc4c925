package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/models"
	"bitbucket.org/vetmanager/caja_backend/utils"
)

// backfill-daily-cash-summary rebuilds the daily_cash_summaries table from the
// raw drawer ledger. The summaries are a dashboard cache, so a full rebuild is
// always safe; day boundaries follow each clinic's timezone.
func main() {
	clinicID := flag.String("clinic-id", "", "Optional: rebuild only one clinic (uuid string). If empty, rebuilds all clinics.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	// Ensure schema is up-to-date (creates daily_cash_summaries if missing).
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "BackfillDailyCashSummary")
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	var clinics []models.Clinic
	query := db.WithContext(ctx).Model(&models.Clinic{})
	if strings.TrimSpace(*clinicID) != "" {
		query = query.Where("id = ?", strings.TrimSpace(*clinicID))
	}
	if err := query.Find(&clinics).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list clinics: %v\n", err)
		os.Exit(1)
	}
	if len(clinics) == 0 {
		fmt.Fprintln(os.Stderr, "no clinics found to backfill")
		return
	}

	failed := 0
	for _, clinic := range clinics {
		cid := clinic.ID.String()
		tz := strings.TrimSpace(clinic.Timezone)
		if tz == "" {
			tz = utils.DefaultTimezone
		}

		rebuilt, err := models.RebuildDailyCashSummaries(ctx, cid, tz)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "clinic %s backfill failed: %v\n", cid, err)
			continue
		}
		fmt.Printf("clinic=%s timezone=%s summary_rows=%d\n", cid, tz, rebuilt)
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "backfill finished with %d failed clinic(s)\n", failed)
		os.Exit(1)
	}
	fmt.Println("Backfill complete")
}
