package possync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/models"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"bitbucket.org/vetmanager/caja_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type vetposPayment struct {
	ID            string      `json:"id"`
	InvoiceId     string      `json:"invoice_id"`
	InvoiceNumber string      `json:"invoice_number"`
	Amount        json.Number `json:"amount"`
	Method        string      `json:"method"`
	Status        string      `json:"status"`
	Note          string      `json:"note"`
	PaidAt        string      `json:"paid_at"`
	UpdatedAt     string      `json:"updated_at"`
}

type vetposRefund struct {
	ID         string      `json:"id"`
	PaymentId  string      `json:"payment_id"`
	Amount     json.Number `json:"amount"`
	Method     string      `json:"method"`
	Reason     string      `json:"reason"`
	RefundedAt string      `json:"refunded_at"`
	UpdatedAt  string      `json:"updated_at"`
}

// ProcessSyncRun executes one queued sync run: pages the VetPOS feeds and posts
// each cash payment through the same idempotent workflow the push and pull
// transports use, with the external payment id as dedup key. Re-delivery of a
// run that already executed cannot double-post for the same reason.
func ProcessSyncRun(ctx context.Context, payload SyncPubSubPayload) error {
	if payload.RunId == 0 || payload.ClinicId == "" {
		return errors.New("invalid payload")
	}

	ctx = utils.SetClinicIdInContext(ctx, payload.ClinicId)
	ctx = utils.SetCorrelationIdInContext(ctx, "possync:"+strconv.Itoa(int(payload.RunId)))
	db := config.GetDB().WithContext(ctx)

	var run models.PosSyncRun
	if err := db.Where("id = ? AND clinic_id = ?", payload.RunId, payload.ClinicId).Take(&run).Error; err != nil {
		return err
	}

	if run.Status == models.PosSyncRunStatusSuccess || run.Status == models.PosSyncRunStatusFailed || run.Status == models.PosSyncRunStatusPartial {
		return nil
	}

	var conn models.PosConnection
	if err := db.Where("id = ? AND clinic_id = ?", run.ConnectionId, payload.ClinicId).Take(&conn).Error; err != nil {
		return err
	}
	if conn.Status != models.PosConnectionStatusConnected {
		return errors.New("vetpos not connected")
	}

	modules := DecodeModules(run.ModulesJSON)
	cursorState := DecodeCursorState(conn.CursorStateJSON)

	now := time.Now()
	startedAt := run.StartedAt
	if startedAt == nil {
		startedAt = &now
	}

	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":     models.PosSyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	client, err := newVetposClient(conn.AuthSecretRef)
	if err != nil {
		return err
	}

	stats := map[string]int{
		"payments": 0,
		"refunds":  0,
	}
	errorCount := 0

	if modules.Payments {
		count, newCursor, newUpdatedSince, err := syncPayments(ctx, db, run.ID, payload.ClinicId, conn, client, cursorState.Payments)
		stats["payments"] = count
		if err != nil {
			errorCount++
			_ = createSyncError(ctx, db, run.ID, payload.ClinicId, "payments", "", "sync_failed", err.Error(), nil, true)
		} else {
			cursorState.Payments = CursorEntry{UpdatedSince: newUpdatedSince, Cursor: newCursor}
		}
	}

	if modules.Refunds {
		count, newCursor, newUpdatedSince, err := syncRefunds(ctx, db, run.ID, payload.ClinicId, conn, client, cursorState.Refunds)
		stats["refunds"] = count
		if err != nil {
			errorCount++
			_ = createSyncError(ctx, db, run.ID, payload.ClinicId, "refunds", "", "sync_failed", err.Error(), nil, true)
		} else {
			cursorState.Refunds = CursorEntry{UpdatedSince: newUpdatedSince, Cursor: newCursor}
		}
	}

	finishedAt := time.Now()
	durationMs := finishedAt.Sub(*startedAt).Milliseconds()
	status := models.PosSyncRunStatusSuccess
	totalSynced := stats["payments"] + stats["refunds"]
	if errorCount > 0 && totalSynced == 0 {
		status = models.PosSyncRunStatusFailed
	} else if errorCount > 0 {
		status = models.PosSyncRunStatusPartial
	}

	statsJSON, _ := json.Marshal(stats)
	cursorJSON := EncodeCursorState(cursorState)
	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":            status,
		"finished_at":       finishedAt,
		"duration_ms":       durationMs,
		"records_synced":    totalSynced,
		"error_count":       errorCount,
		"stats_json":        statsJSON,
		"cursor_state_json": cursorJSON,
	}).Error; err != nil {
		return err
	}

	connUpdates := map[string]interface{}{
		"last_sync_at":      finishedAt,
		"cursor_state_json": cursorJSON,
	}
	if status == models.PosSyncRunStatusSuccess {
		connUpdates["last_success_sync_at"] = finishedAt
	}
	if err := db.Model(&models.PosConnection{}).
		Where("id = ? AND clinic_id = ?", conn.ID, payload.ClinicId).
		Updates(connUpdates).Error; err != nil {
		return err
	}

	return nil
}

func syncPayments(ctx context.Context, db *gorm.DB, runID uint, clinicId string, conn models.PosConnection, client *vetposClient, cursor CursorEntry) (int, string, string, error) {
	drawerId, err := resolveTargetDrawer(ctx, db, clinicId, conn.LocationId)
	if err != nil {
		return 0, cursor.Cursor, cursor.UpdatedSince, err
	}

	updatedSince := pollWindowStart(cursor, conn)
	// Watermark for the NEXT run is taken before paging starts: payments written
	// while this run is in flight get refetched next time and deduped.
	windowStart := time.Now().UTC().Format(time.RFC3339)

	paymentsPath := strings.TrimSpace(os.Getenv("VETPOS_PAYMENTS_PATH"))
	if paymentsPath == "" {
		paymentsPath = "/v1/payments"
	}

	logger := config.GetLogger()
	nextCursor := strings.TrimSpace(cursor.Cursor)
	total := 0

	for {
		params := url.Values{}
		params.Set("method", "CASH")
		params.Set("updated_since", updatedSince)
		if nextCursor != "" {
			params.Set("cursor", nextCursor)
		}
		params.Set("limit", "200")

		resp, err := client.getList(ctx, paymentsPath, params)
		if err != nil {
			return total, nextCursor, updatedSince, err
		}

		items := resp.Data
		if len(items) == 0 {
			items = resp.Items
		}

		for _, raw := range items {
			var payment vetposPayment
			if err := json.Unmarshal(raw, &payment); err != nil {
				_ = createSyncError(ctx, db, runID, clinicId, "payment", "", "invalid_payload", err.Error(), raw, true)
				continue
			}
			extID := strings.TrimSpace(payment.ID)
			if extID == "" {
				_ = createSyncError(ctx, db, runID, clinicId, "payment", "", "missing_id", "payment id missing", raw, false)
				continue
			}
			// The feed is already filtered by method=CASH; skip anything else a
			// lax server returns instead of posting it to the drawer.
			if payment.Method != "" && !strings.EqualFold(payment.Method, "CASH") {
				continue
			}

			amount := decimalFromNumber(payment.Amount)
			if !amount.IsPositive() {
				_ = createSyncError(ctx, db, runID, clinicId, "payment", extID, "invalid_amount", "amount must be positive", raw, false)
				continue
			}

			description := strings.TrimSpace(payment.Note)
			if description == "" && strings.TrimSpace(payment.InvoiceNumber) != "" {
				description = "POS sale " + strings.TrimSpace(payment.InvoiceNumber)
			}
			if description == "" {
				description = "POS sale payment"
			}

			msg := config.CashEventMessage{
				ClinicId:      clinicId,
				OccurredAt:    parseTimeOrNow(payment.PaidAt),
				ReferenceType: models.CashEventTypePosSalePayment,
				ReferenceId:   extID,
				DrawerId:      drawerId,
				Amount:        amount,
				Description:   description,
			}
			if err := workflow.ProcessCashEventMessage(ctx, logger, extID, msg); err != nil {
				// A retryable posting failure stops the module before the
				// watermark moves; the next run replays the same window and
				// idempotency skips whatever already posted.
				_ = createSyncError(ctx, db, runID, clinicId, "payment", extID, "post_failed", err.Error(), raw, true)
				return total, nextCursor, updatedSince, err
			}
			total++
		}

		if resp.NextCursor == "" || (resp.HasMore != nil && !*resp.HasMore) {
			return total, "", windowStart, nil
		}
		nextCursor = resp.NextCursor
	}
}

func syncRefunds(ctx context.Context, db *gorm.DB, runID uint, clinicId string, conn models.PosConnection, client *vetposClient, cursor CursorEntry) (int, string, string, error) {
	drawerId, err := resolveTargetDrawer(ctx, db, clinicId, conn.LocationId)
	if err != nil {
		return 0, cursor.Cursor, cursor.UpdatedSince, err
	}

	updatedSince := pollWindowStart(cursor, conn)
	windowStart := time.Now().UTC().Format(time.RFC3339)

	refundsPath := strings.TrimSpace(os.Getenv("VETPOS_REFUNDS_PATH"))
	if refundsPath == "" {
		refundsPath = "/v1/refunds"
	}

	logger := config.GetLogger()
	nextCursor := strings.TrimSpace(cursor.Cursor)
	total := 0

	for {
		params := url.Values{}
		params.Set("method", "CASH")
		params.Set("updated_since", updatedSince)
		if nextCursor != "" {
			params.Set("cursor", nextCursor)
		}
		params.Set("limit", "200")

		resp, err := client.getList(ctx, refundsPath, params)
		if err != nil {
			return total, nextCursor, updatedSince, err
		}

		items := resp.Data
		if len(items) == 0 {
			items = resp.Items
		}

		for _, raw := range items {
			var refund vetposRefund
			if err := json.Unmarshal(raw, &refund); err != nil {
				_ = createSyncError(ctx, db, runID, clinicId, "refund", "", "invalid_payload", err.Error(), raw, true)
				continue
			}
			extID := strings.TrimSpace(refund.ID)
			if extID == "" {
				_ = createSyncError(ctx, db, runID, clinicId, "refund", "", "missing_id", "refund id missing", raw, false)
				continue
			}
			if refund.Method != "" && !strings.EqualFold(refund.Method, "CASH") {
				continue
			}

			amount := decimalFromNumber(refund.Amount)
			if !amount.IsPositive() {
				_ = createSyncError(ctx, db, runID, clinicId, "refund", extID, "invalid_amount", "amount must be positive", raw, false)
				continue
			}

			description := strings.TrimSpace(refund.Reason)
			if description == "" && strings.TrimSpace(refund.PaymentId) != "" {
				description = "POS refund of payment " + strings.TrimSpace(refund.PaymentId)
			}
			if description == "" {
				description = "POS cash refund"
			}

			msg := config.CashEventMessage{
				ClinicId:      clinicId,
				OccurredAt:    parseTimeOrNow(refund.RefundedAt),
				ReferenceType: models.CashEventTypePosCashRefund,
				ReferenceId:   extID,
				DrawerId:      drawerId,
				Amount:        amount,
				Description:   description,
			}
			if err := workflow.ProcessCashEventMessage(ctx, logger, extID, msg); err != nil {
				_ = createSyncError(ctx, db, runID, clinicId, "refund", extID, "post_failed", err.Error(), raw, true)
				return total, nextCursor, updatedSince, err
			}
			total++
		}

		if resp.NextCursor == "" || (resp.HasMore != nil && !*resp.HasMore) {
			return total, "", windowStart, nil
		}
		nextCursor = resp.NextCursor
	}
}

// pollWindowStart picks the updated_since bound: stored watermark, then the
// last successful sync, then a 30 day backstop for first-time connections.
func pollWindowStart(cursor CursorEntry, conn models.PosConnection) string {
	updatedSince := strings.TrimSpace(cursor.UpdatedSince)
	if updatedSince == "" && conn.LastSuccessSyncAt != nil {
		updatedSince = conn.LastSuccessSyncAt.UTC().Format(time.RFC3339)
	}
	if updatedSince == "" {
		updatedSince = time.Now().Add(-30 * 24 * time.Hour).UTC().Format(time.RFC3339)
	}
	return updatedSince
}

// resolveTargetDrawer finds the one OPEN drawer at the connection's location.
// The unique open marker guarantees at most one; none open means the whole
// module waits for the next run rather than losing payments.
func resolveTargetDrawer(ctx context.Context, db *gorm.DB, clinicId string, locationId int) (int, error) {
	var drawer models.CashDrawer
	err := db.WithContext(ctx).
		Where("clinic_id = ? AND location_id = ? AND status = ?", clinicId, locationId, models.DrawerStatusOpen).
		Take(&drawer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("no open drawer for location %d", locationId)
		}
		return 0, err
	}
	return drawer.ID, nil
}

func decimalFromNumber(num json.Number) decimal.Decimal {
	if num.String() == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return d
	}
	return decimal.Zero
}

func parseTimeOrNow(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now()
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Now()
}

func createSyncError(ctx context.Context, db *gorm.DB, runId uint, clinicId string, entityType string, externalId string, code string, message string, payload []byte, retryable bool) error {
	errRec := models.PosSyncError{
		SyncRunId:   runId,
		ClinicId:    clinicId,
		EntityType:  entityType,
		ExternalId:  externalId,
		ErrorCode:   code,
		Message:     message,
		PayloadJSON: payload,
		Retryable:   retryable,
	}
	return db.WithContext(ctx).Create(&errRec).Error
}

// ShouldRunLocalWorker mirrors the outbox local-delivery switch: explicit env
// wins, otherwise the in-process worker runs only when no Pub/Sub project is
// configured.
func ShouldRunLocalWorker() bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv("POSSYNC_LOCAL_WORKER")))
	if val == "true" {
		return true
	}
	if val == "false" {
		return false
	}
	return os.Getenv("PUBSUB_PROJECT_ID") == "" &&
		os.Getenv("GOOGLE_CLOUD_PROJECT") == "" &&
		os.Getenv("GCP_PROJECT") == ""
}

// RunLocalWorker drains QUEUED runs in-process for deployments without a
// broker. Posting is idempotent, so a run also delivered via Pub/Sub push
// cannot double-post; the duplicate pass is wasted work, not corruption.
func RunLocalWorker(ctx context.Context, logger *logrus.Logger) {
	interval := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("POSSYNC_WORKER_INTERVAL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			interval = time.Duration(n) * time.Second
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		db := config.GetDB()
		if db == nil {
			continue
		}

		var runs []models.PosSyncRun
		if err := db.WithContext(ctx).
			Where("status = ?", models.PosSyncRunStatusQueued).
			Order("id asc").
			Limit(5).
			Find(&runs).Error; err != nil {
			if logger != nil {
				logger.WithFields(logrus.Fields{"field": "PosSyncWorker"}).Error("failed to list queued runs: " + err.Error())
			}
			continue
		}

		for _, run := range runs {
			payload := SyncPubSubPayload{RunId: run.ID, ClinicId: run.ClinicId, ConnectionId: run.ConnectionId}
			if err := ProcessSyncRun(ctx, payload); err != nil && logger != nil {
				logger.WithFields(logrus.Fields{
					"field":     "PosSyncWorker",
					"clinic_id": run.ClinicId,
					"run_id":    run.ID,
				}).Error("sync run failed: " + err.Error())
			}
		}
	}
}

// RunAutoSyncScheduler queues a system-triggered run for every connected
// clinic on a fixed cadence. Disabled unless POSSYNC_AUTO_SYNC_MINUTES > 0.
func RunAutoSyncScheduler(ctx context.Context, logger *logrus.Logger) {
	minutes := 0
	if v := strings.TrimSpace(os.Getenv("POSSYNC_AUTO_SYNC_MINUTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			minutes = n
		}
	}
	if minutes == 0 {
		if logger != nil {
			logger.WithFields(logrus.Fields{"field": "PosSyncScheduler"}).Info("auto sync disabled (POSSYNC_AUTO_SYNC_MINUTES unset)")
		}
		return
	}

	interval := time.Duration(minutes) * time.Minute
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		db := config.GetDB()
		if db == nil {
			continue
		}

		var conns []models.PosConnection
		if err := db.WithContext(ctx).
			Where("status = ?", models.PosConnectionStatusConnected).
			Find(&conns).Error; err != nil {
			if logger != nil {
				logger.WithFields(logrus.Fields{"field": "PosSyncScheduler"}).Error("failed to list connections: " + err.Error())
			}
			continue
		}

		for _, conn := range conns {
			// Skip clinics that still have a run in flight; cadence must not
			// pile runs up behind a slow feed.
			var pending int64
			if err := db.WithContext(ctx).Model(&models.PosSyncRun{}).
				Where("connection_id = ? AND status IN ?", conn.ID,
					[]string{models.PosSyncRunStatusQueued, models.PosSyncRunStatusRunning}).
				Count(&pending).Error; err != nil || pending > 0 {
				continue
			}

			run := models.PosSyncRun{
				ClinicId:     conn.ClinicId,
				ConnectionId: conn.ID,
				Provider:     conn.Provider,
				Status:       models.PosSyncRunStatusQueued,
				TriggeredBy:  models.PosSyncTriggeredSystem,
				ModulesJSON:  EncodeModules(DecodeModules(conn.SettingsJSON)),
			}
			if err := db.WithContext(ctx).Create(&run).Error; err != nil {
				if logger != nil {
					logger.WithFields(logrus.Fields{
						"field":     "PosSyncScheduler",
						"clinic_id": conn.ClinicId,
					}).Error("failed to queue run: " + err.Error())
				}
				continue
			}
			_ = PublishSyncRun(ctx, run.ID, conn.ClinicId, conn.ID)
		}
	}
}
