package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/models"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"bitbucket.org/vetmanager/caja_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Drawer lifecycle regression: open → post (API and event intake) → handoff →
// close → reconcile, asserting every invariant the ledger depends on along the
// way. Runs against real MySQL + Redis in Docker.
//
// Usage: INTEGRATION_TESTS=1 go test ./models -run DrawerReconciliation -v

func TestDrawerReconciliation_FullLifecycle(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "caja_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetUsernameInContext(ctx, "test@local")
	ctx = utils.SetIsAdminInContext(ctx, true)

	clinic, err := models.CreateClinic(ctx, &models.NewClinic{
		Name:           "Riverside Veterinary Clinic",
		Email:          "owner@riverside.test",
		Timezone:       "America/Mexico_City",
		MaxOpenDrawers: 2,
	})
	if err != nil {
		t.Fatalf("CreateClinic: %v", err)
	}
	clinicID := clinic.ID.String()
	ctx = utils.SetClinicIdInContext(ctx, clinicID)

	ana, err := models.CreateUser(ctx, &models.NewUser{
		Username: "ana",
		Name:     "Ana",
		Email:    "ana@riverside.test",
		Password: "secret123",
		IsActive: utils.NewTrue(),
		Role:     models.UserRoleCashier,
	})
	if err != nil {
		t.Fatalf("CreateUser(ana): %v", err)
	}
	bruno, err := models.CreateUser(ctx, &models.NewUser{
		Username: "bruno",
		Name:     "Bruno",
		Email:    "bruno@riverside.test",
		Password: "secret123",
		IsActive: utils.NewTrue(),
		Role:     models.UserRoleCashier,
	})
	if err != nil {
		t.Fatalf("CreateUser(bruno): %v", err)
	}

	asUser := func(u *models.User) context.Context {
		actorCtx := utils.SetUserIdInContext(ctx, u.ID)
		return utils.SetUserNameInContext(actorCtx, u.Name)
	}
	ctxAna := asUser(ana)
	ctxBruno := asUser(bruno)

	drawer, err := models.OpenDrawer(ctxAna, &models.NewCashDrawer{
		LocationId:    clinic.PrimaryLocationId,
		InitialAmount: decimal.NewFromInt(1000),
		Notes:         "morning float",
	})
	if err != nil {
		t.Fatalf("OpenDrawer: %v", err)
	}
	if drawer.Status != models.DrawerStatusOpen {
		t.Fatalf("drawer status = %s, want OPEN", drawer.Status)
	}

	// A second open at the same location must lose the unique-index race.
	_, err = models.OpenDrawer(ctxBruno, &models.NewCashDrawer{
		LocationId:    clinic.PrimaryLocationId,
		InitialAmount: decimal.NewFromInt(200),
	})
	if models.ErrorKind(err) != models.ErrKindConflict {
		t.Fatalf("second open at same location: kind = %q (%v), want CONFLICT", models.ErrorKind(err), err)
	}

	// A clinic-wide drawer is a different location key and fits the plan.
	drawer2, err := models.OpenDrawer(ctxBruno, &models.NewCashDrawer{
		InitialAmount: decimal.NewFromInt(500),
	})
	if err != nil {
		t.Fatalf("OpenDrawer(clinic-wide): %v", err)
	}

	// Third open exceeds MaxOpenDrawers=2 before any index is consulted.
	_, err = models.OpenDrawer(ctxAna, &models.NewCashDrawer{InitialAmount: decimal.NewFromInt(50)})
	if models.ErrorKind(err) != models.ErrKindLimit {
		t.Fatalf("open above plan limit: kind = %q (%v), want LIMIT", models.ErrorKind(err), err)
	}

	if _, err := models.CloseDrawer(ctxBruno, drawer2.ID, &models.CloseCashDrawer{
		FinalAmount: decimal.NewFromInt(500),
	}); err != nil {
		t.Fatalf("CloseDrawer(drawer2): %v", err)
	}

	// Ana's shift: two cash sales over the counter plus one POS payment
	// arriving through the event intake, then a bank run.
	if _, err := models.RecordCashTransaction(ctxAna, drawer.ID, &models.NewCashTransaction{
		Type: models.TransactionTypeSaleCash, Amount: decimal.NewFromInt(500), Description: "surgery deposit",
	}); err != nil {
		t.Fatalf("RecordCashTransaction(500): %v", err)
	}
	if _, err := models.RecordCashTransaction(ctxAna, drawer.ID, &models.NewCashTransaction{
		Type: models.TransactionTypeSaleCash, Amount: decimal.NewFromInt(300), Description: "vaccines",
	}); err != nil {
		t.Fatalf("RecordCashTransaction(300): %v", err)
	}

	logger := logrus.New()
	posEvent := config.CashEventMessage{
		ClinicId:      clinicID,
		OccurredAt:    time.Now().UTC(),
		ReferenceType: models.CashEventTypePosSalePayment,
		ReferenceId:   "vetpos-pay-9001",
		DrawerId:      drawer.ID,
		Amount:        decimal.RequireFromString("150.25"),
	}
	if err := workflow.ProcessCashEventMessage(context.Background(), logger, "vetpos-pay-9001", posEvent); err != nil {
		t.Fatalf("ProcessCashEventMessage: %v", err)
	}
	// At-least-once delivery: the duplicate must be a no-op, not a second entry.
	if err := workflow.ProcessCashEventMessage(context.Background(), logger, "vetpos-pay-9001", posEvent); err != nil {
		t.Fatalf("ProcessCashEventMessage(duplicate): %v", err)
	}
	// Unknown reference types are dropped without retry and without a posting.
	cardEvent := posEvent
	cardEvent.ReferenceType = "PosCardPayment"
	cardEvent.ReferenceId = "vetpos-card-1"
	if err := workflow.ProcessCashEventMessage(context.Background(), logger, "vetpos-card-1", cardEvent); err != nil {
		t.Fatalf("ProcessCashEventMessage(unknown type): %v", err)
	}

	if _, err := models.RecordCashTransaction(ctxAna, drawer.ID, &models.NewCashTransaction{
		Type: models.TransactionTypeWithdrawal, Amount: decimal.NewFromInt(200), Description: "bank deposit run",
	}); err != nil {
		t.Fatalf("RecordCashTransaction(withdrawal): %v", err)
	}

	db := config.GetDB()
	var ledgerCount int64
	if err := db.WithContext(ctx).Model(&models.CashTransaction{}).
		Where("drawer_id = ?", drawer.ID).Count(&ledgerCount).Error; err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if ledgerCount != 4 {
		t.Fatalf("ledger count = %d, want 4 (duplicate and unknown events must not post)", ledgerCount)
	}

	// Handoff settles Ana at the computed running total and starts Bruno there.
	incoming, err := models.HandoffShift(ctxAna, drawer.ID, &models.NewShiftHandoff{
		ToCashierId: bruno.ID,
		Notes:       "lunch handoff",
	})
	if err != nil {
		t.Fatalf("HandoffShift: %v", err)
	}
	wantRunning := decimal.RequireFromString("1750.25") // 1000 + 500 + 300 + 150.25 - 200
	if !incoming.StartingBalance.Equal(wantRunning) {
		t.Fatalf("incoming shift starts at %s, want %s", incoming.StartingBalance, wantRunning)
	}
	if incoming.CashierId != bruno.ID || incoming.Status != models.ShiftStatusActive {
		t.Fatalf("incoming shift cashier/status = %d/%s", incoming.CashierId, incoming.Status)
	}

	var shifts []models.Shift
	if err := db.WithContext(ctx).Where("drawer_id = ?", drawer.ID).Order("id").Find(&shifts).Error; err != nil {
		t.Fatalf("load shifts: %v", err)
	}
	if len(shifts) != 2 {
		t.Fatalf("shift count = %d, want 2", len(shifts))
	}
	outgoing := shifts[0]
	if outgoing.Status != models.ShiftStatusHandedOff {
		t.Fatalf("outgoing shift status = %s, want HANDED_OFF", outgoing.Status)
	}
	if outgoing.EndingBalance == nil || !outgoing.EndingBalance.Equal(wantRunning) {
		t.Fatalf("outgoing ending balance = %v, want %s", outgoing.EndingBalance, wantRunning)
	}
	if outgoing.Difference == nil || !outgoing.Difference.IsZero() {
		t.Fatalf("outgoing difference = %v, want 0 (handoff trusts the computed total)", outgoing.Difference)
	}
	if outgoing.EndedAt == nil || !outgoing.EndedAt.Equal(shifts[1].StartedAt) {
		t.Fatalf("shift windows must abut: ended %v vs started %v", outgoing.EndedAt, shifts[1].StartedAt)
	}

	if _, err := models.RecordCashTransaction(ctxBruno, drawer.ID, &models.NewCashTransaction{
		Type: models.TransactionTypeSaleCash, Amount: decimal.NewFromInt(100), Description: "consultation fee",
	}); err != nil {
		t.Fatalf("RecordCashTransaction(bruno): %v", err)
	}

	// Close with a 50 shortage against expected 1850.25.
	closed, err := models.CloseDrawer(ctxBruno, drawer.ID, &models.CloseCashDrawer{
		FinalAmount: decimal.RequireFromString("1800.25"),
		Notes:       "end of day",
	})
	if err != nil {
		t.Fatalf("CloseDrawer: %v", err)
	}
	wantExpected := decimal.RequireFromString("1850.25")
	if closed.ExpectedAmount == nil || !closed.ExpectedAmount.Equal(wantExpected) {
		t.Fatalf("expected amount = %v, want %s", closed.ExpectedAmount, wantExpected)
	}
	if closed.Difference == nil || !closed.Difference.Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("difference = %v, want -50", closed.Difference)
	}
	if closed.ClosedBy == nil || *closed.ClosedBy != bruno.ID {
		t.Fatalf("closed_by = %v, want %d", closed.ClosedBy, bruno.ID)
	}

	var finalShift models.Shift
	if err := db.WithContext(ctx).Where("id = ?", incoming.ID).First(&finalShift).Error; err != nil {
		t.Fatalf("load final shift: %v", err)
	}
	if finalShift.Status != models.ShiftStatusEnded {
		t.Fatalf("final shift status = %s, want ENDED", finalShift.Status)
	}
	if finalShift.Difference == nil || !finalShift.Difference.Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("final shift difference = %v, want -50", finalShift.Difference)
	}

	// The ledger refuses postings, updates and deletes once the drawer closes.
	_, err = models.RecordCashTransaction(ctxBruno, drawer.ID, &models.NewCashTransaction{
		Type: models.TransactionTypeSaleCash, Amount: decimal.NewFromInt(10),
	})
	if models.ErrorKind(err) != models.ErrKindState {
		t.Fatalf("posting to closed drawer: kind = %q (%v), want STATE", models.ErrorKind(err), err)
	}
	var firstEntry models.CashTransaction
	if err := db.WithContext(ctx).Where("drawer_id = ?", drawer.ID).Order("id").First(&firstEntry).Error; err != nil {
		t.Fatalf("load first entry: %v", err)
	}
	if err := db.WithContext(ctx).Model(&firstEntry).Update("amount", decimal.NewFromInt(999)).Error; err == nil {
		t.Fatal("ledger update must be rejected")
	}
	if err := db.WithContext(ctx).Delete(&firstEntry).Error; err == nil {
		t.Fatal("ledger delete must be rejected")
	}

	if _, err := models.CloseDrawer(ctxBruno, drawer.ID, &models.CloseCashDrawer{
		FinalAmount: decimal.NewFromInt(1),
	}); models.ErrorKind(err) != models.ErrKindState {
		t.Fatalf("double close: kind = %q (%v), want STATE", models.ErrorKind(err), err)
	}

	reconciled, err := models.ReconcileDrawer(ctx, drawer.ID)
	if err != nil {
		t.Fatalf("ReconcileDrawer: %v", err)
	}
	if reconciled.Status != models.DrawerStatusReconciled || reconciled.ReconciledAt == nil {
		t.Fatalf("reconciled status/at = %s/%v", reconciled.Status, reconciled.ReconciledAt)
	}
	// Reconciling confirms; it never rewrites the frozen close fields.
	if !reconciled.ExpectedAmount.Equal(wantExpected) || !reconciled.FinalAmount.Equal(decimal.RequireFromString("1800.25")) {
		t.Fatalf("close fields changed on reconcile: expected %s final %s", reconciled.ExpectedAmount, reconciled.FinalAmount)
	}
	if _, err := models.ReconcileDrawer(ctx, drawer.ID); models.ErrorKind(err) != models.ErrKindState {
		t.Fatalf("double reconcile: kind = %q, want STATE", models.ErrorKind(err))
	}

	// Direct column writes cannot rewrite a settled drawer either; only notes
	// stay editable.
	err = db.WithContext(ctx).Model(&models.CashDrawer{}).
		Where("id = ?", drawer.ID).
		Updates(map[string]interface{}{"final_amount": decimal.NewFromInt(9999)}).Error
	if models.ErrorKind(err) != models.ErrKindState {
		t.Fatalf("direct final_amount update: kind = %q (%v), want STATE", models.ErrorKind(err), err)
	}
	err = db.WithContext(ctx).Model(&models.CashDrawer{}).
		Where("id = ?", drawer.ID).
		Updates(map[string]interface{}{"initial_amount": decimal.NewFromInt(1)}).Error
	if models.ErrorKind(err) != models.ErrKindState {
		t.Fatalf("direct initial_amount update: kind = %q (%v), want STATE", models.ErrorKind(err), err)
	}
	if err := db.WithContext(ctx).Model(&models.CashDrawer{}).
		Where("id = ?", drawer.ID).
		Updates(map[string]interface{}{"notes": "countersigned by owner"}).Error; err != nil {
		t.Fatalf("notes update on settled drawer: %v", err)
	}

	detail, err := models.GetDrawer(ctxAna, drawer.ID)
	if err != nil {
		t.Fatalf("GetDrawer: %v", err)
	}
	if detail.TransactionCount != 5 {
		t.Fatalf("detail transaction count = %d, want 5", detail.TransactionCount)
	}
	if !detail.ExpectedBalance.Equal(wantExpected) {
		t.Fatalf("detail expected balance = %s, want %s (recomputed from the ledger)", detail.ExpectedBalance, wantExpected)
	}
	if !detail.TotalIn.Equal(decimal.RequireFromString("1050.25")) || !detail.TotalOut.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("detail totals = %s/%s, want 1050.25/200", detail.TotalIn, detail.TotalOut)
	}

	// Every lifecycle step must have left an outbox event behind.
	outboxCounts := map[string]int64{}
	for _, referenceType := range []string{
		models.CashEventTypeDrawerOpened,
		models.CashEventTypeDrawerClosed,
		models.CashEventTypeDrawerReconciled,
	} {
		var n int64
		if err := db.WithContext(ctx).Model(&models.CashEventRecord{}).
			Where("clinic_id = ? AND reference_type = ?", clinicID, referenceType).
			Count(&n).Error; err != nil {
			t.Fatalf("count outbox %s: %v", referenceType, err)
		}
		outboxCounts[referenceType] = n
	}
	if outboxCounts[models.CashEventTypeDrawerOpened] != 2 ||
		outboxCounts[models.CashEventTypeDrawerClosed] != 2 ||
		outboxCounts[models.CashEventTypeDrawerReconciled] != 1 {
		t.Fatalf("outbox counts = %v, want opened=2 closed=2 reconciled=1", outboxCounts)
	}

	var drawerHistory int64
	if err := db.WithContext(ctx).Model(&models.History{}).
		Where("clinic_id = ? AND reference_type = ?", clinicID, "cash_drawers").
		Count(&drawerHistory).Error; err != nil {
		t.Fatalf("count drawer history: %v", err)
	}
	if drawerHistory < 6 {
		t.Fatalf("drawer history rows = %d, want at least 6 (open/handoff/close/reconcile trail)", drawerHistory)
	}

	// The live aggregate and a from-scratch rebuild must tell the same story.
	sumSummaries := func() (decimal.Decimal, decimal.Decimal, int) {
		var rows []models.DailyCashSummary
		if err := db.WithContext(ctx).Where("clinic_id = ?", clinicID).Find(&rows).Error; err != nil {
			t.Fatalf("load daily summaries: %v", err)
		}
		totalIn := decimal.Zero
		totalOut := decimal.Zero
		count := 0
		for _, row := range rows {
			totalIn = totalIn.Add(row.TotalIn)
			totalOut = totalOut.Add(row.TotalOut)
			count += row.TransactionCount
		}
		return totalIn, totalOut, count
	}

	liveIn, liveOut, liveCount := sumSummaries()
	if !liveIn.Equal(decimal.RequireFromString("1050.25")) || !liveOut.Equal(decimal.NewFromInt(200)) || liveCount != 5 {
		t.Fatalf("live summary totals = %s/%s/%d, want 1050.25/200/5", liveIn, liveOut, liveCount)
	}

	rebuilt, err := models.RebuildDailyCashSummaries(ctx, clinicID, clinic.Timezone)
	if err != nil {
		t.Fatalf("RebuildDailyCashSummaries: %v", err)
	}
	if rebuilt < 1 {
		t.Fatalf("rebuilt %d summary rows, want at least 1", rebuilt)
	}
	rebuiltIn, rebuiltOut, rebuiltCount := sumSummaries()
	if !rebuiltIn.Equal(liveIn) || !rebuiltOut.Equal(liveOut) || rebuiltCount != liveCount {
		t.Fatalf("rebuild diverged from live aggregate: %s/%s/%d vs %s/%s/%d",
			rebuiltIn, rebuiltOut, rebuiltCount, liveIn, liveOut, liveCount)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("caja-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("caja-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=caja_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
