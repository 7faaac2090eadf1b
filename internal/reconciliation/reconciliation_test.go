package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuckshop-za/tuckshop/internal/affiliate"
	"github.com/tuckshop-za/tuckshop/internal/payment"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeAuditor struct {
	violations []affiliate.Violation
	err        error
}

func (f *fakeAuditor) Audit(context.Context) ([]affiliate.Violation, error) {
	return f.violations, f.err
}

func seedPayment(t *testing.T, store *payment.MemoryStore, id string, created time.Time, status payment.Status) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &payment.PendingPayment{
		ID:        id,
		StoreID:   "store-" + id,
		Plan:      tenant.PlanPro,
		Amount:    decimal.NewFromInt(159),
		Currency:  "ZAR",
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
	}))
}

func TestRunAll_Clean(t *testing.T) {
	ledger := affiliate.NewLedger(affiliate.NewMemoryStore(), decimal.RequireFromString("0.30"), slog.Default())
	runner := NewRunner(ledger, payment.NewMemoryStore(), 0, slog.Default())

	report, err := runner.RunAll(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.NotNil(t, report.Violations)
	assert.NotNil(t, report.StalePayments)
}

func TestRunAll_StalePayments(t *testing.T) {
	payments := payment.NewMemoryStore()
	seedPayment(t, payments, "old", t0.Add(-48*time.Hour), payment.StatusPending)
	seedPayment(t, payments, "fresh", t0.Add(-time.Hour), payment.StatusPending)
	seedPayment(t, payments, "done", t0.Add(-72*time.Hour), payment.StatusProcessed)

	runner := NewRunner(&fakeAuditor{}, payments, 24*time.Hour, slog.Default()).
		WithClock(func() time.Time { return t0 })

	report, err := runner.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, report.StalePayments, 1)
	assert.Equal(t, "old", report.StalePayments[0].ID)
	assert.False(t, report.Clean())
}

func TestRunAll_ViolationsReported(t *testing.T) {
	auditor := &fakeAuditor{violations: []affiliate.Violation{{
		AffiliateID: "aff_1",
		TotalEarned: decimal.NewFromInt(100),
		Drift:       decimal.NewFromInt(10),
	}}}
	runner := NewRunner(auditor, payment.NewMemoryStore(), 0, slog.Default())

	report, err := runner.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "aff_1", report.Violations[0].AffiliateID)
}

func TestRunAll_AuditErrorStillListsStale(t *testing.T) {
	payments := payment.NewMemoryStore()
	seedPayment(t, payments, "old", t0.Add(-48*time.Hour), payment.StatusPending)

	boom := errors.New("db down")
	runner := NewRunner(&fakeAuditor{err: boom}, payments, 0, slog.Default()).
		WithClock(func() time.Time { return t0 })

	report, err := runner.RunAll(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Len(t, report.StalePayments, 1)
}

func TestHandler_Run(t *testing.T) {
	gin.SetMode(gin.TestMode)
	runner := NewRunner(&fakeAuditor{}, payment.NewMemoryStore(), 0, slog.Default())

	router := gin.New()
	NewHandler(runner).RegisterAdminRoutes(router.Group("/v1/admin"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/reconciliation", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Clean bool `json:"clean"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Clean)
}

func TestTimer_RunsUntilCancelled(t *testing.T) {
	runner := NewRunner(&fakeAuditor{}, payment.NewMemoryStore(), 0, slog.Default())
	timer := NewTimer(runner, slog.Default())
	timer.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		timer.Start(ctx)
		close(done)
	}()

	require.Eventually(t, timer.Running, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not stop")
	}
	assert.False(t, timer.Running())
	assert.NotNil(t, timer.LastReport())
	timer.Stop()
	timer.Stop()
}
