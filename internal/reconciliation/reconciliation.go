// Package reconciliation audits the affiliate ledger and surfaces pending
// payments that never completed. Findings are reported, never corrected.
package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tuckshop-za/tuckshop/internal/affiliate"
	"github.com/tuckshop-za/tuckshop/internal/payment"
)

// DefaultStaleAfter is how long a pending payment may sit unprocessed
// before it is flagged for manual reconciliation.
const DefaultStaleAfter = 24 * time.Hour

const staleListLimit = 500

// Auditor checks affiliates against the conservation law.
type Auditor interface {
	Audit(ctx context.Context) ([]affiliate.Violation, error)
}

// StaleLister lists pending payments created before a cutoff.
type StaleLister interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*payment.PendingPayment, error)
}

// StalePayment is a pending payment awaiting manual reconciliation.
type StalePayment struct {
	ID        string          `json:"id"`
	StoreID   string          `json:"storeId"`
	Plan      string          `json:"plan"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Report is the outcome of one run.
type Report struct {
	Violations    []affiliate.Violation `json:"violations"`
	StalePayments []StalePayment        `json:"stalePayments"`
	RanAt         time.Time             `json:"ranAt"`
	DurationMS    int64                 `json:"durationMs"`
}

// Clean reports whether the run found nothing to look at.
func (r *Report) Clean() bool {
	return len(r.Violations) == 0 && len(r.StalePayments) == 0
}

// Runner performs the checks.
type Runner struct {
	ledger     Auditor
	payments   StaleLister
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewRunner creates a runner. staleAfter <= 0 uses DefaultStaleAfter.
func NewRunner(ledger Auditor, payments StaleLister, staleAfter time.Duration, logger *slog.Logger) *Runner {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Runner{
		ledger:     ledger,
		payments:   payments,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the clock (tests).
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// RunAll runs every check. A failing check does not stop the others; the
// joined error is returned alongside the partial report.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{
		Violations:    []affiliate.Violation{},
		StalePayments: []StalePayment{},
		RanAt:         r.now().UTC(),
	}

	var errs []error

	violations, err := r.ledger.Audit(ctx)
	if err != nil {
		runErrors.Inc()
		errs = append(errs, err)
	} else {
		report.Violations = append(report.Violations, violations...)
		conservationViolations.Set(float64(len(violations)))
	}

	stale, err := r.payments.ListStale(ctx, r.now().Add(-r.staleAfter), staleListLimit)
	if err != nil {
		runErrors.Inc()
		errs = append(errs, err)
	} else {
		for _, p := range stale {
			report.StalePayments = append(report.StalePayments, StalePayment{
				ID:        p.ID,
				StoreID:   p.StoreID,
				Plan:      string(p.Plan),
				Amount:    p.Amount,
				Reference: p.PaymentReference,
				CreatedAt: p.CreatedAt,
			})
		}
		stalePayments.Set(float64(len(stale)))
		if len(stale) > 0 {
			r.logger.Warn("stale pending payments need manual reconciliation",
				"count", len(stale), "older_than", r.staleAfter.String())
		}
	}

	elapsed := time.Since(start)
	runDuration.Observe(elapsed.Seconds())
	report.DurationMS = elapsed.Milliseconds()

	return report, errors.Join(errs...)
}

// Handler serves on-demand runs to operators.
type Handler struct {
	runner *Runner
}

// NewHandler creates a handler.
func NewHandler(runner *Runner) *Handler {
	return &Handler{runner: runner}
}

// RegisterAdminRoutes sets up GET /reconciliation on an admin-guarded group.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/reconciliation", h.Run)
}

// Run handles GET /v1/admin/reconciliation
func (h *Handler) Run(c *gin.Context) {
	report, err := h.runner.RunAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reconciliation_failed",
			"message": err.Error(),
			"report":  report,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"clean": report.Clean(), "report": report})
}
