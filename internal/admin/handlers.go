package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tuckshop-za/tuckshop/internal/idgen"
	"github.com/tuckshop-za/tuckshop/internal/logging"
	"github.com/tuckshop-za/tuckshop/internal/payment"
	"github.com/tuckshop-za/tuckshop/internal/validation"
	"github.com/tuckshop-za/tuckshop/internal/webhooks"
)

// Handler provides admin HTTP endpoints.
type Handler struct {
	payments   PaymentStore
	processor  webhooks.Processor
	staleAfter time.Duration
	now        func() time.Time
}

// NewHandler creates a new admin handler. processor is normally the
// payment event dispatcher, so a manual resolution takes exactly the path
// a gateway delivery would.
func NewHandler(payments PaymentStore, processor webhooks.Processor, staleAfter time.Duration) *Handler {
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	return &Handler{
		payments:   payments,
		processor:  processor,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// RegisterRoutes sets up admin routes on an admin-guarded group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payments/stale", h.listStale)
	r.GET("/payments/:id", h.getPayment)
	r.POST("/payments/:id/resolve", h.resolve)
}

// listStale returns pending payments older than the stale threshold.
func (h *Handler) listStale(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	cutoff := h.now().Add(-h.staleAfter)
	stale, err := h.payments.ListStale(c.Request.Context(), cutoff, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list stale payments"})
		return
	}
	if stale == nil {
		stale = []*payment.PendingPayment{}
	}

	c.JSON(http.StatusOK, gin.H{"payments": stale, "count": len(stale), "cutoff": cutoff.UTC()})
}

// getPayment handles GET /v1/admin/payments/:id
func (h *Handler) getPayment(c *gin.Context) {
	p, err := h.payments.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, payment.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "pending payment not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load pending payment"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// resolve handles POST /v1/admin/payments/:id/resolve
func (h *Handler) resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": validation.Describe(err)})
		return
	}

	ctx := c.Request.Context()
	p, err := h.payments.Get(ctx, c.Param("id"))
	if errors.Is(err, payment.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "pending payment not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load pending payment"})
		return
	}
	if p.Status != payment.StatusPending {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_status",
			"message": "Only pending payments can be resolved",
			"status":  p.Status,
		})
		return
	}

	log := logging.L(ctx).With("pending", p.ID, "store", p.StoreID, "action", req.Action)
	res := Resolution{PaymentID: p.ID, Action: req.Action}

	switch req.Action {
	case ActionFail:
		reason := req.Reason
		if reason == "" {
			reason = "resolved by operator"
		}
		if err := h.payments.MarkFailed(ctx, p.ID, reason); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "resolve_failed", "message": err.Error()})
			return
		}
		res.Status = payment.StatusFailed

	case ActionApply:
		if p.PaymentReference == "" {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "no_reference",
				"message": "Checkout was never opened at the gateway; fail it instead",
			})
			return
		}
		ev := manualSucceeded(p, idgen.WithPrefix("manual_"), h.now().UTC())
		if err := h.processor.Process(ctx, ev); err != nil {
			if errors.Is(err, webhooks.ErrBusy) {
				c.Header("Retry-After", "5")
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "busy", "message": "a delivery for this payment is in flight"})
				return
			}
			log.Error("manual resolution failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve_failed", "message": err.Error()})
			return
		}
		res.Status = payment.StatusProcessed
		res.EventID = ev.ID
	}

	log.Warn("pending payment resolved by operator", "reason", req.Reason)
	c.JSON(http.StatusOK, gin.H{"resolution": res})
}
