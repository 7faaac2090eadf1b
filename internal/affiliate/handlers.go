package affiliate

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tuckshop-za/tuckshop/internal/auth"
	"github.com/tuckshop-za/tuckshop/internal/events"
	"github.com/tuckshop-za/tuckshop/internal/logging"
	"github.com/tuckshop-za/tuckshop/internal/validation"
)

// Handler provides HTTP endpoints for the referral program.
type Handler struct {
	ledger    *Ledger
	publisher events.Publisher
}

// NewHandler creates a new affiliate handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// WithPublisher announces payout requests on the lifecycle stream so the
// finance team's tooling can pick them up.
func (h *Handler) WithPublisher(p events.Publisher) *Handler {
	h.publisher = p
	return h
}

// RegisterProtectedRoutes sets up routes that need a session or admin secret.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/affiliates/:id", h.GetAffiliate)
	r.POST("/affiliates/:id/payouts", h.RequestPayout)
}

// RegisterAdminRoutes sets up operator routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/affiliates", h.RegisterAffiliate)
	r.POST("/payouts/:id/process", h.ProcessPayout)
	r.POST("/payouts/:id/settle", h.SettlePayout)
	r.POST("/payouts/:id/fail", h.FailPayout)
}

func canAccess(c *gin.Context, affiliateID string) bool {
	if auth.IsAdmin(c) {
		return true
	}
	claims, ok := auth.GetClaims(c)
	return ok && claims.AffiliateID == affiliateID
}

// writeError maps ledger errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAffiliateNotFound), errors.Is(err, ErrPayoutNotFound), errors.Is(err, ErrReferralNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrInsufficientBalance):
		c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient_balance", "message": err.Error()})
	case errors.Is(err, ErrBelowMinimum):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "below_minimum",
			"message": "minimum payout is R" + MinimumPayout.StringFixed(2),
		})
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
	case errors.Is(err, ErrCodeTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "code_taken", "message": err.Error()})
	case errors.Is(err, ErrPayoutClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "payout_closed", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "ledger operation failed"})
	}
}

// RegisterAffiliate handles POST /v1/admin/affiliates (admin only).
func (h *Handler) RegisterAffiliate(c *gin.Context) {
	var req struct {
		Name  string           `json:"name" binding:"required"`
		Email string           `json:"email" binding:"omitempty,email"`
		Phone string           `json:"phone" binding:"omitempty,saphone"`
		Code  string           `json:"code"`
		Rate  *decimal.Decimal `json:"commissionRate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": validation.Describe(err)})
		return
	}

	a, err := h.ledger.Register(c.Request.Context(), RegisterRequest{
		Name:  validation.SanitizeString(req.Name, 200),
		Email: req.Email,
		Phone: validation.NormalizePhone(req.Phone),
		Code:  req.Code,
		Rate:  req.Rate,
	})
	if err != nil {
		if errors.Is(err, ErrCodeTaken) {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"affiliate": a})
}

// GetAffiliate handles GET /v1/affiliates/:id
func (h *Handler) GetAffiliate(c *gin.Context) {
	id := c.Param("id")
	if !canAccess(c, id) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not your affiliate account"})
		return
	}

	summary, err := h.ledger.Summary(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// RequestPayout handles POST /v1/affiliates/:id/payouts
func (h *Handler) RequestPayout(c *gin.Context) {
	id := c.Param("id")
	if !canAccess(c, id) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not your affiliate account"})
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "amount must be a number"})
		return
	}

	ctx := c.Request.Context()
	p, err := h.ledger.RequestPayout(ctx, id, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	if h.publisher != nil {
		err := h.publisher.Publish(ctx, events.Event{
			Type: events.TypePayoutRequested,
			Data: map[string]any{"payoutId": p.ID, "affiliateId": id, "amount": p.Amount.StringFixed(2)},
			At:   p.CreatedAt,
		})
		if err != nil {
			logging.L(ctx).Warn("publish payout request failed", "payout", p.ID, "error", err)
		}
	}
	c.JSON(http.StatusCreated, gin.H{"payout": p})
}

// ProcessPayout handles POST /v1/admin/payouts/:id/process (admin only).
func (h *Handler) ProcessPayout(c *gin.Context) {
	var req struct {
		Status PayoutStatus `json:"status" binding:"required,oneof=pending processing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "status must be pending or processing"})
		return
	}

	p, err := h.ledger.MarkProcessing(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": p})
}

// SettlePayout handles POST /v1/admin/payouts/:id/settle (admin only).
func (h *Handler) SettlePayout(c *gin.Context) {
	var req struct {
		Reference string `json:"reference" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "reference required"})
		return
	}

	p, err := h.ledger.SettlePayout(c.Request.Context(), c.Param("id"), validation.SanitizeString(req.Reference, 100))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": p})
}

// FailPayout handles POST /v1/admin/payouts/:id/fail (admin only).
func (h *Handler) FailPayout(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "reason required"})
		return
	}

	p, err := h.ledger.FailPayout(c.Request.Context(), c.Param("id"), validation.SanitizeString(req.Reason, 500))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": p})
}
