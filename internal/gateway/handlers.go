package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tuckshop-za/tuckshop/internal/auth"
	"github.com/tuckshop-za/tuckshop/internal/payment"
	"github.com/tuckshop-za/tuckshop/internal/validation"
)

// IdempotencyHeader carries the caller's checkout token.
const IdempotencyHeader = "Idempotency-Key"

// Handler provides the checkout endpoint.
type Handler struct {
	service *Service
}

// NewHandler creates a new checkout handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up checkout routes. Upgrades need a session for the
// store; signups (no storeId) do not.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/checkout", h.CreateCheckout)
}

// CreateCheckout handles POST /v1/checkout
func (h *Handler) CreateCheckout(c *gin.Context) {
	var in CheckoutInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": validation.Describe(err)})
		return
	}

	if in.StoreID != "" {
		if !validation.IsValidStoreID(in.StoreID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_store_id", "message": "malformed storeId"})
			return
		}
		if !auth.IsAdmin(c) {
			if !auth.IsAuthenticated(c) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Session token required to upgrade a store."})
				return
			}
			if auth.GetStoreID(c) != in.StoreID {
				c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "You do not own this store."})
				return
			}
		}
	}
	if claims, ok := auth.GetClaims(c); ok {
		in.UserID = claims.UserID()
		if in.UserEmail == "" {
			in.UserEmail = claims.Email
		}
	}
	in.StoreName = validation.SanitizeString(in.StoreName, 200)
	in.Phone = validation.NormalizePhone(in.Phone)
	in.IdempotencyKey = validation.SanitizeString(c.GetHeader(IdempotencyHeader), 128)

	res, err := h.service.CreateCheckout(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidPlan):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": err.Error()})
	case errors.Is(err, ErrPriceMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "price_mismatch", "message": err.Error()})
	case errors.Is(err, ErrStoreNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "store not found"})
	case errors.Is(err, ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "configuration_error",
			"message": "Payments are temporarily unavailable. The operator has been notified.",
		})
	case errors.Is(err, payment.ErrDuplicate), errors.Is(err, payment.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "idempotency_conflict", "message": err.Error()})
	case errors.Is(err, ErrProviderFailed):
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "gateway_error", "message": "payment provider unavailable, try again"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal_error", "message": "failed to create checkout"})
	}
}
