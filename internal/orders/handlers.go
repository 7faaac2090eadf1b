package orders

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tuckshop-za/tuckshop/internal/auth"
	"github.com/tuckshop-za/tuckshop/internal/idgen"
	"github.com/tuckshop-za/tuckshop/internal/logging"
	"github.com/tuckshop-za/tuckshop/internal/pagination"
	"github.com/tuckshop-za/tuckshop/internal/validation"
)

// Handler provides order endpoints for store owners.
type Handler struct {
	store Store
	now   func() time.Time
}

// NewHandler creates a new order handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store, now: time.Now}
}

// RegisterProtectedRoutes sets up order routes that require store ownership.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	g := r.Group("/stores/:id/orders")
	g.Use(validation.StoreIDParamMiddleware("id"), auth.RequireStoreOwnership("id"))
	g.GET("", h.ListOrders)
	g.POST("", h.CreateOrder)
	g.GET("/:orderNumber", h.GetOrder)
}

// CreateOrderRequest registers an order before the customer is sent to pay.
type CreateOrderRequest struct {
	OrderNumber   string          `json:"orderNumber" binding:"omitempty,max=40"`
	CustomerName  string          `json:"customerName" binding:"max=200"`
	CustomerPhone string          `json:"customerPhone" binding:"omitempty,saphone"`
	Total         decimal.Decimal `json:"total"`
}

// CreateOrder handles POST /v1/stores/:id/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": validation.Describe(err)})
		return
	}
	if !req.Total.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "total must be positive"})
		return
	}
	number := NormalizeNumber(req.OrderNumber)
	if number == "" {
		number = "ORD-" + idgen.Hex(4)
	}

	now := h.now().UTC()
	o := &Order{
		OrderNumber:   NormalizeNumber(number),
		StoreID:       c.Param("id"),
		CustomerName:  validation.SanitizeString(req.CustomerName, 200),
		CustomerPhone: validation.NormalizePhone(req.CustomerPhone),
		Total:         req.Total.Round(2),
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.store.Create(c.Request.Context(), o); err != nil {
		if errors.Is(err, ErrExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "order_exists", "message": "order number already used"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create order"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": o})
}

// GetOrder handles GET /v1/stores/:id/orders/:orderNumber
func (h *Handler) GetOrder(c *gin.Context) {
	o, err := h.store.Get(c.Request.Context(), NormalizeNumber(c.Param("orderNumber")))
	if err != nil || o.StoreID != c.Param("id") {
		if err == nil || errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load order"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// ListOrders handles GET /v1/stores/:id/orders?limit=&cursor=
func (h *Handler) ListOrders(c *gin.Context) {
	after, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
		return
	}
	limit := pagination.ParseLimit(c.Query("limit"))

	list, err := h.store.ListByStore(c.Request.Context(), c.Param("id"), after, limit+1)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list orders", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list orders"})
		return
	}
	page, next := pagination.Page(list, limit, func(o *Order) (time.Time, string) {
		return o.CreatedAt, o.OrderNumber
	})
	if page == nil {
		page = []*Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": page, "count": len(page), "nextCursor": next, "hasMore": next != ""})
}
