package tenant

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tuckshop-za/tuckshop/internal/auth"
	"github.com/tuckshop-za/tuckshop/internal/idgen"
	"github.com/tuckshop-za/tuckshop/internal/validation"
)

// Handler provides HTTP endpoints for store accounts and their access state.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new tenant handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up public routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListPlans)
}

// RegisterProtectedRoutes sets up store routes. Callers must own the store
// or present the admin secret.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	stores := r.Group("/stores/:id")
	stores.Use(validation.StoreIDParamMiddleware("id"), auth.RequireStoreOwnership("id"))
	stores.GET("", h.GetStore)
	stores.GET("/access", h.GetAccess)
}

// RegisterAdminRoutes sets up operator routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/stores", h.CreateStore)
	r.GET("/stores", h.ListStores)
}

// ListPlans handles GET /v1/plans
func (h *Handler) ListPlans(c *gin.Context) {
	plans := make([]gin.H, 0, len(Plans))
	for _, name := range []Plan{PlanTrial, PlanPro, PlanPremium} {
		p := Plans[name]
		plans = append(plans, gin.H{
			"plan":         p.Plan,
			"name":         p.Name,
			"monthlyPrice": p.MonthlyPrice,
			"currency":     Currency,
			"periodDays":   PeriodDays,
			"purchasable":  p.Paid,
		})
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans, "graceDays": GraceDays})
}

// GetStore handles GET /v1/stores/:id
func (h *Handler) GetStore(c *gin.Context) {
	t, access, err := h.engine.Access(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrTenantNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "store not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load store"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"store": t, "access": access})
}

// GetAccess handles GET /v1/stores/:id/access
func (h *Handler) GetAccess(c *gin.Context) {
	_, access, err := h.engine.Access(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrTenantNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "store not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load store"})
		return
	}
	c.JSON(http.StatusOK, access)
}

// CreateStore handles POST /v1/admin/stores (admin only). The store starts
// on the trial plan; paid plans are only reached through a payment.
func (h *Handler) CreateStore(c *gin.Context) {
	var req struct {
		ID         string `json:"id" binding:"omitempty,storeid"`
		Name       string `json:"name" binding:"required"`
		OwnerID    string `json:"ownerId"`
		OwnerEmail string `json:"ownerEmail" binding:"omitempty,email"`
		Phone      string `json:"phone" binding:"omitempty,saphone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": validation.Describe(err)})
		return
	}

	if req.ID == "" {
		req.ID = idgen.WithPrefix("store_")
	}
	t := &Tenant{
		ID:         req.ID,
		Name:       validation.SanitizeString(req.Name, 200),
		OwnerID:    req.OwnerID,
		OwnerEmail: req.OwnerEmail,
		Phone:      validation.NormalizePhone(req.Phone),
	}
	if err := h.engine.Provision(c.Request.Context(), t); err != nil {
		if errors.Is(err, ErrTenantExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "store_exists", "message": "store id already in use"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create store"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"store": t})
}

// ListStores handles GET /v1/admin/stores (admin only).
func (h *Handler) ListStores(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	tenants, err := h.engine.Store().List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list stores"})
		return
	}

	now := h.engine.clock()
	out := make([]gin.H, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, gin.H{"store": t, "access": Evaluate(t, now)})
	}
	c.JSON(http.StatusOK, gin.H{"stores": out, "count": len(out)})
}
