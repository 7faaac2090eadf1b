package confirm

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tuckshop-za/tuckshop/internal/logging"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
	"github.com/tuckshop-za/tuckshop/internal/validation"
)

// OutcomePending is reported by a single read that did not confirm.
const OutcomePending = "pending"

// Response is the body of a confirmation read.
type Response struct {
	Confirmed bool   `json:"confirmed"`
	Outcome   string `json:"outcome"`
	State     *State `json:"state,omitempty"`
}

// Handler serves read-only confirmation endpoints.
type Handler struct {
	svc      *Service
	interval time.Duration
}

// NewHandler creates a confirmation handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, interval: DefaultInterval}
}

// RegisterRoutes sets up public routes. Responses carry no personal data.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/confirm/stores/:id", validation.StoreIDParamMiddleware("id"), h.ConfirmStore)
	r.GET("/confirm/orders/:orderNumber", h.ConfirmOrder)
}

// ConfirmStore handles GET /v1/confirm/stores/:id?plan=&token=&wait=
func (h *Handler) ConfirmStore(c *gin.Context) {
	q := StoreQuery{
		StoreID: c.Param("id"),
		Plan:    tenant.Plan(c.Query("plan")),
		Token:   c.Query("token"),
	}
	if q.Plan != "" && !tenant.PaidPlan(q.Plan) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "plan must be a paid plan"})
		return
	}
	h.respond(c, "plan", h.svc.StoreProbe(q))
}

// ConfirmOrder handles GET /v1/confirm/orders/:orderNumber?wait=
func (h *Handler) ConfirmOrder(c *gin.Context) {
	number := c.Param("orderNumber")
	if len(number) > 40 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "order number too long"})
		return
	}
	h.respond(c, "order", h.svc.OrderProbe(number))
}

// respond probes once and, when the caller asked to wait, keeps polling
// server side up to MaxServerSideWait.
func (h *Handler) respond(c *gin.Context, flow string, probe Probe) {
	ctx := c.Request.Context()

	wait, ok := parseWait(c.Query("wait"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "wait must be a duration such as 20s"})
		return
	}

	state, done, err := probe.Probe(ctx)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "nothing to confirm for this reference"})
		return
	}
	if err != nil {
		logging.L(ctx).Error("confirmation read failed", "flow", flow, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to read state"})
		return
	}
	if done || wait == 0 {
		outcome := OutcomePending
		if done {
			outcome = string(Confirmed)
		}
		c.JSON(http.StatusOK, Response{Confirmed: done, Outcome: outcome, State: state})
		return
	}

	attempts := int(wait / h.interval)
	if attempts < 1 {
		attempts = 1
	}
	res := Poller{Interval: h.interval, MaxAttempts: attempts, Flow: flow}.Run(ctx, probe)
	if res.State == nil {
		res.State = state
	}
	c.JSON(http.StatusOK, Response{
		Confirmed: res.Outcome == Confirmed,
		Outcome:   string(res.Outcome),
		State:     res.State,
	})
}

func parseWait(s string) (time.Duration, bool) {
	if s == "" {
		return 0, true
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, false
	}
	if d > MaxServerSideWait {
		d = MaxServerSideWait
	}
	return d, true
}
