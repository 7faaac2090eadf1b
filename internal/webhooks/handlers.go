package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tuckshop-za/tuckshop/internal/auth"
	"github.com/tuckshop-za/tuckshop/internal/idgen"
	"github.com/tuckshop-za/tuckshop/internal/logging"
	"github.com/tuckshop-za/tuckshop/internal/validation"
)

// Processor applies a verified event. Implementations must be idempotent.
type Processor interface {
	Process(ctx context.Context, ev Event) error
}

// Handler provides the inbound endpoints and secret management.
type Handler struct {
	verifier  *Verifier
	store     Store
	processor Processor
	logger    *slog.Logger
}

// NewHandler creates a new webhook handler
func NewHandler(verifier *Verifier, store Store, processor Processor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifier:  verifier,
		store:     store,
		processor: processor,
		logger:    logger,
	}
}

// RegisterInboundRoutes sets up the gateway callback routes. They carry no
// session; the signature is the authentication.
func (h *Handler) RegisterInboundRoutes(r gin.IRoutes) {
	r.POST("/webhooks/gateway", h.ReceivePlatform)
	r.POST("/webhooks/gateway/:storeId", h.ReceiveStore)
}

// RegisterProtectedRoutes sets up per-store secret management.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	g := r.Group("/stores/:id/webhooks")
	g.Use(validation.StoreIDParamMiddleware("id"), auth.RequireStoreOwnership("id"))
	g.POST("", h.CreateSecret)
	g.GET("", h.ListSecrets)
	g.DELETE("/:secretId", h.DeleteSecret)
}

// RegisterAdminRoutes sets up the delivery audit view.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/webhooks/events", h.ListReceipts)
}

// ReceivePlatform handles POST /webhooks/gateway
func (h *Handler) ReceivePlatform(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	ev, err := h.verifier.VerifyPlatform(c.Request.Header, body)
	h.handle(c, "platform", ev, err)
}

// ReceiveStore handles POST /webhooks/gateway/:storeId
func (h *Handler) ReceiveStore(c *gin.Context) {
	storeID := c.Param("storeId")
	if !validation.IsValidStoreID(storeID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "unknown store"})
		return
	}
	body, ok := readBody(c)
	if !ok {
		return
	}
	ev, err := h.verifier.VerifyStore(c.Request.Context(), storeID, c.Request.Header, body)
	h.handle(c, "store", ev, err)
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, validation.MaxWebhookSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "could not read body"})
		return nil, false
	}
	if len(body) > validation.MaxWebhookSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large", "message": "webhook body too large"})
		return nil, false
	}
	return body, true
}

func (h *Handler) handle(c *gin.Context, flow string, ev Event, err error) {
	ctx := c.Request.Context()
	log := logging.L(ctx)

	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSignature):
			signatureFailures.WithLabelValues(flow).Inc()
			log.Warn("webhook signature rejected", "flow", flow, "provider", h.verifier.Provider(), "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature", "message": "signature verification failed"})
		case errors.Is(err, ErrOutOfScope):
			eventsReceived.WithLabelValues("out_of_scope", "rejected").Inc()
			log.Warn("store-signed webhook outside store scope", "flow", flow, "error", err)
			c.JSON(http.StatusForbidden, gin.H{"error": "out_of_scope", "message": "store secrets only cover storefront order payments"})
		case errors.Is(err, ErrNotConfigured):
			log.Error("webhook rejected: signing secret not configured", "flow", flow, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "configuration_error", "message": "webhook secret not configured"})
		case errors.Is(err, ErrMalformed):
			eventsReceived.WithLabelValues("malformed", "rejected").Inc()
			log.Warn("verified webhook with malformed body", "flow", flow, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed event"})
		default:
			log.Error("webhook verification failed", "flow", flow, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "verification failed"})
		}
		return
	}

	meta := ev.Meta()
	kind := string(ev.Kind())
	log = log.With("provider", meta.Provider, "event_id", meta.ID, "event_type", meta.RawType)

	first, rerr := h.store.RecordReceipt(ctx, &Receipt{
		Provider:   meta.Provider,
		EventID:    meta.ID,
		EventType:  meta.RawType,
		StoreScope: meta.StoreScope,
		ReceivedAt: meta.ReceivedAt,
	})
	if rerr != nil {
		log.Warn("failed to record webhook receipt", "error", rerr)
	} else if !first {
		redeliveries.Inc()
		log.Info("webhook redelivered")
	}

	if ev.Kind() == KindUnknown {
		eventsReceived.WithLabelValues(kind, "ignored").Inc()
		log.Info("ignoring unhandled webhook event")
		h.finish(ctx, meta, "")
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	if err := h.processor.Process(ctx, ev); err != nil {
		if errors.Is(err, ErrBusy) {
			eventsReceived.WithLabelValues(kind, "busy").Inc()
			log.Info("webhook deferred: payment already in flight")
			c.Header("Retry-After", "5")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "busy", "message": "event is being processed, retry later"})
			return
		}
		if errors.Is(err, ErrOutOfScope) {
			eventsReceived.WithLabelValues(kind, "rejected").Inc()
			log.Warn("webhook rejected: outside delivering store's scope", "error", err)
			h.finish(ctx, meta, err.Error())
			c.JSON(http.StatusForbidden, gin.H{"error": "out_of_scope", "message": "event does not belong to this store"})
			return
		}
		eventsReceived.WithLabelValues(kind, "error").Inc()
		log.Error("webhook processing failed", "error", err)
		h.finish(ctx, meta, err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing_failed", "message": "event not applied, retry"})
		return
	}

	eventsReceived.WithLabelValues(kind, "ok").Inc()
	h.finish(ctx, meta, "")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) finish(ctx context.Context, meta Envelope, errMsg string) {
	if err := h.store.FinishReceipt(ctx, meta.Provider, meta.ID, errMsg); err != nil {
		logging.L(ctx).Warn("failed to update webhook receipt", "event_id", meta.ID, "error", err)
	}
}

// CreateSecretRequest registers a store's signing secret. When Secret is
// empty one is generated.
type CreateSecretRequest struct {
	Secret string `json:"secret" binding:"omitempty,min=16,max=256"`
}

// CreateSecret handles POST /v1/stores/:id/webhooks
func (h *Handler) CreateSecret(c *gin.Context) {
	storeID := c.Param("id")

	var req CreateSecretRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": validation.Describe(err)})
			return
		}
	}
	secret := req.Secret
	if secret == "" {
		secret = generateSecret()
	}

	s := &Secret{
		ID:        idgen.WithPrefix("whs_"),
		StoreID:   storeID,
		Provider:  h.verifier.Provider(),
		Secret:    secret,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateSecret(c.Request.Context(), s); err != nil {
		logging.L(c.Request.Context()).Error("failed to store webhook secret", "store", storeID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed", "message": "Failed to register webhook secret"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": s,
		"secret":  secret, // shown once
		"url":     "/webhooks/gateway/" + storeID,
	})
}

// ListSecrets handles GET /v1/stores/:id/webhooks
func (h *Handler) ListSecrets(c *gin.Context) {
	secrets, err := h.store.ListSecrets(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "message": "Failed to list webhook secrets"})
		return
	}
	if secrets == nil {
		secrets = []*Secret{}
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": secrets})
}

// DeleteSecret handles DELETE /v1/stores/:id/webhooks/:secretId
func (h *Handler) DeleteSecret(c *gin.Context) {
	err := h.store.DeleteSecret(c.Request.Context(), c.Param("id"), c.Param("secretId"))
	if errors.Is(err, ErrSecretNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "webhook secret not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed", "message": "Failed to delete webhook secret"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ListReceipts handles GET /v1/admin/webhooks/events
func (h *Handler) ListReceipts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	receipts, err := h.store.ListReceipts(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "message": "Failed to list webhook events"})
		return
	}
	if receipts == nil {
		receipts = []*Receipt{}
	}
	c.JSON(http.StatusOK, gin.H{"events": receipts})
}

func generateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return "whsec_" + base64.StdEncoding.EncodeToString(b)
}
