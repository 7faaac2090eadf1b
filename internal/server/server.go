// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"github.com/tuckshop-za/tuckshop/internal/admin"
	"github.com/tuckshop-za/tuckshop/internal/affiliate"
	"github.com/tuckshop-za/tuckshop/internal/auth"
	"github.com/tuckshop-za/tuckshop/internal/circuitbreaker"
	"github.com/tuckshop-za/tuckshop/internal/config"
	"github.com/tuckshop-za/tuckshop/internal/confirm"
	"github.com/tuckshop-za/tuckshop/internal/dispatch"
	"github.com/tuckshop-za/tuckshop/internal/events"
	"github.com/tuckshop-za/tuckshop/internal/gateway"
	"github.com/tuckshop-za/tuckshop/internal/health"
	"github.com/tuckshop-za/tuckshop/internal/idgen"
	"github.com/tuckshop-za/tuckshop/internal/lock"
	"github.com/tuckshop-za/tuckshop/internal/logging"
	"github.com/tuckshop-za/tuckshop/internal/metrics"
	"github.com/tuckshop-za/tuckshop/internal/notify"
	"github.com/tuckshop-za/tuckshop/internal/orders"
	"github.com/tuckshop-za/tuckshop/internal/payment"
	"github.com/tuckshop-za/tuckshop/internal/ratelimit"
	"github.com/tuckshop-za/tuckshop/internal/realtime"
	"github.com/tuckshop-za/tuckshop/internal/reconciliation"
	"github.com/tuckshop-za/tuckshop/internal/security"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
	"github.com/tuckshop-za/tuckshop/internal/traces"
	"github.com/tuckshop-za/tuckshop/internal/validation"
	"github.com/tuckshop-za/tuckshop/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	version string

	tenants      *tenant.Engine
	payments     payment.Store
	ledger       *affiliate.Ledger
	orders       orders.Store
	webhookStore webhooks.Store

	provider   gateway.Provider
	checkout   *gateway.Service
	dispatcher *dispatch.Dispatcher
	confirmSvc *confirm.Service

	realtimeHub *realtime.Hub
	publisher   events.Publisher
	notifier    notify.Notifier
	locker      lock.Locker
	redis       *redis.Client

	sweeper     *gateway.Sweeper
	reconRunner *reconciliation.Runner
	reconTimer  *reconciliation.Timer

	health         *health.Registry
	sessions       *auth.Verifier
	rateLimiter    *ratelimit.Limiter
	confirmLimiter *ratelimit.Limiter
	traceShutdown  func(context.Context) error

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	drainDelay   time.Duration

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithProvider sets a custom checkout provider (for testing)
func WithProvider(p gateway.Provider) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// WithNotifier sets a custom messaging client (for testing)
func WithNotifier(n notify.Notifier) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()
	secrets := cfg.Secrets()

	validation.RegisterValidators()

	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.traceShutdown = shutdown

	if err := s.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := s.initCollaborators(ctx); err != nil {
		return nil, err
	}

	// Checkout initiator
	if s.provider == nil {
		s.provider = gateway.NewProvider(cfg.GatewayProvider, secrets.GatewaySecret, cfg.GatewayAPIURL, s.logger)
	}
	s.checkout = gateway.NewService(s.provider, s.payments, s.tenants.Store(), cfg.PublicBaseURL, s.logger)
	s.sweeper = gateway.NewSweeper(s.payments, cfg.StalePaymentAfter, s.logger)

	// Realtime push for return pages
	s.realtimeHub = realtime.NewHub(s.logger)

	// Dispatcher
	s.dispatcher = dispatch.New(s.tenants, s.payments, s.ledger, s.orders, s.logger).
		WithLocker(s.locker).
		WithPublisher(s.publisher).
		WithPusher(s.realtimeHub)
	if s.notifier != nil {
		s.dispatcher = s.dispatcher.WithNotifier(s.notifier)
	}

	s.confirmSvc = confirm.NewService(s.tenants, s.payments, s.orders)

	s.reconRunner = reconciliation.NewRunner(s.ledger, s.payments, cfg.StalePaymentAfter, s.logger)
	s.reconTimer = reconciliation.NewTimer(s.reconRunner, s.logger)

	if cfg.SessionJWTSecret == "" {
		s.logger.Warn("SESSION_JWT_SECRET not set: session tokens are not accepted, only the admin secret")
	}
	s.sessions = auth.NewVerifier(cfg.SessionJWTSecret)

	s.setupHealth(secrets)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// initStorage picks Postgres when DATABASE_URL is set, memory otherwise.
func (s *Server) initStorage(ctx context.Context) error {
	policy := tenant.RenewalPolicy(s.cfg.RenewalPolicy)

	if s.cfg.DatabaseURL == "" {
		s.logger.Warn("DATABASE_URL not set: using in-memory storage, data is lost on restart")
		s.tenants = tenant.NewEngine(tenant.NewMemoryStore(), policy, s.logger)
		s.payments = payment.NewMemoryStore()
		s.ledger = affiliate.NewLedger(affiliate.NewMemoryStore(), s.cfg.DefaultCommissionRate, s.logger)
		s.orders = orders.NewMemoryStore()
		s.webhookStore = webhooks.NewMemoryStore()
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))

	tenantStore := tenant.NewPostgresStore(db)
	paymentStore := payment.NewPostgresStore(db)
	affiliateStore := affiliate.NewPostgresStore(db)
	orderStore := orders.NewPostgresStore(db)
	webhookStore := webhooks.NewPostgresStore(db)

	// Production schemas are managed by cmd/migrate; development bootstraps
	// its own tables.
	if s.cfg.IsDevelopment() {
		for name, m := range map[string]interface{ Migrate(context.Context) error }{
			"tenants":   tenantStore,
			"payments":  paymentStore,
			"affiliate": affiliateStore,
			"orders":    orderStore,
			"webhooks":  webhookStore,
		} {
			if err := m.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate %s store: %w", name, err)
			}
		}
	}

	s.tenants = tenant.NewEngine(tenantStore, policy, s.logger)
	s.payments = paymentStore
	s.ledger = affiliate.NewLedger(affiliateStore, s.cfg.DefaultCommissionRate, s.logger)
	s.orders = orderStore
	s.webhookStore = webhookStore
	return nil
}

// initCollaborators wires the delivery lock, event stream and messaging.
func (s *Server) initCollaborators(ctx context.Context) error {
	if s.cfg.RedisURL != "" {
		client, err := lock.Connect(ctx, s.cfg.RedisURL)
		if err != nil {
			return err
		}
		s.redis = client
		s.locker = lock.NewRedis(client)
		s.logger.Info("using Redis delivery lock")
	} else {
		s.locker = lock.NewLocal()
		s.logger.Info("using in-process delivery lock (single instance only)")
	}

	if len(s.cfg.KafkaBrokers) > 0 {
		pub, err := events.NewKafkaPublisher(s.cfg.KafkaBrokers, s.cfg.KafkaTopic, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create event publisher: %w", err)
		}
		s.publisher = pub
		s.logger.Info("publishing lifecycle events to Kafka", "topic", s.cfg.KafkaTopic)
	} else {
		s.publisher = events.NewLogPublisher(s.logger)
	}

	if s.notifier == nil {
		creds := s.cfg.Secrets().Messaging
		if creds.Token != "" && creds.PhoneNumberID != "" {
			s.notifier = notify.NewWhatsApp(creds, circuitbreaker.New(5, time.Minute), s.logger)
		} else {
			s.logger.Info("WhatsApp credentials not set: confirmations will not be messaged")
		}
	}
	return nil
}

func (s *Server) setupHealth(secrets config.Secrets) {
	s.health = health.NewRegistry(s.version)
	if s.db != nil {
		s.health.Register("postgres", health.SQL(s.db))
	}
	if s.redis != nil {
		s.health.Register("redis", health.Redis(s.redis))
	}
	s.health.RegisterOptional("gateway", health.Static(secrets.GatewaySecret != "", missing(secrets.GatewaySecret, "GATEWAY_SECRET_KEY")))
	s.health.RegisterOptional("webhook_secret", health.Static(secrets.WebhookSigningSecret != "", missing(secrets.WebhookSigningSecret, "WEBHOOK_SIGNING_SECRET")))
	s.health.RegisterOptional("messaging", health.Static(s.notifier != nil, missing(secrets.Messaging.Token, "WHATSAPP_TOKEN")))
}

func missing(value, name string) string {
	if value != "" {
		return ""
	}
	return name + " not configured"
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSAllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.router.Use(metrics.Middleware())
	s.router.Use(traces.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())

	// Per-route limiters; see setupRoutes.
	s.rateLimiter = ratelimit.New("api", ratelimit.DefaultConfig())
	s.confirmLimiter = ratelimit.New("confirm", ratelimit.ConfirmationConfig())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// storeContextMiddleware tags the request logger with the session's store.
func storeContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if storeID := auth.GetStoreID(c); storeID != "" {
			c.Request = c.Request.WithContext(logging.WithStoreID(c.Request.Context(), storeID))
		}
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.health.Handler())
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Gateway callbacks: the signature is the authentication, and gateways
	// retry in bursts from a handful of addresses, so no rate limit here.
	webhookHandler := webhooks.NewHandler(
		webhooks.NewVerifier(s.webhookScheme(), s.cfg.Secrets().WebhookSigningSecret, s.webhookStore),
		s.webhookStore,
		s.dispatcher,
		s.logger,
	)
	webhookHandler.RegisterInboundRoutes(s.router)

	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.sessions), auth.AdminMiddleware(s.cfg.AdminSecret), storeContextMiddleware())

	// Return-page polling and push: generous limits, no personal data.
	confirmHandler := confirm.NewHandler(s.confirmSvc)
	polled := v1.Group("", s.confirmLimiter.Middleware())
	confirmHandler.RegisterRoutes(polled)
	polled.GET("/realtime", gin.WrapF(s.realtimeHub.HandleWebSocket))

	api := v1.Group("", s.rateLimiter.Middleware())

	authHandler := auth.NewHandler()
	api.GET("/auth/info", authHandler.Info)

	tenantHandler := tenant.NewHandler(s.tenants)
	tenantHandler.RegisterRoutes(api)

	// Checkout handles its own session check: upgrades need one, signups do not.
	gateway.NewHandler(s.checkout).RegisterRoutes(api)

	protected := api.Group("", auth.RequireAuth())
	protected.GET("/auth/me", authHandler.Me)
	tenantHandler.RegisterProtectedRoutes(protected)
	orders.NewHandler(s.orders).RegisterProtectedRoutes(protected)
	webhookHandler.RegisterProtectedRoutes(protected)
	affiliateHandler := affiliate.NewHandler(s.ledger).WithPublisher(s.publisher)
	affiliateHandler.RegisterProtectedRoutes(protected)

	adminGroup := v1.Group("/admin", auth.RequireAdmin(s.cfg.AdminSecret))
	tenantHandler.RegisterAdminRoutes(adminGroup)
	affiliateHandler.RegisterAdminRoutes(adminGroup)
	webhookHandler.RegisterAdminRoutes(adminGroup)
	reconciliation.NewHandler(s.reconRunner).RegisterAdminRoutes(adminGroup)
	admin.NewHandler(s.payments, s.dispatcher, s.cfg.StalePaymentAfter).RegisterRoutes(adminGroup)
	adminGroup.GET("/realtime/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})
}

func (s *Server) webhookScheme() webhooks.Scheme {
	if s.cfg.GatewayProvider == config.ProviderStripe {
		return webhooks.StripeScheme{}
	}
	return webhooks.NewStandardScheme(s.cfg.GatewayProvider)
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Background goroutines stop when Shutdown cancels this context.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Confirmation long-polls hold a response for up to 30s.
		WriteTimeout: confirm.MaxServerSideWait + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"gateway", s.provider.Name(),
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.sweeper.Start(runCtx)
	go s.reconTimer.Start(runCtx)

	if s.db != nil {
		if err := metrics.RegisterDB(s.db, "tuckshop"); err != nil {
			s.logger.Warn("db pool metrics unavailable", "error", err)
		}
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.sweeper.Stop()
	s.reconTimer.Stop()
	s.rateLimiter.Stop()
	s.confirmLimiter.Stop()

	if err := s.publisher.Close(); err != nil {
		s.logger.Error("event publisher close error", "error", err)
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
