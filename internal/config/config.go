// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/tuckshop-za/tuckshop/internal/security"
)

// Gateway providers
const (
	ProviderYoco   = "yoco"
	ProviderStripe = "stripe"
)

// Renewal policies
const (
	RenewalExtendFromExpiry = "extend_from_expiry"
	RenewalFromNow          = "from_now"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string

	// Storage (Postgres when DATABASE_URL is set, in-memory otherwise)
	DatabaseURL string
	RedisURL    string

	// Event stream
	KafkaBrokers []string
	KafkaTopic   string

	// Tracing
	OTLPEndpoint string

	// Payment gateway
	GatewayProvider      string
	GatewaySecretKey     string
	GatewayAPIURL        string
	WebhookSigningSecret string
	PublicBaseURL        string

	// Security
	AdminSecret        string
	SessionJWTSecret   string
	CORSAllowedOrigins []string

	// WhatsApp messaging
	WhatsAppToken         string
	WhatsAppPhoneNumberID string
	WhatsAppAPIURL        string

	// Billing policy
	RenewalPolicy         string
	DefaultCommissionRate decimal.Decimal
	StalePaymentAfter     time.Duration
}

// MessagingCredentials are the WhatsApp Cloud API credentials.
type MessagingCredentials struct {
	Token         string
	PhoneNumberID string
	APIURL        string
}

// Secrets is the explicit secrets object handed to components at construction.
// Components never read the environment themselves.
type Secrets struct {
	GatewaySecret        string
	WebhookSigningSecret string
	Messaging            MessagingCredentials
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultKafkaTopic        = "tuckshop.billing"
	DefaultGatewayProvider   = ProviderYoco
	DefaultYocoAPIURL        = "https://payments.yoco.com/api"
	DefaultWhatsAppAPIURL    = "https://graph.facebook.com/v19.0"
	DefaultPublicBaseURL     = "http://localhost:8080"
	DefaultCommissionRate    = "30"
	DefaultStalePaymentAfter = 24 * time.Hour
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	rate, err := decimal.NewFromString(getEnv("DEFAULT_COMMISSION_RATE", DefaultCommissionRate))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_COMMISSION_RATE must be a number: %w", err)
	}

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:             getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:            getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		GatewayProvider:       strings.ToLower(getEnv("GATEWAY_PROVIDER", DefaultGatewayProvider)),
		GatewaySecretKey:      os.Getenv("GATEWAY_SECRET_KEY"),
		GatewayAPIURL:         getEnv("GATEWAY_API_URL", DefaultYocoAPIURL),
		WebhookSigningSecret:  os.Getenv("WEBHOOK_SIGNING_SECRET"),
		PublicBaseURL:         strings.TrimRight(getEnv("PUBLIC_BASE_URL", DefaultPublicBaseURL), "/"),
		AdminSecret:           os.Getenv("ADMIN_SECRET"),
		SessionJWTSecret:      os.Getenv("SESSION_JWT_SECRET"),
		CORSAllowedOrigins:    splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		WhatsAppToken:         os.Getenv("WHATSAPP_TOKEN"),
		WhatsAppPhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
		WhatsAppAPIURL:        getEnv("WHATSAPP_API_URL", DefaultWhatsAppAPIURL),
		RenewalPolicy:         getEnv("RENEWAL_POLICY", RenewalExtendFromExpiry),
		DefaultCommissionRate: rate,
		StalePaymentAfter:     getEnvDuration("STALE_PAYMENT_AFTER", DefaultStalePaymentAfter),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent. Missing gateway
// credentials are not a startup error; checkout fails at call time instead.
func (c *Config) Validate() error {
	switch c.GatewayProvider {
	case ProviderYoco, ProviderStripe:
	default:
		return fmt.Errorf("GATEWAY_PROVIDER must be %q or %q, got %q", ProviderYoco, ProviderStripe, c.GatewayProvider)
	}

	switch c.RenewalPolicy {
	case RenewalExtendFromExpiry, RenewalFromNow:
	default:
		return fmt.Errorf("RENEWAL_POLICY must be %q or %q", RenewalExtendFromExpiry, RenewalFromNow)
	}

	if c.DefaultCommissionRate.IsNegative() || c.DefaultCommissionRate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("DEFAULT_COMMISSION_RATE must be between 0 and 100")
	}

	if c.IsProduction() {
		if c.AdminSecret == "" {
			return fmt.Errorf("ADMIN_SECRET is required in production")
		}
		// The gateway redirects customers to this base after checkout.
		if err := security.ValidatePublicURL(c.PublicBaseURL); err != nil {
			return fmt.Errorf("PUBLIC_BASE_URL: %w", err)
		}
	}

	return nil
}

// Secrets returns the injected secrets object for component construction.
func (c *Config) Secrets() Secrets {
	return Secrets{
		GatewaySecret:        c.GatewaySecretKey,
		WebhookSigningSecret: c.WebhookSigningSecret,
		Messaging: MessagingCredentials{
			Token:         c.WhatsAppToken,
			PhoneNumberID: c.WhatsAppPhoneNumberID,
			APIURL:        c.WhatsAppAPIURL,
		},
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
		if i, err := strconv.ParseInt(value, 10, 64); err == nil && i > 0 {
			return time.Duration(i) * time.Second
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
