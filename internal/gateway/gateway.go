// Package gateway creates hosted checkout sessions with the payment provider
// and records the matching pending payment before the customer is redirected.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tuckshop-za/tuckshop/internal/config"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
)

// DefaultHTTPTimeout bounds a single call to the provider's API.
const DefaultHTTPTimeout = 15 * time.Second

// Errors
var (
	// ErrNotConfigured means a required provider secret is missing. It is an
	// operator problem, not a customer one.
	ErrNotConfigured  = errors.New("gateway: payment provider not configured")
	ErrInvalidPlan    = errors.New("gateway: target plan cannot be purchased")
	ErrPriceMismatch  = errors.New("gateway: amount does not match plan price")
	ErrProviderFailed = errors.New("gateway: provider rejected checkout")
	ErrStoreNotFound  = errors.New("gateway: store not found")
	ErrNotOwner       = errors.New("gateway: caller does not own store")
)

// Metadata keys attached to every checkout. Webhook parsers read them back.
const (
	MetaCheckoutToken = "token"
	MetaStoreID       = "storeId"
	MetaUpgradeTo     = "upgradeTo"
	MetaUpgradeFrom   = "upgradeFrom"
	MetaReferralCode  = "referralCode"
	MetaOrderNumber   = "orderNumber"
)

// CheckoutRequest is what a provider needs to open a hosted checkout.
type CheckoutRequest struct {
	AmountCents    int64
	Currency       string
	Description    string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	FailureURL     string
	Metadata       map[string]string
	IdempotencyKey string
}

// Session is a provider checkout the customer is redirected to.
type Session struct {
	ID          string `json:"checkoutId"`
	RedirectURL string `json:"redirectUrl"`
}

// Provider is a hosted-checkout payment provider.
type Provider interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Session, error)
}

// NewProvider builds the configured provider. A missing secret yields a
// provider whose every call fails with ErrNotConfigured, so the service
// still starts and the failure surfaces on the checkout path.
func NewProvider(name, secretKey, apiURL string, logger *slog.Logger) Provider {
	if secretKey == "" {
		return unconfigured{name: name}
	}
	switch name {
	case config.ProviderStripe:
		return NewStripeProvider(secretKey, logger)
	default:
		if apiURL == "" {
			apiURL = config.DefaultYocoAPIURL
		}
		return NewYocoProvider(apiURL, secretKey, &http.Client{Timeout: DefaultHTTPTimeout}, logger)
	}
}

type unconfigured struct{ name string }

func (u unconfigured) Name() string { return u.name }

func (u unconfigured) CreateCheckout(context.Context, CheckoutRequest) (*Session, error) {
	return nil, fmt.Errorf("%w: %s secret key missing", ErrNotConfigured, u.name)
}

// CheckoutInput is a customer's request to pay for a plan.
type CheckoutInput struct {
	StoreID        string          `json:"storeId"`
	StoreName      string          `json:"storeName" binding:"required"`
	TargetPlan     tenant.Plan     `json:"targetPlan" binding:"required"`
	CurrentPlan    tenant.Plan     `json:"currentPlan"`
	UserEmail      string          `json:"userEmail" binding:"omitempty,email"`
	Phone          string          `json:"phone" binding:"omitempty,saphone"`
	Amount         decimal.Decimal `json:"amount"`
	ReferralCode   string          `json:"referralCode"`
	UserID         string          `json:"-"`
	IdempotencyKey string          `json:"-"`
}

// CheckoutResult is returned to the browser.
type CheckoutResult struct {
	Success     bool   `json:"success"`
	CheckoutID  string `json:"checkoutId"`
	RedirectURL string `json:"redirectUrl"`
	Token       string `json:"token"`
	Replayed    bool   `json:"replayed,omitempty"`
}
