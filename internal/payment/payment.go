// Package payment tracks pending plan payments between checkout and the
// gateway's confirmation webhook.
package payment

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
)

// Errors
var (
	ErrNotFound         = errors.New("payment: not found")
	ErrDuplicate        = errors.New("payment: idempotency token already used")
	ErrReferenceTaken   = errors.New("payment: gateway reference already bound")
	ErrAlreadyProcessed = errors.New("payment: already processed")
	ErrNotPending       = errors.New("payment: not pending")
)

// Status of a pending payment. A record moves to processed at most once.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// SignupPrefix marks checkouts for stores that do not exist yet.
const SignupPrefix = "signup_"

// Kind distinguishes new-store signups from upgrades of existing stores.
type Kind string

const (
	KindUpgrade Kind = "upgrade"
	KindSignup  Kind = "signup"
)

// KindOf classifies a store identifier.
func KindOf(storeID string) Kind {
	if strings.HasPrefix(storeID, SignupPrefix) {
		return KindSignup
	}
	return KindUpgrade
}

// TenantID returns the id of the store a payment applies to. Signup
// checkouts provision the store under the identifier without its prefix.
func TenantID(storeID string) string {
	return strings.TrimPrefix(storeID, SignupPrefix)
}

// PendingPayment is created before redirecting to the gateway and consumed
// by the first successful payment event for its reference.
type PendingPayment struct {
	ID               string          `json:"id"` // caller idempotency token
	StoreID          string          `json:"storeId"`
	StoreName        string          `json:"storeName,omitempty"`
	UserID           string          `json:"userId,omitempty"`
	UserEmail        string          `json:"userEmail,omitempty"`
	Phone            string          `json:"phone,omitempty"`
	Plan             tenant.Plan     `json:"plan"`
	CurrentPlan      tenant.Plan     `json:"currentPlan,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	ReferralCode     string          `json:"referralCode,omitempty"`
	PaymentReference string          `json:"paymentReference,omitempty"`
	RedirectURL      string          `json:"redirectUrl,omitempty"`
	Status           Status          `json:"status"`
	FailureReason    string          `json:"failureReason,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	ProcessedAt      *time.Time      `json:"processedAt,omitempty"`
}

// Kind returns whether the payment provisions a new store.
func (p *PendingPayment) Kind() Kind {
	return KindOf(p.StoreID)
}

// IsTerminal returns true if the payment will not change status again.
func (p *PendingPayment) IsTerminal() bool {
	return p.Status == StatusProcessed
}
