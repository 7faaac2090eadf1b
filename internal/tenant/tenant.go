// Package tenant holds store accounts and their subscription plan state.
package tenant

import (
	"errors"
	"time"
)

// Errors
var (
	ErrTenantNotFound = errors.New("tenant: not found")
	ErrTenantExists   = errors.New("tenant: already exists")
	ErrConflict       = errors.New("tenant: plan changed concurrently")
	ErrInvalidPlan    = errors.New("tenant: unknown plan")
	// ErrPaymentApplied is returned by UpdatePlan when next carries a payment
	// reference the tenant has already been credited for.
	ErrPaymentApplied = errors.New("tenant: payment already applied")
)

// Plan identifies the pricing tier.
type Plan string

const (
	PlanTrial   Plan = "trial"
	PlanPro     Plan = "pro"
	PlanPremium Plan = "premium"
)

// Tenant is a vendor's store account and its subscription state.
// PlanExpiresAt is nil iff Plan is trial.
type Tenant struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	OwnerID          string     `json:"ownerId,omitempty"`
	OwnerEmail       string     `json:"ownerEmail,omitempty"`
	Phone            string     `json:"phone,omitempty"`
	Plan             Plan       `json:"plan"`
	PlanStartedAt    *time.Time `json:"planStartedAt,omitempty"`
	PlanExpiresAt    *time.Time `json:"planExpiresAt,omitempty"`
	PaymentReference string     `json:"paymentReference,omitempty"`
	SubscriptionID   string     `json:"subscriptionId,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// PlanState is the subset of Tenant fields owned by the lifecycle engine.
// Stores compare the full PlanState when applying a conditional update.
type PlanState struct {
	Plan             Plan
	StartedAt        *time.Time
	ExpiresAt        *time.Time
	PaymentReference string
}

// State returns the tenant's current plan state.
func (t *Tenant) State() PlanState {
	return PlanState{
		Plan:             t.Plan,
		StartedAt:        t.PlanStartedAt,
		ExpiresAt:        t.PlanExpiresAt,
		PaymentReference: t.PaymentReference,
	}
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Matches reports whether two plan states are identical.
func (s PlanState) Matches(o PlanState) bool {
	return s.Plan == o.Plan &&
		s.PaymentReference == o.PaymentReference &&
		sameInstant(s.StartedAt, o.StartedAt) &&
		sameInstant(s.ExpiresAt, o.ExpiresAt)
}

// newPayment reports whether a plan write credits a payment reference the
// current state does not already carry.
func newPayment(expected, next PlanState) bool {
	return next.PaymentReference != "" && next.PaymentReference != expected.PaymentReference
}
