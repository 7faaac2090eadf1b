// Package webhooks receives payment provider callbacks.
//
// Inbound requests are verified against the raw body before anything is
// parsed, then decoded into a closed set of event variants:
// - PaymentSucceeded
// - PaymentFailed
// - SubscriptionCreated
// - SubscriptionCancelled
// - Unknown (logged and acknowledged)
//
// Platform checkouts are signed with the platform secret. Storefront order
// payments arrive on a per-store URL and are signed with one of the store's
// registered secrets. A store secret only vouches for that store's order
// payments; plan checkouts and subscription events must carry the platform
// signature.
package webhooks

import (
	"errors"
	"time"

	"github.com/tuckshop-za/tuckshop/internal/tenant"
)

// Errors
var (
	ErrInvalidSignature = errors.New("webhooks: invalid signature")
	ErrNotConfigured    = errors.New("webhooks: signing secret not configured")
	ErrMalformed        = errors.New("webhooks: malformed event body")
	ErrSecretNotFound   = errors.New("webhooks: secret not found")

	// ErrOutOfScope means a store-signed delivery tried to act outside that
	// store's storefront orders.
	ErrOutOfScope = errors.New("webhooks: event outside delivering store's scope")

	// ErrBusy means another delivery of the same payment is in flight.
	// The provider should retry later.
	ErrBusy = errors.New("webhooks: event is being processed")
)

// Kind is the normalized event type.
type Kind string

const (
	KindPaymentSucceeded      Kind = "payment.succeeded"
	KindPaymentFailed         Kind = "payment.failed"
	KindSubscriptionCreated   Kind = "subscription.created"
	KindSubscriptionCancelled Kind = "subscription.cancelled"
	KindUnknown               Kind = "unknown"
)

// Envelope is common to every event.
type Envelope struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	RawType    string    `json:"rawType"`
	StoreScope string    `json:"storeScope,omitempty"` // set for per-store deliveries
	ReceivedAt time.Time `json:"receivedAt"`
}

// Meta returns the envelope.
func (e Envelope) Meta() Envelope { return e }

// Event is one of the variants below.
type Event interface {
	Meta() Envelope
	Kind() Kind
}

// PaymentSucceeded reports money received for a checkout.
type PaymentSucceeded struct {
	Envelope
	Reference    string      `json:"reference"` // provider checkout id
	Token        string      `json:"token,omitempty"`
	StoreID      string      `json:"storeId,omitempty"`
	Plan         tenant.Plan `json:"plan,omitempty"`
	PreviousPlan tenant.Plan `json:"previousPlan,omitempty"`
	AmountCents  int64       `json:"amountCents"`
	Currency     string      `json:"currency,omitempty"`
	ReferralCode string      `json:"referralCode,omitempty"`
	OrderNumber  string      `json:"orderNumber,omitempty"`
}

// Kind implements Event.
func (*PaymentSucceeded) Kind() Kind { return KindPaymentSucceeded }

// PaymentFailed reports a declined or abandoned payment.
type PaymentFailed struct {
	Envelope
	Reference   string `json:"reference,omitempty"`
	Token       string `json:"token,omitempty"`
	StoreID     string `json:"storeId,omitempty"`
	OrderNumber string `json:"orderNumber,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Kind implements Event.
func (*PaymentFailed) Kind() Kind { return KindPaymentFailed }

// SubscriptionCreated reports a provider recurring-billing subscription.
type SubscriptionCreated struct {
	Envelope
	SubscriptionID string `json:"subscriptionId"`
	StoreID        string `json:"storeId"`
}

// Kind implements Event.
func (*SubscriptionCreated) Kind() Kind { return KindSubscriptionCreated }

// SubscriptionCancelled reports the end of a recurring subscription.
type SubscriptionCancelled struct {
	Envelope
	SubscriptionID string `json:"subscriptionId"`
	StoreID        string `json:"storeId"`
}

// Kind implements Event.
func (*SubscriptionCancelled) Kind() Kind { return KindSubscriptionCancelled }

// Unknown is any event type this service does not act on.
type Unknown struct {
	Envelope
}

// Kind implements Event.
func (*Unknown) Kind() Kind { return KindUnknown }

// AllowedForStore reports whether a store-signed delivery may carry ev:
// order payment outcomes and events this service ignores anyway.
func AllowedForStore(ev Event) bool {
	switch e := ev.(type) {
	case *PaymentSucceeded:
		return e.OrderNumber != ""
	case *PaymentFailed:
		return e.OrderNumber != ""
	case *Unknown:
		return true
	default:
		return false
	}
}
