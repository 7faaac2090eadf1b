package webhooks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
)

// StripeSignatureHeader carries Stripe's timestamped signature.
const StripeSignatureHeader = "Stripe-Signature"

// StripeScheme verifies deliveries with stripe-go's signature check.
type StripeScheme struct{}

// Name implements Scheme.
func (StripeScheme) Name() string { return "stripe" }

// Verify implements Scheme. Stripe applies its own five minute tolerance
// against the wall clock, so now is unused.
func (StripeScheme) Verify(header http.Header, body []byte, secret string, _ time.Time) error {
	if err := webhook.ValidatePayload(body, header.Get(StripeSignatureHeader), secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Parse implements Scheme.
func (StripeScheme) Parse(_ http.Header, body []byte) (Event, error) {
	var ev stripe.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.ID == "" || ev.Data == nil {
		return nil, fmt.Errorf("%w: missing id or data", ErrMalformed)
	}
	env := Envelope{ID: ev.ID, Provider: "stripe", RawType: string(ev.Type)}

	switch ev.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		// Delayed methods complete the session before the money arrives.
		if s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return &Unknown{Envelope: env}, nil
		}
		md := s.Metadata
		token := md["token"]
		if token == "" {
			token = s.ClientReferenceID
		}
		return &PaymentSucceeded{
			Envelope:     env,
			Reference:    s.ID,
			Token:        token,
			StoreID:      md["storeId"],
			Plan:         tenant.Plan(md["upgradeTo"]),
			PreviousPlan: tenant.Plan(md["upgradeFrom"]),
			AmountCents:  s.AmountTotal,
			Currency:     strings.ToUpper(string(s.Currency)),
			ReferralCode: md["referralCode"],
			OrderNumber:  md["orderNumber"],
		}, nil

	case "checkout.session.async_payment_failed":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		token := s.Metadata["token"]
		if token == "" {
			token = s.ClientReferenceID
		}
		return &PaymentFailed{
			Envelope:    env,
			Reference:   s.ID,
			Token:       token,
			StoreID:     s.Metadata["storeId"],
			OrderNumber: s.Metadata["orderNumber"],
			Reason:      "async payment failed",
		}, nil

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		reason := ""
		if pi.LastPaymentError != nil {
			reason = pi.LastPaymentError.Msg
		}
		return &PaymentFailed{
			Envelope:    env,
			Token:       pi.Metadata["token"],
			StoreID:     pi.Metadata["storeId"],
			OrderNumber: pi.Metadata["orderNumber"],
			Reason:      reason,
		}, nil

	case "customer.subscription.created", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if ev.Type == "customer.subscription.created" {
			return &SubscriptionCreated{Envelope: env, SubscriptionID: sub.ID, StoreID: sub.Metadata["storeId"]}, nil
		}
		return &SubscriptionCancelled{Envelope: env, SubscriptionID: sub.ID, StoreID: sub.Metadata["storeId"]}, nil

	default:
		return &Unknown{Envelope: env}, nil
	}
}
