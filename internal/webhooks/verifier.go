package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Verifier authenticates a delivery and decodes it into an Event.
type Verifier struct {
	scheme         Scheme
	platformSecret string
	secrets        SecretStore
	now            func() time.Time
}

// NewVerifier creates a verifier. platformSecret signs platform checkouts;
// secrets holds the per-store secrets for storefront payments.
func NewVerifier(scheme Scheme, platformSecret string, secrets SecretStore) *Verifier {
	return &Verifier{
		scheme:         scheme,
		platformSecret: platformSecret,
		secrets:        secrets,
		now:            time.Now,
	}
}

// Provider returns the scheme name.
func (v *Verifier) Provider() string { return v.scheme.Name() }

// VerifyPlatform checks a delivery against the platform secret.
func (v *Verifier) VerifyPlatform(header http.Header, body []byte) (Event, error) {
	if v.platformSecret == "" {
		return nil, ErrNotConfigured
	}
	if err := v.scheme.Verify(header, body, v.platformSecret, v.now()); err != nil {
		return nil, err
	}
	return v.parse(header, body, "")
}

// VerifyStore checks a delivery against each active secret registered for
// the store and the verifier's provider.
func (v *Verifier) VerifyStore(ctx context.Context, storeID string, header http.Header, body []byte) (Event, error) {
	secrets, err := v.secrets.ListSecrets(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("load store secrets: %w", err)
	}
	now := v.now()
	tried := 0
	for _, s := range secrets {
		if !s.Active || s.Provider != v.scheme.Name() {
			continue
		}
		tried++
		err := v.scheme.Verify(header, body, s.Secret, now)
		if err == nil {
			return v.parseScoped(header, body, storeID)
		}
		if !errors.Is(err, ErrInvalidSignature) {
			return nil, err
		}
	}
	if tried == 0 {
		return nil, fmt.Errorf("%w: store %s has no %s secret", ErrNotConfigured, storeID, v.scheme.Name())
	}
	return nil, ErrInvalidSignature
}

// parseScoped decodes a store-signed delivery and refuses platform events,
// so a store's own secret cannot move plans or subscriptions.
func (v *Verifier) parseScoped(header http.Header, body []byte, storeID string) (Event, error) {
	ev, err := v.parse(header, body, storeID)
	if err != nil {
		return nil, err
	}
	if !AllowedForStore(ev) {
		return nil, fmt.Errorf("%w: %s via store %s", ErrOutOfScope, ev.Kind(), storeID)
	}
	return ev, nil
}

func (v *Verifier) parse(header http.Header, body []byte, storeScope string) (Event, error) {
	ev, err := v.scheme.Parse(header, body)
	if err != nil {
		return nil, err
	}
	stamp(ev, storeScope, v.now())
	return ev, nil
}

func stamp(ev Event, storeScope string, at time.Time) {
	var env *Envelope
	switch e := ev.(type) {
	case *PaymentSucceeded:
		env = &e.Envelope
	case *PaymentFailed:
		env = &e.Envelope
	case *SubscriptionCreated:
		env = &e.Envelope
	case *SubscriptionCancelled:
		env = &e.Envelope
	case *Unknown:
		env = &e.Envelope
	default:
		return
	}
	env.StoreScope = storeScope
	env.ReceivedAt = at
}
