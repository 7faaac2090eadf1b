package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tuckshop-za/tuckshop/internal/tenant"
)

// Standard-webhooks headers, as sent by Yoco.
const (
	HeaderWebhookID        = "webhook-id"
	HeaderWebhookTimestamp = "webhook-timestamp"
	HeaderWebhookSignature = "webhook-signature"
)

// DefaultTolerance bounds clock skew between the gateway and us.
const DefaultTolerance = 5 * time.Minute

// Scheme verifies and decodes one provider's deliveries.
type Scheme interface {
	Name() string
	// Verify checks the signature over the raw body. It must not parse the body.
	Verify(header http.Header, body []byte, secret string, now time.Time) error
	Parse(header http.Header, body []byte) (Event, error)
}

// StandardScheme implements the standard-webhooks signature used by Yoco:
// base64 HMAC-SHA256 over "id.timestamp.body".
type StandardScheme struct {
	Provider  string
	Tolerance time.Duration
}

// NewStandardScheme returns a scheme for provider with the default tolerance.
func NewStandardScheme(provider string) *StandardScheme {
	return &StandardScheme{Provider: provider, Tolerance: DefaultTolerance}
}

// Name implements Scheme.
func (s *StandardScheme) Name() string { return s.Provider }

// SecretKey decodes a "whsec_<base64>" secret. Secrets that are not base64
// are used as raw bytes.
func SecretKey(secret string) []byte {
	raw := strings.TrimPrefix(secret, "whsec_")
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil && len(key) > 0 {
		return key
	}
	return []byte(raw)
}

// Sign returns the "v1,<base64>" signature for a delivery.
func Sign(secret, id string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, SecretKey(secret))
	mac.Write([]byte(id))
	mac.Write([]byte{'.'})
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify implements Scheme.
func (s *StandardScheme) Verify(header http.Header, body []byte, secret string, now time.Time) error {
	id := header.Get(HeaderWebhookID)
	tsRaw := header.Get(HeaderWebhookTimestamp)
	sigs := header.Get(HeaderWebhookSignature)
	if id == "" || tsRaw == "" || sigs == "" {
		return fmt.Errorf("%w: missing signature headers", ErrInvalidSignature)
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	tolerance := s.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	sent := time.Unix(ts, 0)
	if now.Sub(sent) > tolerance || sent.Sub(now) > tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := []byte(Sign(secret, id, ts, body))
	for _, sig := range strings.Fields(sigs) {
		if hmac.Equal([]byte(sig), expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

type standardMetadata struct {
	CheckoutID   string `json:"checkoutId"`
	Token        string `json:"token"`
	StoreID      string `json:"storeId"`
	UpgradeTo    string `json:"upgradeTo"`
	UpgradeFrom  string `json:"upgradeFrom"`
	ReferralCode string `json:"referralCode"`
	OrderNumber  string `json:"orderNumber"`
}

type standardBody struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payload struct {
		ID             string           `json:"id"`
		Amount         int64            `json:"amount"`
		Currency       string           `json:"currency"`
		Status         string           `json:"status"`
		FailureReason  string           `json:"failureReason"`
		SubscriptionID string           `json:"subscriptionId"`
		Metadata       standardMetadata `json:"metadata"`
	} `json:"payload"`
}

// Parse implements Scheme.
func (s *StandardScheme) Parse(header http.Header, body []byte) (Event, error) {
	var b standardBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env := Envelope{ID: b.ID, Provider: s.Provider, RawType: b.Type}
	if env.ID == "" {
		env.ID = header.Get(HeaderWebhookID)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformed)
	}

	md := b.Payload.Metadata
	ref := md.CheckoutID
	if ref == "" {
		ref = b.Payload.ID
	}

	switch b.Type {
	case "payment.succeeded":
		return &PaymentSucceeded{
			Envelope:     env,
			Reference:    ref,
			Token:        md.Token,
			StoreID:      md.StoreID,
			Plan:         tenant.Plan(md.UpgradeTo),
			PreviousPlan: tenant.Plan(md.UpgradeFrom),
			AmountCents:  b.Payload.Amount,
			Currency:     strings.ToUpper(b.Payload.Currency),
			ReferralCode: md.ReferralCode,
			OrderNumber:  md.OrderNumber,
		}, nil
	case "payment.failed":
		return &PaymentFailed{
			Envelope:    env,
			Reference:   ref,
			Token:       md.Token,
			StoreID:     md.StoreID,
			OrderNumber: md.OrderNumber,
			Reason:      b.Payload.FailureReason,
		}, nil
	case "subscription.created":
		return &SubscriptionCreated{Envelope: env, SubscriptionID: subscriptionID(b), StoreID: md.StoreID}, nil
	case "subscription.cancelled", "subscription.canceled":
		return &SubscriptionCancelled{Envelope: env, SubscriptionID: subscriptionID(b), StoreID: md.StoreID}, nil
	default:
		return &Unknown{Envelope: env}, nil
	}
}

func subscriptionID(b standardBody) string {
	if b.Payload.SubscriptionID != "" {
		return b.Payload.SubscriptionID
	}
	return b.Payload.ID
}
