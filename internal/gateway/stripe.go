package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/tuckshop-za/tuckshop/internal/config"
)

// StripeProvider opens Stripe Checkout sessions.
type StripeProvider struct {
	api    *client.API
	logger *slog.Logger
}

// NewStripeProvider creates a Stripe checkout client.
func NewStripeProvider(secretKey string, logger *slog.Logger) *StripeProvider {
	if logger == nil {
		logger = slog.Default()
	}
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeProvider{api: sc, logger: logger}
}

// Name implements Provider.
func (s *StripeProvider) Name() string { return config.ProviderStripe }

// CreateCheckout implements Provider. Metadata is copied onto the payment
// intent as well so payment_intent.* webhooks can be correlated.
func (s *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.Metadata[MetaCheckoutToken]),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.Metadata,
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}

	start := time.Now()
	sess, err := s.api.CheckoutSessions.New(params)
	providerLatency.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, s.classify(err)
	}
	return &Session{ID: sess.ID, RedirectURL: sess.URL}, nil
}

func (s *StripeProvider) classify(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		s.logger.Error("stripe checkout failed", "error", err)
		return fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	s.logger.Error("stripe API error",
		"type", string(stripeErr.Type),
		"code", string(stripeErr.Code),
		"message", stripeErr.Msg,
		"request_id", stripeErr.RequestID,
		"status_code", stripeErr.HTTPStatusCode,
	)
	if stripeErr.HTTPStatusCode == 401 {
		return fmt.Errorf("%w: stripe rejected secret key", ErrNotConfigured)
	}
	return fmt.Errorf("%w: %s", ErrProviderFailed, stripeErr.Msg)
}
