package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tuckshop-za/tuckshop/internal/idgen"
	"github.com/tuckshop-za/tuckshop/internal/payment"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
	"github.com/tuckshop-za/tuckshop/internal/traces"
)

// Service is the checkout session initiator.
type Service struct {
	provider      Provider
	payments      payment.Store
	tenants       tenant.Store
	publicBaseURL string
	logger        *slog.Logger
	now           func() time.Time
}

// NewService creates a checkout service.
func NewService(provider Provider, payments payment.Store, tenants tenant.Store, publicBaseURL string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider:      provider,
		payments:      payments,
		tenants:       tenants,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
		now:           time.Now,
	}
}

// CallbackURLs builds the success, cancel and failure return URLs for a
// checkout. Each carries the store, plan and token so the confirmation
// page can poll without any extra lookup.
func CallbackURLs(base, storeID string, plan tenant.Plan, token string) (success, cancel, failure string) {
	q := url.Values{}
	q.Set("store", storeID)
	q.Set("plan", string(plan))
	q.Set("token", token)
	enc := q.Encode()
	return base + "/billing/success?" + enc,
		base + "/billing/cancel?" + enc,
		base + "/billing/failure?" + enc
}

// CreateCheckout validates the plan and amount, records a pending payment
// keyed by the idempotency token and opens a provider checkout for it.
// Replaying a token returns the checkout already created for it.
func (s *Service) CreateCheckout(ctx context.Context, in CheckoutInput) (_ *CheckoutResult, err error) {
	ctx, span := traces.StartSpan(ctx, "gateway.CreateCheckout",
		traces.StoreID(in.StoreID), traces.Plan(string(in.TargetPlan)), traces.Amount(in.Amount.String()))
	defer func() {
		checkoutsTotal.WithLabelValues(s.provider.Name(), checkoutResult(err)).Inc()
		traces.End(span, err)
	}()

	if !tenant.PaidPlan(in.TargetPlan) {
		return nil, ErrInvalidPlan
	}
	if !tenant.PriceMatches(in.TargetPlan, in.Amount) {
		return nil, fmt.Errorf("%w: %s costs %s", ErrPriceMismatch, in.TargetPlan, tenant.MonthlyPrice(in.TargetPlan).StringFixed(2))
	}

	token := strings.TrimSpace(in.IdempotencyKey)
	if token == "" {
		token = idgen.New()
	}

	if existing, err := s.payments.Get(ctx, token); err == nil {
		return s.resume(ctx, existing, in)
	} else if !errors.Is(err, payment.ErrNotFound) {
		return nil, err
	}

	storeID := in.StoreID
	currentPlan := in.CurrentPlan
	if storeID == "" {
		storeID = payment.SignupPrefix + idgen.New()
		currentPlan = tenant.PlanTrial
	} else {
		t, err := s.tenants.Get(ctx, storeID)
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return nil, ErrStoreNotFound
		}
		if err != nil {
			return nil, err
		}
		currentPlan = t.Plan
	}

	now := s.now()
	p := &payment.PendingPayment{
		ID:           token,
		StoreID:      storeID,
		StoreName:    in.StoreName,
		UserID:       in.UserID,
		UserEmail:    in.UserEmail,
		Phone:        in.Phone,
		Plan:         in.TargetPlan,
		CurrentPlan:  currentPlan,
		Amount:       in.Amount,
		Currency:     tenant.Currency,
		ReferralCode: strings.ToUpper(strings.TrimSpace(in.ReferralCode)),
		Status:       payment.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		if errors.Is(err, payment.ErrDuplicate) {
			// Lost a race with a concurrent request using the same token.
			existing, getErr := s.payments.Get(ctx, token)
			if getErr != nil {
				return nil, getErr
			}
			return s.resume(ctx, existing, in)
		}
		return nil, err
	}

	return s.open(ctx, p)
}

// resume continues a checkout whose token was seen before.
func (s *Service) resume(ctx context.Context, p *payment.PendingPayment, in CheckoutInput) (*CheckoutResult, error) {
	if p.Plan != in.TargetPlan || (in.StoreID != "" && p.StoreID != in.StoreID) {
		return nil, fmt.Errorf("%w: token belongs to another checkout", payment.ErrDuplicate)
	}
	if p.PaymentReference != "" {
		return &CheckoutResult{
			Success:     true,
			CheckoutID:  p.PaymentReference,
			RedirectURL: p.RedirectURL,
			Token:       p.ID,
			Replayed:    true,
		}, nil
	}
	if p.Status != payment.StatusPending {
		return nil, payment.ErrNotPending
	}
	// The provider call failed last time; the provider dedupes on the token.
	return s.open(ctx, p)
}

func (s *Service) open(ctx context.Context, p *payment.PendingPayment) (*CheckoutResult, error) {
	success, cancel, failure := CallbackURLs(s.publicBaseURL, p.StoreID, p.Plan, p.ID)
	meta := map[string]string{
		MetaCheckoutToken: p.ID,
		MetaStoreID:       p.StoreID,
		MetaUpgradeTo:     string(p.Plan),
		MetaUpgradeFrom:   string(p.CurrentPlan),
	}
	if p.ReferralCode != "" {
		meta[MetaReferralCode] = p.ReferralCode
	}

	sess, err := s.provider.CreateCheckout(ctx, CheckoutRequest{
		AmountCents:    tenant.Cents(p.Amount),
		Currency:       p.Currency,
		Description:    fmt.Sprintf("%s plan (%d days)", tenant.Plans[p.Plan].Name, tenant.PeriodDays),
		CustomerEmail:  p.UserEmail,
		SuccessURL:     success,
		CancelURL:      cancel,
		FailureURL:     failure,
		Metadata:       meta,
		IdempotencyKey: p.ID,
	})
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			s.logger.Error("checkout blocked: payment provider not configured",
				"provider", s.provider.Name(), "store", p.StoreID, "error", err)
		} else {
			s.logger.Warn("checkout creation failed", "provider", s.provider.Name(), "store", p.StoreID, "error", err)
		}
		return nil, err
	}

	if err := s.payments.SetReference(ctx, p.ID, sess.ID, sess.RedirectURL); err != nil {
		return nil, fmt.Errorf("bind checkout reference: %w", err)
	}

	s.logger.Info("checkout created",
		"provider", s.provider.Name(), "store", p.StoreID, "kind", p.Kind(),
		"plan", p.Plan, "checkout", sess.ID, "amount", p.Amount.StringFixed(2))
	return &CheckoutResult{
		Success:     true,
		CheckoutID:  sess.ID,
		RedirectURL: sess.RedirectURL,
		Token:       p.ID,
	}, nil
}
