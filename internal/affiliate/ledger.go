package affiliate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tuckshop-za/tuckshop/internal/idgen"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
	"github.com/tuckshop-za/tuckshop/internal/traces"
)

var validCode = regexp.MustCompile(`^[A-Z0-9]{4,16}$`)

// Ledger is the commission ledger service.
type Ledger struct {
	store       Store
	defaultRate decimal.Decimal
	logger      *slog.Logger
	now         func() time.Time
}

// NewLedger creates a commission ledger. defaultRate is a percentage.
func NewLedger(store Store, defaultRate decimal.Decimal, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, defaultRate: defaultRate, logger: logger, now: time.Now}
}

// WithClock overrides the ledger's time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Store returns the underlying store.
func (l *Ledger) Store() Store {
	return l.store
}

// RegisterRequest registers a new affiliate.
type RegisterRequest struct {
	Name  string
	Email string
	Phone string
	Code  string           // generated from Name when empty
	Rate  *decimal.Decimal // defaults to the program rate
}

// GenerateCode derives a JOHN1234-style code from a name.
func GenerateCode(name string) string {
	var letters strings.Builder
	for _, r := range strings.ToUpper(name) {
		if r >= 'A' && r <= 'Z' {
			letters.WriteRune(r)
		}
		if letters.Len() == 4 {
			break
		}
	}
	prefix := letters.String()
	for len(prefix) < 4 {
		prefix += "X"
	}
	return fmt.Sprintf("%s%04d", prefix, rand.IntN(10000))
}

// Register creates an affiliate with zero balances.
func (l *Ledger) Register(ctx context.Context, req RegisterRequest) (*Affiliate, error) {
	rate := l.defaultRate
	if req.Rate != nil {
		rate = *req.Rate
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("affiliate: commission rate must be between 0 and 100")
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	generated := code == ""
	if generated {
		code = GenerateCode(req.Name)
	}
	if !validCode.MatchString(code) {
		return nil, fmt.Errorf("affiliate: code must be 4-16 letters or digits")
	}

	now := l.now()
	a := &Affiliate{
		ID:               idgen.WithPrefix("aff_"),
		Code:             code,
		Name:             req.Name,
		Email:            req.Email,
		Phone:            req.Phone,
		CommissionRate:   rate,
		TotalEarned:      decimal.Zero,
		TotalPaid:        decimal.Zero,
		AvailableBalance: decimal.Zero,
		RequestedPayout:  decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := l.store.CreateAffiliate(ctx, a)
	for attempt := 0; generated && errors.Is(err, ErrCodeTaken) && attempt < 5; attempt++ {
		a.Code = GenerateCode(req.Name)
		err = l.store.CreateAffiliate(ctx, a)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CreateReferral links the affiliate owning code to a store. The referral
// starts pending and locks in the affiliate's current rate.
func (l *Ledger) CreateReferral(ctx context.Context, code, storeID string, plan tenant.Plan) (*Referral, error) {
	a, err := l.store.GetAffiliateByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	now := l.now()
	r := &Referral{
		ID:                    idgen.WithPrefix("ref_"),
		AffiliateID:           a.ID,
		StoreID:               storeID,
		Plan:                  plan,
		Status:                ReferralPending,
		CommissionRate:        a.CommissionRate,
		TotalCommissionEarned: decimal.Zero,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := l.store.CreateReferral(ctx, r); err != nil {
		return nil, err
	}
	l.logger.Info("referral created", "affiliate", a.ID, "code", a.Code, "store", storeID)
	return r, nil
}

// AccrueCommission records one period of commission for a referral. plan is
// the plan just paid for and becomes the referral's commission basis; an
// empty plan keeps the existing basis.
func (l *Ledger) AccrueCommission(ctx context.Context, referralID, period string, plan tenant.Plan) (_ *Accrual, err error) {
	ctx, span := traces.StartSpan(ctx, "affiliate.AccrueCommission", traces.ReferralID(referralID), traces.Reference(period))
	defer func() {
		accrualsTotal.WithLabelValues(accrualResult(err)).Inc()
		traces.End(span, err)
	}()

	r, err := l.store.GetReferral(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if plan == "" {
		plan = r.Plan
	}
	if !tenant.PaidPlan(plan) {
		return nil, tenant.ErrInvalidPlan
	}

	amount := CommissionFor(plan, r.CommissionRate)
	acc, err := l.store.AccrueCommission(ctx, AccrualRequest{
		ReferralID: referralID,
		Period:     period,
		Plan:       plan,
		Amount:     amount,
		At:         l.now(),
	})
	if err != nil {
		return nil, err
	}

	commissionAccrued.Add(amount.InexactFloat64())
	l.logger.Info("commission accrued",
		"referral", referralID, "affiliate", acc.AffiliateID,
		"period", period, "amount", amount.StringFixed(2), "months_paid", r.CommissionMonthsPaid+1)
	return acc, nil
}

// EndReferral stops accrual permanently for the store's referral. A store
// without a referral is not an error.
func (l *Ledger) EndReferral(ctx context.Context, storeID string, status ReferralStatus) (*Referral, error) {
	if status != ReferralChurned && status != ReferralCancelled {
		return nil, fmt.Errorf("affiliate: %q does not end a referral", status)
	}
	r, err := l.store.GetReferralByStore(ctx, storeID)
	if errors.Is(err, ErrReferralNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !r.Status.Earning() {
		return r, nil
	}
	if err := l.store.SetReferralStatus(ctx, r.ID, status); err != nil && !errors.Is(err, ErrReferralInactive) {
		return nil, err
	}
	r.Status = status
	l.logger.Info("referral ended", "referral", r.ID, "store", storeID, "status", status)
	return r, nil
}

// RequestPayout reserves amount from the affiliate's available balance.
func (l *Ledger) RequestPayout(ctx context.Context, affiliateID string, amount decimal.Decimal) (_ *Payout, err error) {
	defer func() { payoutsTotal.WithLabelValues("request", payoutResult(err)).Inc() }()

	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	a, err := l.store.GetAffiliate(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(a.AvailableBalance) {
		return nil, ErrInsufficientBalance
	}
	if amount.LessThan(MinimumPayout) {
		return nil, ErrBelowMinimum
	}

	now := l.now()
	p := &Payout{
		ID:          idgen.WithPrefix("po_"),
		AffiliateID: affiliateID,
		Amount:      amount,
		Status:      PayoutRequested,
		MonthFor:    now.Format("2006-01"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.CreatePayout(ctx, p); err != nil {
		return nil, err
	}
	l.logger.Info("payout requested", "affiliate", affiliateID, "payout", p.ID, "amount", amount.StringFixed(2))
	return p, nil
}

// MarkProcessing advances a payout to pending or processing.
func (l *Ledger) MarkProcessing(ctx context.Context, payoutID string, status PayoutStatus) (*Payout, error) {
	if status != PayoutPending && status != PayoutProcessing {
		return nil, fmt.Errorf("affiliate: cannot mark payout %q", status)
	}
	return l.store.MarkPayoutProcessing(ctx, payoutID, status)
}

// SettlePayout marks a payout paid with the bank transfer reference.
func (l *Ledger) SettlePayout(ctx context.Context, payoutID, reference string) (_ *Payout, err error) {
	defer func() { payoutsTotal.WithLabelValues("settle", payoutResult(err)).Inc() }()

	p, err := l.store.SettlePayout(ctx, payoutID, reference, l.now())
	if err != nil {
		return nil, err
	}
	l.logger.Info("payout settled", "payout", payoutID, "affiliate", p.AffiliateID, "reference", reference)
	return p, nil
}

// FailPayout returns a payout's amount to the available balance.
func (l *Ledger) FailPayout(ctx context.Context, payoutID, reason string) (_ *Payout, err error) {
	defer func() { payoutsTotal.WithLabelValues("fail", payoutResult(err)).Inc() }()

	p, err := l.store.FailPayout(ctx, payoutID, reason, l.now())
	if err != nil {
		return nil, err
	}
	l.logger.Warn("payout failed", "payout", payoutID, "affiliate", p.AffiliateID, "reason", reason)
	return p, nil
}

func payoutResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, ErrPayoutClosed):
		return "closed"
	default:
		return "error"
	}
}

// Summary is an affiliate with its referrals and payouts.
type Summary struct {
	Affiliate *Affiliate  `json:"affiliate"`
	Referrals []*Referral `json:"referrals"`
	Payouts   []*Payout   `json:"payouts"`
}

// Summary loads an affiliate's dashboard view.
func (l *Ledger) Summary(ctx context.Context, affiliateID string) (*Summary, error) {
	a, err := l.store.GetAffiliate(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	refs, err := l.store.ListReferrals(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	payouts, err := l.store.ListPayouts(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	return &Summary{Affiliate: a, Referrals: refs, Payouts: payouts}, nil
}

// Violation is an affiliate whose balances break the conservation law.
type Violation struct {
	AffiliateID      string          `json:"affiliateId"`
	TotalEarned      decimal.Decimal `json:"totalEarned"`
	TotalPaid        decimal.Decimal `json:"totalPaid"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	RequestedPayout  decimal.Decimal `json:"requestedPayout"`
	Drift            decimal.Decimal `json:"drift"`
}

// Audit checks every affiliate against the conservation law. Violations are
// reported, never corrected.
func (l *Ledger) Audit(ctx context.Context) ([]Violation, error) {
	affiliates, err := l.store.ListAffiliates(ctx)
	if err != nil {
		return nil, err
	}
	var out []Violation
	for _, a := range affiliates {
		if a.Conserved() {
			continue
		}
		drift := a.TotalEarned.Sub(a.TotalPaid.Add(a.AvailableBalance).Add(a.RequestedPayout))
		out = append(out, Violation{
			AffiliateID:      a.ID,
			TotalEarned:      a.TotalEarned,
			TotalPaid:        a.TotalPaid,
			AvailableBalance: a.AvailableBalance,
			RequestedPayout:  a.RequestedPayout,
			Drift:            drift,
		})
		l.logger.Error("affiliate balance conservation violated",
			"affiliate", a.ID, "drift", drift.String(), "error", ErrConservationViolated)
	}
	return out, nil
}
