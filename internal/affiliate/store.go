package affiliate

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
)

// AccrualRequest describes one commission period to record.
type AccrualRequest struct {
	ReferralID string
	Period     string
	Plan       tenant.Plan
	Amount     decimal.Decimal
	At         time.Time
}

// Store persists the commission ledger. Balance-changing methods apply the
// referral, accrual and affiliate writes as one unit.
type Store interface {
	CreateAffiliate(ctx context.Context, a *Affiliate) error
	GetAffiliate(ctx context.Context, id string) (*Affiliate, error)
	GetAffiliateByCode(ctx context.Context, code string) (*Affiliate, error)
	ListAffiliates(ctx context.Context) ([]*Affiliate, error)

	CreateReferral(ctx context.Context, r *Referral) error
	GetReferral(ctx context.Context, id string) (*Referral, error)
	GetReferralByStore(ctx context.Context, storeID string) (*Referral, error)
	ListReferrals(ctx context.Context, affiliateID string) ([]*Referral, error)

	// SetReferralStatus moves a referral to status only from an earning status.
	SetReferralStatus(ctx context.Context, id string, status ReferralStatus) error

	// AccrueCommission records a period, bumps the referral's counters and
	// credits the affiliate. Rejects inactive referrals, exhausted windows
	// and periods already recorded.
	AccrueCommission(ctx context.Context, req AccrualRequest) (*Accrual, error)
	ListAccruals(ctx context.Context, referralID string) ([]*Accrual, error)

	// CreatePayout moves p.Amount from available to requested and inserts p.
	CreatePayout(ctx context.Context, p *Payout) error
	GetPayout(ctx context.Context, id string) (*Payout, error)
	ListPayouts(ctx context.Context, affiliateID string) ([]*Payout, error)

	// MarkPayoutProcessing advances an open payout without moving funds.
	MarkPayoutProcessing(ctx context.Context, id string, status PayoutStatus) (*Payout, error)

	// SettlePayout moves an open payout's amount from requested to paid.
	SettlePayout(ctx context.Context, id, reference string, at time.Time) (*Payout, error)

	// FailPayout returns an open payout's amount from requested to available.
	FailPayout(ctx context.Context, id, reason string, at time.Time) (*Payout, error)
}
