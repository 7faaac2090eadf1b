// Package affiliate is the commission ledger for the referral program.
//
// Every affiliate satisfies
//
//	TotalEarned == TotalPaid + AvailableBalance + RequestedPayout
//
// and each store mutation preserves it in a single atomic step.
package affiliate

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
)

// Errors
var (
	ErrAffiliateNotFound = errors.New("affiliate: not found")
	ErrReferralNotFound  = errors.New("affiliate: referral not found")
	ErrPayoutNotFound    = errors.New("affiliate: payout not found")
	ErrCodeTaken         = errors.New("affiliate: code already taken")
	ErrReferralExists    = errors.New("affiliate: store already referred")

	ErrCommissionWindowExhausted = errors.New("affiliate: commission window exhausted")
	ErrPeriodRecorded            = errors.New("affiliate: commission already recorded for period")
	ErrReferralInactive          = errors.New("affiliate: referral no longer earns commission")
	ErrInsufficientBalance       = errors.New("affiliate: insufficient available balance")
	ErrBelowMinimum              = errors.New("affiliate: payout below minimum")
	ErrInvalidAmount             = errors.New("affiliate: amount must be positive")
	ErrPayoutClosed              = errors.New("affiliate: payout already settled or failed")
	ErrConservationViolated      = errors.New("affiliate: balance conservation violated")
)

// Program rules.
const (
	MaxCommissionMonths = 12
)

// MinimumPayout is the smallest amount an affiliate may withdraw.
var MinimumPayout = decimal.NewFromInt(50)

// ReferralStatus is the lifecycle of a referral.
type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralActive    ReferralStatus = "active"
	ReferralChurned   ReferralStatus = "churned"
	ReferralCancelled ReferralStatus = "cancelled"
)

// Earning reports whether a referral in this status can still accrue.
func (s ReferralStatus) Earning() bool {
	return s == ReferralPending || s == ReferralActive
}

// PayoutStatus is the lifecycle of a payout request.
type PayoutStatus string

const (
	PayoutRequested  PayoutStatus = "requested"
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutPaid       PayoutStatus = "paid"
	PayoutFailed     PayoutStatus = "failed"
)

// Open reports whether the payout still holds requested funds.
func (s PayoutStatus) Open() bool {
	return s == PayoutRequested || s == PayoutPending || s == PayoutProcessing
}

// Affiliate is a referrer and their balances.
type Affiliate struct {
	ID               string          `json:"id"`
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	Email            string          `json:"email,omitempty"`
	Phone            string          `json:"phone,omitempty"`
	CommissionRate   decimal.Decimal `json:"commissionRate"` // percent
	TotalEarned      decimal.Decimal `json:"totalEarned"`
	TotalPaid        decimal.Decimal `json:"totalPaid"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	RequestedPayout  decimal.Decimal `json:"requestedPayout"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Conserved checks the balance conservation law.
func (a *Affiliate) Conserved() bool {
	return a.TotalEarned.Equal(a.TotalPaid.Add(a.AvailableBalance).Add(a.RequestedPayout))
}

// Referral links an affiliate to a store they brought in.
type Referral struct {
	ID                    string          `json:"id"`
	AffiliateID           string          `json:"affiliateId"`
	StoreID               string          `json:"storeId"`
	Plan                  tenant.Plan     `json:"plan"`
	Status                ReferralStatus  `json:"status"`
	CommissionRate        decimal.Decimal `json:"commissionRate"`
	CommissionMonthsPaid  int             `json:"commissionMonthsPaid"`
	TotalCommissionEarned decimal.Decimal `json:"totalCommissionEarned"`
	FirstPaymentDate      *time.Time      `json:"firstPaymentDate,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// Accrual is one recorded commission period for a referral.
type Accrual struct {
	ReferralID  string          `json:"referralId"`
	AffiliateID string          `json:"affiliateId"`
	Period      string          `json:"period"`
	Plan        tenant.Plan     `json:"plan"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Payout is a withdrawal of commission.
type Payout struct {
	ID               string          `json:"id"`
	AffiliateID      string          `json:"affiliateId"`
	Amount           decimal.Decimal `json:"amount"`
	Status           PayoutStatus    `json:"status"`
	MonthFor         string          `json:"monthFor"`
	PaymentReference string          `json:"paymentReference,omitempty"`
	FailureReason    string          `json:"failureReason,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	SettledAt        *time.Time      `json:"settledAt,omitempty"`
}

// CommissionFor computes one month's commission for a plan at rate percent,
// rounded to cents.
func CommissionFor(plan tenant.Plan, rate decimal.Decimal) decimal.Decimal {
	return tenant.MonthlyPrice(plan).Mul(rate).Div(decimal.NewFromInt(100)).Round(2)
}
