package tenant

import (
	"time"

	"github.com/shopspring/decimal"
)

// Billing constants.
const (
	Currency    = "ZAR"
	PeriodDays  = 30
	GraceDays   = 3
	Period      = PeriodDays * 24 * time.Hour
	GracePeriod = GraceDays * 24 * time.Hour
)

// PlanConfig defines the price of a pricing tier.
type PlanConfig struct {
	Plan         Plan
	Name         string
	MonthlyPrice decimal.Decimal
	Paid         bool
}

// Plans is the hardcoded plan catalogue.
var Plans = map[Plan]PlanConfig{
	PlanTrial: {
		Plan:         PlanTrial,
		Name:         "Trial",
		MonthlyPrice: decimal.Zero,
	},
	PlanPro: {
		Plan:         PlanPro,
		Name:         "Pro",
		MonthlyPrice: decimal.NewFromInt(159),
		Paid:         true,
	},
	PlanPremium: {
		Plan:         PlanPremium,
		Name:         "Premium",
		MonthlyPrice: decimal.NewFromInt(299),
		Paid:         true,
	},
}

// ValidPlan returns true if the plan name is recognised.
func ValidPlan(p Plan) bool {
	_, ok := Plans[p]
	return ok
}

// PaidPlan returns true for plans that can be purchased.
func PaidPlan(p Plan) bool {
	return Plans[p].Paid
}

// MonthlyPrice returns the plan's monthly price, zero for unknown plans.
func MonthlyPrice(p Plan) decimal.Decimal {
	cfg, ok := Plans[p]
	if !ok {
		return decimal.Zero
	}
	return cfg.MonthlyPrice
}

// PriceMatches reports whether amount equals the plan's monthly price.
func PriceMatches(p Plan, amount decimal.Decimal) bool {
	return PaidPlan(p) && MonthlyPrice(p).Equal(amount)
}

// Cents converts a currency amount into minor units.
func Cents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
