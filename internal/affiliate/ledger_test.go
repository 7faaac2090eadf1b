package affiliate

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	l := NewLedger(store, decimal.NewFromInt(30), nil).WithClock(func() time.Time { return t0 })
	return l, store
}

func setupReferral(t *testing.T, l *Ledger, storeID string) (*Affiliate, *Referral) {
	t.Helper()
	ctx := context.Background()
	a, err := l.Register(ctx, RegisterRequest{Name: "Lerato Mokoena", Code: "LERA0001"})
	require.NoError(t, err)
	r, err := l.CreateReferral(ctx, "lera0001", storeID, tenant.PlanPro)
	require.NoError(t, err)
	return a, r
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCommissionFor(t *testing.T) {
	assert.True(t, dec("47.70").Equal(CommissionFor(tenant.PlanPro, decimal.NewFromInt(30))))
	assert.True(t, dec("89.70").Equal(CommissionFor(tenant.PlanPremium, decimal.NewFromInt(30))))
	assert.True(t, dec("15.90").Equal(CommissionFor(tenant.PlanPro, decimal.NewFromInt(10))))
	assert.True(t, CommissionFor(tenant.PlanTrial, decimal.NewFromInt(30)).IsZero())
}

func TestGenerateCode(t *testing.T) {
	code := GenerateCode("Jo Ndlovu")
	assert.Regexp(t, `^JOND[0-9]{4}$`, code)
	assert.Regexp(t, `^ABXX[0-9]{4}$`, GenerateCode("a-b"))
}

func TestRegister(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	a, err := l.Register(ctx, RegisterRequest{Name: "Sipho Dlamini"})
	require.NoError(t, err)
	assert.Regexp(t, `^SIPH[0-9]{4}$`, a.Code)
	assert.True(t, a.CommissionRate.Equal(decimal.NewFromInt(30)))
	assert.True(t, a.Conserved())

	_, err = l.Register(ctx, RegisterRequest{Name: "Other", Code: a.Code})
	assert.ErrorIs(t, err, ErrCodeTaken)

	bad := decimal.NewFromInt(120)
	_, err = l.Register(ctx, RegisterRequest{Name: "Greedy", Rate: &bad})
	assert.Error(t, err)

	_, err = l.Register(ctx, RegisterRequest{Name: "Short", Code: "ab"})
	assert.Error(t, err)
}

func TestAccrueCommission_FirstPayment(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	a, r := setupReferral(t, l, "store_1")

	acc, err := l.AccrueCommission(ctx, r.ID, "pay_1", tenant.PlanPro)
	require.NoError(t, err)
	assert.True(t, dec("47.70").Equal(acc.Amount))

	got, err := store.GetAffiliate(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, dec("47.70").Equal(got.TotalEarned))
	assert.True(t, dec("47.70").Equal(got.AvailableBalance))
	assert.True(t, got.Conserved())

	ref, err := store.GetReferral(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ReferralActive, ref.Status)
	assert.Equal(t, 1, ref.CommissionMonthsPaid)
	require.NotNil(t, ref.FirstPaymentDate)
	assert.True(t, ref.FirstPaymentDate.Equal(t0))
}

func TestAccrueCommission_DuplicatePeriod(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	a, r := setupReferral(t, l, "store_1")

	_, err := l.AccrueCommission(ctx, r.ID, "pay_1", tenant.PlanPro)
	require.NoError(t, err)
	_, err = l.AccrueCommission(ctx, r.ID, "pay_1", tenant.PlanPro)
	assert.ErrorIs(t, err, ErrPeriodRecorded)

	got, _ := store.GetAffiliate(ctx, a.ID)
	assert.True(t, dec("47.70").Equal(got.TotalEarned))
	ref, _ := store.GetReferral(ctx, r.ID)
	assert.Equal(t, 1, ref.CommissionMonthsPaid)
}

func TestAccrueCommission_TwelveMonthCap(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	a, r := setupReferral(t, l, "store_1")

	for i := 1; i <= MaxCommissionMonths; i++ {
		_, err := l.AccrueCommission(ctx, r.ID, fmt.Sprintf("pay_%d", i), tenant.PlanPro)
		require.NoError(t, err, "month %d", i)
	}
	_, err := l.AccrueCommission(ctx, r.ID, "pay_13", tenant.PlanPro)
	assert.ErrorIs(t, err, ErrCommissionWindowExhausted)

	got, _ := store.GetAffiliate(ctx, a.ID)
	assert.True(t, dec("572.40").Equal(got.TotalEarned), got.TotalEarned.String())
	assert.True(t, got.Conserved())

	accruals, err := store.ListAccruals(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, accruals, MaxCommissionMonths)
}

func TestAccrueCommission_UpgradeChangesBasis(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, r := setupReferral(t, l, "store_1")

	acc, err := l.AccrueCommission(ctx, r.ID, "pay_1", tenant.PlanPremium)
	require.NoError(t, err)
	assert.True(t, dec("89.70").Equal(acc.Amount))

	acc, err = l.AccrueCommission(ctx, r.ID, "pay_2", "")
	require.NoError(t, err)
	assert.Equal(t, tenant.PlanPremium, acc.Plan)
}

func TestAccrueCommission_RejectsTrial(t *testing.T) {
	l, _ := newTestLedger(t)
	_, r := setupReferral(t, l, "store_1")

	_, err := l.AccrueCommission(context.Background(), r.ID, "pay_1", tenant.PlanTrial)
	assert.ErrorIs(t, err, tenant.ErrInvalidPlan)
}

func TestEndReferral_StopsAccrual(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, r := setupReferral(t, l, "store_1")

	_, err := l.AccrueCommission(ctx, r.ID, "pay_1", tenant.PlanPro)
	require.NoError(t, err)

	ended, err := l.EndReferral(ctx, "store_1", ReferralChurned)
	require.NoError(t, err)
	assert.Equal(t, ReferralChurned, ended.Status)

	_, err = l.AccrueCommission(ctx, r.ID, "pay_2", tenant.PlanPro)
	assert.ErrorIs(t, err, ErrReferralInactive)

	// Ending again is a no-op and keeps the first terminal status.
	again, err := l.EndReferral(ctx, "store_1", ReferralCancelled)
	require.NoError(t, err)
	assert.Equal(t, ReferralChurned, again.Status)

	none, err := l.EndReferral(ctx, "store_unreferred", ReferralChurned)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = l.EndReferral(ctx, "store_1", ReferralActive)
	assert.Error(t, err)
}

func TestCreateReferral_Errors(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	setupReferral(t, l, "store_1")

	_, err := l.CreateReferral(ctx, "NOPE0000", "store_2", tenant.PlanPro)
	assert.ErrorIs(t, err, ErrAffiliateNotFound)

	_, err = l.CreateReferral(ctx, "LERA0001", "store_1", tenant.PlanPro)
	assert.ErrorIs(t, err, ErrReferralExists)
}

func TestRequestPayout(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	a, r := setupReferral(t, l, "store_1")

	// Available 30.00: too little for a 50 payout.
	store.Corrupt(a.ID, func(a *Affiliate) {
		a.TotalEarned = dec("30")
		a.AvailableBalance = dec("30")
	})
	_, err := l.RequestPayout(ctx, a.ID, dec("50"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = l.RequestPayout(ctx, a.ID, dec("20"))
	assert.ErrorIs(t, err, ErrBelowMinimum)
	_, err = l.RequestPayout(ctx, a.ID, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	store.Corrupt(a.ID, func(a *Affiliate) {
		a.TotalEarned = decimal.Zero
		a.AvailableBalance = decimal.Zero
	})
	for i := 1; i <= 2; i++ {
		_, err := l.AccrueCommission(ctx, r.ID, fmt.Sprintf("pay_%d", i), tenant.PlanPro)
		require.NoError(t, err)
	}

	p, err := l.RequestPayout(ctx, a.ID, dec("60"))
	require.NoError(t, err)
	assert.Equal(t, PayoutRequested, p.Status)
	assert.Equal(t, "2026-03", p.MonthFor)

	got, _ := store.GetAffiliate(ctx, a.ID)
	assert.True(t, dec("35.40").Equal(got.AvailableBalance), got.AvailableBalance.String())
	assert.True(t, dec("60").Equal(got.RequestedPayout))
	assert.True(t, got.Conserved())
}

func TestPayoutSettleAndFail(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	a, r := setupReferral(t, l, "store_1")
	for i := 1; i <= 4; i++ {
		_, err := l.AccrueCommission(ctx, r.ID, fmt.Sprintf("pay_%d", i), tenant.PlanPro)
		require.NoError(t, err)
	}
	// 4 x 47.70 = 190.80

	first, err := l.RequestPayout(ctx, a.ID, dec("100"))
	require.NoError(t, err)
	second, err := l.RequestPayout(ctx, a.ID, dec("50"))
	require.NoError(t, err)

	_, err = l.MarkProcessing(ctx, first.ID, PayoutProcessing)
	require.NoError(t, err)
	_, err = l.MarkProcessing(ctx, first.ID, PayoutPaid)
	assert.Error(t, err)

	settled, err := l.SettlePayout(ctx, first.ID, "EFT-2026-03-001")
	require.NoError(t, err)
	assert.Equal(t, PayoutPaid, settled.Status)
	assert.Equal(t, "EFT-2026-03-001", settled.PaymentReference)
	require.NotNil(t, settled.SettledAt)

	failed, err := l.FailPayout(ctx, second.ID, "bank account closed")
	require.NoError(t, err)
	assert.Equal(t, PayoutFailed, failed.Status)

	got, _ := store.GetAffiliate(ctx, a.ID)
	assert.True(t, dec("190.80").Equal(got.TotalEarned))
	assert.True(t, dec("100").Equal(got.TotalPaid))
	assert.True(t, dec("90.80").Equal(got.AvailableBalance), got.AvailableBalance.String())
	assert.True(t, got.RequestedPayout.IsZero())
	assert.True(t, got.Conserved())

	_, err = l.SettlePayout(ctx, first.ID, "again")
	assert.ErrorIs(t, err, ErrPayoutClosed)
	_, err = l.FailPayout(ctx, second.ID, "again")
	assert.ErrorIs(t, err, ErrPayoutClosed)
	_, err = l.SettlePayout(ctx, "po_missing", "x")
	assert.ErrorIs(t, err, ErrPayoutNotFound)
}

func TestConcurrentPayoutsNeverOverdraw(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	a, r := setupReferral(t, l, "store_1")
	for i := 1; i <= 3; i++ {
		_, err := l.AccrueCommission(ctx, r.ID, fmt.Sprintf("pay_%d", i), tenant.PlanPro)
		require.NoError(t, err)
	}
	// 143.10 available: at most two 60s fit.

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.RequestPayout(ctx, a.ID, dec("60")); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, ok)
	got, _ := store.GetAffiliate(ctx, a.ID)
	assert.False(t, got.AvailableBalance.IsNegative())
	assert.True(t, got.Conserved())
}

func TestConcurrentAccrualSamePeriod(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	a, r := setupReferral(t, l, "store_1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.AccrueCommission(ctx, r.ID, "pay_same", tenant.PlanPro)
		}()
	}
	wg.Wait()

	got, _ := store.GetAffiliate(ctx, a.ID)
	assert.True(t, dec("47.70").Equal(got.TotalEarned))
}

func TestAudit(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	a, r := setupReferral(t, l, "store_1")
	_, err := l.AccrueCommission(ctx, r.ID, "pay_1", tenant.PlanPro)
	require.NoError(t, err)

	violations, err := l.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)

	store.Corrupt(a.ID, func(a *Affiliate) {
		a.AvailableBalance = a.AvailableBalance.Add(dec("10"))
	})
	violations, err = l.Audit(ctx)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, a.ID, violations[0].AffiliateID)
	assert.True(t, dec("-10").Equal(violations[0].Drift))

	// Audit reports only; the balance stays as found.
	got, _ := store.GetAffiliate(ctx, a.ID)
	assert.True(t, dec("57.70").Equal(got.AvailableBalance))
}

func TestSummary(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	a, r := setupReferral(t, l, "store_1")
	_, err := l.AccrueCommission(ctx, r.ID, "pay_1", tenant.PlanPremium)
	require.NoError(t, err)
	_, err = l.RequestPayout(ctx, a.ID, dec("50"))
	require.NoError(t, err)

	s, err := l.Summary(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, s.Affiliate.ID)
	assert.Len(t, s.Referrals, 1)
	assert.Len(t, s.Payouts, 1)

	_, err = l.Summary(ctx, "aff_missing")
	assert.ErrorIs(t, err, ErrAffiliateNotFound)
}
