//go:build integration

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
	"github.com/tuckshop-za/tuckshop/internal/testutil"
)

func newPGLedger(t *testing.T) (*Ledger, *PostgresStore) {
	t.Helper()
	db := testutil.Postgres(t)
	store := NewPostgresStore(db)
	return NewLedger(store, decimal.NewFromInt(30), nil).WithClock(func() time.Time { return t0 }), store
}

func TestPostgresStore_AccrualIsOncePerPeriod(t *testing.T) {
	l, store := newPGLedger(t)
	ctx := context.Background()
	a, r := setupReferral(t, l, "store_1")

	_, err := l.AccrueCommission(ctx, r.ID, "pay_1", tenant.PlanPro)
	require.NoError(t, err)
	_, err = l.AccrueCommission(ctx, r.ID, "pay_1", tenant.PlanPro)
	assert.ErrorIs(t, err, ErrPeriodRecorded)

	got, err := store.GetAffiliate(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, dec("47.70").Equal(got.TotalEarned))
	assert.True(t, got.Conserved())

	ref, err := store.GetReferral(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ReferralActive, ref.Status)
	assert.Equal(t, 1, ref.CommissionMonthsPaid)
}

func TestPostgresStore_PayoutsConserveBalances(t *testing.T) {
	l, store := newPGLedger(t)
	ctx := context.Background()
	a, r := setupReferral(t, l, "store_1")
	for i := 1; i <= 3; i++ {
		_, err := l.AccrueCommission(ctx, r.ID, fmt.Sprintf("pay_%d", i), tenant.PlanPro)
		require.NoError(t, err)
	}
	// 143.10 available: at most two 60s fit.

	// Concurrent requests never overdraw; serialization failures are
	// allowed to reject some of them.
	var wg sync.WaitGroup
	var mu sync.Mutex
	var payouts []*Payout
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p, err := l.RequestPayout(ctx, a.ID, dec("60")); err == nil {
				mu.Lock()
				payouts = append(payouts, p)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, len(payouts), 2)
	for len(payouts) < 2 {
		p, err := l.RequestPayout(ctx, a.ID, dec("60"))
		require.NoError(t, err)
		payouts = append(payouts, p)
	}
	_, err := l.RequestPayout(ctx, a.ID, dec("60"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = l.SettlePayout(ctx, payouts[0].ID, "EFT-1")
	require.NoError(t, err)
	_, err = l.FailPayout(ctx, payouts[1].ID, "bank account closed")
	require.NoError(t, err)

	got, err := store.GetAffiliate(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, dec("60").Equal(got.TotalPaid))
	assert.True(t, dec("83.10").Equal(got.AvailableBalance), got.AvailableBalance.String())
	assert.True(t, got.RequestedPayout.IsZero())
	assert.True(t, got.Conserved())

	violations, err := l.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)
}
