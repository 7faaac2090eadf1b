//go:build integration

package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuckshop-za/tuckshop/internal/testutil"
)

func TestPostgresStore_UpdatePlanIsConditional(t *testing.T) {
	db := testutil.Postgres(t)
	ctx := context.Background()
	s := NewPostgresStore(db)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Create(ctx, &Tenant{ID: "abc-123", Name: "Spaza", Plan: PlanTrial, CreatedAt: now, UpdatedAt: now}))
	assert.ErrorIs(t, s.Create(ctx, &Tenant{ID: "abc-123", Name: "Again", Plan: PlanTrial, CreatedAt: now, UpdatedAt: now}), ErrTenantExists)

	cur, err := s.Get(ctx, "abc-123")
	require.NoError(t, err)

	expires := now.Add(PeriodDays * 24 * time.Hour)
	next := PlanState{Plan: PlanPro, StartedAt: &now, ExpiresAt: &expires, PaymentReference: "ch_1"}
	require.NoError(t, s.UpdatePlan(ctx, "abc-123", cur.State(), next))

	// A writer holding the old state loses.
	assert.ErrorIs(t, s.UpdatePlan(ctx, "abc-123", cur.State(), next), ErrConflict)
	assert.ErrorIs(t, s.UpdatePlan(ctx, "missing", cur.State(), next), ErrTenantNotFound)

	got, err := s.Get(ctx, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, PlanPro, got.Plan)
	assert.True(t, got.State().Matches(next))

	applied, err := s.PaymentApplied(ctx, "abc-123", "ch_1")
	require.NoError(t, err)
	assert.True(t, applied)

	later := expires.Add(PeriodDays * 24 * time.Hour)
	second := PlanState{Plan: PlanPro, StartedAt: &now, ExpiresAt: &later, PaymentReference: "ch_2"}
	require.NoError(t, s.UpdatePlan(ctx, "abc-123", next, second))

	replay := PlanState{Plan: PlanPro, StartedAt: &now, ExpiresAt: ptr(later.Add(Period)), PaymentReference: "ch_1"}
	assert.ErrorIs(t, s.UpdatePlan(ctx, "abc-123", second, replay), ErrPaymentApplied)

	got, err = s.Get(ctx, "abc-123")
	require.NoError(t, err)
	assert.True(t, got.State().Matches(second), "the rejected replay rolls back with its plan write")

	require.NoError(t, s.SetSubscription(ctx, "abc-123", "sub_1"))
	got, err = s.Get(ctx, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", got.SubscriptionID)
}
