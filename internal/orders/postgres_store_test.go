//go:build integration

package orders

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuckshop-za/tuckshop/internal/pagination"
	"github.com/tuckshop-za/tuckshop/internal/testutil"
)

func TestPostgresStore_PaymentStatus(t *testing.T) {
	db := testutil.Postgres(t)
	ctx := context.Background()
	s := NewPostgresStore(db)

	seed(t, s, "ORD-1")
	assert.ErrorIs(t, s.Create(ctx, &Order{OrderNumber: "ORD-1", StoreID: "store_1", Total: decimal.NewFromInt(1), CreatedAt: t0, UpdatedAt: t0}), ErrExists)

	require.NoError(t, s.MarkFailed(ctx, "ORD-1", "declined", t0.Add(time.Minute)))
	assert.ErrorIs(t, s.MarkFailed(ctx, "ORD-1", "again", t0.Add(time.Minute)), ErrNotPending)

	o, err := s.MarkPaid(ctx, "ORD-1", "ch_1", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Empty(t, o.FailureReason)

	_, err = s.MarkPaid(ctx, "ORD-1", "ch_1", t0.Add(3*time.Minute))
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	_, err = s.MarkPaid(ctx, "ORD-404", "ch_1", t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_ListByStore(t *testing.T) {
	db := testutil.Postgres(t)
	ctx := context.Background()
	s := NewPostgresStore(db)

	for i, n := range []string{"ORD-1", "ORD-2", "ORD-3"} {
		at := t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Create(ctx, &Order{
			OrderNumber: n, StoreID: "store_1", Total: decimal.NewFromInt(10),
			PaymentStatus: PaymentPending, CreatedAt: at, UpdatedAt: at,
		}))
	}

	first, err := s.ListByStore(ctx, "store_1", nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "ORD-3", first[0].OrderNumber)

	rest, err := s.ListByStore(ctx, "store_1", &pagination.Cursor{CreatedAt: first[1].CreatedAt, Key: first[1].OrderNumber}, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "ORD-1", rest[0].OrderNumber)
}
