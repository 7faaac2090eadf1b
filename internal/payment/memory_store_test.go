package payment

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
)

func newPending(id, store string) *PendingPayment {
	now := time.Now()
	return &PendingPayment{
		ID:        id,
		StoreID:   store,
		Plan:      tenant.PlanPro,
		Amount:    decimal.NewFromInt(159),
		Currency:  tenant.Currency,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindSignup, KindOf("signup_abc"))
	assert.Equal(t, KindUpgrade, KindOf("store-1"))
	assert.Equal(t, KindSignup, newPending("tok", "signup_x").Kind())
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Create(ctx, newPending("tok_1", "store-1")))
	assert.ErrorIs(t, s.Create(ctx, newPending("tok_1", "store-1")), ErrDuplicate)
}

func TestMemoryStore_SetReference(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newPending("tok_1", "store-1")))
	require.NoError(t, s.Create(ctx, newPending("tok_2", "store-2")))

	require.NoError(t, s.SetReference(ctx, "tok_1", "ch_1", "https://pay/ch_1"))
	// Re-binding the same reference is allowed.
	require.NoError(t, s.SetReference(ctx, "tok_1", "ch_1", "https://pay/ch_1"))

	assert.ErrorIs(t, s.SetReference(ctx, "tok_1", "ch_other", ""), ErrReferenceTaken)
	assert.ErrorIs(t, s.SetReference(ctx, "tok_2", "ch_1", ""), ErrReferenceTaken)
	assert.ErrorIs(t, s.SetReference(ctx, "missing", "ch_9", ""), ErrNotFound)

	got, err := s.GetByReference(ctx, "ch_1")
	require.NoError(t, err)
	assert.Equal(t, "tok_1", got.ID)
	assert.Equal(t, "https://pay/ch_1", got.RedirectURL)

	_, err = s.GetByReference(ctx, "ch_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_MarkProcessedOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newPending("tok_1", "store-1")))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.MarkProcessed(ctx, "tok_1"); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrAlreadyProcessed)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	got, err := s.Get(ctx, "tok_1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, got.Status)
	assert.NotNil(t, got.ProcessedAt)
	assert.True(t, got.IsTerminal())
}

func TestMemoryStore_MarkFailed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newPending("tok_1", "store-1")))

	require.NoError(t, s.MarkFailed(ctx, "tok_1", "card declined"))
	require.NoError(t, s.MarkFailed(ctx, "tok_1", "card declined"))

	got, _ := s.Get(ctx, "tok_1")
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "card declined", got.FailureReason)

	// A later successful attempt still completes the payment.
	require.NoError(t, s.MarkProcessed(ctx, "tok_1"))
	assert.ErrorIs(t, s.MarkFailed(ctx, "tok_1", "late failure"), ErrAlreadyProcessed)
}

func TestMemoryStore_ListStale(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	old := newPending("tok_old", "store-1")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Create(ctx, old))

	oldDone := newPending("tok_done", "store-2")
	oldDone.CreatedAt = time.Now().Add(-72 * time.Hour)
	require.NoError(t, s.Create(ctx, oldDone))
	require.NoError(t, s.MarkProcessed(ctx, "tok_done"))

	require.NoError(t, s.Create(ctx, newPending("tok_new", "store-3")))

	stale, err := s.ListStale(ctx, time.Now().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "tok_old", stale[0].ID)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newPending("tok_1", "store-1")))

	got, _ := s.Get(ctx, "tok_1")
	got.Status = StatusProcessed

	again, _ := s.Get(ctx, "tok_1")
	assert.Equal(t, StatusPending, again.Status)
}
