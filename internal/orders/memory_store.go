package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tuckshop-za/tuckshop/internal/pagination"
)

// MemoryStore is an in-memory order store for demo/development mode.
type MemoryStore struct {
	orders map[string]*Order
	mu     sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*Order)}
}

func (m *MemoryStore) Create(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.OrderNumber]; ok {
		return ErrExists
	}
	cp := *o
	m.orders[o.OrderNumber] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, orderNumber string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderNumber]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) ListByStore(ctx context.Context, storeID string, after *pagination.Cursor, limit int) ([]*Order, error) {
	m.mu.RLock()
	var out []*Order
	for _, o := range m.orders {
		if o.StoreID == storeID && after.Before(o.CreatedAt, o.OrderNumber) {
			cp := *o
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].OrderNumber > out[j].OrderNumber
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkPaid(ctx context.Context, orderNumber, reference string, at time.Time) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderNumber]
	if !ok {
		return nil, ErrNotFound
	}
	if o.PaymentStatus == PaymentPaid {
		return nil, ErrAlreadyPaid
	}
	o.PaymentStatus = PaymentPaid
	o.PaymentReference = reference
	o.FailureReason = ""
	o.PaidAt = &at
	o.UpdatedAt = at
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) MarkFailed(ctx context.Context, orderNumber, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderNumber]
	if !ok {
		return ErrNotFound
	}
	if o.PaymentStatus != PaymentPending {
		return ErrNotPending
	}
	o.PaymentStatus = PaymentFailed
	o.FailureReason = reason
	o.UpdatedAt = at
	return nil
}
