package tenant

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory tenant store for demo/development.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	applied map[string]map[string]struct{} // tenant -> payment references
}

// NewMemoryStore creates a new in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[string]*Tenant),
		applied: make(map[string]map[string]struct{}),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneTenant(t *Tenant) *Tenant {
	cp := *t
	cp.PlanStartedAt = copyTime(t.PlanStartedAt)
	cp.PlanExpiresAt = copyTime(t.PlanExpiresAt)
	return &cp
}

func (m *MemoryStore) Create(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tenants[t.ID]; exists {
		return ErrTenantExists
	}
	m.tenants[t.ID] = cloneTenant(t)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return cloneTenant(t), nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, cloneTenant(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdatePlan(_ context.Context, id string, expected, next PlanState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[id]
	if !ok {
		return ErrTenantNotFound
	}
	if !t.State().Matches(expected) {
		return ErrConflict
	}
	if newPayment(expected, next) {
		refs := m.applied[id]
		if refs == nil {
			refs = make(map[string]struct{})
			m.applied[id] = refs
		}
		if _, dup := refs[next.PaymentReference]; dup {
			return ErrPaymentApplied
		}
		refs[next.PaymentReference] = struct{}{}
	}
	t.Plan = next.Plan
	t.PlanStartedAt = copyTime(next.StartedAt)
	t.PlanExpiresAt = copyTime(next.ExpiresAt)
	t.PaymentReference = next.PaymentReference
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) PaymentApplied(_ context.Context, id, ref string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.tenants[id]; !ok {
		return false, ErrTenantNotFound
	}
	_, ok := m.applied[id][ref]
	return ok, nil
}

func (m *MemoryStore) SetSubscription(_ context.Context, id, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[id]
	if !ok {
		return ErrTenantNotFound
	}
	t.SubscriptionID = subscriptionID
	t.UpdatedAt = time.Now()
	return nil
}

var _ Store = (*MemoryStore)(nil)
