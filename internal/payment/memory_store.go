package payment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory pending payment store for demo/development.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*PendingPayment
	byRef map[string]string // payment reference -> id
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*PendingPayment),
		byRef: make(map[string]string),
	}
}

func clonePayment(p *PendingPayment) *PendingPayment {
	cp := *p
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}

func (m *MemoryStore) Create(_ context.Context, p *PendingPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[p.ID]; ok {
		return ErrDuplicate
	}
	if p.PaymentReference != "" {
		if _, ok := m.byRef[p.PaymentReference]; ok {
			return ErrReferenceTaken
		}
		m.byRef[p.PaymentReference] = p.ID
	}
	m.byID[p.ID] = clonePayment(p)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*PendingPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePayment(p), nil
}

func (m *MemoryStore) GetByReference(_ context.Context, ref string) (*PendingPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePayment(m.byID[id]), nil
}

func (m *MemoryStore) SetReference(_ context.Context, id, ref, redirectURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if p.PaymentReference == ref {
		p.RedirectURL = redirectURL
		return nil
	}
	if p.PaymentReference != "" {
		return ErrReferenceTaken
	}
	if _, taken := m.byRef[ref]; taken {
		return ErrReferenceTaken
	}
	p.PaymentReference = ref
	p.RedirectURL = redirectURL
	p.UpdatedAt = time.Now()
	m.byRef[ref] = id
	return nil
}

func (m *MemoryStore) MarkProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status == StatusProcessed {
		return ErrAlreadyProcessed
	}
	now := time.Now()
	p.Status = StatusProcessed
	p.FailureReason = ""
	p.ProcessedAt = &now
	p.UpdatedAt = now
	return nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	switch p.Status {
	case StatusProcessed:
		return ErrAlreadyProcessed
	case StatusFailed:
		return nil
	}
	p.Status = StatusFailed
	p.FailureReason = reason
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListStale(_ context.Context, cutoff time.Time, limit int) ([]*PendingPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*PendingPayment
	for _, p := range m.byID {
		if p.Status == StatusPending && p.CreatedAt.Before(cutoff) {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
