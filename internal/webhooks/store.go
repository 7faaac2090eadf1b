package webhooks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Secret is a store's registered signing secret for storefront payments.
type Secret struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"storeId"`
	Provider  string    `json:"provider"`
	Secret    string    `json:"-"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Receipt is the audit row for one verified delivery.
type Receipt struct {
	Provider        string     `json:"provider"`
	EventID         string     `json:"eventId"`
	EventType       string     `json:"eventType"`
	StoreScope      string     `json:"storeScope,omitempty"`
	Deliveries      int        `json:"deliveries"`
	ReceivedAt      time.Time  `json:"receivedAt"`
	ProcessedAt     *time.Time `json:"processedAt,omitempty"`
	ProcessingError string     `json:"processingError,omitempty"`
}

// SecretStore persists per-store signing secrets.
type SecretStore interface {
	CreateSecret(ctx context.Context, s *Secret) error
	GetSecret(ctx context.Context, id string) (*Secret, error)
	ListSecrets(ctx context.Context, storeID string) ([]*Secret, error)
	DeleteSecret(ctx context.Context, storeID, id string) error
}

// ReceiptStore records verified deliveries, unique on (provider, event id).
type ReceiptStore interface {
	// RecordReceipt inserts the receipt or bumps its delivery count.
	// Returns true on the first delivery.
	RecordReceipt(ctx context.Context, r *Receipt) (bool, error)
	// FinishReceipt sets the processing outcome. An empty errMsg marks success.
	FinishReceipt(ctx context.Context, provider, eventID, errMsg string) error
	ListReceipts(ctx context.Context, limit int) ([]*Receipt, error)
}

// Store is both.
type Store interface {
	SecretStore
	ReceiptStore
}

// MemoryStore is an in-memory Store for demo/development mode.
type MemoryStore struct {
	secrets  map[string]*Secret
	receipts map[string]*Receipt
	mu       sync.RWMutex
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory webhook store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		secrets:  make(map[string]*Secret),
		receipts: make(map[string]*Receipt),
		now:      time.Now,
	}
}

func (m *MemoryStore) CreateSecret(ctx context.Context, s *Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.secrets[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSecret(ctx context.Context, id string) (*Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.secrets[id]
	if !ok {
		return nil, ErrSecretNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSecrets(ctx context.Context, storeID string) ([]*Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Secret
	for _, s := range m.secrets {
		if s.StoreID == storeID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteSecret(ctx context.Context, storeID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[id]
	if !ok || s.StoreID != storeID {
		return ErrSecretNotFound
	}
	delete(m.secrets, id)
	return nil
}

func receiptKey(provider, eventID string) string {
	return provider + "|" + eventID
}

func (m *MemoryStore) RecordReceipt(ctx context.Context, r *Receipt) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := receiptKey(r.Provider, r.EventID)
	if existing, ok := m.receipts[key]; ok {
		existing.Deliveries++
		return false, nil
	}
	cp := *r
	cp.Deliveries = 1
	m.receipts[key] = &cp
	return true, nil
}

func (m *MemoryStore) FinishReceipt(ctx context.Context, provider, eventID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[receiptKey(provider, eventID)]
	if !ok {
		return nil
	}
	r.ProcessingError = errMsg
	if errMsg == "" {
		now := m.now()
		r.ProcessedAt = &now
	}
	return nil
}

func (m *MemoryStore) ListReceipts(ctx context.Context, limit int) ([]*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Receipt, 0, len(m.receipts))
	for _, r := range m.receipts {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
