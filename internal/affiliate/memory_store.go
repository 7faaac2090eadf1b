package affiliate

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory ledger store for demo/development.
// A single mutex makes every balance change atomic.
type MemoryStore struct {
	mu         sync.RWMutex
	affiliates map[string]*Affiliate
	codes      map[string]string // upper(code) -> affiliate id
	referrals  map[string]*Referral
	byStore    map[string]string // store id -> referral id
	accruals   map[string]map[string]*Accrual
	payouts    map[string]*Payout
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		affiliates: make(map[string]*Affiliate),
		codes:      make(map[string]string),
		referrals:  make(map[string]*Referral),
		byStore:    make(map[string]string),
		accruals:   make(map[string]map[string]*Accrual),
		payouts:    make(map[string]*Payout),
	}
}

func cloneReferral(r *Referral) *Referral {
	cp := *r
	if r.FirstPaymentDate != nil {
		t := *r.FirstPaymentDate
		cp.FirstPaymentDate = &t
	}
	return &cp
}

func clonePayout(p *Payout) *Payout {
	cp := *p
	if p.SettledAt != nil {
		t := *p.SettledAt
		cp.SettledAt = &t
	}
	return &cp
}

func (m *MemoryStore) CreateAffiliate(_ context.Context, a *Affiliate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToUpper(a.Code)
	if _, taken := m.codes[key]; taken {
		return ErrCodeTaken
	}
	cp := *a
	m.affiliates[a.ID] = &cp
	m.codes[key] = a.ID
	return nil
}

func (m *MemoryStore) GetAffiliate(_ context.Context, id string) (*Affiliate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.affiliates[id]
	if !ok {
		return nil, ErrAffiliateNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetAffiliateByCode(_ context.Context, code string) (*Affiliate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.codes[strings.ToUpper(code)]
	if !ok {
		return nil, ErrAffiliateNotFound
	}
	cp := *m.affiliates[id]
	return &cp, nil
}

func (m *MemoryStore) ListAffiliates(_ context.Context) ([]*Affiliate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Affiliate, 0, len(m.affiliates))
	for _, a := range m.affiliates {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreateReferral(_ context.Context, r *Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.affiliates[r.AffiliateID]; !ok {
		return ErrAffiliateNotFound
	}
	if _, exists := m.byStore[r.StoreID]; exists {
		return ErrReferralExists
	}
	m.referrals[r.ID] = cloneReferral(r)
	m.byStore[r.StoreID] = r.ID
	return nil
}

func (m *MemoryStore) GetReferral(_ context.Context, id string) (*Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.referrals[id]
	if !ok {
		return nil, ErrReferralNotFound
	}
	return cloneReferral(r), nil
}

func (m *MemoryStore) GetReferralByStore(_ context.Context, storeID string) (*Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byStore[storeID]
	if !ok {
		return nil, ErrReferralNotFound
	}
	return cloneReferral(m.referrals[id]), nil
}

func (m *MemoryStore) ListReferrals(_ context.Context, affiliateID string) ([]*Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Referral
	for _, r := range m.referrals {
		if r.AffiliateID == affiliateID {
			out = append(out, cloneReferral(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) SetReferralStatus(_ context.Context, id string, status ReferralStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.referrals[id]
	if !ok {
		return ErrReferralNotFound
	}
	if r.Status == status {
		return nil
	}
	if !r.Status.Earning() {
		return ErrReferralInactive
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) AccrueCommission(_ context.Context, req AccrualRequest) (*Accrual, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.referrals[req.ReferralID]
	if !ok {
		return nil, ErrReferralNotFound
	}
	if _, recorded := m.accruals[r.ID][req.Period]; recorded {
		return nil, ErrPeriodRecorded
	}
	if !r.Status.Earning() {
		return nil, ErrReferralInactive
	}
	if r.CommissionMonthsPaid >= MaxCommissionMonths {
		return nil, ErrCommissionWindowExhausted
	}
	a, ok := m.affiliates[r.AffiliateID]
	if !ok {
		return nil, ErrAffiliateNotFound
	}

	acc := &Accrual{
		ReferralID:  r.ID,
		AffiliateID: r.AffiliateID,
		Period:      req.Period,
		Plan:        req.Plan,
		Amount:      req.Amount,
		CreatedAt:   req.At,
	}
	if m.accruals[r.ID] == nil {
		m.accruals[r.ID] = make(map[string]*Accrual)
	}
	m.accruals[r.ID][req.Period] = acc

	r.CommissionMonthsPaid++
	r.TotalCommissionEarned = r.TotalCommissionEarned.Add(req.Amount)
	r.Status = ReferralActive
	r.Plan = req.Plan
	if r.FirstPaymentDate == nil {
		at := req.At
		r.FirstPaymentDate = &at
	}
	r.UpdatedAt = req.At

	a.TotalEarned = a.TotalEarned.Add(req.Amount)
	a.AvailableBalance = a.AvailableBalance.Add(req.Amount)
	a.UpdatedAt = req.At

	cp := *acc
	return &cp, nil
}

func (m *MemoryStore) ListAccruals(_ context.Context, referralID string) ([]*Accrual, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Accrual
	for _, acc := range m.accruals[referralID] {
		cp := *acc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreatePayout(_ context.Context, p *Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.affiliates[p.AffiliateID]
	if !ok {
		return ErrAffiliateNotFound
	}
	if p.Amount.GreaterThan(a.AvailableBalance) {
		return ErrInsufficientBalance
	}
	a.AvailableBalance = a.AvailableBalance.Sub(p.Amount)
	a.RequestedPayout = a.RequestedPayout.Add(p.Amount)
	a.UpdatedAt = p.CreatedAt
	m.payouts[p.ID] = clonePayout(p)
	return nil
}

func (m *MemoryStore) GetPayout(_ context.Context, id string) (*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	return clonePayout(p), nil
}

func (m *MemoryStore) ListPayouts(_ context.Context, affiliateID string) ([]*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Payout
	for _, p := range m.payouts {
		if p.AffiliateID == affiliateID {
			out = append(out, clonePayout(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) MarkPayoutProcessing(_ context.Context, id string, status PayoutStatus) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	if !p.Status.Open() || !status.Open() {
		return nil, ErrPayoutClosed
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	return clonePayout(p), nil
}

func (m *MemoryStore) SettlePayout(_ context.Context, id, reference string, at time.Time) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	if !p.Status.Open() {
		return nil, ErrPayoutClosed
	}
	a := m.affiliates[p.AffiliateID]
	a.RequestedPayout = a.RequestedPayout.Sub(p.Amount)
	a.TotalPaid = a.TotalPaid.Add(p.Amount)
	a.UpdatedAt = at

	p.Status = PayoutPaid
	p.PaymentReference = reference
	p.SettledAt = &at
	p.UpdatedAt = at
	return clonePayout(p), nil
}

func (m *MemoryStore) FailPayout(_ context.Context, id, reason string, at time.Time) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	if !p.Status.Open() {
		return nil, ErrPayoutClosed
	}
	a := m.affiliates[p.AffiliateID]
	a.RequestedPayout = a.RequestedPayout.Sub(p.Amount)
	a.AvailableBalance = a.AvailableBalance.Add(p.Amount)
	a.UpdatedAt = at

	p.Status = PayoutFailed
	p.FailureReason = reason
	p.UpdatedAt = at
	return clonePayout(p), nil
}

// Corrupt overwrites an affiliate's balances without checks. Tests use it to
// exercise the conservation audit.
func (m *MemoryStore) Corrupt(id string, mutate func(a *Affiliate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.affiliates[id]; ok {
		mutate(a)
	}
}

var _ Store = (*MemoryStore)(nil)
