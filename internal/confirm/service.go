package confirm

import (
	"context"
	"errors"
	"time"

	"github.com/tuckshop-za/tuckshop/internal/orders"
	"github.com/tuckshop-za/tuckshop/internal/payment"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
)

// ErrNotFound is returned when the store, order or checkout token is unknown.
// While a signup is being provisioned the store does not exist yet; callers
// polling a signup treat this as "not yet".
var ErrNotFound = errors.New("confirm: not found")

// State is the persisted state a confirmation page renders.
type State struct {
	StoreID       string             `json:"storeId,omitempty"`
	Plan          tenant.Plan        `json:"plan,omitempty"`
	Access        tenant.AccessState `json:"access,omitempty"`
	ExpiresAt     *time.Time         `json:"expiresAt,omitempty"`
	PaymentStatus string             `json:"paymentStatus,omitempty"`
	OrderNumber   string             `json:"orderNumber,omitempty"`
	Total         string             `json:"total,omitempty"`
}

// Service reads confirmation state. It never writes.
type Service struct {
	engine   *tenant.Engine
	payments payment.Store
	orders   orders.Store
}

// NewService creates a confirmation reader.
func NewService(engine *tenant.Engine, payments payment.Store, orderStore orders.Store) *Service {
	return &Service{engine: engine, payments: payments, orders: orderStore}
}

// StoreQuery names the plan checkout being confirmed. Token is the
// checkout's idempotency token from the callback URL; with it the pending
// payment is authoritative, without it the store must be active on Plan.
type StoreQuery struct {
	StoreID string
	Plan    tenant.Plan
	Token   string
}

// StoreState reads a store's plan and, when a token is given, the status of
// its pending payment. Signup identifiers are accepted as issued.
func (s *Service) StoreState(ctx context.Context, q StoreQuery) (*State, bool, error) {
	storeID := payment.TenantID(q.StoreID)
	st := &State{StoreID: storeID}

	var pending *payment.PendingPayment
	if q.Token != "" {
		p, err := s.payments.Get(ctx, q.Token)
		if errors.Is(err, payment.ErrNotFound) {
			return nil, false, ErrNotFound
		}
		if err != nil {
			return nil, false, err
		}
		if payment.TenantID(p.StoreID) != storeID {
			return nil, false, ErrNotFound
		}
		pending = p
		st.PaymentStatus = string(p.Status)
		if q.Plan == "" {
			q.Plan = p.Plan
		}
	}

	t, access, err := s.engine.Access(ctx, storeID)
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		if pending != nil && pending.Kind() == payment.KindSignup {
			return st, false, nil
		}
		return nil, false, ErrNotFound
	case err != nil:
		return nil, false, err
	}
	st.Plan = t.Plan
	st.Access = access.State
	st.ExpiresAt = access.ExpiresAt

	if pending != nil {
		return st, pending.Status == payment.StatusProcessed, nil
	}
	done := q.Plan != "" && t.Plan == q.Plan && access.State == tenant.StateActive
	return st, done, nil
}

// OrderState reads an order's payment status.
func (s *Service) OrderState(ctx context.Context, orderNumber string) (*State, bool, error) {
	o, err := s.orders.Get(ctx, orders.NormalizeNumber(orderNumber))
	if errors.Is(err, orders.ErrNotFound) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}
	st := &State{
		StoreID:       o.StoreID,
		OrderNumber:   o.OrderNumber,
		PaymentStatus: string(o.PaymentStatus),
		Total:         o.Total.StringFixed(2),
	}
	return st, o.PaymentStatus == orders.PaymentPaid, nil
}

// StoreProbe polls StoreState in process.
func (s *Service) StoreProbe(q StoreQuery) Probe {
	return ProbeFunc(func(ctx context.Context) (*State, bool, error) {
		return s.StoreState(ctx, q)
	})
}

// OrderProbe polls OrderState in process.
func (s *Service) OrderProbe(orderNumber string) Probe {
	return ProbeFunc(func(ctx context.Context) (*State, bool, error) {
		return s.OrderState(ctx, orderNumber)
	})
}
