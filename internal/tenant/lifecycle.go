package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// AccessState is the dashboard access level computed from plan and expiry.
type AccessState string

const (
	StateTrial  AccessState = "trial"
	StateActive AccessState = "active"
	StateGrace  AccessState = "grace"
	StateLocked AccessState = "locked"
)

// RenewalPolicy decides where a renewal's new period starts.
type RenewalPolicy string

const (
	// RenewExtendFromExpiry starts the new period at max(previous expiry, now).
	RenewExtendFromExpiry RenewalPolicy = "extend_from_expiry"
	// RenewFromNow starts the new period at now. Expiry still never decreases.
	RenewFromNow RenewalPolicy = "from_now"
)

const maxCASAttempts = 5

// Access is the computed access view of a tenant at a point in time.
type Access struct {
	Plan          Plan        `json:"plan"`
	State         AccessState `json:"state"`
	DaysRemaining int         `json:"daysRemaining"`
	ExpiresAt     *time.Time  `json:"expiresAt,omitempty"`
}

// Transition describes the outcome of a lifecycle operation.
// Applied is false when the operation was a no-op.
type Transition struct {
	TenantID       string     `json:"tenantId"`
	From           Plan       `json:"from"`
	To             Plan       `json:"to"`
	PreviousExpiry *time.Time `json:"previousExpiry,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	Applied        bool       `json:"applied"`
}

// Engine is the only writer of tenant plan state.
type Engine struct {
	store  Store
	policy RenewalPolicy
	now    func() time.Time
	logger *slog.Logger
}

// NewEngine creates a plan lifecycle engine.
func NewEngine(store Store, policy RenewalPolicy, logger *slog.Logger) *Engine {
	if policy == "" {
		policy = RenewExtendFromExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, policy: policy, now: time.Now, logger: logger}
}

// WithClock overrides the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Store returns the underlying tenant store.
func (e *Engine) Store() Store {
	return e.store
}

func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// Evaluate computes a tenant's access state at now.
// Grace covers expiry < now <= expiry+3d; after that the tenant is locked.
func Evaluate(t *Tenant, now time.Time) Access {
	a := Access{Plan: t.Plan, ExpiresAt: t.PlanExpiresAt}
	if t.Plan == PlanTrial || t.PlanExpiresAt == nil {
		a.State = StateTrial
		return a
	}

	expires := *t.PlanExpiresAt
	switch {
	case !now.After(expires):
		a.State = StateActive
		a.DaysRemaining = ceilDays(expires.Sub(now))
	case !now.After(expires.Add(GracePeriod)):
		a.State = StateGrace
		a.DaysRemaining = ceilDays(expires.Add(GracePeriod).Sub(now))
	default:
		a.State = StateLocked
	}
	return a
}

func ceilDays(d time.Duration) int {
	const day = 24 * time.Hour
	days := int(d / day)
	if d%day != 0 {
		days++
	}
	return days
}

// Access loads a tenant and evaluates its access state now.
func (e *Engine) Access(ctx context.Context, tenantID string) (*Tenant, Access, error) {
	t, err := e.store.Get(ctx, tenantID)
	if err != nil {
		return nil, Access{}, err
	}
	return t, Evaluate(t, e.clock()), nil
}

// nextExpiry returns the expiry after a successful payment. It never
// returns a time before the current expiry.
func (e *Engine) nextExpiry(cur *Tenant, now time.Time) time.Time {
	if cur.Plan == PlanTrial || cur.PlanExpiresAt == nil {
		return now.Add(Period)
	}
	prev := *cur.PlanExpiresAt
	if e.policy == RenewFromNow {
		next := now.Add(Period)
		if next.Before(prev) {
			return prev
		}
		return next
	}
	base := now
	if prev.After(now) {
		base = prev
	}
	return base.Add(Period)
}

// ApplyPayment moves a tenant onto a paid plan for a gateway payment.
// Covers first purchase, renewal, upgrade, downgrade and reactivation from
// grace or locked. A payment reference credited at any earlier point is a
// no-op, even after later payments have moved the plan on.
func (e *Engine) ApplyPayment(ctx context.Context, tenantID string, plan Plan, paymentRef string) (*Transition, error) {
	if !PaidPlan(plan) {
		return nil, ErrInvalidPlan
	}
	if paymentRef == "" {
		return nil, errors.New("tenant: payment reference required")
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := e.store.Get(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if cur.PaymentReference == paymentRef {
			return replayed(cur), nil
		}
		applied, err := e.store.PaymentApplied(ctx, tenantID, paymentRef)
		if err != nil {
			return nil, fmt.Errorf("check payment reference: %w", err)
		}
		if applied {
			return replayed(cur), nil
		}

		now := e.clock()
		expires := e.nextExpiry(cur, now)
		started := cur.PlanStartedAt
		if cur.Plan != plan || started == nil {
			started = &now
		}
		next := PlanState{
			Plan:             plan,
			StartedAt:        started,
			ExpiresAt:        &expires,
			PaymentReference: paymentRef,
		}

		err = e.store.UpdatePlan(ctx, tenantID, cur.State(), next)
		if errors.Is(err, ErrConflict) {
			e.logger.Debug("plan update conflict, retrying", "tenant", tenantID, "attempt", attempt+1)
			continue
		}
		if errors.Is(err, ErrPaymentApplied) {
			return replayed(cur), nil
		}
		if err != nil {
			return nil, fmt.Errorf("persist plan: %w", err)
		}

		e.logger.Info("plan payment applied",
			"tenant", tenantID, "from", cur.Plan, "to", plan,
			"expires_at", expires, "payment_reference", paymentRef)
		return &Transition{
			TenantID:       tenantID,
			From:           cur.Plan,
			To:             plan,
			PreviousExpiry: cur.PlanExpiresAt,
			ExpiresAt:      &expires,
			Applied:        true,
		}, nil
	}
	return nil, ErrConflict
}

// replayed is the no-op transition for a payment reference already credited.
func replayed(cur *Tenant) *Transition {
	return &Transition{
		TenantID:  cur.ID,
		From:      cur.Plan,
		To:        cur.Plan,
		ExpiresAt: cur.PlanExpiresAt,
	}
}

// Cancel reverts a tenant to the non-expiring trial plan after the gateway
// cancels its subscription. Cancelling a trial tenant is a no-op.
func (e *Engine) Cancel(ctx context.Context, tenantID string) (*Transition, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := e.store.Get(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if cur.Plan == PlanTrial {
			return &Transition{TenantID: tenantID, From: PlanTrial, To: PlanTrial}, nil
		}

		next := PlanState{
			Plan:             PlanTrial,
			PaymentReference: cur.PaymentReference,
		}
		err = e.store.UpdatePlan(ctx, tenantID, cur.State(), next)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("persist plan: %w", err)
		}

		e.logger.Info("subscription cancelled, reverted to trial", "tenant", tenantID, "from", cur.Plan)
		return &Transition{
			TenantID:       tenantID,
			From:           cur.Plan,
			To:             PlanTrial,
			PreviousExpiry: cur.PlanExpiresAt,
			Applied:        true,
		}, nil
	}
	return nil, ErrConflict
}

// Provision creates a new trial tenant, as at signup.
func (e *Engine) Provision(ctx context.Context, t *Tenant) error {
	now := e.clock()
	t.Plan = PlanTrial
	t.PlanStartedAt = nil
	t.PlanExpiresAt = nil
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	return e.store.Create(ctx, t)
}
