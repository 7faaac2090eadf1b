package tenant

import "context"

// Store persists tenant data.
type Store interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context, limit int) ([]*Tenant, error)

	// UpdatePlan replaces the plan state only if the stored state still
	// matches expected. It returns ErrConflict otherwise. When next carries a
	// new payment reference, the reference is recorded in the same write and
	// a reference recorded before yields ErrPaymentApplied.
	UpdatePlan(ctx context.Context, id string, expected, next PlanState) error

	// PaymentApplied reports whether ref was ever credited to the tenant.
	PaymentApplied(ctx context.Context, id, ref string) (bool, error)

	SetSubscription(ctx context.Context, id, subscriptionID string) error
}
