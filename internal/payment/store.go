package payment

import (
	"context"
	"time"
)

// Store persists pending payments. The payment reference is unique across
// records once bound.
type Store interface {
	// Create inserts a new record. Returns ErrDuplicate if the ID exists.
	Create(ctx context.Context, p *PendingPayment) error
	Get(ctx context.Context, id string) (*PendingPayment, error)
	GetByReference(ctx context.Context, ref string) (*PendingPayment, error)

	// SetReference binds the gateway checkout id to a record that has none.
	SetReference(ctx context.Context, id, ref, redirectURL string) error

	// MarkProcessed flips a non-processed record to processed.
	// Returns ErrAlreadyProcessed if another caller got there first.
	MarkProcessed(ctx context.Context, id string) error

	// MarkFailed flips a pending record to failed.
	MarkFailed(ctx context.Context, id, reason string) error

	// ListStale returns pending records created before cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*PendingPayment, error)
}
