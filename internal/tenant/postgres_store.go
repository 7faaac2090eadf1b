package tenant

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantColumns = `id, name, owner_id, owner_email, phone, plan, plan_started_at, plan_expires_at,
	payment_reference, subscription_id, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.Name, t.OwnerID, t.OwnerEmail, t.Phone, string(t.Plan), t.PlanStartedAt, t.PlanExpiresAt,
		t.PaymentReference, t.SubscriptionID, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrTenantExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Tenant, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdatePlan is a compare-and-swap on the full plan state. A new payment
// reference is inserted into tenant_payments in the same transaction, so
// the plan write and the idempotency record commit or roll back together.
func (p *PostgresStore) UpdatePlan(ctx context.Context, id string, expected, next PlanState) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE tenants
		SET plan = $1, plan_started_at = $2, plan_expires_at = $3, payment_reference = $4, updated_at = NOW()
		WHERE id = $5
		  AND plan = $6
		  AND plan_started_at IS NOT DISTINCT FROM $7::TIMESTAMPTZ
		  AND plan_expires_at IS NOT DISTINCT FROM $8::TIMESTAMPTZ
		  AND payment_reference = $9`,
		string(next.Plan), next.StartedAt, next.ExpiresAt, next.PaymentReference,
		id, string(expected.Plan), expected.StartedAt, expected.ExpiresAt, expected.PaymentReference,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return p.missingOr(ctx, tx, id, ErrConflict)
	}

	if newPayment(expected, next) {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO tenant_payments (tenant_id, payment_reference)
			VALUES ($1, $2)
			ON CONFLICT (tenant_id, payment_reference) DO NOTHING`,
			id, next.PaymentReference,
		)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		if n == 0 {
			return ErrPaymentApplied
		}
	}
	return tx.Commit()
}

// missingOr returns ErrTenantNotFound when id does not exist, else fallback.
func (p *PostgresStore) missingOr(ctx context.Context, tx *sql.Tx, id string, fallback error) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tenants WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrTenantNotFound
	}
	return fallback
}

func (p *PostgresStore) PaymentApplied(ctx context.Context, id, ref string) (bool, error) {
	var applied, exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM tenant_payments WHERE tenant_id = $1 AND payment_reference = $2),
		       EXISTS(SELECT 1 FROM tenants WHERE id = $1)`,
		id, ref,
	).Scan(&applied, &exists)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrTenantNotFound
	}
	return applied, nil
}

func (p *PostgresStore) SetSubscription(ctx context.Context, id, subscriptionID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET subscription_id = $1, updated_at = NOW() WHERE id = $2`,
		subscriptionID, id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTenantNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(row scanner) (*Tenant, error) {
	t := &Tenant{}
	var (
		plan               string
		startedAt, expires sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Name, &t.OwnerID, &t.OwnerEmail, &t.Phone, &plan, &startedAt, &expires,
		&t.PaymentReference, &t.SubscriptionID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Plan = Plan(plan)
	t.PlanStartedAt = nullTime(startedAt)
	t.PlanExpiresAt = nullTime(expires)
	return t, nil
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

// Migrate creates the tenants table (used in dev/test; prod uses migration files).
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			owner_id          TEXT NOT NULL DEFAULT '',
			owner_email       TEXT NOT NULL DEFAULT '',
			phone             TEXT NOT NULL DEFAULT '',
			plan              TEXT NOT NULL DEFAULT 'trial',
			plan_started_at   TIMESTAMPTZ,
			plan_expires_at   TIMESTAMPTZ,
			payment_reference TEXT NOT NULL DEFAULT '',
			subscription_id   TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT tenants_expiry_iff_paid CHECK ((plan = 'trial') = (plan_expires_at IS NULL))
		);
		CREATE INDEX IF NOT EXISTS idx_tenants_plan_expires ON tenants(plan_expires_at) WHERE plan_expires_at IS NOT NULL;
		CREATE TABLE IF NOT EXISTS tenant_payments (
			tenant_id         TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			payment_reference TEXT NOT NULL,
			applied_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (tenant_id, payment_reference)
		);
	`)
	return err
}

var _ Store = (*PostgresStore)(nil)
