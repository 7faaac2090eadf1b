package payment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
)

// PostgresStore persists pending payments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const paymentColumns = `id, store_id, store_name, user_id, user_email, phone, plan, current_plan,
	amount, currency, referral_code, payment_reference, redirect_url, status, failure_reason,
	created_at, updated_at, processed_at`

func (p *PostgresStore) Create(ctx context.Context, pp *PendingPayment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO pending_payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC(20,2), $10, $11, NULLIF($12, ''), $13, $14, $15, $16, $17, $18)`,
		pp.ID, pp.StoreID, pp.StoreName, pp.UserID, pp.UserEmail, pp.Phone, string(pp.Plan), string(pp.CurrentPlan),
		pp.Amount.String(), pp.Currency, pp.ReferralCode, pp.PaymentReference, pp.RedirectURL,
		string(pp.Status), pp.FailureReason, pp.CreatedAt, pp.UpdatedAt, pp.ProcessedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			if pqErr.Constraint == "pending_payments_payment_reference_key" {
				return ErrReferenceTaken
			}
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*PendingPayment, error) {
	return scanPayment(p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM pending_payments WHERE id = $1`, id))
}

func (p *PostgresStore) GetByReference(ctx context.Context, ref string) (*PendingPayment, error) {
	return scanPayment(p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM pending_payments WHERE payment_reference = $1`, ref))
}

func (p *PostgresStore) SetReference(ctx context.Context, id, ref, redirectURL string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE pending_payments
		SET payment_reference = $1, redirect_url = $2, updated_at = NOW()
		WHERE id = $3 AND (payment_reference IS NULL OR payment_reference = $1)`,
		ref, redirectURL, id,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrReferenceTaken
		}
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := p.Get(ctx, id); err != nil {
			return err
		}
		return ErrReferenceTaken
	}
	return nil
}

func (p *PostgresStore) MarkProcessed(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE pending_payments
		SET status = 'processed', failure_reason = '', processed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status <> 'processed'`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := p.Get(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyProcessed
	}
	return nil
}

func (p *PostgresStore) MarkFailed(ctx context.Context, id, reason string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE pending_payments
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, reason)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		cur, err := p.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status == StatusProcessed {
			return ErrAlreadyProcessed
		}
	}
	return nil
}

func (p *PostgresStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*PendingPayment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM pending_payments
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*PendingPayment
	for rows.Next() {
		pp, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pp)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(row scanner) (*PendingPayment, error) {
	pp := &PendingPayment{}
	var (
		plan, currentPlan, status, amount string
		ref                               sql.NullString
		processedAt                       sql.NullTime
	)
	err := row.Scan(&pp.ID, &pp.StoreID, &pp.StoreName, &pp.UserID, &pp.UserEmail, &pp.Phone, &plan, &currentPlan,
		&amount, &pp.Currency, &pp.ReferralCode, &ref, &pp.RedirectURL, &status, &pp.FailureReason,
		&pp.CreatedAt, &pp.UpdatedAt, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pp.Plan = tenant.Plan(plan)
	pp.CurrentPlan = tenant.Plan(currentPlan)
	pp.Status = Status(status)
	pp.PaymentReference = ref.String
	if pp.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if processedAt.Valid {
		t := processedAt.Time
		pp.ProcessedAt = &t
	}
	return pp, nil
}

// Migrate creates the pending_payments table (used in dev/test; prod uses migration files).
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pending_payments (
			id                TEXT PRIMARY KEY,
			store_id          TEXT NOT NULL,
			store_name        TEXT NOT NULL DEFAULT '',
			user_id           TEXT NOT NULL DEFAULT '',
			user_email        TEXT NOT NULL DEFAULT '',
			phone             TEXT NOT NULL DEFAULT '',
			plan              TEXT NOT NULL,
			current_plan      TEXT NOT NULL DEFAULT '',
			amount            NUMERIC(20,2) NOT NULL,
			currency          TEXT NOT NULL DEFAULT 'ZAR',
			referral_code     TEXT NOT NULL DEFAULT '',
			payment_reference TEXT UNIQUE,
			redirect_url      TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL DEFAULT 'pending',
			failure_reason    TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at      TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_pending_payments_store ON pending_payments(store_id);
		CREATE INDEX IF NOT EXISTS idx_pending_payments_stale ON pending_payments(created_at) WHERE status = 'pending';
	`)
	return err
}

var _ Store = (*PostgresStore)(nil)
