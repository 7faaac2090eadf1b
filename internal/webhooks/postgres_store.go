package webhooks

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists signing secrets and delivery receipts in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed webhook store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the webhook tables (used in dev/test; prod uses migration files).
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_secrets (
			id          VARCHAR(40) PRIMARY KEY,
			store_id    VARCHAR(64) NOT NULL,
			provider    VARCHAR(20) NOT NULL,
			secret      TEXT NOT NULL,
			active      BOOLEAN NOT NULL DEFAULT TRUE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_webhook_secrets_store ON webhook_secrets(store_id) WHERE active = TRUE;

		CREATE TABLE IF NOT EXISTS webhook_events (
			provider          VARCHAR(20) NOT NULL,
			event_id          VARCHAR(255) NOT NULL,
			event_type        VARCHAR(100) NOT NULL,
			store_scope       VARCHAR(64) NOT NULL DEFAULT '',
			deliveries        INTEGER NOT NULL DEFAULT 1,
			received_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at      TIMESTAMPTZ,
			processing_error  TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (provider, event_id)
		);
		CREATE INDEX IF NOT EXISTS idx_webhook_events_received ON webhook_events(received_at DESC);
	`)
	return err
}

func (p *PostgresStore) CreateSecret(ctx context.Context, s *Secret) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_secrets (id, store_id, provider, secret, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.StoreID, s.Provider, s.Secret, s.Active, s.CreatedAt)
	return err
}

func (p *PostgresStore) GetSecret(ctx context.Context, id string) (*Secret, error) {
	s := &Secret{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, store_id, provider, secret, active, created_at
		FROM webhook_secrets WHERE id = $1
	`, id).Scan(&s.ID, &s.StoreID, &s.Provider, &s.Secret, &s.Active, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) ListSecrets(ctx context.Context, storeID string) ([]*Secret, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, store_id, provider, secret, active, created_at
		FROM webhook_secrets WHERE store_id = $1 ORDER BY created_at DESC
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Secret
	for rows.Next() {
		s := &Secret{}
		if err := rows.Scan(&s.ID, &s.StoreID, &s.Provider, &s.Secret, &s.Active, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DeleteSecret(ctx context.Context, storeID, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM webhook_secrets WHERE id = $1 AND store_id = $2`, id, storeID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSecretNotFound
	}
	return nil
}

func (p *PostgresStore) RecordReceipt(ctx context.Context, r *Receipt) (bool, error) {
	// xmax = 0 only for freshly inserted rows.
	var inserted bool
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO webhook_events (provider, event_id, event_type, store_scope, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, event_id)
		DO UPDATE SET deliveries = webhook_events.deliveries + 1
		RETURNING (xmax = 0)
	`, r.Provider, r.EventID, r.EventType, r.StoreScope, r.ReceivedAt).Scan(&inserted)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (p *PostgresStore) FinishReceipt(ctx context.Context, provider, eventID, errMsg string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_events SET
			processing_error = $1,
			processed_at = CASE WHEN $1 = '' THEN NOW() ELSE processed_at END
		WHERE provider = $2 AND event_id = $3
	`, errMsg, provider, eventID)
	return err
}

func (p *PostgresStore) ListReceipts(ctx context.Context, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT provider, event_id, event_type, store_scope, deliveries, received_at, processed_at, processing_error
		FROM webhook_events ORDER BY received_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Receipt
	for rows.Next() {
		r := &Receipt{}
		var processedAt sql.NullTime
		if err := rows.Scan(&r.Provider, &r.EventID, &r.EventType, &r.StoreScope,
			&r.Deliveries, &r.ReceivedAt, &processedAt, &r.ProcessingError); err != nil {
			return nil, err
		}
		if processedAt.Valid {
			r.ProcessedAt = &processedAt.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
