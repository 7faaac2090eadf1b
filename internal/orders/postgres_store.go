package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/tuckshop-za/tuckshop/internal/pagination"
)

// PostgresStore persists orders in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the orders table (used in dev/test; prod uses migration files).
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			order_number       VARCHAR(40) PRIMARY KEY,
			store_id           VARCHAR(64) NOT NULL,
			customer_name      TEXT NOT NULL DEFAULT '',
			customer_phone     VARCHAR(20) NOT NULL DEFAULT '',
			total              NUMERIC(20,2) NOT NULL,
			payment_status     VARCHAR(10) NOT NULL DEFAULT 'pending',
			payment_reference  VARCHAR(255) NOT NULL DEFAULT '',
			failure_reason     TEXT NOT NULL DEFAULT '',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			paid_at            TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_orders_store ON orders(store_id, created_at DESC);
	`)
	return err
}

const orderColumns = `order_number, store_id, customer_name, customer_phone, total, payment_status,
	payment_reference, failure_reason, created_at, updated_at, paid_at`

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,2), $6, $7, $8, $9, $10, $11)`,
		o.OrderNumber, o.StoreID, o.CustomerName, o.CustomerPhone, o.Total.String(), string(o.PaymentStatus),
		o.PaymentReference, o.FailureReason, o.CreatedAt, o.UpdatedAt, o.PaidAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, orderNumber string) (*Order, error) {
	return scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, orderNumber))
}

func (p *PostgresStore) ListByStore(ctx context.Context, storeID string, after *pagination.Cursor, limit int) ([]*Order, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+orderColumns+` FROM orders
			WHERE store_id = $1
			ORDER BY created_at DESC, order_number DESC
			LIMIT $2`, storeID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+orderColumns+` FROM orders
			WHERE store_id = $1 AND (created_at, order_number) < ($2, $3)
			ORDER BY created_at DESC, order_number DESC
			LIMIT $4`, storeID, after.CreatedAt, after.Key, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkPaid(ctx context.Context, orderNumber, reference string, at time.Time) (*Order, error) {
	o, err := scanOrder(p.db.QueryRowContext(ctx, `
		UPDATE orders SET payment_status = 'paid', payment_reference = $1, failure_reason = '',
			paid_at = $2, updated_at = $2
		WHERE order_number = $3 AND payment_status <> 'paid'
		RETURNING `+orderColumns,
		reference, at, orderNumber,
	))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := p.Get(ctx, orderNumber); getErr != nil {
			return nil, getErr
		}
		return nil, ErrAlreadyPaid
	}
	return o, err
}

func (p *PostgresStore) MarkFailed(ctx context.Context, orderNumber, reason string, at time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE orders SET payment_status = 'failed', failure_reason = $1, updated_at = $2
		WHERE order_number = $3 AND payment_status = 'pending'`,
		reason, at, orderNumber,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := p.Get(ctx, orderNumber); err != nil {
			return err
		}
		return ErrNotPending
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*Order, error) {
	o := &Order{}
	var total, status string
	var paidAt sql.NullTime
	err := row.Scan(&o.OrderNumber, &o.StoreID, &o.CustomerName, &o.CustomerPhone, &total, &status,
		&o.PaymentReference, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	o.PaymentStatus = PaymentStatus(status)
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	return o, nil
}
