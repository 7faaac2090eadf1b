package affiliate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
)

// PostgresStore implements Store with PostgreSQL. Balance changes run in
// serializable transactions with row locks, and CHECK constraints reject
// negative balances at the DB level.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables with NUMERIC columns
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS affiliates (
			id                TEXT PRIMARY KEY,
			code              TEXT NOT NULL,
			name              TEXT NOT NULL,
			email             TEXT NOT NULL DEFAULT '',
			phone             TEXT NOT NULL DEFAULT '',
			commission_rate   NUMERIC(5,2) NOT NULL,
			total_earned      NUMERIC(20,2) NOT NULL DEFAULT 0,
			total_paid        NUMERIC(20,2) NOT NULL DEFAULT 0,
			available_balance NUMERIC(20,2) NOT NULL DEFAULT 0,
			requested_payout  NUMERIC(20,2) NOT NULL DEFAULT 0,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT chk_available_nonneg CHECK (available_balance >= 0),
			CONSTRAINT chk_requested_nonneg CHECK (requested_payout >= 0)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_affiliates_code ON affiliates(UPPER(code));

		CREATE TABLE IF NOT EXISTS referrals (
			id                      TEXT PRIMARY KEY,
			affiliate_id            TEXT NOT NULL REFERENCES affiliates(id),
			store_id                TEXT NOT NULL UNIQUE,
			plan                    TEXT NOT NULL,
			status                  TEXT NOT NULL DEFAULT 'pending',
			commission_rate         NUMERIC(5,2) NOT NULL,
			commission_months_paid  INTEGER NOT NULL DEFAULT 0,
			total_commission_earned NUMERIC(20,2) NOT NULL DEFAULT 0,
			first_payment_date      TIMESTAMPTZ,
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT chk_months_cap CHECK (commission_months_paid BETWEEN 0 AND 12)
		);
		CREATE INDEX IF NOT EXISTS idx_referrals_affiliate ON referrals(affiliate_id);

		CREATE TABLE IF NOT EXISTS commission_accruals (
			referral_id  TEXT NOT NULL REFERENCES referrals(id),
			period       TEXT NOT NULL,
			affiliate_id TEXT NOT NULL,
			plan         TEXT NOT NULL,
			amount       NUMERIC(20,2) NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (referral_id, period)
		);

		CREATE TABLE IF NOT EXISTS affiliate_payouts (
			id                TEXT PRIMARY KEY,
			affiliate_id      TEXT NOT NULL REFERENCES affiliates(id),
			amount            NUMERIC(20,2) NOT NULL CHECK (amount > 0),
			status            TEXT NOT NULL DEFAULT 'requested',
			month_for         TEXT NOT NULL,
			payment_reference TEXT NOT NULL DEFAULT '',
			failure_reason    TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			settled_at        TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_payouts_affiliate ON affiliate_payouts(affiliate_id);
	`)
	return err
}

const affiliateColumns = `id, code, name, email, phone, commission_rate, total_earned, total_paid,
	available_balance, requested_payout, created_at, updated_at`

const referralColumns = `id, affiliate_id, store_id, plan, status, commission_rate, commission_months_paid,
	total_commission_earned, first_payment_date, created_at, updated_at`

const payoutColumns = `id, affiliate_id, amount, status, month_for, payment_reference, failure_reason,
	created_at, updated_at, settled_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAffiliate(row scanner) (*Affiliate, error) {
	a := &Affiliate{}
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Email, &a.Phone, &a.CommissionRate, &a.TotalEarned,
		&a.TotalPaid, &a.AvailableBalance, &a.RequestedPayout, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAffiliateNotFound
	}
	return a, err
}

func scanReferral(row scanner) (*Referral, error) {
	r := &Referral{}
	var (
		plan, status string
		first        sql.NullTime
	)
	err := row.Scan(&r.ID, &r.AffiliateID, &r.StoreID, &plan, &status, &r.CommissionRate,
		&r.CommissionMonthsPaid, &r.TotalCommissionEarned, &first, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReferralNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Plan = tenant.Plan(plan)
	r.Status = ReferralStatus(status)
	if first.Valid {
		t := first.Time
		r.FirstPaymentDate = &t
	}
	return r, nil
}

func scanPayout(row scanner) (*Payout, error) {
	p := &Payout{}
	var (
		status  string
		settled sql.NullTime
	)
	err := row.Scan(&p.ID, &p.AffiliateID, &p.Amount, &status, &p.MonthFor, &p.PaymentReference,
		&p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &settled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPayoutNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Status = PayoutStatus(status)
	if settled.Valid {
		t := settled.Time
		p.SettledAt = &t
	}
	return p, nil
}

func (p *PostgresStore) CreateAffiliate(ctx context.Context, a *Affiliate) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO affiliates (`+affiliateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.Code, a.Name, a.Email, a.Phone, a.CommissionRate, a.TotalEarned, a.TotalPaid,
		a.AvailableBalance, a.RequestedPayout, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrCodeTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetAffiliate(ctx context.Context, id string) (*Affiliate, error) {
	return scanAffiliate(p.db.QueryRowContext(ctx, `SELECT `+affiliateColumns+` FROM affiliates WHERE id = $1`, id))
}

func (p *PostgresStore) GetAffiliateByCode(ctx context.Context, code string) (*Affiliate, error) {
	return scanAffiliate(p.db.QueryRowContext(ctx, `SELECT `+affiliateColumns+` FROM affiliates WHERE UPPER(code) = UPPER($1)`, code))
}

func (p *PostgresStore) ListAffiliates(ctx context.Context) ([]*Affiliate, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+affiliateColumns+` FROM affiliates ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Affiliate
	for rows.Next() {
		a, err := scanAffiliate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateReferral(ctx context.Context, r *Referral) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO referrals (`+referralColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.AffiliateID, r.StoreID, string(r.Plan), string(r.Status), r.CommissionRate,
		r.CommissionMonthsPaid, r.TotalCommissionEarned, r.FirstPaymentDate, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code {
			case "23505":
				return ErrReferralExists
			case "23503":
				return ErrAffiliateNotFound
			}
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetReferral(ctx context.Context, id string) (*Referral, error) {
	return scanReferral(p.db.QueryRowContext(ctx, `SELECT `+referralColumns+` FROM referrals WHERE id = $1`, id))
}

func (p *PostgresStore) GetReferralByStore(ctx context.Context, storeID string) (*Referral, error) {
	return scanReferral(p.db.QueryRowContext(ctx, `SELECT `+referralColumns+` FROM referrals WHERE store_id = $1`, storeID))
}

func (p *PostgresStore) ListReferrals(ctx context.Context, affiliateID string) ([]*Referral, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+referralColumns+` FROM referrals WHERE affiliate_id = $1 ORDER BY created_at`, affiliateID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Referral
	for rows.Next() {
		r, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetReferralStatus(ctx context.Context, id string, status ReferralStatus) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE referrals SET status = $2, updated_at = NOW()
		WHERE id = $1 AND (status = $2 OR status IN ('pending', 'active'))`,
		id, string(status))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := p.GetReferral(ctx, id); err != nil {
			return err
		}
		return ErrReferralInactive
	}
	return nil
}

func (p *PostgresStore) AccrueCommission(ctx context.Context, req AccrualRequest) (*Accrual, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		affiliateID, status string
		monthsPaid          int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT affiliate_id, status, commission_months_paid FROM referrals WHERE id = $1 FOR UPDATE`,
		req.ReferralID).Scan(&affiliateID, &status, &monthsPaid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReferralNotFound
	}
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO commission_accruals (referral_id, period, affiliate_id, plan, amount, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,2), $6)
		ON CONFLICT (referral_id, period) DO NOTHING`,
		req.ReferralID, req.Period, affiliateID, string(req.Plan), req.Amount.String(), req.At)
	if err != nil {
		return nil, fmt.Errorf("failed to record accrual: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrPeriodRecorded
	}

	if !ReferralStatus(status).Earning() {
		return nil, ErrReferralInactive
	}
	if monthsPaid >= MaxCommissionMonths {
		return nil, ErrCommissionWindowExhausted
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE referrals SET
			commission_months_paid  = commission_months_paid + 1,
			total_commission_earned = total_commission_earned + $2::NUMERIC(20,2),
			status                  = 'active',
			plan                    = $3,
			first_payment_date      = COALESCE(first_payment_date, $4),
			updated_at              = $4
		WHERE id = $1`,
		req.ReferralID, req.Amount.String(), string(req.Plan), req.At)
	if err != nil {
		return nil, fmt.Errorf("failed to update referral: %w", err)
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE affiliates SET
			total_earned      = total_earned + $2::NUMERIC(20,2),
			available_balance = available_balance + $2::NUMERIC(20,2),
			updated_at        = $3
		WHERE id = $1`,
		affiliateID, req.Amount.String(), req.At)
	if err != nil {
		return nil, fmt.Errorf("failed to credit affiliate: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrAffiliateNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Accrual{
		ReferralID:  req.ReferralID,
		AffiliateID: affiliateID,
		Period:      req.Period,
		Plan:        req.Plan,
		Amount:      req.Amount,
		CreatedAt:   req.At,
	}, nil
}

func (p *PostgresStore) ListAccruals(ctx context.Context, referralID string) ([]*Accrual, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT referral_id, affiliate_id, period, plan, amount, created_at
		FROM commission_accruals WHERE referral_id = $1 ORDER BY created_at`, referralID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Accrual
	for rows.Next() {
		acc := &Accrual{}
		var plan string
		var amount decimal.Decimal
		if err := rows.Scan(&acc.ReferralID, &acc.AffiliateID, &acc.Period, &plan, &amount, &acc.CreatedAt); err != nil {
			return nil, err
		}
		acc.Plan = tenant.Plan(plan)
		acc.Amount = amount
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreatePayout(ctx context.Context, po *Payout) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE affiliates SET
			available_balance = available_balance - $2::NUMERIC(20,2),
			requested_payout  = requested_payout + $2::NUMERIC(20,2),
			updated_at        = $3
		WHERE id = $1 AND available_balance >= $2::NUMERIC(20,2)`,
		po.AffiliateID, po.Amount.String(), po.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to reserve payout: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM affiliates WHERE id = $1)`, po.AffiliateID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrAffiliateNotFound
		}
		return ErrInsufficientBalance
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO affiliate_payouts (`+payoutColumns+`)
		VALUES ($1, $2, $3::NUMERIC(20,2), $4, $5, $6, $7, $8, $9, $10)`,
		po.ID, po.AffiliateID, po.Amount.String(), string(po.Status), po.MonthFor, po.PaymentReference,
		po.FailureReason, po.CreatedAt, po.UpdatedAt, po.SettledAt)
	if err != nil {
		return fmt.Errorf("failed to record payout: %w", err)
	}
	return tx.Commit()
}

func (p *PostgresStore) GetPayout(ctx context.Context, id string) (*Payout, error) {
	return scanPayout(p.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM affiliate_payouts WHERE id = $1`, id))
}

func (p *PostgresStore) ListPayouts(ctx context.Context, affiliateID string) ([]*Payout, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM affiliate_payouts WHERE affiliate_id = $1 ORDER BY created_at DESC`, affiliateID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Payout
	for rows.Next() {
		po, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkPayoutProcessing(ctx context.Context, id string, status PayoutStatus) (*Payout, error) {
	if !status.Open() {
		return nil, ErrPayoutClosed
	}
	row := p.db.QueryRowContext(ctx, `
		UPDATE affiliate_payouts SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('requested', 'pending', 'processing')
		RETURNING `+payoutColumns, id, string(status))
	po, err := scanPayout(row)
	if errors.Is(err, ErrPayoutNotFound) {
		if _, gerr := p.GetPayout(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrPayoutClosed
	}
	return po, err
}

// closePayout locks an open payout, moves its amount on the affiliate with
// balanceSQL and sets its final status.
func (p *PostgresStore) closePayout(ctx context.Context, id string, at time.Time, balanceSQL, payoutSQL string, payoutArgs ...any) (*Payout, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		affiliateID, status string
		amount              decimal.Decimal
	)
	err = tx.QueryRowContext(ctx, `
		SELECT affiliate_id, status, amount FROM affiliate_payouts WHERE id = $1 FOR UPDATE`, id).
		Scan(&affiliateID, &status, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPayoutNotFound
	}
	if err != nil {
		return nil, err
	}
	if !PayoutStatus(status).Open() {
		return nil, ErrPayoutClosed
	}

	if _, err := tx.ExecContext(ctx, balanceSQL, affiliateID, amount.String(), at); err != nil {
		return nil, fmt.Errorf("failed to update affiliate: %w", err)
	}

	args := append([]any{id, at}, payoutArgs...)
	po, err := scanPayout(tx.QueryRowContext(ctx, payoutSQL, args...))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return po, nil
}

func (p *PostgresStore) SettlePayout(ctx context.Context, id, reference string, at time.Time) (*Payout, error) {
	return p.closePayout(ctx, id, at, `
		UPDATE affiliates SET
			requested_payout = requested_payout - $2::NUMERIC(20,2),
			total_paid       = total_paid + $2::NUMERIC(20,2),
			updated_at       = $3
		WHERE id = $1`, `
		UPDATE affiliate_payouts SET status = 'paid', payment_reference = $3, settled_at = $2, updated_at = $2
		WHERE id = $1
		RETURNING `+payoutColumns, reference)
}

func (p *PostgresStore) FailPayout(ctx context.Context, id, reason string, at time.Time) (*Payout, error) {
	return p.closePayout(ctx, id, at, `
		UPDATE affiliates SET
			requested_payout  = requested_payout - $2::NUMERIC(20,2),
			available_balance = available_balance + $2::NUMERIC(20,2),
			updated_at        = $3
		WHERE id = $1`, `
		UPDATE affiliate_payouts SET status = 'failed', failure_reason = $3, updated_at = $2
		WHERE id = $1
		RETURNING `+payoutColumns, reason)
}

var _ Store = (*PostgresStore)(nil)
