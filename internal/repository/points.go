package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/velora/pickup-market/internal/domain/points"
)

var _ points.Ledger = (*PointsRepository)(nil)

// PointsRepository implements points.Ledger backed by PostgreSQL. Debits and
// credits lock the account row, serializing concurrent mutations per customer
// without in-process locks.
type PointsRepository struct {
	pool *pgxpool.Pool
}

// NewPointsRepository returns a PointsRepository that uses the given pool.
func NewPointsRepository(pool *pgxpool.Pool) *PointsRepository {
	return &PointsRepository{pool: pool}
}

// Account returns the customer's points account. A customer without one yet
// has a zero account.
func (r *PointsRepository) Account(ctx context.Context, customerID string) (*points.Account, error) {
	acc := points.Account{CustomerID: customerID}
	err := r.pool.QueryRow(ctx, `
		SELECT balance, total_earned, total_redeemed
		FROM points_accounts WHERE customer_id = $1`,
		customerID,
	).Scan(&acc.Balance, &acc.TotalEarned, &acc.TotalRedeemed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			acc.Balance = decimal.Zero
			acc.TotalEarned = decimal.Zero
			acc.TotalRedeemed = decimal.Zero
			return &acc, nil
		}
		return nil, fmt.Errorf("loading points account %q: %w", customerID, err)
	}
	return &acc, nil
}

// Balance returns only the redeemable balance.
func (r *PointsRepository) Balance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	acc, err := r.Account(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// Debit atomically subtracts amount from the balance, failing with
// points.ErrInsufficientPoints when the balance is too low.
func (r *PointsRepository) Debit(ctx context.Context, customerID string, amount decimal.Decimal, ref string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin debit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := debitTx(ctx, tx, customerID, amount, ref); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Credit atomically adds amount to the balance, idempotently keyed by ref.
// A replayed ref is a no-op.
func (r *PointsRepository) Credit(ctx context.Context, customerID string, amount decimal.Decimal, ref string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin credit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO points_entries (customer_id, direction, amount, ref)
		VALUES ($1, 'credit', $2, $3)
		ON CONFLICT (ref) DO NOTHING`,
		customerID, amount, ref,
	)
	if err != nil {
		return fmt.Errorf("journal credit %q: %w", ref, err)
	}
	if tag.RowsAffected() == 0 {
		// Already credited under this ref.
		return nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO points_accounts (customer_id, balance, total_earned, total_redeemed, updated_at)
		VALUES ($1, $2, $2, 0, now())
		ON CONFLICT (customer_id) DO UPDATE SET
			balance = points_accounts.balance + EXCLUDED.balance,
			total_earned = points_accounts.total_earned + EXCLUDED.total_earned,
			updated_at = now()`,
		customerID, amount,
	)
	if err != nil {
		return fmt.Errorf("apply credit %q: %w", ref, err)
	}
	return tx.Commit(ctx)
}

// debitTx applies a debit inside an existing transaction so the checkout
// materializer can roll the ledger back together with its order inserts.
func debitTx(ctx context.Context, tx pgx.Tx, customerID string, amount decimal.Decimal, ref string) error {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT balance FROM points_accounts WHERE customer_id = $1 FOR UPDATE`,
		customerID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return points.ErrInsufficientPoints
		}
		return fmt.Errorf("locking points account %q: %w", customerID, err)
	}
	if balance.LessThan(amount) {
		return points.ErrInsufficientPoints
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO points_entries (customer_id, direction, amount, ref)
		VALUES ($1, 'debit', $2, $3)`,
		customerID, amount, ref,
	)
	if err != nil {
		return fmt.Errorf("journal debit %q: %w", ref, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE points_accounts SET
			balance = balance - $2,
			total_redeemed = total_redeemed + $2,
			updated_at = now()
		WHERE customer_id = $1`,
		customerID, amount,
	)
	if err != nil {
		return fmt.Errorf("apply debit %q: %w", ref, err)
	}
	return nil
}
