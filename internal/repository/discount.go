package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/velora/pickup-market/internal/domain/promo"
)

const (
	getDiscountByCodeSQL = `SELECT code, discount_type, value, max_discount, min_order_total,
		valid_from, valid_until, max_uses, uses
		FROM discount_codes WHERE UPPER(code) = UPPER($1) AND active = TRUE`

	// Consuming a use re-checks the limit so two concurrent checkouts cannot
	// both take the last use.
	incrementDiscountUsesSQL = `UPDATE discount_codes SET uses = uses + 1
		WHERE UPPER(code) = UPPER($1) AND (max_uses = 0 OR uses < max_uses)`

	releaseDiscountUseSQL = `UPDATE discount_codes SET uses = uses - 1
		WHERE UPPER(code) = UPPER($1) AND uses > 0`
)

var _ promo.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements promo.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode looks up an active discount code (case-insensitive). Returns
// promo.ErrDiscountNotFound when no matching active code exists.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*promo.Rule, error) {
	rows, err := r.pool.Query(ctx, getDiscountByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanDiscountRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrDiscountNotFound
		}
		return nil, fmt.Errorf("finding discount code %q: %w", code, err)
	}
	return &rule, nil
}

// IncrementUses consumes one use of the code, failing with
// promo.ErrDiscountUsageExceeded when the limit is reached.
func (r *DiscountRepository) IncrementUses(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, incrementDiscountUsesSQL, code)
	if err != nil {
		return fmt.Errorf("incrementing uses for code %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrDiscountUsageExceeded
	}
	return nil
}

// ReleaseUse returns a previously consumed use after a failed checkout.
func (r *DiscountRepository) ReleaseUse(ctx context.Context, code string) error {
	_, err := r.pool.Exec(ctx, releaseDiscountUseSQL, code)
	if err != nil {
		return fmt.Errorf("releasing use for code %q: %w", code, err)
	}
	return nil
}

func scanDiscountRule(row pgx.CollectableRow) (promo.Rule, error) {
	var (
		rule         promo.Rule
		discountType string
		value        decimal.Decimal
		maxDiscount  decimal.Decimal
		minOrder     decimal.Decimal
		validFrom    *time.Time
		validUntil   *time.Time
		maxUses      int32
		uses         int32
	)
	err := row.Scan(
		&rule.Code, &discountType, &value, &maxDiscount, &minOrder,
		&validFrom, &validUntil, &maxUses, &uses,
	)
	rule.Type = promo.DiscountType(discountType)
	rule.Value = value
	rule.MaxDiscount = maxDiscount
	rule.MinOrderTotal = minOrder
	rule.ValidFrom = validFrom
	rule.ValidUntil = validUntil
	rule.MaxUses = int(maxUses)
	rule.Uses = int(uses)
	return rule, err
}
