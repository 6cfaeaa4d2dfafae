// Package promo validates discount codes and loyalty-point redemptions
// against a checkout's grand total.
package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/velora/pickup-market/internal/domain/points"
)

// DiscountType enumerates the supported discount rule variants.
type DiscountType string

const (
	// DiscountFixed subtracts a fixed monetary amount.
	DiscountFixed DiscountType = "fixed"
	// DiscountPercentage subtracts a percentage of the order total,
	// optionally capped by MaxDiscount.
	DiscountPercentage DiscountType = "percentage"
)

var (
	// ErrDiscountNotFound is returned when no active code matches.
	ErrDiscountNotFound = errors.New("discount code not found")
	// ErrDiscountExpired is returned when a code is outside its valid window.
	ErrDiscountExpired = errors.New("discount code expired")
	// ErrDiscountMinimumNotMet is returned when the order total is below the
	// code's minimum.
	ErrDiscountMinimumNotMet = errors.New("order total below discount minimum")
	// ErrDiscountUsageExceeded is returned when a code has exhausted its uses.
	ErrDiscountUsageExceeded = errors.New("discount code usage limit reached")
	// ErrRedemptionExceedsTotal is returned when an explicitly requested
	// redemption is larger than the payable remainder.
	ErrRedemptionExceedsTotal = errors.New("points redemption exceeds payable total")
)

var hundred = decimal.NewFromInt(100)

// Rule is a discount code with its constraints. Codes are created by admin
// tooling; this package consumes them read-only apart from the usage counter.
type Rule struct {
	Code          string
	Type          DiscountType
	Value         decimal.Decimal
	MaxDiscount   decimal.Decimal
	MinOrderTotal decimal.Decimal
	ValidFrom     *time.Time
	ValidUntil    *time.Time
	MaxUses       int
	Uses          int
}

// Amount evaluates the rule against an order total. The result never exceeds
// the order total, and a positive MaxDiscount caps percentage rules.
func (r *Rule) Amount(orderTotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch r.Type {
	case DiscountPercentage:
		amount = orderTotal.Mul(r.Value).Div(hundred).Round(2)
	default:
		amount = r.Value
	}
	if r.MaxDiscount.IsPositive() {
		amount = decimal.Min(amount, r.MaxDiscount)
	}
	return decimal.Min(amount, orderTotal)
}

// Repository provides lookup and usage accounting for discount codes.
// Lookups are case-insensitive on the code.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	// IncrementUses consumes one use, failing with ErrDiscountUsageExceeded
	// when the limit is already reached.
	IncrementUses(ctx context.Context, code string) error
	// ReleaseUse returns a consumed use, compensating a failed checkout.
	ReleaseUse(ctx context.Context, code string) error
}

// BalanceReader exposes the points balance needed to validate a redemption.
type BalanceReader interface {
	Balance(ctx context.Context, customerID string) (decimal.Decimal, error)
}

// Resolver validates discounts and redemptions against the grand total across
// all retailer groups. Per-group amounts come later, from allocation.
type Resolver struct {
	codes    Repository
	balances BalanceReader
	now      func() time.Time
}

// NewResolver creates a Resolver with the given code repository and balance
// reader.
func NewResolver(codes Repository, balances BalanceReader) *Resolver {
	return &Resolver{codes: codes, balances: balances, now: time.Now}
}

// ValidateDiscount resolves a code against the order total and returns the
// absolute discount amount.
func (r *Resolver) ValidateDiscount(ctx context.Context, code string, orderTotal decimal.Decimal) (decimal.Decimal, error) {
	rule, err := r.codes.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrDiscountNotFound) {
			return decimal.Zero, ErrDiscountNotFound
		}
		return decimal.Zero, errors.Wrap(err, "lookup discount code")
	}

	now := r.now()
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return decimal.Zero, ErrDiscountExpired
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return decimal.Zero, ErrDiscountExpired
	}
	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return decimal.Zero, ErrDiscountUsageExceeded
	}
	if orderTotal.LessThan(rule.MinOrderTotal) {
		return decimal.Zero, ErrDiscountMinimumNotMet
	}

	return rule.Amount(orderTotal), nil
}

// ValidateRedemption checks a requested points redemption against the
// customer's balance and the payable remainder (orderTotal - discountAmount).
// With useMax the requested amount is clamped to whatever is available;
// otherwise an infeasible request is an error.
func (r *Resolver) ValidateRedemption(ctx context.Context, customerID string, requested, orderTotal, discountAmount decimal.Decimal, useMax bool) (decimal.Decimal, error) {
	balance, err := r.balances.Balance(ctx, customerID)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "read points balance")
	}

	remainder := orderTotal.Sub(discountAmount)
	if useMax {
		// A zero requested amount under useMax means "as much as possible".
		if requested.IsPositive() {
			remainder = decimal.Min(requested, remainder)
		}
		return decimal.Min(balance, remainder), nil
	}
	if requested.GreaterThan(balance) {
		return decimal.Zero, points.ErrInsufficientPoints
	}
	if requested.GreaterThan(remainder) {
		return decimal.Zero, ErrRedemptionExceedsTotal
	}
	return requested, nil
}
