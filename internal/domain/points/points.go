// Package points defines the loyalty-points account and ledger contract.
//
// Balances are redeemable cashback in currency minor units, held under the
// invariant balance = totalEarned - totalRedeemed. All mutation goes through
// the ledger's atomic debit/credit operations, serialized per account by the
// backing store.
package points

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrInsufficientPoints is returned when a debit or an explicit redemption
// request exceeds the account balance.
var ErrInsufficientPoints = errors.New("insufficient points balance")

// Account is a customer's loyalty-points balance.
type Account struct {
	CustomerID    string
	Balance       decimal.Decimal
	TotalEarned   decimal.Decimal
	TotalRedeemed decimal.Decimal
}

// Ledger mutates points accounts atomically. Credit is idempotent by ref
// (an order ID plus reason), so a retried completion event or compensation
// cannot double-credit.
type Ledger interface {
	Account(ctx context.Context, customerID string) (*Account, error)
	Balance(ctx context.Context, customerID string) (decimal.Decimal, error)
	Debit(ctx context.Context, customerID string, amount decimal.Decimal, ref string) error
	Credit(ctx context.Context, customerID string, amount decimal.Decimal, ref string) error
}

// EarnAmount returns the points earned for a completed order total at the
// configured earn rate, rounded to 2 decimal places.
func EarnAmount(total, rate decimal.Decimal) decimal.Decimal {
	return total.Mul(rate).Round(2)
}
