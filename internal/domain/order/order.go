// Package order holds the per-retailer order produced by checkout and its
// post-capture status lifecycle.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrStaleStatus is returned when a status update lost an optimistic
	// race against a concurrent transition.
	ErrStaleStatus = errors.New("order status changed concurrently")
)

// Item is an immutable snapshot of a cart line at checkout time.
type Item struct {
	ProductID   string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// Order is one retailer's slice of a checkout with its settled amounts.
// Orders from the same checkout share only the attempt ID; they carry no
// mutable cross-order state.
//
// Invariants: Total = Subtotal - DiscountAmount - PointsRedeemed,
// Total = RetailerAmount + PlatformCommission, Total >= 0.
type Order struct {
	ID                 string
	AttemptID          string
	CustomerID         string
	RetailerID         string
	RetailerName       string
	Items              []Item
	Status             Status
	Subtotal           decimal.Decimal
	DiscountAmount     decimal.Decimal
	PointsRedeemed     decimal.Decimal
	PlatformCommission decimal.Decimal
	RetailerAmount     decimal.Decimal
	Total              decimal.Decimal
	PickupInstructions string
	CancelReason       string
	CaptureID          string
	RedirectURL        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ReadyForPickupAt   *time.Time
	PickedUpAt         *time.Time
}

// Outcome classifies the overall result of one checkout attempt.
type Outcome string

const (
	// OutcomeInProgress marks an attempt whose settlement has not finished.
	OutcomeInProgress Outcome = "in_progress"
	// OutcomeSucceeded means every order obtained a capture handle.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomePartiallyFailed means at least one order settled and at least
	// one did not.
	OutcomePartiallyFailed Outcome = "partially_failed"
	// OutcomeFailed means no order settled.
	OutcomeFailed Outcome = "failed"
)

// CheckoutAttempt is the durable correlation record for one checkout call,
// keyed by the caller's idempotency key.
type CheckoutAttempt struct {
	ID             string
	CustomerID     string
	IdempotencyKey string
	Outcome        Outcome
	OrderIDs       []string
	CreatedAt      time.Time
}

// Repository defines persistence operations for orders after materialization.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByAttempt(ctx context.Context, attemptID string) ([]*Order, error)
	// UpdateStatus persists a transition with an optimistic guard on the
	// previous status, including the set-once lifecycle timestamps.
	UpdateStatus(ctx context.Context, o *Order, from Status) error
	// SetCapture records the processor's capture handle. The redirect URL
	// is persisted so a replayed checkout can return it again.
	SetCapture(ctx context.Context, orderID, captureID, redirectURL string) error
}
