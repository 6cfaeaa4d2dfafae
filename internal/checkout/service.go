// Package checkout drives a customer cart through promotion resolution,
// allocation, order materialization and settlement.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velora/pickup-market/internal/domain/allocation"
	"github.com/velora/pickup-market/internal/domain/cart"
	"github.com/velora/pickup-market/internal/domain/order"
	"github.com/velora/pickup-market/internal/domain/points"
	"github.com/velora/pickup-market/internal/domain/promo"
	"github.com/velora/pickup-market/internal/payment"
)

var (
	// ErrCartModified is returned when the cart changed between aggregation
	// and the materializer's transactional re-read.
	ErrCartModified = errors.New("cart modified during checkout")
	// ErrDuplicateAttempt is returned by the materializer when another
	// checkout with the same (customer, idempotency key) already inserted
	// its attempt record.
	ErrDuplicateAttempt = errors.New("checkout attempt already exists")
)

// CreateParams is the input to the materializer's single transaction.
type CreateParams struct {
	CustomerID         string
	IdempotencyKey     string
	Fingerprint        string
	Groups             []cart.RetailerGroup
	Shares             []allocation.Share
	DiscountCode       string
	PointsRedeemed     decimal.Decimal
	PickupInstructions string
}

// Store persists the checkout transaction and its correlation record.
type Store interface {
	// FindAttempt returns the attempt for (customer, idempotency key), or
	// (nil, nil) when none exists.
	FindAttempt(ctx context.Context, customerID, idempotencyKey string) (*order.CheckoutAttempt, error)
	// CreateCheckout atomically verifies the cart fingerprint, inserts one
	// order per group, clears the consumed cart lines, debits points and
	// consumes a discount use. Fails with ErrCartModified on a stale cart.
	CreateCheckout(ctx context.Context, params CreateParams) (*order.CheckoutAttempt, []*order.Order, error)
	SetAttemptOutcome(ctx context.Context, attemptID string, outcome order.Outcome) error
}

// SettlementConfig bounds the per-order processor retry policy.
type SettlementConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

// Config holds the business parameters of the pipeline.
type Config struct {
	CommissionRate decimal.Decimal
	PointsEarnRate decimal.Decimal
	Settlement     SettlementConfig
}

// Service wires the checkout pipeline end to end.
type Service struct {
	carts     cart.Repository
	resolver  *promo.Resolver
	codes     promo.Repository
	ledger    points.Ledger
	store     Store
	orders    order.Repository
	processor payment.Processor
	cfg       Config
	now       func() time.Time
}

// NewService creates the checkout Service with its collaborators.
func NewService(
	carts cart.Repository,
	resolver *promo.Resolver,
	codes promo.Repository,
	ledger points.Ledger,
	store Store,
	orders order.Repository,
	processor payment.Processor,
	cfg Config,
) *Service {
	return &Service{
		carts:     carts,
		resolver:  resolver,
		codes:     codes,
		ledger:    ledger,
		store:     store,
		orders:    orders,
		processor: processor,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Request is one customer-initiated checkout call.
type Request struct {
	CustomerID         string
	IdempotencyKey     string
	DiscountCode       string
	PointsToRedeem     decimal.Decimal
	UseMaxPoints       bool
	PickupInstructions string
}

// RetailerResult reports one retailer group's settlement outcome.
type RetailerResult struct {
	OrderID       string
	RetailerID    string
	RetailerName  string
	Total         decimal.Decimal
	Captured      bool
	RedirectURL   string
	FailureReason string
}

// Result is the overall checkout outcome handed back to the caller. A failed
// group is never silently dropped: every order appears with either a redirect
// handle or a failure reason.
type Result struct {
	AttemptID string
	Outcome   order.Outcome
	Orders    []RetailerResult
	Replayed  bool
}

// Checkout runs the full pipeline: aggregate, resolve promotions, allocate,
// materialize, settle. Validation failures surface before any side effect.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	// Idempotency: a replayed key returns the stored attempt unchanged. A
	// caller without a key gets a generated one, so keyless checkouts stay
	// independent instead of colliding on the attempt's uniqueness.
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	} else {
		attempt, err := s.store.FindAttempt(ctx, req.CustomerID, req.IdempotencyKey)
		if err != nil {
			return nil, errors.Wrap(err, "lookup checkout attempt")
		}
		if attempt != nil {
			return s.replay(ctx, attempt)
		}
	}

	groups, err := s.carts.ListLines(ctx, req.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart lines")
	}
	if len(groups) == 0 {
		return nil, cart.ErrEmptyCart
	}
	fingerprint := cart.Fingerprint(groups)
	retailerGroups := cart.GroupByRetailer(groups)

	grandSubtotal := decimal.Zero
	for _, g := range retailerGroups {
		grandSubtotal = grandSubtotal.Add(g.Subtotal())
	}

	discountAmount := decimal.Zero
	if req.DiscountCode != "" {
		discountAmount, err = s.resolver.ValidateDiscount(ctx, req.DiscountCode, grandSubtotal)
		if err != nil {
			return nil, err
		}
	}

	pointsAmount := decimal.Zero
	if req.UseMaxPoints || req.PointsToRedeem.IsPositive() {
		pointsAmount, err = s.resolver.ValidateRedemption(
			ctx, req.CustomerID, req.PointsToRedeem, grandSubtotal, discountAmount, req.UseMaxPoints)
		if err != nil {
			return nil, err
		}
	}

	allocGroups := make([]allocation.Group, len(retailerGroups))
	for i, g := range retailerGroups {
		allocGroups[i] = allocation.Group{RetailerID: g.RetailerID, Subtotal: g.Subtotal()}
	}
	shares, err := allocation.Allocate(allocGroups, discountAmount, pointsAmount, s.cfg.CommissionRate)
	if err != nil {
		// Allocation infeasibility past validation is fatal, not coercible.
		return nil, errors.Wrap(err, "allocate")
	}

	attempt, orders, err := s.store.CreateCheckout(ctx, CreateParams{
		CustomerID:         req.CustomerID,
		IdempotencyKey:     req.IdempotencyKey,
		Fingerprint:        fingerprint,
		Groups:             retailerGroups,
		Shares:             shares,
		DiscountCode:       req.DiscountCode,
		PointsRedeemed:     pointsAmount,
		PickupInstructions: req.PickupInstructions,
	})
	if err != nil {
		// A concurrent checkout with the same key won the insert between
		// the replay lookup and the materializer; serve its attempt.
		if errors.Is(err, ErrDuplicateAttempt) {
			existing, findErr := s.store.FindAttempt(ctx, req.CustomerID, req.IdempotencyKey)
			if findErr == nil && existing != nil {
				return s.replay(ctx, existing)
			}
		}
		return nil, err
	}

	payoutAccounts := make(map[string]string, len(retailerGroups))
	for _, g := range retailerGroups {
		payoutAccounts[g.RetailerID] = g.PayoutAccount
	}

	results := s.settle(ctx, attempt, orders, payoutAccounts, req.DiscountCode)

	outcome := classify(results)
	if err := s.store.SetAttemptOutcome(ctx, attempt.ID, outcome); err != nil {
		return nil, errors.Wrap(err, "record attempt outcome")
	}

	return &Result{AttemptID: attempt.ID, Outcome: outcome, Orders: results}, nil
}

// replay reconstructs the response for an already-processed idempotency key.
func (s *Service) replay(ctx context.Context, attempt *order.CheckoutAttempt) (*Result, error) {
	orders, err := s.orders.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load attempt orders")
	}

	results := make([]RetailerResult, len(orders))
	for i, o := range orders {
		results[i] = RetailerResult{
			OrderID:       o.ID,
			RetailerID:    o.RetailerID,
			RetailerName:  o.RetailerName,
			Total:         o.Total,
			Captured:      o.Status != order.StatusCancelled,
			RedirectURL:   o.RedirectURL,
			FailureReason: o.CancelReason,
		}
	}
	return &Result{
		AttemptID: attempt.ID,
		Outcome:   attempt.Outcome,
		Orders:    results,
		Replayed:  true,
	}, nil
}

func classify(results []RetailerResult) order.Outcome {
	captured := 0
	for _, r := range results {
		if r.Captured {
			captured++
		}
	}
	switch captured {
	case len(results):
		return order.OutcomeSucceeded
	case 0:
		return order.OutcomeFailed
	default:
		return order.OutcomePartiallyFailed
	}
}

// GetOrder loads one order with its items and settlement breakdown.
func (s *Service) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return s.orders.GetByID(ctx, id)
}

// UpdateStatus applies a retailer/admin-initiated transition. First entry to
// picked_up credits earned points, idempotently keyed by order ID.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to order.Status, reason string) (*order.Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Re-applying picked_up only retries the earn credit. The credit is
	// idempotent by ref, so a failure between the status write and the
	// credit stays recoverable on the next call.
	if to == order.StatusPickedUp && o.Status == order.StatusPickedUp {
		if err := s.creditEarned(ctx, o); err != nil {
			return nil, errors.Wrap(err, "credit earned points")
		}
		return o, nil
	}

	from := o.Status
	now := s.now()
	if to == order.StatusCancelled {
		err = o.Cancel(reason, now)
	} else {
		err = o.Transition(to, now)
	}
	if err != nil {
		return nil, err
	}

	if err := s.orders.UpdateStatus(ctx, o, from); err != nil {
		return nil, errors.Wrap(err, "persist status")
	}

	if to == order.StatusPickedUp {
		if err := s.creditEarned(ctx, o); err != nil {
			return nil, errors.Wrap(err, "credit earned points")
		}
	}
	return o, nil
}

func (s *Service) creditEarned(ctx context.Context, o *order.Order) error {
	earned := points.EarnAmount(o.Total, s.cfg.PointsEarnRate)
	if !earned.IsPositive() {
		return nil
	}
	return s.ledger.Credit(ctx, o.CustomerID, earned, "earn:"+o.ID)
}

// HandlePaymentCallback processes the processor's asynchronous completion
// event: completed captures move pending orders to processing, failed ones
// cancel the order and compensate its allocations.
func (s *Service) HandlePaymentCallback(ctx context.Context, orderID, captureID string, completed bool) (*order.Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CaptureID != "" && o.CaptureID != captureID {
		return nil, errors.Errorf("capture %s does not match order %s", captureID, orderID)
	}

	if completed {
		// Replayed callbacks for an already-processing order are a no-op.
		if o.Status == order.StatusProcessing {
			return o, nil
		}
		from := o.Status
		if err := o.Transition(order.StatusProcessing, s.now()); err != nil {
			return nil, err
		}
		if err := s.orders.UpdateStatus(ctx, o, from); err != nil {
			return nil, errors.Wrap(err, "persist status")
		}
		return o, nil
	}

	if o.Status == order.StatusCancelled {
		return o, nil
	}
	if err := s.compensate(ctx, o, "payment capture failed"); err != nil {
		return nil, err
	}
	return o, nil
}
