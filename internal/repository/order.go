package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velora/pickup-market/internal/checkout"
	"github.com/velora/pickup-market/internal/domain/cart"
	"github.com/velora/pickup-market/internal/domain/order"
	"github.com/velora/pickup-market/internal/domain/promo"
)

var (
	_ order.Repository = (*OrderRepository)(nil)
	_ checkout.Store   = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository and the checkout materializer
// backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// FindAttempt returns the checkout attempt for (customer, idempotency key),
// or (nil, nil) when none exists.
func (r *OrderRepository) FindAttempt(ctx context.Context, customerID, idempotencyKey string) (*order.CheckoutAttempt, error) {
	var a order.CheckoutAttempt
	err := r.pool.QueryRow(ctx, `
		SELECT id, customer_id, idempotency_key, outcome, created_at
		FROM checkout_attempts WHERE customer_id = $1 AND idempotency_key = $2`,
		customerID, idempotencyKey,
	).Scan(&a.ID, &a.CustomerID, &a.IdempotencyKey, &a.Outcome, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding checkout attempt: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT id FROM orders WHERE attempt_id = $1 ORDER BY retailer_id`, a.ID)
	if err != nil {
		return nil, fmt.Errorf("listing attempt orders: %w", err)
	}
	a.OrderIDs, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("listing attempt orders: %w", err)
	}
	return &a, nil
}

// CreateCheckout runs the materializer transaction: verify the cart is
// unchanged, insert one order per retailer group with its allocated share,
// clear the consumed cart lines, debit redeemed points and consume a discount
// use. Everything commits or rolls back together, so no partial order set is
// ever visible and a failed commit returns the points debit with it.
func (r *OrderRepository) CreateCheckout(ctx context.Context, p checkout.CreateParams) (*order.CheckoutAttempt, []*order.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("begin checkout: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Optimistic staleness check: re-read the cart under lock and compare
	// fingerprints. A concurrent checkout of the same cart either sees the
	// lines gone (empty fingerprint) or a different digest.
	rows, err := tx.Query(ctx, listCartLinesSQL+` FOR UPDATE OF cl`, p.CustomerID)
	if err != nil {
		return nil, nil, fmt.Errorf("locking cart lines: %w", err)
	}
	current, err := pgx.CollectRows(rows, scanCartLine)
	if err != nil {
		return nil, nil, fmt.Errorf("locking cart lines: %w", err)
	}
	if cart.Fingerprint(current) != p.Fingerprint {
		return nil, nil, checkout.ErrCartModified
	}

	attempt := &order.CheckoutAttempt{
		ID:             uuid.New().String(),
		CustomerID:     p.CustomerID,
		IdempotencyKey: p.IdempotencyKey,
		Outcome:        order.OutcomeInProgress,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO checkout_attempts (id, customer_id, idempotency_key, outcome)
		VALUES ($1, $2, $3, $4)`,
		attempt.ID, attempt.CustomerID, attempt.IdempotencyKey, attempt.Outcome,
	)
	if err != nil {
		// A concurrent checkout with the same key inserted first; the
		// service replays its attempt.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, nil, checkout.ErrDuplicateAttempt
		}
		return nil, nil, fmt.Errorf("creating checkout attempt: %w", err)
	}

	shareByRetailer := make(map[string]int, len(p.Shares))
	for i, s := range p.Shares {
		shareByRetailer[s.RetailerID] = i
	}

	orders := make([]*order.Order, 0, len(p.Groups))
	lineIDs := make([]string, 0, len(current))
	for _, g := range p.Groups {
		share := p.Shares[shareByRetailer[g.RetailerID]]
		o := &order.Order{
			ID:                 uuid.New().String(),
			AttemptID:          attempt.ID,
			CustomerID:         p.CustomerID,
			RetailerID:         g.RetailerID,
			RetailerName:       g.RetailerName,
			Status:             order.StatusPending,
			Subtotal:           share.Subtotal,
			DiscountAmount:     share.Discount,
			PointsRedeemed:     share.Points,
			PlatformCommission: share.Commission,
			RetailerAmount:     share.RetailerAmount,
			Total:              share.Total,
			PickupInstructions: p.PickupInstructions,
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO orders (id, attempt_id, customer_id, retailer_id, status,
				subtotal, discount_amount, points_redeemed, platform_commission,
				retailer_amount, total, pickup_instructions)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			o.ID, o.AttemptID, o.CustomerID, o.RetailerID, o.Status,
			o.Subtotal, o.DiscountAmount, o.PointsRedeemed, o.PlatformCommission,
			o.RetailerAmount, o.Total, o.PickupInstructions,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("creating order for retailer %q: %w", g.RetailerID, err)
		}

		for _, l := range g.Lines {
			o.Items = append(o.Items, order.Item{
				ProductID:   l.ProductID,
				ProductName: l.ProductName,
				UnitPrice:   l.UnitPrice,
				Quantity:    l.Quantity,
			})
			lineIDs = append(lineIDs, l.ID)
			_, err = tx.Exec(ctx, `
				INSERT INTO order_items (order_id, product_id, product_name, unit_price, quantity)
				VALUES ($1, $2, $3, $4, $5)`,
				o.ID, l.ProductID, l.ProductName, l.UnitPrice, l.Quantity,
			)
			if err != nil {
				return nil, nil, fmt.Errorf("creating order items: %w", err)
			}
		}
		attempt.OrderIDs = append(attempt.OrderIDs, o.ID)
		orders = append(orders, o)
	}

	_, err = tx.Exec(ctx, `DELETE FROM cart_lines WHERE id = ANY($1)`, lineIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("clearing cart lines: %w", err)
	}

	if p.PointsRedeemed.IsPositive() {
		if err := debitTx(ctx, tx, p.CustomerID, p.PointsRedeemed, "redeem:"+attempt.ID); err != nil {
			return nil, nil, err
		}
	}

	if p.DiscountCode != "" {
		tag, err := tx.Exec(ctx, incrementDiscountUsesSQL, p.DiscountCode)
		if err != nil {
			return nil, nil, fmt.Errorf("consuming discount use: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, nil, promo.ErrDiscountUsageExceeded
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit checkout: %w", err)
	}
	return attempt, orders, nil
}

// SetAttemptOutcome records the settlement outcome on the attempt.
func (r *OrderRepository) SetAttemptOutcome(ctx context.Context, attemptID string, outcome order.Outcome) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE checkout_attempts SET outcome = $2 WHERE id = $1`, attemptID, outcome)
	if err != nil {
		return fmt.Errorf("recording attempt outcome: %w", err)
	}
	return nil
}

const getOrderSQL = `SELECT o.id, o.attempt_id, o.customer_id, o.retailer_id, r.name,
		o.status, o.subtotal, o.discount_amount, o.points_redeemed,
		o.platform_commission, o.retailer_amount, o.total,
		o.pickup_instructions, o.cancel_reason, o.capture_id, o.redirect_url,
		o.created_at, o.updated_at, o.ready_for_pickup_at, o.picked_up_at
	FROM orders o
	JOIN retailers r ON r.id = o.retailer_id`

// GetByID loads one order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL+` WHERE o.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	if err := r.loadItems(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListByAttempt loads the orders produced by one checkout attempt, ordered by
// retailer ID.
func (r *OrderRepository) ListByAttempt(ctx context.Context, attemptID string) ([]*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL+` WHERE o.attempt_id = $1 ORDER BY o.retailer_id`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for attempt %q: %w", attemptID, err)
	}
	collected, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders for attempt %q: %w", attemptID, err)
	}

	orders := make([]*order.Order, len(collected))
	for i := range collected {
		orders[i] = &collected[i]
		if err := r.loadItems(ctx, orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// UpdateStatus persists a transition guarded on the previous status, so a
// concurrent update makes the slower writer fail with order.ErrStaleStatus instead
// of overwriting.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order, from order.Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = $3, cancel_reason = $4, updated_at = $5,
			ready_for_pickup_at = $6, picked_up_at = $7
		WHERE id = $1 AND status = $2`,
		o.ID, from, o.Status, o.CancelReason, o.UpdatedAt, o.ReadyForPickupAt, o.PickedUpAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrStaleStatus
	}
	return nil
}

// SetCapture records the processor's capture handle on the order, redirect
// URL included so replayed checkouts can hand it back.
func (r *OrderRepository) SetCapture(ctx context.Context, orderID, captureID, redirectURL string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET capture_id = $2, redirect_url = $3, updated_at = now() WHERE id = $1`,
		orderID, captureID, redirectURL)
	if err != nil {
		return fmt.Errorf("recording capture for order %q: %w", orderID, err)
	}
	return nil
}

func (r *OrderRepository) loadItems(ctx context.Context, o *order.Order) error {
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, product_name, unit_price, quantity
		FROM order_items WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("loading items for order %q: %w", o.ID, err)
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.ProductID, &it.ProductName, &it.UnitPrice, &it.Quantity)
		return it, err
	})
	if err != nil {
		return fmt.Errorf("loading items for order %q: %w", o.ID, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.AttemptID, &o.CustomerID, &o.RetailerID, &o.RetailerName,
		&o.Status, &o.Subtotal, &o.DiscountAmount, &o.PointsRedeemed,
		&o.PlatformCommission, &o.RetailerAmount, &o.Total,
		&o.PickupInstructions, &o.CancelReason, &o.CaptureID, &o.RedirectURL,
		&o.CreatedAt, &o.UpdatedAt, &o.ReadyForPickupAt, &o.PickedUpAt,
	)
	return o, err
}
