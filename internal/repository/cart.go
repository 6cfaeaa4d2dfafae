package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velora/pickup-market/internal/domain/cart"
)

const listCartLinesSQL = `SELECT cl.id, cl.customer_id, cl.product_id, p.name,
		r.id, r.name, r.payout_account, p.price, cl.quantity, cl.updated_at
	FROM cart_lines cl
	JOIN products p ON p.id = cl.product_id
	JOIN retailers r ON r.id = p.retailer_id
	WHERE cl.customer_id = $1
	ORDER BY cl.id`

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Lines are
// priced at read time from the product catalog, so a price change between
// aggregation and materialization changes the cart fingerprint.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// ListLines returns the customer's open cart lines with joined product and
// retailer data, ordered by line ID.
func (r *CartRepository) ListLines(ctx context.Context, customerID string) ([]cart.Line, error) {
	rows, err := r.pool.Query(ctx, listCartLinesSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing cart lines for %q: %w", customerID, err)
	}

	lines, err := pgx.CollectRows(rows, scanCartLine)
	if err != nil {
		return nil, fmt.Errorf("listing cart lines for %q: %w", customerID, err)
	}
	return lines, nil
}

// AddLine inserts a cart line for the product, or increases the quantity when
// the product is already in the cart.
func (r *CartRepository) AddLine(ctx context.Context, customerID, productID string, quantity int) (*cart.Line, error) {
	id := uuid.New().String()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO cart_lines (id, customer_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (customer_id, product_id)
		DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity, updated_at = now()`,
		id, customerID, productID, quantity,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, cart.ErrProductNotFound
		}
		return nil, fmt.Errorf("adding cart line: %w", err)
	}
	return r.lineByProduct(ctx, customerID, productID)
}

// UpdateQuantity sets the quantity of an existing line.
func (r *CartRepository) UpdateQuantity(ctx context.Context, customerID, lineID string, quantity int) (*cart.Line, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE cart_lines SET quantity = $3, updated_at = now()
		WHERE id = $1 AND customer_id = $2`,
		lineID, customerID, quantity,
	)
	if err != nil {
		return nil, fmt.Errorf("updating cart line %q: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, cart.ErrLineNotFound
	}
	return r.lineByID(ctx, customerID, lineID)
}

// RemoveLine deletes a line from the customer's cart.
func (r *CartRepository) RemoveLine(ctx context.Context, customerID, lineID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM cart_lines WHERE id = $1 AND customer_id = $2`, lineID, customerID)
	if err != nil {
		return fmt.Errorf("removing cart line %q: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrLineNotFound
	}
	return nil
}

func (r *CartRepository) lineByID(ctx context.Context, customerID, lineID string) (*cart.Line, error) {
	lines, err := r.ListLines(ctx, customerID)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		if lines[i].ID == lineID {
			return &lines[i], nil
		}
	}
	return nil, cart.ErrLineNotFound
}

func (r *CartRepository) lineByProduct(ctx context.Context, customerID, productID string) (*cart.Line, error) {
	lines, err := r.ListLines(ctx, customerID)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		if lines[i].ProductID == productID {
			return &lines[i], nil
		}
	}
	return nil, cart.ErrLineNotFound
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var l cart.Line
	err := row.Scan(
		&l.ID, &l.CustomerID, &l.ProductID, &l.ProductName,
		&l.RetailerID, &l.RetailerName, &l.PayoutAccount,
		&l.UnitPrice, &l.Quantity, &l.UpdatedAt,
	)
	return l, err
}
