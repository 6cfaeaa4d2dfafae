// Package cart models a customer's open cart and its grouping by retailer.
package cart

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyCart is returned when a customer has no open cart lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrProductNotFound is returned when adding a line for an unknown product.
	ErrProductNotFound = errors.New("product not found")
	// ErrLineNotFound is returned when a cart line does not exist for the customer.
	ErrLineNotFound = errors.New("cart line not found")
)

// Line is one product in a customer's cart, priced at the catalog's current
// unit price.
type Line struct {
	ID            string
	CustomerID    string
	ProductID     string
	ProductName   string
	RetailerID    string
	RetailerName  string
	PayoutAccount string
	UnitPrice     decimal.Decimal
	Quantity      int
	UpdatedAt     time.Time
}

// LineTotal returns unit price times quantity.
func (l Line) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// RetailerGroup is the subset of a cart's lines owned by one retailer.
// Each group becomes exactly one order at checkout.
type RetailerGroup struct {
	RetailerID    string
	RetailerName  string
	PayoutAccount string
	Lines         []Line
}

// Subtotal returns the sum of line totals in the group.
func (g RetailerGroup) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range g.Lines {
		sum = sum.Add(l.LineTotal())
	}
	return sum
}

// Repository defines persistence operations for cart lines.
type Repository interface {
	ListLines(ctx context.Context, customerID string) ([]Line, error)
	AddLine(ctx context.Context, customerID, productID string, quantity int) (*Line, error)
	UpdateQuantity(ctx context.Context, customerID, lineID string, quantity int) (*Line, error)
	RemoveLine(ctx context.Context, customerID, lineID string) error
}

// Aggregator loads a customer's cart and groups it by retailer.
type Aggregator struct {
	lines Repository
}

// NewAggregator creates an Aggregator backed by the given repository.
func NewAggregator(lines Repository) *Aggregator {
	return &Aggregator{lines: lines}
}

// Aggregate returns the customer's cart grouped by retailer, ordered by
// ascending retailer ID so downstream allocation math is reproducible.
// Returns ErrEmptyCart when no lines exist.
func (a *Aggregator) Aggregate(ctx context.Context, customerID string) ([]RetailerGroup, error) {
	lines, err := a.lines.ListLines(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart lines")
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	return GroupByRetailer(lines), nil
}

// GroupByRetailer partitions lines into retailer groups ordered by ascending
// retailer ID. Lines within a group keep a stable order by line ID.
func GroupByRetailer(lines []Line) []RetailerGroup {
	byRetailer := make(map[string]*RetailerGroup)
	for _, l := range lines {
		g, ok := byRetailer[l.RetailerID]
		if !ok {
			g = &RetailerGroup{
				RetailerID:    l.RetailerID,
				RetailerName:  l.RetailerName,
				PayoutAccount: l.PayoutAccount,
			}
			byRetailer[l.RetailerID] = g
		}
		g.Lines = append(g.Lines, l)
	}

	groups := make([]RetailerGroup, 0, len(byRetailer))
	for _, g := range byRetailer {
		sort.Slice(g.Lines, func(i, j int) bool { return g.Lines[i].ID < g.Lines[j].ID })
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].RetailerID < groups[j].RetailerID })
	return groups
}

// Fingerprint digests the identity, quantity and price of every line. The
// materializer re-reads the cart inside its transaction and compares
// fingerprints to detect concurrent modification since aggregation.
func Fingerprint(lines []Line) string {
	sorted := make([]Line, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	for _, l := range sorted {
		fmt.Fprintf(h, "%s|%d|%s\n", l.ID, l.Quantity, l.UnitPrice.StringFixed(2))
	}
	return hex.EncodeToString(h.Sum(nil))
}
