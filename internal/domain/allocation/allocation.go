// Package allocation distributes a checkout-wide discount and points
// redemption across retailer groups without rounding leakage.
//
// Amounts are apportioned on currency minor units with the largest-remainder
// method, so the per-group shares always sum to the requested totals exactly.
// Independent per-group rounding would drift by up to N-1 minor units.
package allocation

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrAllocationInvariant indicates the engine was handed inputs that cannot
// be allocated (discount + points beyond the subtotals). Callers validate
// totals before allocating, so hitting this is a programming error and must
// be treated as fatal, never coerced.
var ErrAllocationInvariant = errors.New("allocation invariant violated")

// Group is one retailer's slice of the checkout, identified for deterministic
// ordering. Callers pass groups sorted by ascending retailer ID.
type Group struct {
	RetailerID string
	Subtotal   decimal.Decimal
}

// Share is the settled amounts for one retailer group.
//
// Invariants: Total = Subtotal - Discount - Points,
// Total = RetailerAmount + Commission, Total >= 0.
type Share struct {
	RetailerID     string
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	Points         decimal.Decimal
	Total          decimal.Decimal
	Commission     decimal.Decimal
	RetailerAmount decimal.Decimal
}

// Allocate splits the grand discount D and points redemption P across groups
// proportionally to their subtotals, then takes the platform commission from
// each group's post-discount payable amount.
//
// Points are apportioned against the post-discount remainders and capped per
// group at that remainder; a group fully covered by discount receives no
// points and its share redistributes to groups with headroom.
func Allocate(groups []Group, discount, points, commissionRate decimal.Decimal) ([]Share, error) {
	if len(groups) == 0 {
		return nil, errors.Wrap(ErrAllocationInvariant, "no groups")
	}

	subtotals := make([]int64, len(groups))
	var grand int64
	for i, g := range groups {
		if g.Subtotal.IsNegative() {
			return nil, errors.Wrapf(ErrAllocationInvariant, "negative subtotal for retailer %s", g.RetailerID)
		}
		subtotals[i] = minorUnits(g.Subtotal)
		grand += subtotals[i]
	}

	d := minorUnits(discount)
	p := minorUnits(points)
	if d < 0 || p < 0 || d+p > grand {
		return nil, errors.Wrapf(ErrAllocationInvariant,
			"discount %s + points %s exceed subtotal", discount, points)
	}

	discounts := apportion(d, subtotals)

	// Points apportion against the post-discount remainders, which also act
	// as per-group caps.
	remainders := make([]int64, len(groups))
	for i := range groups {
		remainders[i] = subtotals[i] - discounts[i]
	}
	pointsShares, err := apportionCapped(p, remainders)
	if err != nil {
		return nil, err
	}

	shares := make([]Share, len(groups))
	for i, g := range groups {
		total := remainders[i] - pointsShares[i]
		commission := minorUnits(fromMinorUnits(total).Mul(commissionRate).Round(2))
		shares[i] = Share{
			RetailerID:     g.RetailerID,
			Subtotal:       fromMinorUnits(subtotals[i]),
			Discount:       fromMinorUnits(discounts[i]),
			Points:         fromMinorUnits(pointsShares[i]),
			Total:          fromMinorUnits(total),
			Commission:     fromMinorUnits(commission),
			RetailerAmount: fromMinorUnits(total - commission),
		}
	}
	return shares, nil
}

// apportion splits total across weights with the largest-remainder method.
// The returned shares sum to total exactly. Ties break toward the earlier
// group, which is deterministic because callers order groups by retailer ID.
func apportion(total int64, weights []int64) []int64 {
	shares := make([]int64, len(weights))
	if total == 0 {
		return shares
	}

	var weightSum int64
	for _, w := range weights {
		weightSum += w
	}
	if weightSum == 0 {
		return shares
	}

	var allocated int64
	fractions := make([]int64, len(weights))
	for i, w := range weights {
		shares[i] = total * w / weightSum
		fractions[i] = total * w % weightSum
		allocated += shares[i]
	}

	// Hand the leftover minor units to the groups with the largest fractional
	// remainders.
	for leftover := total - allocated; leftover > 0; leftover-- {
		best := -1
		for i, f := range fractions {
			if f > 0 && (best < 0 || f > fractions[best]) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		shares[best]++
		fractions[best] = 0
	}
	return shares
}

// apportionCapped apportions total across weights where each weight is also a
// hard cap on its own share. Shares exceeding their cap are pinned and the
// excess re-apportioned over the remaining headroom.
func apportionCapped(total int64, caps []int64) ([]int64, error) {
	var capacity int64
	for _, c := range caps {
		capacity += c
	}
	if total > capacity {
		return nil, errors.Wrap(ErrAllocationInvariant, "points exceed per-group capacity")
	}

	shares := make([]int64, len(caps))
	pinned := make([]bool, len(caps))
	remaining := total

	for remaining > 0 {
		weights := make([]int64, len(caps))
		for i, c := range caps {
			if !pinned[i] {
				weights[i] = c - shares[i]
			}
		}

		split := apportion(remaining, weights)
		progressed := false
		remaining = 0
		for i, s := range split {
			if shares[i]+s > caps[i] {
				remaining += shares[i] + s - caps[i]
				shares[i] = caps[i]
				pinned[i] = true
			} else {
				shares[i] += s
			}
			if s > 0 {
				progressed = true
			}
		}
		if !progressed {
			return nil, errors.Wrap(ErrAllocationInvariant, "points apportionment stalled")
		}
	}
	return shares, nil
}

// minorUnits converts a 2-decimal amount to integer minor units.
func minorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}

func fromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
