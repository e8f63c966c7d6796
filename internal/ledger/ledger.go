// Package ledger plans changes to a product's dated stock batches. It holds
// no state; the repository applies the plans inside a transaction.
package ledger

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/azizikri/offer-checkout/internal/domain"
)

// Plan is the effect of a FIFO depletion on the pending batches of one product.
type Plan struct {
	Updated   []domain.Batch
	Deleted   []int64
	Remainder int
}

// SortFIFO orders batches by expiry, earliest first. Batches sharing a date
// keep id order.
func SortFIFO(batches []domain.Batch) {
	slices.SortStableFunc(batches, func(a, b domain.Batch) int {
		if c := a.Expiry.Compare(b.Expiry); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Deplete consumes units from pending batches in expiry order. Units not
// covered by any batch are returned as the remainder.
func Deplete(batches []domain.Batch, units int) (Plan, error) {
	if units < 0 {
		return Plan{}, fmt.Errorf("%w: cannot deplete %d units", domain.ErrInvalidQuantity, units)
	}

	pending := make([]domain.Batch, 0, len(batches))
	for _, b := range batches {
		if !b.Processed {
			pending = append(pending, b)
		}
	}
	SortFIFO(pending)

	var plan Plan
	left := units
	for _, b := range pending {
		if left == 0 {
			break
		}
		if b.Units <= left {
			left -= b.Units
			plan.Deleted = append(plan.Deleted, b.ID)
			continue
		}
		b.Units -= left
		left = 0
		plan.Updated = append(plan.Updated, b)
	}
	plan.Remainder = left
	return plan, nil
}

// Apply returns batches with plan applied.
func Apply(batches []domain.Batch, plan Plan) []domain.Batch {
	updated := make(map[int64]domain.Batch, len(plan.Updated))
	for _, b := range plan.Updated {
		updated[b.ID] = b
	}
	out := make([]domain.Batch, 0, len(batches))
	for _, b := range batches {
		if slices.Contains(plan.Deleted, b.ID) {
			continue
		}
		if u, ok := updated[b.ID]; ok {
			b = u
		}
		out = append(out, b)
	}
	return out
}

// Merge adds units to the pending batch dated expiry, or appends a new batch
// with id newID when there is none. The second result is the affected batch.
func Merge(batches []domain.Batch, productID int64, expiry time.Time, units int, newID int64) ([]domain.Batch, domain.Batch) {
	expiry = domain.Date(expiry)
	for i, b := range batches {
		if !b.Processed && b.Expiry.Equal(expiry) {
			batches[i].Units += units
			return batches, batches[i]
		}
	}
	b := domain.Batch{ID: newID, ProductID: productID, Expiry: expiry, Units: units}
	return append(batches, b), b
}

// Expire marks every pending batch whose date has elapsed at now as processed
// and returns the batches it marked.
func Expire(batches []domain.Batch, now time.Time) []domain.Batch {
	var expired []domain.Batch
	for i, b := range batches {
		if b.Processed || !domain.Elapsed(b.Expiry, now) {
			continue
		}
		batches[i].Processed = true
		expired = append(expired, batches[i])
	}
	return expired
}

// Totals sums expired units per product.
func Totals(expired []domain.Batch) map[int64]int {
	totals := make(map[int64]int)
	for _, b := range expired {
		totals[b.ProductID] += b.Units
	}
	return totals
}

// FloorSub subtracts n from stock without going below zero.
func FloorSub(stock, n int) int {
	return max(stock-n, 0)
}
