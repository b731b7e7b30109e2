package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"counters/internal/core"
	"counters/internal/store"
)

// Counter applies counter operations to a single category.
//
// Without an Adjuster it re-reads the row and writes the new counts back,
// which can lose an update when two sessions adjust the same category at
// once. With an Adjuster the store applies the delta itself.
type Counter struct {
	store    store.CategoryStore
	adjuster store.Adjuster
	loc      *time.Location
	now      func() time.Time
}

func NewCounter(st store.CategoryStore, adjuster store.Adjuster, loc *time.Location, now func() time.Time) *Counter {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Counter{store: st, adjuster: adjuster, loc: loc, now: now}
}

// Atomic reports whether adjustments are applied by the store.
func (c *Counter) Atomic() bool {
	return c.adjuster != nil
}

// Adjust adds delta to the category's value and returns the updated row.
func (c *Counter) Adjust(ctx context.Context, id string, delta decimal.Decimal) (core.Category, error) {
	now := c.now()
	today := core.Today(now, c.loc)

	if c.adjuster != nil {
		updated, err := c.adjuster.AdjustCategory(ctx, id, delta, now, today)
		if err != nil {
			return core.Category{}, fmt.Errorf("adjust category %s: %w", id, err)
		}
		return updated, nil
	}

	current, err := c.store.GetCategory(ctx, id)
	if err != nil {
		return core.Category{}, fmt.Errorf("read category %s: %w", id, err)
	}
	counts := core.ApplyDelta(current.Counts(), delta, today)
	if err := c.store.UpdateCategory(ctx, id, counts.Patch(now)); err != nil {
		return core.Category{}, fmt.Errorf("update category %s: %w", id, err)
	}
	return current.WithCounts(counts, now), nil
}

// Reset zeroes the value and the daily clicks of category and returns it
// as written.
func (c *Counter) Reset(ctx context.Context, category core.Category) (core.Category, error) {
	now := c.now()
	counts := core.ResetCounts(core.Today(now, c.loc))
	if err := c.store.UpdateCategory(ctx, category.ID, counts.Patch(now)); err != nil {
		return core.Category{}, fmt.Errorf("reset category %s: %w", category.ID, err)
	}
	return category.WithCounts(counts, now), nil
}
