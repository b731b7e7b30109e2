package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"counters/internal/core"
	"counters/internal/store"
)

// rolloverConcurrency bounds parallel row updates during a sweep.
const rolloverConcurrency = 4

// RolloverService clears the daily click counter of categories whose last
// click happened before today.
type RolloverService struct {
	store store.CategoryStore
	now   func() time.Time
	loc   *time.Location
}

func NewRolloverService(st store.CategoryStore, loc *time.Location, now func() time.Time) *RolloverService {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RolloverService{store: st, now: now, loc: loc}
}

// Sweep reads id and last_click_date of every row and writes
// clicks_today=0, last_click_date=today to those dated before today.
// It returns how many rows were rolled over.
func (s *RolloverService) Sweep(ctx context.Context) (int, error) {
	today := core.Today(s.now(), s.loc)

	dates, err := s.store.ListClickDates(ctx)
	if err != nil {
		return 0, fmt.Errorf("read click dates: %w", err)
	}

	var rolled atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rolloverConcurrency)
	for _, d := range dates {
		if !core.NeedsRollover(d.LastClickDate, today) {
			continue
		}
		d := d
		g.Go(func() error {
			if err := s.store.UpdateCategory(gctx, d.ID, core.RolloverPatch(today)); err != nil {
				return fmt.Errorf("roll over category %s: %w", d.ID, err)
			}
			rolled.Add(1)
			return nil
		})
	}
	err = g.Wait()

	n := int(rolled.Load())
	if n > 0 {
		slog.InfoContext(ctx, "Day rollover applied", "categories", n, "today", today.String())
	}
	return n, err
}
