package dashboard

import (
	"context"
	"fmt"

	"counters/internal/core"
	"counters/internal/store"
)

// Option is one entry of the category dropdown.
type Option struct {
	ID       string
	Name     string
	Selected bool
}

// Options lists categories in the given order, marking selectedID.
func Options(categories []core.Category, selectedID string) []Option {
	out := make([]Option, 0, len(categories))
	for _, c := range categories {
		out = append(out, Option{ID: c.ID, Name: c.Name, Selected: c.ID == selectedID})
	}
	return out
}

// Selector performs the guarded delete of the active category.
type Selector struct {
	store store.CategoryWriter
}

func NewSelector(st store.CategoryWriter) *Selector {
	return &Selector{store: st}
}

// Delete removes selected. It refuses without explicit confirmation.
func (s *Selector) Delete(ctx context.Context, selected *core.Category, confirmed bool) error {
	if selected == nil {
		return core.ErrNoSelection
	}
	if !confirmed {
		return core.ErrNotConfirmed
	}
	if err := s.store.DeleteCategory(ctx, selected.ID); err != nil {
		return fmt.Errorf("delete category %s: %w", selected.ID, err)
	}
	return nil
}
