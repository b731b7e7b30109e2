// Package dashboard holds the per-view state and actions behind the counter
// dashboard: the category form, the counter controls, the selector and the
// container that ties them to a store and its change feed.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"counters/internal/core"
	"counters/internal/store"
)

// Form creates categories with unique names.
type Form struct {
	store store.CategoryStore
	loc   *time.Location
	now   func() time.Time
}

func NewForm(st store.CategoryStore, loc *time.Location, now func() time.Time) *Form {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Form{store: st, loc: loc, now: now}
}

// Submit validates name, checks for an existing category with exactly the
// same name and inserts a fresh category. Validation failures are returned
// as *core.FieldError and never reach the store.
func (f *Form) Submit(ctx context.Context, name string) (core.Category, error) {
	if err := (core.CategoryInput{Name: name}).Validate(); err != nil {
		return core.Category{}, err
	}

	existing, err := f.store.FindByName(ctx, name)
	if err != nil {
		return core.Category{}, fmt.Errorf("find category by name: %w", err)
	}
	if len(existing) > 0 {
		return core.Category{}, core.DuplicateNameError()
	}

	created, err := f.store.InsertCategory(ctx, core.NewCategoryNamed(name, f.now(), f.loc))
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	return created, nil
}
