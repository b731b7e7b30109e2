// Package store defines the ports through which the dashboard reaches the
// categories table and its change notifications.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"counters/internal/core"
)

// TableName is the single table the dashboard works against.
const TableName = "categories"

type (
	CategoryReader interface {
		// ListCategories returns every category ordered by name.
		ListCategories(ctx context.Context) ([]core.Category, error)
		// GetCategory returns core.ErrNotFound when id is unknown.
		GetCategory(ctx context.Context, id string) (core.Category, error)
		// FindByName returns categories whose name equals name exactly.
		FindByName(ctx context.Context, name string) ([]core.Category, error)
		// ListClickDates reads only id and last_click_date of every row.
		ListClickDates(ctx context.Context) ([]core.ClickDate, error)
	}

	CategoryWriter interface {
		InsertCategory(ctx context.Context, c core.NewCategory) (core.Category, error)
		// UpdateCategory returns core.ErrNotFound when id is unknown.
		UpdateCategory(ctx context.Context, id string, p core.CategoryPatch) error
		DeleteCategory(ctx context.Context, id string) error
	}

	CategoryStore interface {
		CategoryReader
		CategoryWriter
	}

	// Adjuster applies a counter delta inside the store, so concurrent
	// adjustments cannot overwrite each other.
	Adjuster interface {
		AdjustCategory(ctx context.Context, id string, delta decimal.Decimal, at time.Time, today core.Day) (core.Category, error)
	}

	// Pinger is implemented by stores that can report readiness.
	Pinger interface {
		Ping(ctx context.Context) error
	}
)

// ChangeKind is the type of write that produced a change.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// Change notifies that a row of the categories table was written. Receivers
// treat it as a signal to re-read; the payload is informational.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	ID     string     `json:"id,omitempty"`
	At     time.Time  `json:"at"`
	Origin string     `json:"origin,omitempty"`
}

type (
	// ChangeFeed delivers change notifications for the categories table.
	ChangeFeed interface {
		OnChange(handler func(Change)) Subscription
	}

	Subscription interface {
		Unsubscribe()
	}
)
