package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DayLayout is the storage format of calendar dates (last_click_date).
const DayLayout = "2006-01-02"

// MaxNameLength bounds category names.
const MaxNameLength = 50

type (
	// Day is a calendar date without time, stored as YYYY-MM-DD.
	Day string

	// Category is a named counter with daily click statistics.
	Category struct {
		ID            string          `json:"id"`
		Name          string          `json:"name"`
		Value         decimal.Decimal `json:"value"`
		LastUpdated   string          `json:"last_updated"`
		ClicksToday   int             `json:"clicks_today"`
		LastClickDate Day             `json:"last_click_date"`
	}

	// NewCategory is the insert payload for a category.
	NewCategory struct {
		Name          string
		Value         decimal.Decimal
		LastUpdated   time.Time
		ClicksToday   int
		LastClickDate Day
	}

	// CategoryPatch holds the columns to update. Nil fields are left untouched.
	CategoryPatch struct {
		Value         *decimal.Decimal
		LastUpdated   *time.Time
		ClicksToday   *int
		LastClickDate *Day
	}

	// ClickDate is the projection read by the day rollover sweep.
	ClickDate struct {
		ID            string `json:"id"`
		LastClickDate Day    `json:"last_click_date"`
	}
)

var (
	ErrNotFound     = errors.New("category not found")
	ErrDuplicate    = errors.New("category name already exists")
	ErrNotConfirmed = errors.New("delete not confirmed")
	ErrNoSelection  = errors.New("no category selected")
	ErrInvalidDelta = errors.New("invalid counter delta")
)

// FieldError is a validation failure bound to a single form field.
type FieldError struct {
	Field   string
	Message string
	Err     error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Today returns the calendar day of now in loc.
func Today(now time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return Day(now.In(loc).Format(DayLayout))
}

func (d Day) String() string { return string(d) }

// Valid reports whether d is a well formed YYYY-MM-DD date.
func (d Day) Valid() bool {
	_, err := time.Parse(DayLayout, string(d))
	return err == nil
}

// FormatTimestamp renders t the way last_updated is stored.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses a stored last_updated value. Both RFC 3339 and the
// space separated form returned by some Postgres drivers are accepted.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// LastUpdatedTime parses LastUpdated.
func (c Category) LastUpdatedTime() (time.Time, bool) {
	return ParseTimestamp(c.LastUpdated)
}

// Counts returns the counter columns of c.
func (c Category) Counts() Counts {
	return Counts{Value: c.Value, ClicksToday: c.ClicksToday, LastClickDate: c.LastClickDate}
}

// WithCounts returns a copy of c carrying counts and the given update time.
func (c Category) WithCounts(counts Counts, at time.Time) Category {
	c.Value = counts.Value
	c.ClicksToday = counts.ClicksToday
	c.LastClickDate = counts.LastClickDate
	c.LastUpdated = FormatTimestamp(at)
	return c
}

// NewCategoryNamed builds the insert payload for a fresh category.
func NewCategoryNamed(name string, now time.Time, loc *time.Location) NewCategory {
	return NewCategory{
		Name:          name,
		Value:         decimal.Zero,
		LastUpdated:   now,
		ClicksToday:   0,
		LastClickDate: Today(now, loc),
	}
}

// Patch returns the patch writing all counter columns.
func (c Counts) Patch(at time.Time) CategoryPatch {
	value := c.Value
	clicks := c.ClicksToday
	day := c.LastClickDate
	return CategoryPatch{
		Value:         &value,
		LastUpdated:   &at,
		ClicksToday:   &clicks,
		LastClickDate: &day,
	}
}

// Apply writes the non-nil fields of p onto c.
func (p CategoryPatch) Apply(c *Category) {
	if p.Value != nil {
		c.Value = *p.Value
	}
	if p.LastUpdated != nil {
		c.LastUpdated = FormatTimestamp(*p.LastUpdated)
	}
	if p.ClicksToday != nil {
		c.ClicksToday = *p.ClicksToday
	}
	if p.LastClickDate != nil {
		c.LastClickDate = *p.LastClickDate
	}
}

// Empty reports whether p updates nothing.
func (p CategoryPatch) Empty() bool {
	return p.Value == nil && p.LastUpdated == nil && p.ClicksToday == nil && p.LastClickDate == nil
}
