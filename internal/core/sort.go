package core

import (
	"sort"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortField names a sortable table column.
type SortField string

const (
	SortByName        SortField = "name"
	SortByValue       SortField = "value"
	SortByLastUpdated SortField = "last_updated"
	SortByClicksToday SortField = "clicks_today"
)

// InvalidDate is shown in place of timestamps that cannot be parsed.
const InvalidDate = "Invalid date"

// DisplayLayout renders last_updated in the table.
const DisplayLayout = "Jan 2, 2006, 3:04 PM"

// SortFields lists the table columns in display order.
var SortFields = []SortField{SortByName, SortByValue, SortByLastUpdated, SortByClicksToday}

// ParseSortField validates a column name.
func ParseSortField(s string) (SortField, bool) {
	for _, f := range SortFields {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// SortState is the active table ordering.
type SortState struct {
	Field      SortField
	Descending bool
}

// DefaultSort orders by name ascending.
func DefaultSort() SortState {
	return SortState{Field: SortByName}
}

// Toggle flips the direction when field is already active and otherwise
// switches to field ascending.
func (s SortState) Toggle(field SortField) SortState {
	if s.Field == field {
		return SortState{Field: field, Descending: !s.Descending}
	}
	return SortState{Field: field}
}

// Direction returns "asc" or "desc".
func (s SortState) Direction() string {
	if s.Descending {
		return "desc"
	}
	return "asc"
}

// SortCategories returns a sorted copy of list. The sort is stable so rows
// comparing equal keep their input order.
func SortCategories(list []Category, state SortState) []Category {
	out := make([]Category, len(list))
	copy(out, list)

	cmp := comparator(state.Field)
	sort.SliceStable(out, func(i, j int) bool {
		if state.Descending {
			return cmp(out[j], out[i]) < 0
		}
		return cmp(out[i], out[j]) < 0
	})
	return out
}

func comparator(field SortField) func(a, b Category) int {
	switch field {
	case SortByValue:
		return func(a, b Category) int { return a.Value.Cmp(b.Value) }
	case SortByLastUpdated:
		return func(a, b Category) int { return compareTimestamps(a.LastUpdated, b.LastUpdated) }
	case SortByClicksToday:
		return func(a, b Category) int { return a.ClicksToday - b.ClicksToday }
	default:
		// collate.Collator keeps internal buffers and is not safe to share.
		col := collate.New(language.English)
		return func(a, b Category) int { return col.CompareString(a.Name, b.Name) }
	}
}

// compareTimestamps orders unparseable values before valid ones.
func compareTimestamps(a, b string) int {
	ta, okA := ParseTimestamp(a)
	tb, okB := ParseTimestamp(b)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return -1
	case !okB:
		return 1
	}
	return ta.Compare(tb)
}

// DisplayTimestamp formats a stored timestamp for the table, or returns
// InvalidDate.
func DisplayTimestamp(s string, loc *time.Location) string {
	t, ok := ParseTimestamp(s)
	if !ok {
		return InvalidDate
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayLayout)
}
