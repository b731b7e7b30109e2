package core

import "github.com/shopspring/decimal"

// Counts are the columns touched by counter operations.
type Counts struct {
	Value         decimal.Decimal
	ClicksToday   int
	LastClickDate Day
}

// Standard counter steps offered by the controls.
var (
	StepIncrement     = decimal.NewFromInt(1)
	StepHalfIncrement = decimal.NewFromFloat(0.5)
	StepDecrement     = decimal.NewFromInt(-1)
	StepHalfDecrement = decimal.NewFromFloat(-0.5)
)

// ParseDelta accepts only the four standard steps.
func ParseDelta(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidDelta
	}
	for _, step := range []decimal.Decimal{StepIncrement, StepHalfIncrement, StepDecrement, StepHalfDecrement} {
		if d.Equal(step) {
			return step, nil
		}
	}
	return decimal.Zero, ErrInvalidDelta
}

// ApplyDelta adds delta to the value. A positive delta counts as a click:
// clicks_today grows when the last click happened today and restarts at 1
// otherwise. Non-positive deltas keep clicks_today but still stamp today.
func ApplyDelta(cur Counts, delta decimal.Decimal, today Day) Counts {
	next := Counts{
		Value:         cur.Value.Add(delta),
		ClicksToday:   cur.ClicksToday,
		LastClickDate: today,
	}
	if delta.IsPositive() {
		if cur.LastClickDate == today {
			next.ClicksToday = cur.ClicksToday + 1
		} else {
			next.ClicksToday = 1
		}
	}
	return next
}

// ResetCounts is the state written by the reset action.
func ResetCounts(today Day) Counts {
	return Counts{Value: decimal.Zero, ClicksToday: 0, LastClickDate: today}
}

// NeedsRollover reports whether a row last clicked on last must have its
// daily counter cleared.
func NeedsRollover(last, today Day) bool {
	return last != today
}

// RolloverPatch clears the daily counter and stamps today.
func RolloverPatch(today Day) CategoryPatch {
	zero := 0
	day := today
	return CategoryPatch{ClicksToday: &zero, LastClickDate: &day}
}

// CanDecrement drives the advisory disabled state of the decrement buttons.
func CanDecrement(c Category) bool {
	return c.Value.IsPositive()
}
