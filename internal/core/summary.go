package core

import "github.com/shopspring/decimal"

// Stats is the dashboard summary over all categories.
type Stats struct {
	Categories   int
	TotalClicks  int
	TotalValue   decimal.Decimal
	AverageValue decimal.Decimal
	// MostActive is the category with the most clicks today; the first by
	// list order wins ties. Nil when no category has been clicked today.
	MostActive *Category
}

// ComputeStats summarises list.
func ComputeStats(list []Category) Stats {
	s := Stats{Categories: len(list), TotalValue: decimal.Zero, AverageValue: decimal.Zero}
	best := -1
	for i, c := range list {
		s.TotalClicks += c.ClicksToday
		s.TotalValue = s.TotalValue.Add(c.Value)
		if c.ClicksToday > 0 && (best < 0 || c.ClicksToday > list[best].ClicksToday) {
			best = i
		}
	}
	// AverageValue is left unrounded; rounding is up to the display.
	if len(list) > 0 {
		s.AverageValue = s.TotalValue.Div(decimal.NewFromInt(int64(len(list))))
	}
	if best >= 0 {
		top := list[best]
		s.MostActive = &top
	}
	return s
}
