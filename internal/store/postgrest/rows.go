package postgrest

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"

	"counters/internal/core"
)

// rowID accepts both text (uuid) and integer (bigserial) primary keys.
type rowID string

func (id *rowID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = rowID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = rowID(n.String())
	return nil
}

type row struct {
	ID            rowID           `json:"id"`
	Name          string          `json:"name"`
	Value         decimal.Decimal `json:"value"`
	LastUpdated   string          `json:"last_updated"`
	ClicksToday   int             `json:"clicks_today"`
	LastClickDate string          `json:"last_click_date"`
}

type rows []row

func (r row) category() core.Category {
	return core.Category{
		ID:            string(r.ID),
		Name:          r.Name,
		Value:         r.Value,
		LastUpdated:   r.LastUpdated,
		ClicksToday:   r.ClicksToday,
		LastClickDate: core.Day(r.LastClickDate),
	}
}

func (rs rows) categories() []core.Category {
	out := make([]core.Category, len(rs))
	for i, r := range rs {
		out[i] = r.category()
	}
	return out
}
