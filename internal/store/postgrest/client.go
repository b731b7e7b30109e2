// Package postgrest talks to the hosted categories table through its
// PostgREST endpoint (Supabase /rest/v1).
package postgrest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"counters/internal/core"
	"counters/internal/store"
)

const adjustFunction = "adjust_category"

// Config holds the connection settings of the hosted table.
type Config struct {
	// BaseURL is the project URL, e.g. https://xyz.supabase.co.
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements store.CategoryStore over HTTP.
type Client struct {
	http  *resty.Client
	table string
}

// APIError is returned when the endpoint answers with a non-2xx status.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("postgrest %d (%s): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("postgrest %d: %s", e.Status, msg)
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("postgrest: base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("postgrest: API key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/rest/v1").
		SetTimeout(cfg.Timeout).
		SetHeader("apikey", cfg.APIKey).
		SetAuthToken(cfg.APIKey).
		SetHeader("Accept", "application/json")

	return &Client{http: rc, table: "/" + store.TableName}, nil
}

// insertRow carries value as a JSON number so numeric columns accept it.
type insertRow struct {
	Name          string      `json:"name"`
	Value         json.Number `json:"value"`
	LastUpdated   string      `json:"last_updated"`
	ClicksToday   int         `json:"clicks_today"`
	LastClickDate string      `json:"last_click_date"`
}

func (c *Client) ListCategories(ctx context.Context) ([]core.Category, error) {
	var out rows
	err := c.do(ctx, http.MethodGet, c.table, map[string]string{"select": "*", "order": "name.asc"}, nil, &out)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out.categories(), nil
}

func (c *Client) GetCategory(ctx context.Context, id string) (core.Category, error) {
	var out rows
	if err := c.do(ctx, http.MethodGet, c.table, map[string]string{"select": "*", "id": "eq." + id}, nil, &out); err != nil {
		return core.Category{}, fmt.Errorf("get category %s: %w", id, err)
	}
	if len(out) == 0 {
		return core.Category{}, core.ErrNotFound
	}
	return out[0].category(), nil
}

func (c *Client) FindByName(ctx context.Context, name string) ([]core.Category, error) {
	var out rows
	if err := c.do(ctx, http.MethodGet, c.table, map[string]string{"select": "*", "name": "eq." + name}, nil, &out); err != nil {
		return nil, fmt.Errorf("find category by name: %w", err)
	}
	return out.categories(), nil
}

func (c *Client) ListClickDates(ctx context.Context) ([]core.ClickDate, error) {
	var out rows
	if err := c.do(ctx, http.MethodGet, c.table, map[string]string{"select": "id,last_click_date"}, nil, &out); err != nil {
		return nil, fmt.Errorf("list click dates: %w", err)
	}
	dates := make([]core.ClickDate, len(out))
	for i, r := range out {
		dates[i] = core.ClickDate{ID: string(r.ID), LastClickDate: core.Day(r.LastClickDate)}
	}
	return dates, nil
}

func (c *Client) InsertCategory(ctx context.Context, nc core.NewCategory) (core.Category, error) {
	row := insertRow{
		Name:          nc.Name,
		Value:         json.Number(nc.Value.String()),
		LastUpdated:   core.FormatTimestamp(nc.LastUpdated),
		ClicksToday:   nc.ClicksToday,
		LastClickDate: string(nc.LastClickDate),
	}
	var out rows
	if err := c.do(ctx, http.MethodPost, c.table, nil, row, &out); err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	if len(out) == 0 {
		return core.Category{}, fmt.Errorf("insert category: empty representation")
	}
	created := out[0].category()
	slog.InfoContext(ctx, "Category inserted", "id", created.ID, "name", created.Name)
	return created, nil
}

func (c *Client) UpdateCategory(ctx context.Context, id string, p core.CategoryPatch) error {
	if p.Empty() {
		return nil
	}
	var out rows
	if err := c.do(ctx, http.MethodPatch, c.table, map[string]string{"id": "eq." + id}, patchBody(p), &out); err != nil {
		return fmt.Errorf("update category %s: %w", id, err)
	}
	if len(out) == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (c *Client) DeleteCategory(ctx context.Context, id string) error {
	var out rows
	if err := c.do(ctx, http.MethodDelete, c.table, map[string]string{"id": "eq." + id}, nil, &out); err != nil {
		return fmt.Errorf("delete category %s: %w", id, err)
	}
	if len(out) == 0 {
		return core.ErrNotFound
	}
	return nil
}

// AdjustCategory calls the adjust_category database function, which applies
// the delta and click rules in one statement. See adjust_category.sql.
func (c *Client) AdjustCategory(ctx context.Context, id string, delta decimal.Decimal, at time.Time, today core.Day) (core.Category, error) {
	body := map[string]any{
		"p_id":    id,
		"p_delta": json.Number(delta.String()),
		"p_at":    core.FormatTimestamp(at),
		"p_today": string(today),
	}
	var out rows
	if err := c.do(ctx, http.MethodPost, "/rpc/"+adjustFunction, nil, body, &out); err != nil {
		return core.Category{}, fmt.Errorf("adjust category %s: %w", id, err)
	}
	if len(out) == 0 {
		return core.Category{}, core.ErrNotFound
	}
	return out[0].category(), nil
}

func (c *Client) Ping(ctx context.Context) error {
	var out rows
	return c.do(ctx, http.MethodGet, c.table, map[string]string{"select": "id", "limit": "1"}, nil, &out)
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body, result any) error {
	apiErr := &APIError{}
	req := c.http.R().
		SetContext(ctx).
		SetError(apiErr).
		SetResult(result)
	if query != nil {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	if method != http.MethodGet {
		req.SetHeader("Prefer", "return=representation")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return apiErr
	}
	return nil
}

func patchBody(p core.CategoryPatch) map[string]any {
	body := make(map[string]any, 4)
	if p.Value != nil {
		body["value"] = json.Number(p.Value.String())
	}
	if p.LastUpdated != nil {
		body["last_updated"] = core.FormatTimestamp(*p.LastUpdated)
	}
	if p.ClicksToday != nil {
		body["clicks_today"] = *p.ClicksToday
	}
	if p.LastClickDate != nil {
		body["last_click_date"] = string(*p.LastClickDate)
	}
	return body
}
