package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"counters/internal/core"

	_ "modernc.org/sqlite"
)

const categoryColumns = `id, name, value, last_updated, clicks_today, last_click_date`

const (
	listCategoriesSQL = `SELECT ` + categoryColumns + ` FROM categories ORDER BY name, id`
	getCategorySQL    = `SELECT ` + categoryColumns + ` FROM categories WHERE id = ?`
	findByNameSQL     = `SELECT ` + categoryColumns + ` FROM categories WHERE name = ?`
	listClickDatesSQL = `SELECT id, last_click_date FROM categories ORDER BY name, id`
	insertCategorySQL = `INSERT INTO categories (` + categoryColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	deleteCategorySQL = `DELETE FROM categories WHERE id = ?`

	// adjustCategorySQL evaluates the delta inside SQLite. Parameters:
	// delta, last_updated, delta (sign test), today, today, id.
	adjustCategorySQL = `UPDATE categories SET
	value = value + ?,
	last_updated = ?,
	clicks_today = CASE
		WHEN ? > 0 THEN CASE WHEN last_click_date = ? THEN clicks_today + 1 ELSE 1 END
		ELSE clicks_today
	END,
	last_click_date = ?
WHERE id = ?
RETURNING ` + categoryColumns
)

// SQLiteRepository stores categories in a local SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, listCategoriesSQL)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return collect(rows)
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, id string) (core.Category, error) {
	c, err := scanCategory(r.db.QueryRowContext(ctx, getCategorySQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, core.ErrNotFound
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category %s: %w", id, err)
	}
	return c, nil
}

func (r *SQLiteRepository) FindByName(ctx context.Context, name string) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, findByNameSQL, name)
	if err != nil {
		return nil, fmt.Errorf("find category by name: %w", err)
	}
	return collect(rows)
}

func (r *SQLiteRepository) ListClickDates(ctx context.Context) ([]core.ClickDate, error) {
	rows, err := r.db.QueryContext(ctx, listClickDatesSQL)
	if err != nil {
		return nil, fmt.Errorf("list click dates: %w", err)
	}
	defer rows.Close()

	var out []core.ClickDate
	for rows.Next() {
		var cd core.ClickDate
		var day string
		if err := rows.Scan(&cd.ID, &day); err != nil {
			return nil, fmt.Errorf("scan click date: %w", err)
		}
		cd.LastClickDate = core.Day(day)
		out = append(out, cd)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) InsertCategory(ctx context.Context, nc core.NewCategory) (core.Category, error) {
	c := core.Category{
		ID:            uuid.NewString(),
		Name:          nc.Name,
		Value:         nc.Value,
		LastUpdated:   core.FormatTimestamp(nc.LastUpdated),
		ClicksToday:   nc.ClicksToday,
		LastClickDate: nc.LastClickDate,
	}
	_, err := r.db.ExecContext(ctx, insertCategorySQL,
		c.ID, c.Name, c.Value.InexactFloat64(), c.LastUpdated, c.ClicksToday, string(c.LastClickDate))
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}

	slog.InfoContext(ctx, "Category saved to SQLite", "id", c.ID, "name", c.Name)
	return c, nil
}

func (r *SQLiteRepository) UpdateCategory(ctx context.Context, id string, p core.CategoryPatch) error {
	if p.Empty() {
		return nil
	}
	query, args := updateStatement(id, p)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update category %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update category %s: %w", id, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, deleteCategorySQL, id)
	if err != nil {
		return fmt.Errorf("delete category %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	slog.InfoContext(ctx, "Category deleted from SQLite", "id", id)
	return nil
}

// AdjustCategory applies delta in a single UPDATE ... RETURNING statement.
func (r *SQLiteRepository) AdjustCategory(ctx context.Context, id string, delta decimal.Decimal, at time.Time, today core.Day) (core.Category, error) {
	d := delta.InexactFloat64()
	c, err := scanCategory(r.db.QueryRowContext(ctx, adjustCategorySQL,
		d, core.FormatTimestamp(at), d, string(today), string(today), id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, core.ErrNotFound
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("adjust category %s: %w", id, err)
	}
	return c, nil
}

func updateStatement(id string, p core.CategoryPatch) (string, []any) {
	query := "UPDATE categories SET "
	var args []any
	add := func(col string, v any) {
		if len(args) > 0 {
			query += ", "
		}
		query += col + " = ?"
		args = append(args, v)
	}
	if p.Value != nil {
		add("value", p.Value.InexactFloat64())
	}
	if p.LastUpdated != nil {
		add("last_updated", core.FormatTimestamp(*p.LastUpdated))
	}
	if p.ClicksToday != nil {
		add("clicks_today", *p.ClicksToday)
	}
	if p.LastClickDate != nil {
		add("last_click_date", string(*p.LastClickDate))
	}
	query += " WHERE id = ?"
	return query, append(args, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(row rowScanner) (core.Category, error) {
	var (
		c     core.Category
		value float64
		day   string
	)
	if err := row.Scan(&c.ID, &c.Name, &value, &c.LastUpdated, &c.ClicksToday, &day); err != nil {
		return core.Category{}, err
	}
	c.Value = decimal.NewFromFloat(value)
	c.LastClickDate = core.Day(day)
	return c, nil
}

func collect(rows *sql.Rows) ([]core.Category, error) {
	defer rows.Close()
	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}
