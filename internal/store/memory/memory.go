package memory

import (
	"bufio"
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"counters/internal/core"
)

// Store keeps categories in process memory.
type Store struct {
	mu    sync.Mutex
	items map[string]core.Category
	now   func() time.Time
	loc   *time.Location
}

func New() *Store {
	return &Store{items: make(map[string]core.Category), now: time.Now, loc: time.UTC}
}

// NewFromFile seeds the store with one category per non-empty line of path.
// Lines starting with '#' are ignored, as are duplicates. A missing file
// yields an empty store.
func NewFromFile(path string, loc *time.Location) *Store {
	s := New()
	if loc != nil {
		s.loc = loc
	}
	for _, name := range readLines(path) {
		_, _ = s.InsertCategory(context.Background(), core.NewCategoryNamed(name, s.now(), s.loc))
	}
	return s
}

func (s *Store) ListCategories(_ context.Context) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Category, 0, len(s.items))
	for _, c := range s.items {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return core.Category{}, core.ErrNotFound
	}
	return c, nil
}

func (s *Store) FindByName(_ context.Context, name string) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Category
	for _, c := range s.items {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) ListClickDates(ctx context.Context) ([]core.ClickDate, error) {
	list, _ := s.ListCategories(ctx)
	out := make([]core.ClickDate, len(list))
	for i, c := range list {
		out[i] = core.ClickDate{ID: c.ID, LastClickDate: c.LastClickDate}
	}
	return out, nil
}

func (s *Store) InsertCategory(_ context.Context, nc core.NewCategory) (core.Category, error) {
	c := core.Category{
		ID:            uuid.NewString(),
		Name:          nc.Name,
		Value:         nc.Value,
		LastUpdated:   core.FormatTimestamp(nc.LastUpdated),
		ClicksToday:   nc.ClicksToday,
		LastClickDate: nc.LastClickDate,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[c.ID] = c
	return c, nil
}

func (s *Store) UpdateCategory(_ context.Context, id string, p core.CategoryPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return core.ErrNotFound
	}
	p.Apply(&c)
	s.items[id] = c
	return nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// AdjustCategory applies delta under the store lock.
func (s *Store) AdjustCategory(_ context.Context, id string, delta decimal.Decimal, at time.Time, today core.Day) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return core.Category{}, core.ErrNotFound
	}
	c = c.WithCounts(core.ApplyDelta(c.Counts(), delta, today), at)
	s.items[id] = c
	return c, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func readLines(path string) []string {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	seen := map[string]struct{}{}
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
