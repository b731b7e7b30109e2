package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"counters/internal/core"
)

var today = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryStoreInsertListDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, name := range []string{"Tea", "Coffee", "Water"} {
		if _, err := s.InsertCategory(ctx, core.NewCategoryNamed(name, today, time.UTC)); err != nil {
			t.Fatalf("insert %s: %v", name, err)
		}
	}

	list, err := s.ListCategories(ctx)
	if err != nil || len(list) != 3 {
		t.Fatalf("unexpected list: %v err=%v", list, err)
	}
	if list[0].Name != "Coffee" || list[2].Name != "Water" {
		t.Fatalf("list not ordered by name: %v", list)
	}
	if list[0].ID == "" || list[0].LastClickDate != "2024-05-01" {
		t.Fatalf("unexpected row: %+v", list[0])
	}

	found, _ := s.FindByName(ctx, "coffee")
	if len(found) != 0 {
		t.Fatalf("name match must be case sensitive, got %v", found)
	}
	found, _ = s.FindByName(ctx, "Coffee")
	if len(found) != 1 {
		t.Fatalf("expected exact match, got %v", found)
	}

	if err := s.DeleteCategory(ctx, list[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetCategory(ctx, list[0].ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteCategory(ctx, list[0].ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryStoreUpdatePatch(t *testing.T) {
	ctx := context.Background()
	s := New()
	c, _ := s.InsertCategory(ctx, core.NewCategoryNamed("Steps", today, time.UTC))

	if err := s.UpdateCategory(ctx, c.ID, core.RolloverPatch("2024-05-02")); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := s.GetCategory(ctx, c.ID)
	if got.LastClickDate != "2024-05-02" || got.LastUpdated != c.LastUpdated {
		t.Fatalf("unexpected row after patch: %+v", got)
	}
	if err := s.UpdateCategory(ctx, "missing", core.RolloverPatch("2024-05-02")); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	dates, _ := s.ListClickDates(ctx)
	if len(dates) != 1 || dates[0].ID != c.ID {
		t.Fatalf("unexpected click dates: %v", dates)
	}
}

func TestMemoryStoreAdjustIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := New()
	c, _ := s.InsertCategory(ctx, core.NewCategoryNamed("Race", today, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.AdjustCategory(ctx, c.ID, decimal.NewFromInt(1), today, "2024-05-01")
		}()
	}
	wg.Wait()

	got, _ := s.GetCategory(ctx, c.ID)
	if !got.Value.Equal(decimal.NewFromInt(50)) || got.ClicksToday != 50 {
		t.Fatalf("lost updates: value=%s clicks=%d", got.Value, got.ClicksToday)
	}
}

func TestNewFromFileSeedsAndDedupes(t *testing.T) {
	dir := t.TempDir()
	if s := NewFromFile(filepath.Join(dir, "missing.txt"), nil); len(mustList(t, s)) != 0 {
		t.Fatal("expected empty store when seed file is missing")
	}

	path := filepath.Join(dir, "seed_categories.txt")
	if err := os.WriteFile(path, []byte("# header\nCoffee\nTea\nCoffee\n\n"), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	list := mustList(t, NewFromFile(path, time.UTC))
	if len(list) != 2 || list[0].Name != "Coffee" || list[1].Name != "Tea" {
		t.Fatalf("unexpected seeded list: %v", list)
	}
}

func mustList(t *testing.T, s *Store) []core.Category {
	t.Helper()
	list, err := s.ListCategories(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return list
}
