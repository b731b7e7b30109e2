package dashboard

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"counters/internal/core"
	"counters/internal/events"
	"counters/internal/services"
	"counters/internal/store"
	"counters/internal/store/memory"
)

var testNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func newContainer(t *testing.T, st store.CategoryStore, feed store.ChangeFeed, adjuster store.Adjuster) *Container {
	t.Helper()
	c := New(Deps{
		Store:    st,
		Feed:     feed,
		Adjuster: adjuster,
		Sweeper:  services.NewRolloverService(st, time.UTC, clock),
		Location: time.UTC,
		Now:      clock,
	})
	t.Cleanup(c.Close)
	return c
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestFormSubmit(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	form := NewForm(st, time.UTC, clock)

	created, err := form.Submit(ctx, "Coffee")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !created.Value.IsZero() || created.ClicksToday != 0 || created.LastClickDate != "2024-05-01" {
		t.Fatalf("unexpected new category %+v", created)
	}

	if _, err := form.Submit(ctx, strings.Repeat("x", core.MaxNameLength)); err != nil {
		t.Fatalf("name at max length rejected: %v", err)
	}
	if _, err := form.Submit(ctx, "coffee"); err != nil {
		t.Fatalf("names differing in case must both be allowed: %v", err)
	}

	tests := []struct {
		name    string
		input   string
		wantDup bool
	}{
		{"empty", "", false},
		{"too long", strings.Repeat("x", core.MaxNameLength+1), false},
		{"duplicate", "Coffee", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := st.ListCategories(ctx)
			_, err := form.Submit(ctx, tt.input)

			var fe *core.FieldError
			if !errors.As(err, &fe) || fe.Field != "name" {
				t.Fatalf("expected name field error, got %v", err)
			}
			if got := errors.Is(err, core.ErrDuplicate); got != tt.wantDup {
				t.Fatalf("errors.Is(ErrDuplicate) = %v, want %v", got, tt.wantDup)
			}
			after, _ := st.ListCategories(ctx)
			if len(after) != len(before) {
				t.Fatalf("rejected submit inserted a row: %d -> %d", len(before), len(after))
			}
		})
	}
}

func TestCounterScenario(t *testing.T) {
	for _, atomic := range []bool{false, true} {
		name := "read_write"
		if atomic {
			name = "atomic"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := memory.New()
			var adj store.Adjuster
			if atomic {
				adj = st
			}
			c := newContainer(t, st, nil, adj)
			if err := c.Mount(ctx); err != nil {
				t.Fatalf("Mount: %v", err)
			}

			if _, err := c.AddCategory(ctx, "Coffee"); err != nil {
				t.Fatalf("AddCategory: %v", err)
			}
			if sel := c.Selected(); sel == nil || sel.Name != "Coffee" {
				t.Fatalf("first category should be selected, got %+v", sel)
			}

			var got core.Category
			var err error
			for i := 0; i < 3; i++ {
				if got, err = c.Adjust(ctx, core.StepIncrement); err != nil {
					t.Fatalf("Adjust: %v", err)
				}
			}
			if !got.Value.Equal(dec("3")) || got.ClicksToday != 3 {
				t.Fatalf("after three increments: value=%s clicks=%d", got.Value, got.ClicksToday)
			}

			if got, err = c.Adjust(ctx, core.StepHalfDecrement); err != nil {
				t.Fatalf("Adjust: %v", err)
			}
			if !got.Value.Equal(dec("2.5")) || got.ClicksToday != 3 {
				t.Fatalf("after decrement: value=%s clicks=%d", got.Value, got.ClicksToday)
			}

			if got, err = c.Reset(ctx); err != nil {
				t.Fatalf("Reset: %v", err)
			}
			if !got.Value.IsZero() || got.ClicksToday != 0 || got.LastClickDate != "2024-05-01" {
				t.Fatalf("after reset: %+v", got)
			}

			stored, err := st.GetCategory(ctx, got.ID)
			if err != nil {
				t.Fatalf("GetCategory: %v", err)
			}
			if !stored.Value.IsZero() || stored.ClicksToday != 0 {
				t.Fatalf("store not reset: %+v", stored)
			}
			if v := c.Snapshot(); v.CanDecrement || v.Selected == nil {
				t.Fatalf("zero value must disable decrement: %+v", v)
			}
		})
	}
}

func TestCounterAdjustRestartsClicksOnNewDay(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	cat, _ := st.InsertCategory(ctx, core.NewCategory{
		Name: "Tea", Value: dec("4"), LastUpdated: testNow, ClicksToday: 7, LastClickDate: "2024-04-30",
	})

	got, err := NewCounter(st, nil, time.UTC, clock).Adjust(ctx, cat.ID, core.StepIncrement)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if got.ClicksToday != 1 || got.LastClickDate != "2024-05-01" || !got.Value.Equal(dec("5")) {
		t.Fatalf("unexpected counts %+v", got)
	}
}

func TestAdjustWithoutSelection(t *testing.T) {
	c := newContainer(t, memory.New(), nil, nil)
	if err := c.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if _, err := c.Adjust(context.Background(), core.StepIncrement); !errors.Is(err, core.ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
	if _, err := c.Reset(context.Background()); !errors.Is(err, core.ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
}

func TestDeleteSelected(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := newContainer(t, st, nil, nil)
	if err := c.Mount(ctx); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	for _, name := range []string{"Apples", "Bread"} {
		if _, err := c.AddCategory(ctx, name); err != nil {
			t.Fatalf("AddCategory(%s): %v", name, err)
		}
	}
	if sel := c.Selected(); sel == nil || sel.Name != "Apples" {
		t.Fatalf("expected Apples selected, got %+v", sel)
	}

	if _, err := c.DeleteSelected(ctx, false); !errors.Is(err, core.ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	if v := c.Snapshot(); len(v.Categories) != 2 {
		t.Fatalf("unconfirmed delete removed a row")
	}

	deleted, err := c.DeleteSelected(ctx, true)
	if err != nil {
		t.Fatalf("DeleteSelected: %v", err)
	}
	if deleted.Name != "Apples" {
		t.Fatalf("deleted %q", deleted.Name)
	}

	v := c.Snapshot()
	if len(v.Categories) != 1 || v.Categories[0].Name != "Bread" {
		t.Fatalf("unexpected list %+v", v.Categories)
	}
	if v.Selected != nil {
		t.Fatalf("selection should be cleared, got %+v", v.Selected)
	}

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if c.Selected() != nil {
		t.Fatal("refresh must not re-select after an explicit clear")
	}
	if _, err := c.DeleteSelected(ctx, true); !errors.Is(err, core.ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}

	bread := v.Categories[0]
	if _, err := c.Select(bread.ID); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, err := c.Select("missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMountRunsRollover(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	stale, _ := st.InsertCategory(ctx, core.NewCategory{Name: "Old", LastUpdated: testNow, ClicksToday: 5, LastClickDate: "2024-04-28"})
	fresh, _ := st.InsertCategory(ctx, core.NewCategory{Name: "New", LastUpdated: testNow, ClicksToday: 2, LastClickDate: "2024-05-01"})

	c := newContainer(t, st, nil, nil)
	if err := c.Mount(ctx); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	got := map[string]core.Category{}
	for _, cat := range c.Snapshot().Categories {
		got[cat.ID] = cat
	}
	if got[stale.ID].ClicksToday != 0 || got[stale.ID].LastClickDate != "2024-05-01" {
		t.Fatalf("stale row not rolled over: %+v", got[stale.ID])
	}
	if got[fresh.ID].ClicksToday != 2 {
		t.Fatalf("row dated today changed: %+v", got[fresh.ID])
	}
}

func TestChangeNotificationRefreshesOtherViews(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	broker := events.NewBroker()
	defer broker.Close()

	watcher := newContainer(t, st, broker, nil)
	if err := watcher.Mount(ctx); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if v := watcher.Snapshot(); v.Loading || len(v.Categories) != 0 {
		t.Fatalf("unexpected initial view %+v", v)
	}

	created, err := NewForm(st, time.UTC, clock).Submit(ctx, "Water")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	broker.Publish(store.Change{Kind: store.ChangeInsert, ID: created.ID, At: testNow})

	select {
	case <-watcher.Updates():
	case <-time.After(2 * time.Second):
		t.Fatal("no update signal after change notification")
	}
	v := watcher.Snapshot()
	if len(v.Categories) != 1 || v.Selected == nil || v.Selected.ID != created.ID {
		t.Fatalf("watcher did not pick up the insert: %+v", v)
	}

	watcher.Close()
	watcher.Close()
	deadline := time.Now().Add(2 * time.Second)
	for broker.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Close did not unsubscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type failingList struct {
	store.CategoryStore
	fail bool
}

func (f *failingList) ListCategories(ctx context.Context) ([]core.Category, error) {
	if f.fail {
		return nil, errors.New("connection reset")
	}
	return f.CategoryStore.ListCategories(ctx)
}

func TestRefreshFailureKeepsPreviousList(t *testing.T) {
	ctx := context.Background()
	st := &failingList{CategoryStore: memory.New()}
	c := newContainer(t, st, nil, nil)
	if err := c.Mount(ctx); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if _, err := c.AddCategory(ctx, "Steps"); err != nil {
		t.Fatalf("AddCategory: %v", err)
	}

	st.fail = true
	if err := c.Refresh(ctx); err == nil {
		t.Fatal("expected refresh error")
	}
	v := c.Snapshot()
	if v.FetchErr == nil || len(v.Categories) != 1 || v.Selected == nil {
		t.Fatalf("failed refresh should keep state and report the error: %+v", v)
	}

	st.fail = false
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if c.Snapshot().FetchErr != nil {
		t.Fatal("successful refresh should clear the error")
	}
}

func TestSnapshotSortsAndSummarises(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	_, _ = st.InsertCategory(ctx, core.NewCategory{Name: "b", Value: dec("1"), LastUpdated: testNow, ClicksToday: 4, LastClickDate: "2024-05-01"})
	_, _ = st.InsertCategory(ctx, core.NewCategory{Name: "a", Value: dec("3"), LastUpdated: testNow, ClicksToday: 1, LastClickDate: "2024-05-01"})

	c := newContainer(t, st, nil, nil)
	if err := c.Mount(ctx); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	if state := c.ToggleSort(core.SortByValue); state.Field != core.SortByValue || state.Descending {
		t.Fatalf("new field should sort ascending: %+v", state)
	}
	if state := c.ToggleSort(core.SortByValue); !state.Descending {
		t.Fatalf("same field should flip: %+v", state)
	}

	v := c.Snapshot()
	if v.Categories[0].Name != "a" || v.Categories[1].Name != "b" {
		t.Fatalf("expected value descending order, got %s, %s", v.Categories[0].Name, v.Categories[1].Name)
	}
	if v.Options[0].Name != "a" || !v.Options[0].Selected {
		t.Fatalf("options keep name order with the first selected: %+v", v.Options)
	}
	if v.Stats.TotalClicks != 5 || !v.Stats.TotalValue.Equal(dec("4")) || v.Stats.MostActive == nil || v.Stats.MostActive.Name != "b" {
		t.Fatalf("unexpected stats %+v", v.Stats)
	}
}

// gatedList holds a read taken before it is released, so the result it
// returns predates anything written meanwhile.
type gatedList struct {
	store.CategoryStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedList) ListCategories(ctx context.Context) ([]core.Category, error) {
	list, err := g.CategoryStore.ListCategories(ctx)
	if g.armed.CompareAndSwap(true, false) {
		g.entered <- struct{}{}
		<-g.release
	}
	return list, err
}

func TestWriteIsNotUndoneByOlderRead(t *testing.T) {
	ctx := context.Background()
	st := &gatedList{
		CategoryStore: memory.New(),
		entered:       make(chan struct{}, 1),
		release:       make(chan struct{}),
	}
	c := newContainer(t, st, nil, nil)
	if err := c.Mount(ctx); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	created, err := c.AddCategory(ctx, "Push-ups")
	if err != nil {
		t.Fatalf("AddCategory: %v", err)
	}

	st.armed.Store(true)
	stale := make(chan error, 1)
	go func() { stale <- c.Refresh(ctx) }()
	<-st.entered

	adjusted := make(chan error, 1)
	go func() {
		_, err := c.Adjust(ctx, core.StepIncrement)
		adjusted <- err
	}()
	select {
	case err := <-adjusted:
		if err != nil {
			t.Fatalf("Adjust: %v", err)
		}
	case <-time.After(2 * time.Second):
		close(st.release)
		t.Fatal("Adjust waited on a read that started before it")
	}

	close(st.release)
	if err := <-stale; err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	stored, err := st.GetCategory(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetCategory: %v", err)
	}
	sel := c.Snapshot().Selected
	if sel == nil || !sel.Value.Equal(dec("1")) || !stored.Value.Equal(dec("1")) {
		t.Fatalf("view shows %+v, store has %s", sel, stored.Value)
	}
}

func TestSelectionClearedWhenDeletedElsewhere(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	broker := events.NewBroker()
	defer broker.Close()

	c := newContainer(t, st, broker, nil)
	if err := c.Mount(ctx); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	for _, name := range []string{"Apples", "Bread"} {
		if _, err := c.AddCategory(ctx, name); err != nil {
			t.Fatalf("AddCategory(%s): %v", name, err)
		}
	}
	sel := c.Selected()
	if sel == nil || sel.Name != "Apples" {
		t.Fatalf("expected Apples selected, got %+v", sel)
	}

	// Another session deletes the selected row.
	if err := st.DeleteCategory(ctx, sel.ID); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	broker.Publish(store.Change{Kind: store.ChangeDelete, ID: sel.ID, At: testNow})
	select {
	case <-c.Updates():
	case <-time.After(2 * time.Second):
		t.Fatal("no update signal after delete notification")
	}

	v := c.Snapshot()
	if len(v.Categories) != 1 || v.Categories[0].Name != "Bread" {
		t.Fatalf("unexpected list %+v", v.Categories)
	}
	if v.Selected != nil {
		t.Fatalf("selection should be cleared, got %+v", v.Selected)
	}
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if c.Selected() != nil {
		t.Fatal("unchanged list must not re-select")
	}
	if _, err := c.Adjust(ctx, core.StepIncrement); !errors.Is(err, core.ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
}

func TestAutoSelectResumesWhenListChanges(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := newContainer(t, st, nil, nil)
	if err := c.Mount(ctx); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	for _, name := range []string{"Apples", "Bread"} {
		if _, err := c.AddCategory(ctx, name); err != nil {
			t.Fatalf("AddCategory(%s): %v", name, err)
		}
	}
	if _, err := c.DeleteSelected(ctx, true); err != nil {
		t.Fatalf("DeleteSelected: %v", err)
	}
	if c.Selected() != nil {
		t.Fatal("selection should be cleared after delete")
	}

	// A category added by another session changes the list, so the first
	// entry is selected again.
	if _, err := NewForm(st, time.UTC, clock).Submit(ctx, "Apricots"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	sel := c.Selected()
	if sel == nil || sel.Name != "Apricots" {
		t.Fatalf("expected Apricots selected, got %+v", sel)
	}
}
