package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"counters/internal/core"
	applog "counters/internal/log"
	"counters/internal/store"
)

// Sweeper clears stale daily counters. Implemented by services.RolloverService.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Deps wires a Container to its collaborators.
type Deps struct {
	Store store.CategoryStore
	Feed  store.ChangeFeed
	// Adjuster switches counter updates to the atomic path. Nil keeps
	// read-modify-write.
	Adjuster store.Adjuster
	Sweeper  Sweeper
	Location *time.Location
	Now      func() time.Time
	Logger   *applog.Logger
	// RefreshTimeout bounds refreshes triggered by change notifications.
	RefreshTimeout time.Duration
}

// View is a consistent snapshot of the container state for rendering.
type View struct {
	Categories   []core.Category
	Options      []Option
	Selected     *core.Category
	Sort         core.SortState
	Stats        core.Stats
	Loading      bool
	FetchErr     error
	CanDecrement bool
	Location     *time.Location
}

// Container is the state of one browser view: the category list, the
// active selection and the table ordering.
type Container struct {
	store    store.CategoryStore
	feed     store.ChangeFeed
	sweeper  Sweeper
	form     *Form
	counter  *Counter
	selector *Selector
	loc      *time.Location
	logger   *applog.Logger
	timeout  time.Duration

	group   singleflight.Group
	updates chan struct{}
	done    chan struct{}

	mu         sync.Mutex
	categories []core.Category
	selectedID string
	// cleared holds off auto-selection after the selection was cleared,
	// until the set of categories changes from clearedKey.
	cleared    bool
	clearedKey string
	loading    bool
	fetchErr   error
	sort       core.SortState
	sub        store.Subscription
	closed     bool
	// writeGen counts local writes. A read that started before the latest
	// write is discarded when it lands.
	writeGen uint64
}

func New(deps Deps) *Container {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = applog.New(applog.DefaultConfig())
	}
	if deps.RefreshTimeout <= 0 {
		deps.RefreshTimeout = 10 * time.Second
	}
	return &Container{
		store:    deps.Store,
		feed:     deps.Feed,
		sweeper:  deps.Sweeper,
		form:     NewForm(deps.Store, deps.Location, deps.Now),
		counter:  NewCounter(deps.Store, deps.Adjuster, deps.Location, deps.Now),
		selector: NewSelector(deps.Store),
		loc:      deps.Location,
		logger:   deps.Logger.WithComponent(applog.ComponentDashboard),
		timeout:  deps.RefreshTimeout,
		updates:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		loading:  true,
		sort:     core.DefaultSort(),
	}
}

// Mount subscribes to change notifications, runs the day rollover sweep and
// loads the list. Only the fetch error is returned.
func (c *Container) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.feed != nil && c.sub == nil && !c.closed {
		c.sub = c.feed.OnChange(c.handleChange)
	}
	c.mu.Unlock()

	if c.sweeper != nil {
		n, err := c.sweeper.Sweep(ctx)
		if err != nil {
			c.logger.WarnContext(ctx, "Day rollover failed",
				applog.FieldOperation, applog.OpRollover, applog.FieldError, err)
		} else if n > 0 {
			c.logger.InfoContext(ctx, "Day rollover applied",
				applog.FieldOperation, applog.OpRollover, applog.FieldCount, n)
		}
	}

	return c.Refresh(ctx)
}

func (c *Container) handleChange(change store.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("Refresh after change failed",
			applog.FieldChangeKind, string(change.Kind),
			applog.FieldCategoryID, change.ID,
			applog.FieldError, err)
	}
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// Updates signals after every change-driven refresh. Signals coalesce.
func (c *Container) Updates() <-chan struct{} {
	return c.updates
}

// Refresh re-reads the list. Concurrent calls share one store read. A failed
// read keeps the previous list and is reported by Snapshot until the next
// successful read.
func (c *Container) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("list", func() (interface{}, error) {
		c.mu.Lock()
		gen := c.writeGen
		c.mu.Unlock()

		list, err := c.store.ListCategories(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.loading = false
		if gen != c.writeGen {
			// Read raced a local write; the post-write refresh supersedes it.
			return nil, nil
		}
		if err != nil {
			c.fetchErr = err
			return nil, err
		}
		c.fetchErr = nil
		c.categories = list
		c.reconcileLocked()
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	return nil
}

func (c *Container) reconcileLocked() {
	if c.selectedID != "" && c.indexLocked(c.selectedID) < 0 {
		c.clearSelectionLocked()
	}
	if c.cleared && membershipKey(c.categories) != c.clearedKey {
		c.cleared = false
	}
	if c.selectedID == "" && !c.cleared && len(c.categories) > 0 {
		c.selectedID = c.categories[0].ID
	}
}

func (c *Container) clearSelectionLocked() {
	c.selectedID = ""
	c.cleared = true
	c.clearedKey = membershipKey(c.categories)
}

// membershipKey identifies the set of ids in list, ignoring order.
func membershipKey(list []core.Category) string {
	ids := make([]string, len(list))
	for i, cat := range list {
		ids[i] = cat.ID
	}
	sort.Strings(ids)
	return strings.Join(ids, "\x00")
}

func (c *Container) indexLocked(id string) int {
	for i := range c.categories {
		if c.categories[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Container) selectedLocked() *core.Category {
	if i := c.indexLocked(c.selectedID); i >= 0 {
		sel := c.categories[i]
		return &sel
	}
	return nil
}

// Selected returns the active category, or nil.
func (c *Container) Selected() *core.Category {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedLocked()
}

// Select makes id the active category. The id must be in the loaded list.
func (c *Container) Select(id string) (core.Category, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexLocked(id)
	if i < 0 {
		return core.Category{}, core.ErrNotFound
	}
	c.selectedID = id
	c.cleared = false
	return c.categories[i], nil
}

// AddCategory creates a category and re-reads the list.
func (c *Container) AddCategory(ctx context.Context, name string) (core.Category, error) {
	created, err := c.form.Submit(ctx, name)
	if err != nil {
		return core.Category{}, err
	}

	c.mu.Lock()
	c.cleared = false
	c.writeGen++
	c.mu.Unlock()

	c.refreshAfterWrite(ctx, applog.OpCreate)
	return created, nil
}

// Adjust applies delta to the active category.
func (c *Container) Adjust(ctx context.Context, delta decimal.Decimal) (core.Category, error) {
	sel := c.Selected()
	if sel == nil {
		return core.Category{}, core.ErrNoSelection
	}

	updated, err := c.counter.Adjust(ctx, sel.ID, delta)
	if err != nil {
		return core.Category{}, err
	}
	c.replace(updated)
	c.refreshAfterWrite(ctx, applog.OpAdjust)
	return updated, nil
}

// Reset zeroes the active category.
func (c *Container) Reset(ctx context.Context) (core.Category, error) {
	sel := c.Selected()
	if sel == nil {
		return core.Category{}, core.ErrNoSelection
	}

	updated, err := c.counter.Reset(ctx, *sel)
	if err != nil {
		return core.Category{}, err
	}
	c.replace(updated)
	c.refreshAfterWrite(ctx, applog.OpReset)
	return updated, nil
}

// DeleteSelected deletes the active category after confirmation and clears
// the selection.
func (c *Container) DeleteSelected(ctx context.Context, confirmed bool) (core.Category, error) {
	sel := c.Selected()
	if err := c.selector.Delete(ctx, sel, confirmed); err != nil {
		return core.Category{}, err
	}

	c.mu.Lock()
	if i := c.indexLocked(sel.ID); i >= 0 {
		c.categories = append(c.categories[:i:i], c.categories[i+1:]...)
	}
	if c.selectedID == sel.ID {
		c.clearSelectionLocked()
	}
	c.writeGen++
	c.mu.Unlock()

	c.refreshAfterWrite(ctx, applog.OpDelete)
	return *sel, nil
}

// ToggleSort flips or switches the table ordering.
func (c *Container) ToggleSort(field core.SortField) core.SortState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sort = c.sort.Toggle(field)
	return c.sort
}

// Stats summarises the loaded list.
func (c *Container) Stats() core.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return core.ComputeStats(c.categories)
}

// Snapshot returns the view state with the list in table order.
func (c *Container) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		Categories: core.SortCategories(c.categories, c.sort),
		Options:    Options(c.categories, c.selectedID),
		Selected:   c.selectedLocked(),
		Sort:       c.sort,
		Stats:      core.ComputeStats(c.categories),
		Loading:    c.loading,
		FetchErr:   c.fetchErr,
		Location:   c.loc,
	}
	if v.Selected != nil {
		v.CanDecrement = core.CanDecrement(*v.Selected)
	}
	return v
}

// Done is closed once the container is closed.
func (c *Container) Done() <-chan struct{} {
	return c.done
}

// Close unsubscribes from change notifications. Safe to call repeatedly.
func (c *Container) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	sub := c.sub
	c.sub = nil
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// replace updates the loaded row in place so the response reflects the
// write even when the following re-read fails.
func (c *Container) replace(updated core.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(updated.ID); i >= 0 {
		c.categories[i] = updated
	}
	c.writeGen++
}

// refreshAfterWrite starts a fresh read instead of joining one that may
// predate the write.
func (c *Container) refreshAfterWrite(ctx context.Context, op string) {
	c.group.Forget("list")
	if err := c.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.WarnContext(ctx, "Refresh after write failed",
			applog.FieldOperation, op, applog.FieldError, err)
	}
}
