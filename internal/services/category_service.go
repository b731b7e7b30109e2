package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"counters/internal/core"
	"counters/internal/store"
)

// LocalPublisher delivers changes to subscribers in this process.
type LocalPublisher interface {
	Publish(store.Change)
}

// ChangePublisher delivers changes to other processes.
type ChangePublisher interface {
	PublishChange(ctx context.Context, change store.Change) error
}

// CategoryService orchestrates category writes across the store, the local
// change broker and the AMQP bus. It satisfies store.CategoryStore so the
// dashboard can use it in place of the raw store.
type CategoryService struct {
	store  store.CategoryStore
	local  LocalPublisher
	remote ChangePublisher
	origin string
}

// NewCategoryService wraps st. local and remote may be nil; origin tags
// remote messages so a process can skip its own.
func NewCategoryService(st store.CategoryStore, local LocalPublisher, remote ChangePublisher, origin string) *CategoryService {
	return &CategoryService{store: st, local: local, remote: remote, origin: origin}
}

func (s *CategoryService) ListCategories(ctx context.Context) ([]core.Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *CategoryService) GetCategory(ctx context.Context, id string) (core.Category, error) {
	return s.store.GetCategory(ctx, id)
}

func (s *CategoryService) FindByName(ctx context.Context, name string) ([]core.Category, error) {
	return s.store.FindByName(ctx, name)
}

func (s *CategoryService) ListClickDates(ctx context.Context) ([]core.ClickDate, error) {
	return s.store.ListClickDates(ctx)
}

func (s *CategoryService) InsertCategory(ctx context.Context, nc core.NewCategory) (core.Category, error) {
	c, err := s.store.InsertCategory(ctx, nc)
	if err != nil {
		return core.Category{}, err
	}
	s.notify(ctx, store.ChangeInsert, c.ID)
	return c, nil
}

func (s *CategoryService) UpdateCategory(ctx context.Context, id string, p core.CategoryPatch) error {
	if err := s.store.UpdateCategory(ctx, id, p); err != nil {
		return err
	}
	s.notify(ctx, store.ChangeUpdate, id)
	return nil
}

func (s *CategoryService) DeleteCategory(ctx context.Context, id string) error {
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.notify(ctx, store.ChangeDelete, id)
	return nil
}

// Adjuster returns the atomic adjuster of the wrapped store, or nil when the
// store only supports read-modify-write.
func (s *CategoryService) Adjuster() store.Adjuster {
	inner, ok := s.store.(store.Adjuster)
	if !ok {
		return nil
	}
	return &notifyingAdjuster{svc: s, inner: inner}
}

// Ping reports store readiness when the store supports it.
func (s *CategoryService) Ping(ctx context.Context) error {
	if p, ok := s.store.(store.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

type notifyingAdjuster struct {
	svc   *CategoryService
	inner store.Adjuster
}

func (a *notifyingAdjuster) AdjustCategory(ctx context.Context, id string, delta decimal.Decimal, at time.Time, today core.Day) (core.Category, error) {
	c, err := a.inner.AdjustCategory(ctx, id, delta, at, today)
	if err != nil {
		return core.Category{}, err
	}
	a.svc.notify(ctx, store.ChangeUpdate, id)
	return c, nil
}

func (s *CategoryService) notify(ctx context.Context, kind store.ChangeKind, id string) {
	change := store.Change{Kind: kind, ID: id, At: time.Now().UTC(), Origin: s.origin}
	if s.local != nil {
		s.local.Publish(change)
	}
	if s.remote == nil {
		return
	}
	if err := s.remote.PublishChange(ctx, change); err != nil {
		// The write is committed; peers catch up on their next refresh.
		slog.ErrorContext(ctx, "Failed to publish category change",
			"kind", kind, "id", id, "error", err)
	}
}

// Close closes the store and the remote publisher when they hold resources.
func (s *CategoryService) Close() error {
	var errs []error
	if c, ok := s.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if c, ok := s.remote.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}
	return errors.Join(errs...)
}
