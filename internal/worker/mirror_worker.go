package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"counters/internal/amqp"
	"counters/internal/sheets"
	"counters/internal/store"
)

// MirrorWorker keeps an external copy of the categories table in step with
// the store. Every change message triggers a full snapshot.
type MirrorWorker struct {
	reader store.CategoryReader
	writer sheets.SnapshotWriter
	now    func() time.Time

	mu         sync.Mutex
	lastSynced time.Time
}

func NewMirrorWorker(reader store.CategoryReader, writer sheets.SnapshotWriter) *MirrorWorker {
	return &MirrorWorker{reader: reader, writer: writer, now: time.Now}
}

// HandleChange processes a single change message from AMQP. A message older
// than the start of the last successful snapshot is already reflected in it
// and is skipped.
func (w *MirrorWorker) HandleChange(ctx context.Context, msg *amqp.ChangeMessage) error {
	slog.InfoContext(ctx, "Processing change message",
		"kind", msg.Kind,
		"id", msg.ID,
		"origin", msg.Origin)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.lastSynced.IsZero() && msg.Timestamp.Before(w.lastSynced) {
		slog.DebugContext(ctx, "Change already mirrored, skipping",
			"id", msg.ID,
			"timestamp", msg.Timestamp)
		return nil
	}
	return w.syncLocked(ctx)
}

// StartupSync writes a full snapshot so changes missed while the worker was
// down reach the mirror.
func (w *MirrorWorker) StartupSync(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.syncLocked(ctx); err != nil {
		return fmt.Errorf("startup sync: %w", err)
	}
	slog.InfoContext(ctx, "Startup sync completed")
	return nil
}

func (w *MirrorWorker) syncLocked(ctx context.Context) error {
	started := w.now()

	categories, err := w.reader.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	if err := w.writer.WriteSnapshot(ctx, categories); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	w.lastSynced = started
	slog.InfoContext(ctx, "Successfully mirrored categories", "count", len(categories))
	return nil
}
