// Package memory is a SnapshotWriter that keeps the last mirrored table in
// process. The worker falls back to it when no spreadsheet is configured.
package memory

import (
	"context"
	"sync"

	ports "counters/internal/sheets"

	"counters/internal/core"
)

type Mirror struct {
	mu     sync.Mutex
	rows   []core.Category
	writes int
}

var _ ports.SnapshotWriter = (*Mirror)(nil)

func New() *Mirror {
	return &Mirror{}
}

// WriteSnapshot replaces the stored table with a copy of categories.
func (m *Mirror) WriteSnapshot(ctx context.Context, categories []core.Category) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append([]core.Category(nil), categories...)
	m.writes++
	return nil
}

// Rows returns the last written table.
func (m *Mirror) Rows() []core.Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Category(nil), m.rows...)
}

// Writes counts successful snapshots.
func (m *Mirror) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
