package sheets

import (
	"context"

	"counters/internal/core"
)

// Ports for outbound adapters.
type (
	// SnapshotWriter replaces an external copy of the categories table with
	// the given rows.
	SnapshotWriter interface {
		WriteSnapshot(ctx context.Context, categories []core.Category) error
	}
)
