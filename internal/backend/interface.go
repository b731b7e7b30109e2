package backend

import (
	"context"
	"time"

	"counters/internal/amqp"
	"counters/internal/events"
	"counters/internal/realtime"
	"counters/internal/services"
	"counters/internal/store"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult is a wired category store with its change feed.
type BackendResult struct {
	// Service is the store every caller writes through; it publishes a
	// change after each committed write.
	Service *services.CategoryService
	// Broker fans changes out inside the process and is the feed views
	// subscribe to.
	Broker *events.Broker
	// Realtime and AMQP are nil unless configured. Their loops are started
	// by Run.
	Realtime *realtime.Client
	AMQP     *amqp.Client
	Cleanup  CleanupFunc

	origin string
}

// Feed returns the change feed views subscribe to.
func (r *BackendResult) Feed() store.ChangeFeed {
	return r.Broker
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Memory specific
	MemorySeedFile string

	// SQLite specific
	SQLiteDBPath string

	// Hosted table specific
	SupabaseURL      string
	SupabaseAnonKey  string
	SupabaseRealtime bool
	StoreTimeout     time.Duration

	// Change bus, optional for every backend. An empty queue declares an
	// exclusive server-named queue.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Origin tags published changes so this process can skip its own.
	Origin   string
	Location *time.Location
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend    BackendType = "memory"
	SQLiteBackend    BackendType = "sqlite"
	PostgRESTBackend BackendType = "postgrest"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgRESTBackend:
		return true
	default:
		return false
	}
}
