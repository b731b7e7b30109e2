package backend

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"counters/internal/amqp"
	"counters/internal/events"
	"counters/internal/log"
	"counters/internal/realtime"
	"counters/internal/services"
	"counters/internal/storage"
	"counters/internal/store"
	"counters/internal/store/memory"
	"counters/internal/store/postgrest"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend opens the configured store and wraps it in a
// CategoryService that publishes to the in-process broker and, when
// configured, to AMQP.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	result := &BackendResult{Broker: events.NewBroker(), origin: config.Origin}

	var (
		st      store.CategoryStore
		closers []func() error
	)
	switch config.Type {
	case MemoryBackend:
		st = memory.NewFromFile(config.MemorySeedFile, config.Location)
		f.logger.InfoContext(ctx, "Initialized memory backend", "seed_file", config.MemorySeedFile)

	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		st = repo
		f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	case PostgRESTBackend:
		client, err := postgrest.New(postgrest.Config{
			BaseURL: config.SupabaseURL,
			APIKey:  config.SupabaseAnonKey,
			Timeout: config.StoreTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgREST client: %w", err)
		}
		st = client

		if config.SupabaseRealtime {
			rt, err := realtime.New(realtime.Config{BaseURL: config.SupabaseURL, APIKey: config.SupabaseAnonKey})
			if err != nil {
				return nil, fmt.Errorf("failed to initialize realtime client: %w", err)
			}
			sub := rt.OnChange(result.Broker.Publish)
			closers = append(closers, func() error { sub.Unsubscribe(); return nil })
			result.Realtime = rt
		}
		f.logger.InfoContext(ctx, "Initialized PostgREST backend",
			"url", config.SupabaseURL,
			"realtime_enabled", result.Realtime != nil)

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	// The bus is optional; a broker that is down must not keep the
	// dashboard from starting.
	var remote services.ChangePublisher
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without change bus", "error", err)
		} else {
			result.AMQP = client
			remote = client
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	result.Service = services.NewCategoryService(st, result.Broker, remote, config.Origin)
	result.Cleanup = func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		result.Broker.Close()
		errs = append(errs, result.Service.Close())
		return errors.Join(errs...)
	}
	return result, nil
}

// Run keeps the realtime connection and the AMQP consumer alive until ctx
// is done. Changes from either source are republished on the broker. It
// returns immediately when neither is configured.
func (r *BackendResult) Run(ctx context.Context) error {
	if r.Realtime == nil && r.AMQP == nil {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	if r.Realtime != nil {
		g.Go(func() error { return r.Realtime.Run(ctx) })
	}
	if r.AMQP != nil {
		g.Go(func() error { return r.AMQP.Run(ctx, amqp.ForwardTo(r.Broker, r.origin)) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
