package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"counters/internal/backend"
	"counters/internal/cli"
	"counters/internal/config"
	apphttp "counters/internal/http"
	"counters/internal/log"
	"counters/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger("counters")
	cfg := cli.LoadAndValidateConfig(logger)
	loc := cfg.Location()

	// Web instances consume the change bus on a private queue so every
	// instance sees every change.
	backendConfig, err := backend.FromAppConfig(cfg, cli.InstanceID("web"), "")
	if err != nil {
		logger.Error("Failed to convert config", log.FieldError, err)
		os.Exit(1)
	}

	result, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendConfig)
	if err != nil {
		logger.Error("Failed to create backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	rollover := services.NewRolloverService(result.Service, loc, time.Now)

	var scheduler *services.Scheduler
	if cfg.RolloverOnServer {
		scheduler = services.NewScheduler(rollover, loc, cfg.StoreTimeout)
		id, err := scheduler.ScheduleRollover(cfg.RolloverSchedule)
		if err != nil {
			logger.Error("Failed to schedule rollover", log.FieldError, err, "schedule", cfg.RolloverSchedule)
			os.Exit(1)
		}
		scheduler.Start()
		logger.Info("Rollover scheduled", "schedule", cfg.RolloverSchedule, "next", scheduler.Next(id))
	}

	srv, err := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		Location:           loc,
		StoreTimeout:       cfg.StoreTimeout,
		ViewTTL:            cfg.ViewTTL,
		MaxViews:           cfg.MaxViews,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		AtomicCounters:     cfg.CounterMode == config.CounterModeAtomic,
	}, apphttp.Deps{
		Backend: result.Service,
		Feed:    result.Feed(),
		Sweeper: rollover,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("Failed to initialize server", log.FieldError, err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 15*time.Second, func(ctx context.Context) {
		if scheduler != nil {
			scheduler.Stop()
		}
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown failed", log.FieldError, err)
		}
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server",
			"addr", srv.Addr,
			"backend", cfg.DataBackend,
			"timezone", loc.String(),
			"counter_mode", cfg.CounterMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return result.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped", log.FieldError, err)
		_ = srv.Shutdown(context.Background())
		_ = result.Cleanup()
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
}
