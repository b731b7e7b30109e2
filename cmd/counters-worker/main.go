package main

import (
	"context"
	"errors"
	"os"
	"time"

	"counters/internal/amqp"
	"counters/internal/backend"
	"counters/internal/cli"
	"counters/internal/log"
	"counters/internal/services"
	"counters/internal/sheets"
	gsheet "counters/internal/sheets/google"
	memmirror "counters/internal/sheets/memory"
	"counters/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger("counters-worker")
	logger.Info("Starting counters-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	loc := cfg.Location()

	if cfg.DataBackend == string(backend.MemoryBackend) {
		logger.Warn("Worker is running against a private in-memory store")
	}

	backendConfig, err := backend.FromAppConfig(cfg, cli.InstanceID("worker"), cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to convert config", log.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendConfig)
	if err != nil {
		logger.Error("Failed to create backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	// The worker owns the day rollover, so dashboards left open across
	// midnight are refreshed through the change feed.
	rollover := services.NewRolloverService(result.Service, loc, time.Now)
	scheduler := services.NewScheduler(rollover, loc, cfg.StoreTimeout)
	entry, err := scheduler.ScheduleRollover(cfg.RolloverSchedule)
	if err != nil {
		logger.Error("Failed to schedule rollover", log.FieldError, err, "schedule", cfg.RolloverSchedule)
		os.Exit(1)
	}
	scheduler.Start()
	logger.Info("Rollover scheduled", "schedule", cfg.RolloverSchedule, "next", scheduler.Next(entry))

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		logger.Info("Shutting down worker...")
		scheduler.Stop()
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	})

	var writer sheets.SnapshotWriter
	if cfg.MirrorEnabled() {
		sheetsClient, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
			Location:        loc,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
		writer = sheetsClient
	} else {
		logger.Info("Google Sheets mirror disabled - mirroring in memory")
		writer = memmirror.New()
	}

	mirror := worker.NewMirrorWorker(result.Service, writer)
	syncCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	if err := mirror.StartupSync(syncCtx); err != nil {
		// Not fatal: the next change message retries the snapshot.
		logger.Error("Failed startup sync", log.FieldError, err)
	}
	cancel()

	if result.AMQP == nil {
		logger.Info("Skipping change consumption - no AMQP connection")
	} else {
		go func() {
			handler := func(msg *amqp.ChangeMessage) error {
				return mirror.HandleChange(ctx, msg)
			}
			if err := result.AMQP.Run(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Change consumption failed", log.FieldError, err)
			}
		}()
	}

	cli.WaitForShutdown(ctx, done)
}
