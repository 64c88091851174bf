package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kasirinaja/register/internal/config"
	"kasirinaja/register/internal/failure"
	"kasirinaja/register/internal/jobs"
	"kasirinaja/register/internal/logging"
	"kasirinaja/register/internal/platform"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	redisOpts, ok := platform.RedisOpts(cfg)
	if !ok {
		return fmt.Errorf("REDIS_ADDR must be set for the worker")
	}
	if cfg.StoreKind() == "memory" {
		return fmt.Errorf("worker needs DATABASE_URL or SQLITE_PATH")
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	repo, closeRepo, err := platform.OpenRepository(openCtx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeRepo(); err != nil {
			logger.Warn("close repository", slog.Any("error", err))
		}
	}()

	ledger := failure.New(repo, repo, cfg.BackupDir, logger)
	importJob := jobs.NewImportBackupsJob(ledger, logger)

	scheduled, err := jobs.NewImportBackupsTask(jobs.ImportBackupsPayload{RequestedBy: "scheduler"})
	if err != nil {
		return err
	}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskImportBackups, Handler: importJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.BackupImportCron, Task: scheduled},
		},
	})
	if err != nil {
		return fmt.Errorf("build worker: %w", err)
	}

	logger.Info("worker started",
		slog.String("store", cfg.StoreKind()),
		slog.String("backup_dir", ledger.BackupDir()),
		slog.String("cron", cfg.BackupImportCron),
	)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("worker stopped")
	return nil
}
