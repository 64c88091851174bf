// Package platform opens the backing services both binaries share.
package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"kasirinaja/register/internal/config"
	"kasirinaja/register/internal/store"
	"kasirinaja/register/internal/store/memory"
	pgstore "kasirinaja/register/internal/store/postgres"
	sqlitestore "kasirinaja/register/internal/store/sqlite"
)

// OpenRepository connects the store named by cfg.StoreKind. The returned
// close func is never nil.
func OpenRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, func() error, error) {
	noop := func() error { return nil }

	switch cfg.StoreKind() {
	case "postgres":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		logger.Info("repository ready", slog.String("kind", "postgres"))
		return pg, pg.Close, nil
	case "sqlite":
		lite, err := sqlitestore.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		logger.Info("repository ready", slog.String("kind", "sqlite"), slog.String("path", cfg.SQLitePath))
		return lite, lite.Close, nil
	default:
		logger.Warn("repository is in-memory; data is lost on restart")
		return memory.NewSeeded(), noop, nil
	}
}

// RedisOpts is the asynq connection for cfg, ok is false when REDIS_ADDR is
// unset.
func RedisOpts(cfg config.Config) (asynq.RedisClientOpt, bool) {
	if cfg.RedisAddr == "" {
		return asynq.RedisClientOpt{}, false
	}
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, true
}
