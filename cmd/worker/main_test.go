package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"kasirinaja/register/internal/config"
)

func TestRunRequiresRedisAndDurableStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := run(context.Background(), config.Config{SQLitePath: "register.db"}, logger)
	if err == nil || !strings.Contains(err.Error(), "REDIS_ADDR") {
		t.Fatalf("expected missing redis error, got %v", err)
	}

	err = run(context.Background(), config.Config{RedisAddr: "127.0.0.1:6379"}, logger)
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected missing store error, got %v", err)
	}
}
