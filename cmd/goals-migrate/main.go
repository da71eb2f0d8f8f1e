package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/relaywell/goals/internal/config"
	"github.com/relaywell/goals/internal/migrate"
	"github.com/relaywell/goals/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()

	ctx := context.Background()
	s, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect to database failed", "err", err)
		os.Exit(1)
	}
	defer s.Close()

	if err := migrate.RunWithLogger(ctx, s.Pool, logger); err != nil {
		logger.Error("run migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")
}
