package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/relaywell/goals"
	"github.com/relaywell/goals/examples/handlers"
	"github.com/relaywell/goals/internal/config"
	"github.com/relaywell/goals/internal/metrics"
	"github.com/relaywell/goals/internal/migrate"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	engine, err := goals.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("open engine failed", "err", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := migrate.Run(ctx, engine.Store.Pool); err != nil {
		logger.Error("run migrations failed", "err", err)
		os.Exit(1)
	}

	handlers.Register(engine.Registry)

	if cfg.MetricsPort > 0 {
		go func() {
			if err := metrics.StartServer(cfg.MetricsPort); err != nil {
				logger.Warn("metrics server exited", "err", err)
			}
		}()
	}

	hostname, _ := os.Hostname()
	workerID := hostname + "-" + strconv.Itoa(os.Getpid())

	maxProgress := 0
	if v := os.Getenv("GOALS_WORKER_MAX_PROGRESS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			maxProgress = n
		}
	}

	logger.Info("busy-wait worker started", "worker_id", workerID, "handlers", engine.Registry.Names())
	if err := engine.RunBusyWait(ctx, workerID, maxProgress); err != nil && ctx.Err() == nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
	logger.Info("busy-wait worker exiting")
}
