package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaywell/goals"
	"github.com/relaywell/goals/examples/handlers"
	"github.com/relaywell/goals/internal/config"
	"github.com/relaywell/goals/internal/metrics"
	"github.com/relaywell/goals/internal/migrate"
	"github.com/relaywell/goals/internal/worker"
)

var durationRe = regexp.MustCompile(`^(\d+)([smhd])$`)

// parseThreadSpec parses "N" or "N:HORIZON" (e.g. "3", "2:30m"), matching
// goals_threaded_worker.py's --threads argument.
func parseThreadSpec(spec string) (worker.Spec, error) {
	count := spec
	var horizon *time.Duration
	for i, c := range spec {
		if c == ':' {
			count = spec[:i]
			h, err := parseDuration(spec[i+1:])
			if err != nil {
				return worker.Spec{}, err
			}
			horizon = h
			break
		}
	}
	n, err := strconv.Atoi(count)
	if err != nil || n <= 0 {
		return worker.Spec{}, fmt.Errorf("invalid thread count %q", count)
	}
	return worker.Spec{Count: n, Horizon: horizon}, nil
}

func parseDuration(s string) (*time.Duration, error) {
	if s == "" || s == "none" {
		return nil, nil
	}
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("invalid duration %q: use a format like 30m, 2h, 1d", s)
	}
	n, _ := strconv.Atoi(m[1])
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	d := time.Duration(n) * unit
	return &d, nil
}

func main() {
	var threadSpecs []string
	var once bool

	cmd := &cobra.Command{
		Use:   "goals-threaded-worker",
		Short: "Run several logical goal workers in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(threadSpecs, once)
		},
	}
	cmd.Flags().StringArrayVar(&threadSpecs, "threads", []string{"1"}, `thread count and optional deadline horizon, e.g. "3" or "2:30m"`)
	cmd.Flags().BoolVar(&once, "once", false, "exit once every goroutine is idle instead of running forever")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(threadSpecs []string, once bool) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()

	specs := make([]worker.Spec, 0, len(threadSpecs))
	for _, s := range threadSpecs {
		spec, err := parseThreadSpec(s)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	engine, err := goals.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer engine.Close()

	if err := migrate.Run(ctx, engine.Store.Pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
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
	logger.Info("threaded worker started", "hostname", hostname, "threads", threadSpecs, "handlers", engine.Registry.Names())

	if err := engine.RunThreaded(ctx, hostname, specs, once); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("threaded worker exiting")
	return nil
}
