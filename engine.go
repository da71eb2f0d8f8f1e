// Package goals is the public facade of the engine: Schedule a goal,
// register handlers, and run one of the three worker loop shapes. Grounded
// on the teacher's top-level wiring in cmd/worker/main.go, collapsed into a
// single Engine value so a caller does not need to reach into internal/
// packages directly.
package goals

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/relaywell/goals/internal/clock"
	"github.com/relaywell/goals/internal/config"
	"github.com/relaywell/goals/internal/dispatcher"
	"github.com/relaywell/goals/internal/domain"
	"github.com/relaywell/goals/internal/metrics"
	"github.com/relaywell/goals/internal/registry"
	"github.com/relaywell/goals/internal/store"
	"github.com/relaywell/goals/internal/worker"
)

// Re-exported so callers implementing handlers never import internal/registry
// directly.
type (
	Handler      = registry.Handler
	Result       = registry.Result
	AllDone      = registry.AllDone
	RetryMeLater = registry.RetryMeLater
)

// Engine bundles the Store, Registry and configuration one process needs to
// schedule goals and run workers against them.
type Engine struct {
	Store    *store.Store
	Registry *registry.Registry
	Config   config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Collector

	dispatcher *dispatcher.Dispatcher
}

// Open connects to Postgres and builds an Engine. Callers must call
// Close when done.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg.MemoryLimitMiB > 0 {
		debug.SetMemoryLimit(int64(cfg.MemoryLimitMiB) << 20)
	}

	s, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	reg := registry.New()
	m := metrics.NewCollector()
	e := &Engine{Store: s, Registry: reg, Config: cfg, Logger: logger, Metrics: m}
	e.dispatcher = dispatcher.New(s, reg, cfg, logger, m)
	return e, nil
}

func (e *Engine) Close() {
	e.Store.Close()
}

// Register adds a handler under name, matching spec.md §9's registry model.
func (e *Engine) Register(name string, h Handler) {
	e.Registry.Register(name, h)
}

// RunBusyWait runs the busy-wait worker loop (spec.md §4.4) until ctx is
// cancelled or maxProgress progressions have run (0 = unlimited).
func (e *Engine) RunBusyWait(ctx context.Context, workerID string, maxProgress int) error {
	return worker.RunBusyWait(ctx, e.dispatcher, workerID, maxProgress, e.Logger)
}

// RunBlocking runs the LISTEN/NOTIFY-driven worker loop.
func (e *Engine) RunBlocking(ctx context.Context, workerID string) error {
	return worker.RunBlocking(ctx, e.dispatcher, workerID, e.Logger)
}

// RunThreaded runs N goroutines across the given deadline-horizon tiers
// plus one transitions goroutine, exiting once every goroutine is idle when
// once=true.
func (e *Engine) RunThreaded(ctx context.Context, workerIDPrefix string, specs []worker.Spec, once bool) error {
	return worker.RunThreaded(ctx, e.dispatcher, workerIDPrefix, specs, once, e.Logger)
}

// SetClock overrides the dispatcher's clock; used by tests to inject a
// clock.Fake without exposing internal/dispatcher.
func (e *Engine) SetClock(c clock.Clock) {
	e.dispatcher.Clock = c
}

// GoalStatus is a read-only snapshot returned by Status.
type GoalStatus struct {
	ID      uuid.UUID
	State   string
	Handler string
	Updated time.Time
}

// Status lists the most recently updated goals, optionally filtered to a
// single state (nil lists across all states). Used by goalsctl's status
// listing.
func (e *Engine) Status(ctx context.Context, state *domain.State, limit int) ([]GoalStatus, error) {
	if limit <= 0 {
		limit = 50
	}
	goalList, err := store.ListGoals(ctx, e.Store.Pool, state, limit)
	if err != nil {
		return nil, err
	}
	out := make([]GoalStatus, 0, len(goalList))
	for _, g := range goalList {
		out = append(out, GoalStatus{
			ID:      g.ID,
			State:   string(g.State),
			Handler: g.Handler,
			Updated: g.UpdatedAt,
		})
	}
	return out, nil
}
