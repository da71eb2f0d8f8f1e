// Package dispatcher implements one iteration of goal pursuit (spec.md
// §4.3): claim, track, invoke the handler, interpret its result, and
// commit. Grounded on the teacher's internal/worker/{claim,execute,complete}.go,
// generalized from a lease-and-heartbeat job runner to a single
// row-locked-for-the-duration-of-the-transaction claim, since the goal
// state machine has no separate "running" state to lease.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaywell/goals/internal/clock"
	"github.com/relaywell/goals/internal/config"
	"github.com/relaywell/goals/internal/domain"
	"github.com/relaywell/goals/internal/killer"
	"github.com/relaywell/goals/internal/metrics"
	"github.com/relaywell/goals/internal/notify"
	"github.com/relaywell/goals/internal/registry"
	"github.com/relaywell/goals/internal/resolver"
	"github.com/relaywell/goals/internal/retention"
	"github.com/relaywell/goals/internal/store"
	"github.com/relaywell/goals/internal/transition"
)

// Outcome reports what a single Turn accomplished.
type Outcome string

const (
	OutcomeIdle        Outcome = "idle"
	OutcomeProgressed  Outcome = "progressed"
)

var errIdle = errors.New("dispatcher: no claimable goal")

// Dispatcher wires the Store, Registry and ambient services one worker
// needs to run turns.
type Dispatcher struct {
	Store    *store.Store
	Registry *registry.Registry
	Config   config.Config
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Collector

	// txDriver is the Turn-family's persistence seam. Production callers get
	// it wired to Store by New; tests substitute an in-memory fake here
	// directly, leaving Store (and the untouched SweepDates/RunKillerGuard/
	// RunRetentionSweep methods that still call internal/store's free
	// functions against it) alone.
	txDriver Store
}

// New builds a Dispatcher with a real clock.
func New(s *store.Store, r *registry.Registry, cfg config.Config, logger *slog.Logger, m *metrics.Collector) *Dispatcher {
	return &Dispatcher{Store: s, Registry: r, Config: cfg, Clock: clock.System{}, Logger: logger, Metrics: m, txDriver: pgxStore{s: s}}
}

// Turn runs exactly one dispatch iteration for workerID. horizon, when
// non-nil, restricts the claim to goals whose deadline falls within it
// (spec.md §12's deadline-tiered threaded worker).
func (d *Dispatcher) Turn(ctx context.Context, workerID string, horizon *time.Duration) (outcome Outcome, err error) {
	var trackedGoalID uuid.UUID
	var tracked bool
	var finalState domain.State
	var notifyWorker bool

	defer func() {
		if p := recover(); p != nil {
			if tracked {
				d.recoverFromPanic(context.Background(), workerID, trackedGoalID, p)
			}
			if d.Logger != nil {
				d.Logger.Error("handler panicked; goal marked corrupted", "goal_id", trackedGoalID, "panic", p)
			}
			outcome = OutcomeProgressed
			err = nil
		}
	}()

	txErr := d.txDriver.WithTx(ctx, func(ops TxStore) error {
		now := d.Clock.Now()
		goal, cerr := ops.ClaimGoal(ctx, now, horizon)
		if cerr != nil {
			if errors.Is(cerr, store.ErrNotFound) {
				return errIdle
			}
			return fmt.Errorf("claim goal: %w", cerr)
		}

		trackedGoalID = goal.ID
		if err := d.txDriver.InsertTracking(ctx, workerID, goal.ID, now); err != nil {
			return fmt.Errorf("insert tracking: %w", err)
		}
		tracked = true
		if d.Metrics != nil {
			d.Metrics.RecordDispatched()
		}

		handler, lookupErr := d.Registry.Lookup(goal.Handler)
		if lookupErr != nil {
			if d.Logger != nil {
				d.Logger.Error("unknown handler; goal corrupted", "goal_id", goal.ID, "handler", goal.Handler)
			}
			finalState = domain.Corrupted
			if err := ops.UpdateState(ctx, goal.ID, domain.Corrupted, nil, now); err != nil {
				return err
			}
			if d.Metrics != nil {
				d.Metrics.RecordCorrupted()
			}
			return d.finishTurn(ctx, ops, workerID, goal.ID, finalState, now, &notifyWorker)
		}

		next, appendErr := d.pursue(ctx, ops, goal, handler, now)
		if appendErr != nil {
			return appendErr
		}
		finalState = next

		return d.finishTurn(ctx, ops, workerID, goal.ID, finalState, now, &notifyWorker)
	})

	if errors.Is(txErr, errIdle) {
		return OutcomeIdle, nil
	}
	if txErr != nil {
		return OutcomeProgressed, txErr
	}

	if notifyWorker {
		if err := d.txDriver.NotifyWaitingForWorker(ctx, trackedGoalID); err != nil && d.Logger != nil {
			d.Logger.Warn("notify waiting-for-worker failed", "err", err)
		}
	}
	if tracked {
		if err := d.txDriver.NotifyProgress(ctx, trackedGoalID, finalState); err != nil && d.Logger != nil {
			d.Logger.Warn("notify goal progress failed", "goal_id", trackedGoalID, "err", err)
		}
	}
	return OutcomeProgressed, nil
}

// finishTurn deletes the tracking row (before commit, per spec.md §4.3 step
// 8), runs the resolver cascade if the goal is now terminal, and records
// whether a waiting-for-worker notification is owed once the caller's
// transaction commits.
func (d *Dispatcher) finishTurn(ctx context.Context, ops TxStore, workerID string, goalID uuid.UUID, state domain.State, now time.Time, notifyWorker *bool) error {
	if err := d.txDriver.DeleteTracking(ctx, workerID, goalID); err != nil {
		return fmt.Errorf("delete tracking: %w", err)
	}

	if state == domain.WaitingForWorker {
		*notifyWorker = true
	}

	if state.Terminal() {
		if err := resolver.Resolve(ctx, ops, resolverNotifier{d: d}, goalID, now); err != nil {
			return fmt.Errorf("resolve cascade: %w", err)
		}
	}
	return nil
}

// resolverNotifier adapts the dispatcher's own txDriver notifications to
// resolver.Notifier, so the cascade triggered mid-transaction goes through
// the same seam Turn's own notifications do.
type resolverNotifier struct {
	d *Dispatcher
}

func (n resolverNotifier) NotifyWaitingForWorker(ctx context.Context, goalID uuid.UUID) error {
	return n.d.txDriver.NotifyWaitingForWorker(ctx, goalID)
}

func (n resolverNotifier) NotifyProgress(ctx context.Context, goalID uuid.UUID, state domain.State) error {
	return n.d.txDriver.NotifyProgress(ctx, goalID, state)
}

// recoverFromPanic runs after the main transaction has already been rolled
// back by Store.WithTx. It marks the goal CORRUPTED and appends a
// standalone Progress row using a fresh, independent transaction, exactly
// the "separate connection" spec.md §4.3 step 6 describes.
func (d *Dispatcher) recoverFromPanic(ctx context.Context, workerID string, goalID uuid.UUID, p any) {
	now := d.Clock.Now()
	err := d.txDriver.WithTx(ctx, func(ops TxStore) error {
		goal, err := ops.LockGoal(ctx, goalID)
		if err != nil {
			return err
		}
		if goal.State.Terminal() {
			return nil
		}
		if err := ops.UpdateState(ctx, goalID, domain.Corrupted, nil, now); err != nil {
			return err
		}
		if _, err := ops.AppendProgress(ctx, goalID, now, now, false, fmt.Sprintf("corrupted: %v", p), ""); err != nil {
			return err
		}
		return resolver.Resolve(ctx, ops, resolverNotifier{d: d}, goalID, now)
	})
	if err != nil && d.Logger != nil {
		d.Logger.Error("failed to mark panicked goal corrupted", "goal_id", goalID, "err", err)
	}
	if err := d.txDriver.DeleteTracking(ctx, workerID, goalID); err != nil && d.Logger != nil {
		d.Logger.Warn("failed to delete tracking after panic recovery", "goal_id", goalID, "err", err)
	}
	if d.Metrics != nil {
		d.Metrics.RecordCorrupted()
	}
}

// SweepDates re-runs the transition engine on WAITING_FOR_DATE goals whose
// gate has passed, moving each to whatever state it computes
// (WAITING_FOR_WORKER, WAITING_FOR_PRECONDITIONS or
// NOT_GOING_TO_HAPPEN_SOON), mirroring
// original_source/django_goals/busy_worker.py:handle_waiting_for_date. The
// busy-wait worker and the threaded worker's transitions goroutine call
// this; the blocking worker does not, since it has no polling loop to run a
// sweep from.
func (d *Dispatcher) SweepDates(ctx context.Context, limit int) (int, error) {
	n := 0
	err := d.Store.WithTx(ctx, func(tx pgx.Tx) error {
		now := d.Clock.Now()
		ids, err := store.DueDateGoals(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			goal, err := store.LockGoal(ctx, tx, id)
			if err != nil {
				return err
			}
			prereqStates, err := store.PrerequisiteStates(ctx, tx, id)
			if err != nil {
				return err
			}
			next := transition.NextState(transition.Input{
				State:                       domain.WaitingForPreconditions,
				PreconditionDate:            goal.PreconditionDate,
				PreconditionsMode:           goal.PreconditionsMode,
				PreconditionFailuresAllowed: goal.PreconditionFailuresAllowed,
				Prerequisites:               prereqStates,
			}, now)
			if err := store.UpdateState(ctx, tx, id, next, nil, now); err != nil {
				return err
			}
			if next == domain.WaitingForWorker {
				if err := notify.Publish(ctx, d.Store.TrackingPool, domain.ListenChannel); err != nil {
					return err
				}
			}
			n++
		}
		return nil
	})
	return n, err
}

// RunKillerGuard scans WorkerTracking for stale goals and marks them
// CORRUPTED (spec.md §4.5). The busy-wait worker runs it once, at startup.
func (d *Dispatcher) RunKillerGuard(ctx context.Context) (int, error) {
	var n int
	err := d.Store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		n, err = killer.Sweep(ctx, tx, d.Config.KillerThreshold, d.Clock.Now(), d.Logger, d.Metrics)
		return err
	})
	return n, err
}

// RunRetentionSweep deletes eligible old ACHIEVED goals (spec.md §10).
func (d *Dispatcher) RunRetentionSweep(ctx context.Context) (int, error) {
	var n int
	err := d.Store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		n, err = retention.Sweep(ctx, tx, d.Config.RetentionDuration(), d.Clock.Now(), d.Logger, d.Metrics)
		return err
	})
	return n, err
}
