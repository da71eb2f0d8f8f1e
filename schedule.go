package goals

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaywell/goals/internal/domain"
	"github.com/relaywell/goals/internal/notify"
	"github.com/relaywell/goals/internal/resolver"
	"github.com/relaywell/goals/internal/store"
	"github.com/relaywell/goals/internal/transition"
)

// ScheduleOptions mirrors original_source/django_goals/models.py:schedule's
// keyword arguments.
type ScheduleOptions struct {
	// Handler must already be registered (or will be by the time a worker
	// claims the goal).
	Handler string
	Args    any
	Kwargs  any

	// PreconditionDate gates the goal until this instant. Nil means "now",
	// i.e. gated only by PreconditionGoals if any are given.
	PreconditionDate *time.Time
	PreconditionGoals []uuid.UUID
	PreconditionsMode domain.PreconditionsMode
	// PreconditionFailuresAllowed lets a failed prerequisite be ignored
	// instead of propagating NOT_GOING_TO_HAPPEN_SOON. Nil defaults to true
	// (spec.md §6: "precondition_failures_allowed=True" by default); pass a
	// pointer to false to opt into strict propagation.
	PreconditionFailuresAllowed *bool

	// Blocked schedules the goal directly into BLOCKED, edges recorded but
	// inert until an administrator calls Retry.
	Blocked bool

	// Deadline overrides Config.DefaultDeadlineSeconds. Nil applies the
	// default.
	Deadline *time.Time
}

// Schedule creates a goal and returns its id. Grounded on
// original_source/django_goals/models.py:schedule.
func (e *Engine) Schedule(ctx context.Context, opts ScheduleOptions) (uuid.UUID, error) {
	if opts.Handler == "" {
		return uuid.UUID{}, fmt.Errorf("goals: Schedule requires a Handler name")
	}
	if opts.PreconditionsMode == "" {
		opts.PreconditionsMode = domain.ModeAll
	}
	failuresAllowed := true
	if opts.PreconditionFailuresAllowed != nil {
		failuresAllowed = *opts.PreconditionFailuresAllowed
	}

	argsJSON, err := marshalOrNil(opts.Args)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("marshal args: %w", err)
	}
	kwargsJSON, err := marshalOrNil(opts.Kwargs)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("marshal kwargs: %w", err)
	}

	now := e.dispatcher.Clock.Now()

	preconditionDate := opts.PreconditionDate
	if preconditionDate == nil {
		preconditionDate = &now
	}

	deadline := opts.Deadline
	if deadline == nil && e.Config.DefaultDeadlineSeconds > 0 {
		d := now.Add(time.Duration(e.Config.DefaultDeadlineSeconds) * time.Second)
		deadline = &d
	}

	goal := &domain.Goal{
		ID:                          uuid.New(),
		Handler:                     opts.Handler,
		Args:                        argsJSON,
		Kwargs:                      kwargsJSON,
		PreconditionDate:            preconditionDate,
		Deadline:                    deadline,
		PreconditionsMode:           opts.PreconditionsMode,
		PreconditionFailuresAllowed: failuresAllowed,
		CreatedAt:                   now,
		UpdatedAt:                   now,
	}

	var notifyWorker bool
	err = e.Store.WithTx(ctx, func(tx pgx.Tx) error {
		if opts.Blocked {
			goal.State = domain.Blocked
		} else {
			prereqStates, err := prerequisiteStatesOf(ctx, tx, opts.PreconditionGoals)
			if err != nil {
				return err
			}
			goal.State = transition.NextState(transition.Input{
				State:                       domain.WaitingForDate,
				PreconditionDate:            goal.PreconditionDate,
				PreconditionsMode:           goal.PreconditionsMode,
				PreconditionFailuresAllowed: goal.PreconditionFailuresAllowed,
				Prerequisites:               prereqStates,
			}, now)
		}

		if err := store.InsertGoal(ctx, tx, goal); err != nil {
			return err
		}
		if err := store.AddPreconditions(ctx, tx, goal.ID, opts.PreconditionGoals); err != nil {
			return err
		}
		if goal.Deadline != nil && len(opts.PreconditionGoals) > 0 {
			// A prerequisite scheduled with a looser deadline than its
			// dependent would otherwise never be prioritized by a
			// horizon-filtered worker in time
			// (original_source/django_goals/models.py:update_goals_deadline).
			if err := store.PullDeadlines(ctx, tx, opts.PreconditionGoals, *goal.Deadline); err != nil {
				return err
			}
		}
		if goal.State == domain.WaitingForWorker {
			notifyWorker = true
		}
		return nil
	})
	if err != nil {
		return uuid.UUID{}, err
	}

	if e.Metrics != nil {
		e.Metrics.RecordScheduled()
	}
	if notifyWorker {
		if err := notify.Publish(ctx, e.Store.TrackingPool, domain.ListenChannel); err != nil && e.Logger != nil {
			e.Logger.Warn("notify waiting-for-worker failed", "goal_id", goal.ID, "err", err)
		}
	}
	return goal.ID, nil
}

// prerequisiteStatesOf looks up the current states of a not-yet-persisted
// goal's intended prerequisites, locking each one so a concurrent
// achievement cannot race the edge insert that follows
// (original_source's _add_precondition_goals race comment).
func prerequisiteStatesOf(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) ([]domain.State, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	states := make([]domain.State, 0, len(ids))
	for _, id := range ids {
		g, err := store.LockGoal(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("lock precondition goal %s: %w", id, err)
		}
		states = append(states, g.State)
	}
	return states, nil
}

func marshalOrNil(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Get fetches a goal's current state without locking it.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*domain.Goal, error) {
	return store.GetGoal(ctx, e.Store.Pool, id)
}

// Block administratively marks a waiting goal BLOCKED.
func (e *Engine) Block(ctx context.Context, id uuid.UUID) error {
	now := e.dispatcher.Clock.Now()
	err := e.Store.WithTx(ctx, func(tx pgx.Tx) error {
		return resolver.Block(ctx, resolver.TxStore{Tx: tx}, id, now)
	})
	if err == nil && e.Metrics != nil {
		e.Metrics.RecordBlocked()
	}
	return err
}

// Retry administratively moves a BLOCKED or failed-terminal goal back to
// WAITING_FOR_DATE and cascades the retry to dependents that had failed
// only because of it.
func (e *Engine) Retry(ctx context.Context, id uuid.UUID) error {
	notifier := &resolver.TrackingNotifier{Pool: e.Store.TrackingPool}
	now := e.dispatcher.Clock.Now()
	return e.Store.WithTx(ctx, func(tx pgx.Tx) error {
		return resolver.Retry(ctx, resolver.TxStore{Tx: tx}, notifier, id, now)
	})
}

// WaitForGoal blocks until the next notification on id's per-goal channel
// and returns the state it carries. A notification follows every committed
// dispatch turn of the goal and every resolver-driven state change, so the
// returned state can equal the state the goal already had.
func (e *Engine) WaitForGoal(ctx context.Context, id uuid.UUID) (domain.State, error) {
	return notify.WaitForGoal(ctx, e.Store.Pool, id)
}
