package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaywell/goals/internal/domain"
	"github.com/relaywell/goals/internal/registry"
	"github.com/relaywell/goals/internal/transition"
)

// pursue invokes the handler and interprets its result, applying every
// write the outcome implies (spec.md §4.3 step 6) except the final progress
// cap check, delegated to applyCap.
func (d *Dispatcher) pursue(ctx context.Context, ops TxStore, goal *domain.Goal, handler registry.Handler, started time.Time) (domain.State, error) {
	result, handlerErr := d.invoke(ctx, handler, goal)
	finished := d.Clock.Now()
	if d.Metrics != nil {
		d.Metrics.ObserveHandlerLatency(finished.Sub(started).Seconds())
	}

	if handlerErr != nil {
		if d.Logger != nil {
			d.Logger.Info("goal handler failed", "goal_id", goal.ID, "err", handlerErr)
		}
		if _, err := ops.AppendProgress(ctx, goal.ID, started, finished, false, handlerErr.Error(), ""); err != nil {
			return "", err
		}
		return d.applyCap(ctx, ops, goal.ID, domain.WaitingForWorker, finished)
	}

	switch r := result.(type) {
	case registry.AllDone:
		if _, err := ops.AppendProgress(ctx, goal.ID, started, finished, true, "", ""); err != nil {
			return "", err
		}
		if err := ops.UpdateState(ctx, goal.ID, domain.Achieved, nil, finished); err != nil {
			return "", err
		}
		if d.Metrics != nil {
			d.Metrics.RecordAchieved()
		}
		return domain.Achieved, nil

	case registry.RetryMeLater:
		return d.retry(ctx, ops, goal, r, started, finished)

	default:
		// A handler that returns neither Result implementation nor an error
		// is treated as done, matching original_source's "handler returned
		// unknown value, which is ignored" fallback.
		if d.Logger != nil {
			d.Logger.Warn("goal handler returned unrecognized result; treating as achieved", "goal_id", goal.ID)
		}
		if _, err := ops.AppendProgress(ctx, goal.ID, started, finished, true, "", ""); err != nil {
			return "", err
		}
		if err := ops.UpdateState(ctx, goal.ID, domain.Achieved, nil, finished); err != nil {
			return "", err
		}
		if d.Metrics != nil {
			d.Metrics.RecordAchieved()
		}
		return domain.Achieved, nil
	}
}

func (d *Dispatcher) retry(ctx context.Context, ops TxStore, goal *domain.Goal, r registry.RetryMeLater, started, finished time.Time) (domain.State, error) {
	if r.PreconditionGoals != nil {
		if err := ops.ReplacePreconditions(ctx, goal.ID, *r.PreconditionGoals); err != nil {
			return "", err
		}
		if goal.Deadline != nil && len(*r.PreconditionGoals) > 0 {
			if err := ops.PullDeadlines(ctx, *r.PreconditionGoals, *goal.Deadline); err != nil {
				return "", err
			}
		}
	}

	preconditionDate := goal.PreconditionDate
	if r.PreconditionDate != nil && (preconditionDate == nil || r.PreconditionDate.After(*preconditionDate)) {
		preconditionDate = r.PreconditionDate
	}

	if _, err := ops.AppendProgress(ctx, goal.ID, started, finished, true, r.Message, ""); err != nil {
		return "", err
	}

	prereqStates, err := ops.PrerequisiteStates(ctx, goal.ID)
	if err != nil {
		return "", err
	}
	next := transition.NextState(transition.Input{
		State:                       goal.State,
		PreconditionDate:            preconditionDate,
		PreconditionsMode:           goal.PreconditionsMode,
		PreconditionFailuresAllowed: goal.PreconditionFailuresAllowed,
		Prerequisites:               prereqStates,
	}, finished)

	if err := ops.UpdateState(ctx, goal.ID, next, preconditionDate, finished); err != nil {
		return "", err
	}
	if d.Metrics != nil {
		d.Metrics.RecordRetried()
	}
	return d.applyCap(ctx, ops, goal.ID, next, finished)
}

// applyCap forces GIVEN_UP once a goal's Progress count reaches the
// configured ceiling (spec.md §4.3 step 7). A zero MaxProgressCount means
// unlimited.
func (d *Dispatcher) applyCap(ctx context.Context, ops TxStore, goalID uuid.UUID, state domain.State, now time.Time) (domain.State, error) {
	if d.Config.MaxProgressCount <= 0 || state.Terminal() {
		return state, nil
	}

	count, err := ops.ProgressCount(ctx, goalID)
	if err != nil {
		return "", err
	}
	if count < d.Config.MaxProgressCount {
		return state, nil
	}

	if err := ops.UpdateState(ctx, goalID, domain.GivenUp, nil, now); err != nil {
		return "", err
	}
	if d.Metrics != nil {
		d.Metrics.RecordGivenUp()
	}
	return domain.GivenUp, nil
}

// invoke runs handler under an optional wall-time limit, treating a timeout
// as a recoverable handler failure (spec.md §4.3 step 5).
func (d *Dispatcher) invoke(ctx context.Context, handler registry.Handler, goal *domain.Goal) (registry.Result, error) {
	invokeCtx := ctx
	if d.Config.TimeLimitSeconds > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, d.Config.TimeLimitDuration())
		defer cancel()
	}

	result, err := handler(invokeCtx, goal)
	if err == nil && invokeCtx.Err() != nil {
		return nil, fmt.Errorf("handler exceeded time limit: %w", invokeCtx.Err())
	}
	return result, err
}
