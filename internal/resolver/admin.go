package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaywell/goals/internal/domain"
)

// ErrNotWaiting is returned by Block when the goal is not currently in one
// of the non-terminal waiting states (original_source's block_goal raises
// ValueError under the same condition).
var ErrNotWaiting = fmt.Errorf("goal is not in a waiting state")

// ErrNotFailed is returned by Retry when the goal is neither BLOCKED nor in
// a failed terminal state.
var ErrNotFailed = fmt.Errorf("goal is not in a failed state")

// Block marks a waiting goal BLOCKED so the dispatcher never claims it and
// the resolver never advances it, without touching its precondition edges
// (spec.md §12 supplemented feature, grounded on
// original_source/django_goals/models.py:block_goal).
func Block(ctx context.Context, s Store, goalID uuid.UUID, now time.Time) error {
	goal, err := s.LockGoal(ctx, goalID)
	if err != nil {
		return err
	}
	if goal.State.Terminal() || goal.State == domain.Blocked {
		return ErrNotWaiting
	}
	return s.UpdateState(ctx, goalID, domain.Blocked, nil, now)
}

// Retry moves a BLOCKED or failed-terminal goal back to WAITING_FOR_DATE
// with its existing precondition_date, letting the ordinary transition
// machinery re-evaluate it from scratch on the next date sweep. Then
// cascades: any dependent that was NOT_GOING_TO_HAPPEN_SOON solely because
// of this goal's earlier failure gets re-evaluated too
// (original_source's unblock_retry_goal + handle_unblocked_goals, folded
// into one call since our design recomputes state from a live join instead
// of a decremented counter).
func Retry(ctx context.Context, s Store, notifier Notifier, goalID uuid.UUID, now time.Time) error {
	goal, err := s.LockGoal(ctx, goalID)
	if err != nil {
		return err
	}
	if goal.State != domain.Blocked && !goal.State.Failed() {
		return ErrNotFailed
	}

	if err := s.UpdateState(ctx, goalID, domain.WaitingForDate, nil, now); err != nil {
		return err
	}

	dependents, err := s.DependentsInState(ctx, goalID, domain.NotGoingToHappenSoon)
	if err != nil {
		return err
	}
	for _, depID := range dependents {
		if err := reevaluateFailed(ctx, s, notifier, depID, now); err != nil {
			return err
		}
	}
	return nil
}

// reevaluateFailed re-checks a NOT_GOING_TO_HAPPEN_SOON goal after one of
// its prerequisites was retried: if no prerequisite is failed any longer it
// falls back to WAITING_FOR_PRECONDITIONS for the ordinary resolver path to
// pick up.
func reevaluateFailed(ctx context.Context, s Store, notifier Notifier, goalID uuid.UUID, now time.Time) error {
	goal, err := s.LockGoal(ctx, goalID)
	if err != nil {
		return err
	}
	if goal.State != domain.NotGoingToHappenSoon {
		return nil
	}

	prereqStates, err := s.PrerequisiteStates(ctx, goalID)
	if err != nil {
		return err
	}
	for _, p := range prereqStates {
		if p.Failed() {
			return nil
		}
	}

	if err := s.UpdateState(ctx, goalID, domain.WaitingForPreconditions, nil, now); err != nil {
		return err
	}
	if notifier != nil {
		return notifier.NotifyProgress(ctx, goalID, domain.WaitingForPreconditions)
	}
	return nil
}
