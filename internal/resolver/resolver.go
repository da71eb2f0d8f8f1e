// Package resolver implements the cascading precondition propagation of
// spec.md §4.2: whenever a goal becomes terminal, every dependent currently
// parked in WAITING_FOR_PRECONDITIONS is re-evaluated, and the cascade
// recurses into any dependent that itself becomes terminal as a result.
// Grounded on original_source/django_goals/models.py's
// handle_waiting_for_preconditions and handle_waiting_for_failed_preconditions,
// adapted from a counter-decrement design to a query-time recomputation
// through internal/transition, since Go gives us no ORM-level F() expression
// to update a counter alongside an unrelated write in the same statement.
// Resolve and its helpers talk to the Store interface below rather than
// internal/store's free functions directly, so a test can exercise the
// cascade with an in-memory fake instead of a live transaction.
package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaywell/goals/internal/domain"
	"github.com/relaywell/goals/internal/notify"
	"github.com/relaywell/goals/internal/store"
	"github.com/relaywell/goals/internal/transition"
)

// Store is the persistence seam Resolve needs, narrowed to plain domain
// types (no pgx types) so a test can supply an in-memory fake without a
// live Postgres connection. TxStore below is the production implementation.
type Store interface {
	LockGoal(ctx context.Context, id uuid.UUID) (*domain.Goal, error)
	UpdateState(ctx context.Context, id uuid.UUID, state domain.State, preconditionDate *time.Time, now time.Time) error
	DependentsInState(ctx context.Context, prerequisiteID uuid.UUID, state domain.State) ([]uuid.UUID, error)
	PrerequisiteStates(ctx context.Context, goalID uuid.UUID) ([]domain.State, error)
}

// TxStore is the production Store, adapting an already-open transaction
// through internal/store's free functions.
type TxStore struct {
	Tx pgx.Tx
}

func (s TxStore) LockGoal(ctx context.Context, id uuid.UUID) (*domain.Goal, error) {
	return store.LockGoal(ctx, s.Tx, id)
}

func (s TxStore) UpdateState(ctx context.Context, id uuid.UUID, state domain.State, preconditionDate *time.Time, now time.Time) error {
	return store.UpdateState(ctx, s.Tx, id, state, preconditionDate, now)
}

func (s TxStore) DependentsInState(ctx context.Context, prerequisiteID uuid.UUID, state domain.State) ([]uuid.UUID, error) {
	return store.DependentsInState(ctx, s.Tx, prerequisiteID, state)
}

func (s TxStore) PrerequisiteStates(ctx context.Context, goalID uuid.UUID) ([]domain.State, error) {
	return store.PrerequisiteStates(ctx, s.Tx, goalID)
}

// Notifier abstracts the pg_notify side effect so tests can assert on it
// without a live Postgres connection.
type Notifier interface {
	NotifyWaitingForWorker(ctx context.Context, goalID uuid.UUID) error
	NotifyProgress(ctx context.Context, goalID uuid.UUID, state domain.State) error
}

// TrackingNotifier is the production Notifier, backed by the tracking pool
// so notifications go out on an autocommit connection independent of the
// caller's still-open transaction.
type TrackingNotifier struct {
	Pool *pgxpool.Pool
}

func (n *TrackingNotifier) NotifyWaitingForWorker(ctx context.Context, _ uuid.UUID) error {
	return notify.Publish(ctx, n.Pool, domain.ListenChannel)
}

func (n *TrackingNotifier) NotifyProgress(ctx context.Context, goalID uuid.UUID, state domain.State) error {
	return notify.PublishGoalProgress(ctx, n.Pool, goalID, state)
}

// Resolve re-evaluates every WAITING_FOR_PRECONDITIONS dependent of
// triggerID and recurses into ones that become terminal themselves. Must be
// called from within the same transaction that just made triggerID
// terminal (spec.md §4.2 "runs in the same transaction... rather than a
// separate deferred job").
func Resolve(ctx context.Context, s Store, notifier Notifier, triggerID uuid.UUID, now time.Time) error {
	dependents, err := s.DependentsInState(ctx, triggerID, domain.WaitingForPreconditions)
	if err != nil {
		return err
	}

	for _, depID := range dependents {
		if err := reevaluate(ctx, s, notifier, depID, now); err != nil {
			return err
		}
	}
	return nil
}

func reevaluate(ctx context.Context, s Store, notifier Notifier, goalID uuid.UUID, now time.Time) error {
	goal, err := s.LockGoal(ctx, goalID)
	if err != nil {
		return err
	}
	if goal.State != domain.WaitingForPreconditions {
		// Already moved on by a concurrent cascade path; nothing to do.
		return nil
	}

	prereqStates, err := s.PrerequisiteStates(ctx, goalID)
	if err != nil {
		return err
	}

	next := transition.NextState(transition.Input{
		State:                       goal.State,
		PreconditionDate:            goal.PreconditionDate,
		PreconditionsMode:           goal.PreconditionsMode,
		PreconditionFailuresAllowed: goal.PreconditionFailuresAllowed,
		Prerequisites:               prereqStates,
	}, now)

	if next == goal.State {
		return nil
	}

	if err := s.UpdateState(ctx, goalID, next, nil, now); err != nil {
		return err
	}
	if notifier != nil {
		if err := notifier.NotifyProgress(ctx, goalID, next); err != nil {
			return err
		}
		if next == domain.WaitingForWorker {
			if err := notifier.NotifyWaitingForWorker(ctx, goalID); err != nil {
				return err
			}
		}
	}

	if next.Terminal() {
		return Resolve(ctx, s, notifier, goalID, now)
	}
	return nil
}
