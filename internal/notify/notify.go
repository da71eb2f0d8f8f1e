// Package notify wraps Postgres LISTEN/NOTIFY, the low-latency wakeup path
// blocking workers use instead of polling (spec.md §5). Grounded on the
// teacher's internal/grpcserver/stream.go (acquire a dedicated connection,
// LISTEN, loop on WaitForNotification) and on
// original_source/django_goals/notifications.py, which defines both the
// single shared "a goal became ready" channel and a per-goal channel used
// by administrative watchers.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaywell/goals/internal/domain"
)

// Publish sends a NOTIFY on channel with an empty payload, on an autocommit
// connection of pool (callers pass the tracking pool), so it is delivered
// at once, independent of any transaction the caller has open. Turn and
// Schedule publish after the transaction that put a goal into
// WAITING_FOR_WORKER has committed; the resolver cascade and SweepDates
// publish while their transaction is still open, so a listener can wake
// before that change is visible.
func Publish(ctx context.Context, pool *pgxpool.Pool, channel string) error {
	_, err := pool.Exec(ctx, `SELECT pg_notify($1, '')`, channel)
	return err
}

// PublishGoalProgress notifies the per-goal channel a caller of WaitForGoal
// is listening on, carrying the goal's new state as the payload.
func PublishGoalProgress(ctx context.Context, pool *pgxpool.Pool, goalID uuid.UUID, state domain.State) error {
	_, err := pool.Exec(ctx, `SELECT pg_notify($1, $2)`, goalProgressChannel(goalID), string(state))
	return err
}

func goalProgressChannel(goalID uuid.UUID) string {
	return fmt.Sprintf("goal_progress_%s", goalID.String())
}

// Wait blocks on a dedicated connection until channel receives a
// notification or ctx is cancelled, matching original_source's blocking
// worker: LISTEN once, then wait for exactly one NOTIFY before returning
// (spec.md §5's "blocking worker" waits on the shared readiness channel and
// re-polls on wake).
func Wait(ctx context.Context, pool *pgxpool.Pool, channel string) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+quoteIdent(channel)); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}

	_, err = conn.Conn().WaitForNotification(ctx)
	return err
}

// WaitForGoal blocks until goalID's per-goal channel receives a
// notification, returning the state carried in the payload. Used by
// cmd/goalsctl watch to give an operator a way to block on one specific
// goal reaching a new state without polling (spec.md §12 supplemented
// feature).
func WaitForGoal(ctx context.Context, pool *pgxpool.Pool, goalID uuid.UUID) (domain.State, error) {
	channel := goalProgressChannel(goalID)
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+quoteIdent(channel)); err != nil {
		return "", fmt.Errorf("listen %s: %w", channel, err)
	}

	notif, err := conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return domain.State(notif.Payload), nil
}

// quoteIdent wraps a generated (never user-supplied) channel name in double
// quotes so Postgres treats it as a single identifier regardless of case.
func quoteIdent(name string) string {
	return `"` + name + `"`
}
