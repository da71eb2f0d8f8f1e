// Package fsck implements a consistency sweep over the goals table,
// grounded on original_source/django_goals/management/commands/goals_fsck.py.
// The original recalculates cached waiting-for counters; this design keeps
// no such counters (internal/transition recomputes from a live join on
// every check), so the equivalent defect here is a goal whose persisted
// state disagrees with what internal/transition would compute right now —
// evidence of a missed resolver cascade, usually from a bug rather than
// ordinary operation.
package fsck

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaywell/goals/internal/domain"
	"github.com/relaywell/goals/internal/resolver"
	"github.com/relaywell/goals/internal/store"
	"github.com/relaywell/goals/internal/transition"
)

// batchSize bounds how many goals one fsck transaction locks at a time,
// matching the original's periodic progress print every 1000 goals with a
// smaller batch since we hold real row locks rather than Django ORM ones.
const batchSize = 200

// Report summarizes one CheckFixAll run.
type Report struct {
	Scanned int
	Fixed   int
}

// noopNotifier is used when the resolver cascade during fsck triggers a
// notification: a missed pg_notify here is a minor inconvenience, not a
// correctness issue, since the next busy-wait sweep or a blocking worker's
// timeout will still find the goal.
type noopNotifier struct{}

func (noopNotifier) NotifyWaitingForWorker(ctx context.Context, goalID uuid.UUID) error { return nil }
func (noopNotifier) NotifyProgress(ctx context.Context, goalID uuid.UUID, state domain.State) error {
	return nil
}

// CheckFixAll walks every goal in id order, recomputing its state and
// correcting it (plus running the resolver cascade) whenever the persisted
// state disagrees with internal/transition's verdict.
func CheckFixAll(ctx context.Context, s *store.Store, logger *slog.Logger) (Report, error) {
	var report Report
	cursor := uuid.Nil

	for {
		var n int
		err := s.WithTx(ctx, func(tx pgx.Tx) error {
			var err error
			n, err = checkFixBatch(ctx, tx, cursor, logger, &report)
			return err
		})
		if err != nil {
			return report, err
		}
		if n == 0 {
			return report, nil
		}

		var next uuid.UUID
		err = s.WithTx(ctx, func(tx pgx.Tx) error {
			return tx.QueryRow(ctx, `
				SELECT id FROM goals WHERE id > $1 ORDER BY id OFFSET $2 - 1 LIMIT 1`,
				cursor, n).Scan(&next)
		})
		if err != nil {
			return report, err
		}
		cursor = next
		if n < batchSize {
			return report, nil
		}
	}
}

func checkFixBatch(ctx context.Context, tx pgx.Tx, cursor uuid.UUID, logger *slog.Logger, report *Report) (int, error) {
	rows, err := tx.Query(ctx, `
		SELECT id FROM goals
		WHERE id > $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, cursor, batchSize)
	if err != nil {
		return 0, err
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := time.Now()
	for _, id := range ids {
		report.Scanned++
		fixed, err := checkFixOne(ctx, tx, id, now, logger)
		if err != nil {
			return len(ids), err
		}
		if fixed {
			report.Fixed++
		}
	}
	return len(ids), nil
}

func checkFixOne(ctx context.Context, tx pgx.Tx, id uuid.UUID, now time.Time, logger *slog.Logger) (bool, error) {
	goal, err := store.LockGoal(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if goal.State == domain.Blocked || goal.State.Terminal() {
		return false, nil
	}

	prereqStates, err := store.PrerequisiteStates(ctx, tx, id)
	if err != nil {
		return false, err
	}
	want := transition.NextState(transition.Input{
		State:                       goal.State,
		PreconditionDate:            goal.PreconditionDate,
		PreconditionsMode:           goal.PreconditionsMode,
		PreconditionFailuresAllowed: goal.PreconditionFailuresAllowed,
		Prerequisites:               prereqStates,
	}, now)

	if want == goal.State {
		return false, nil
	}

	if logger != nil {
		logger.Warn("fsck: correcting goal state", "goal_id", id, "was", goal.State, "want", want)
	}
	if err := store.UpdateState(ctx, tx, id, want, nil, now); err != nil {
		return false, err
	}
	if want.Terminal() {
		if err := resolver.Resolve(ctx, resolver.TxStore{Tx: tx}, noopNotifier{}, id, now); err != nil {
			return false, err
		}
	}
	return true, nil
}
