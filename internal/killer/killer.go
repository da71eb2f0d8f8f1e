// Package killer implements the crash-detection guard of spec.md §9: a goal
// that has accumulated GOALS_KILLER_THRESHOLD worker_tracking rows without
// any of them ever being deleted has, by construction, killed that many
// worker processes mid-handler. Rather than retry it forever, the guard
// marks it CORRUPTED. Grounded on
// original_source/django_goals/management/commands/goals_fsck.py, which
// performs the equivalent consistency sweep as an offline management
// command; here it runs in-process instead, once at busy-wait worker
// startup, since Go workers are long-lived processes rather than short
// Django management invocations.
package killer

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/relaywell/goals/internal/domain"
	"github.com/relaywell/goals/internal/metrics"
	"github.com/relaywell/goals/internal/store"
)

// Sweep locks and marks CORRUPTED every goal with at least threshold
// worker_tracking rows, clearing those rows afterward so they cannot retrip
// the guard. Returns the number of goals corrupted.
func Sweep(ctx context.Context, tx pgx.Tx, threshold int, now time.Time, logger *slog.Logger, m *metrics.Collector) (int, error) {
	staleIDs, err := store.StaleGoalCount(ctx, tx, threshold)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, goalID := range staleIDs {
		goal, err := store.LockGoal(ctx, tx, goalID)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return n, err
		}
		if goal.State.Terminal() {
			// Already resolved by another path; just clear the evidence.
			if err := store.DeleteTrackingForGoal(ctx, tx, goalID); err != nil {
				return n, err
			}
			continue
		}

		if err := store.UpdateState(ctx, tx, goalID, domain.Corrupted, nil, now); err != nil {
			return n, err
		}
		if err := store.DeleteTrackingForGoal(ctx, tx, goalID); err != nil {
			return n, err
		}
		if logger != nil {
			logger.Warn("goal marked corrupted by killer guard", "goal_id", goalID, "threshold", threshold)
		}
		if m != nil {
			m.RecordCorrupted()
			m.RecordKillerActivated()
		}
		n++
	}
	return n, nil
}
