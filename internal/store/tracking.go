package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InsertTracking writes a WorkerTracking row on the caller's autocommit
// tracking connection, before the handler runs. This row is the only
// evidence that a worker started pursuing goalID if the process dies mid
// handler (spec.md §9's "killer task" guard).
func InsertTracking(ctx context.Context, q Querier, workerID string, goalID uuid.UUID, startedAt time.Time) error {
	_, err := q.Exec(ctx, `
		INSERT INTO worker_tracking (worker_id, goal_id, started_at)
		VALUES ($1, $2, $3)`, workerID, goalID, startedAt)
	return err
}

// DeleteTracking removes the row written by InsertTracking. Called on the
// tracking connection just before the main transaction commits. A crash
// before this delete leaves a stale row; the killer guard only acts once a
// goal has accumulated GOALS_KILLER_THRESHOLD stale rows across separate
// attempts.
func DeleteTracking(ctx context.Context, q Querier, workerID string, goalID uuid.UUID) error {
	_, err := q.Exec(ctx, `DELETE FROM worker_tracking WHERE worker_id = $1 AND goal_id = $2`, workerID, goalID)
	return err
}

// StaleGoalCount groups worker_tracking rows by goal_id and returns those
// with at least threshold rows still present, meaning threshold-or-more
// separate attempts died mid handler without ever deleting their tracking
// row (original_source/django_goals/models.py's killer task guard).
func StaleGoalCount(ctx context.Context, q Querier, threshold int) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, `
		SELECT goal_id FROM worker_tracking
		GROUP BY goal_id
		HAVING count(*) >= $1`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteTrackingForGoal clears every tracking row for goalID, used once the
// killer guard has marked it CORRUPTED so the same rows don't trip the
// guard again.
func DeleteTrackingForGoal(ctx context.Context, q Querier, goalID uuid.UUID) error {
	_, err := q.Exec(ctx, `DELETE FROM worker_tracking WHERE goal_id = $1`, goalID)
	return err
}
