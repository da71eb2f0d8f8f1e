package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppendProgress records one attempt at pursuing a goal. The finished_at
// column is nullable, but callers of this package always call this once,
// after the handler has returned, so finishedAt is always written — there is
// no separate "start" row (spec.md §5, Progress is append-only).
func AppendProgress(ctx context.Context, q Querier, goalID uuid.UUID, startedAt, finishedAt time.Time, success bool, message, traceback string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := q.Exec(ctx, `
		INSERT INTO goal_progress (id, goal_id, started_at, finished_at, success, message, traceback)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, goalID, startedAt, finishedAt, success, message, traceback)
	return id, err
}

// ProgressCount returns how many attempts have been recorded for goalID,
// used to enforce GOALS_MAX_PROGRESS_COUNT (spec.md §4.4 "give up after
// too many attempts").
func ProgressCount(ctx context.Context, q Querier, goalID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRow(ctx, `SELECT count(*) FROM goal_progress WHERE goal_id = $1`, goalID).Scan(&n)
	return n, err
}
