package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/relaywell/goals/internal/domain"
)

// ClaimGoal locks and returns the single highest-priority WAITING_FOR_WORKER
// goal a worker should pursue next, or ErrNotFound if none qualify. There is
// no separate "running" state to flip to: the row lock, held for the
// lifetime of the caller's transaction, is what prevents a second worker
// from claiming the same goal (spec.md §5 "claim query").
//
// When horizon is non-nil, only goals whose deadline falls within horizon of
// now are eligible — the mechanism a threaded worker's fast tier uses to
// only pick up goals that are actually close to missing their deadline
// (spec.md §12, deadline-tiered threaded worker).
func ClaimGoal(ctx context.Context, tx pgx.Tx, now time.Time, horizon *time.Duration) (*domain.Goal, error) {
	var row pgx.Row
	if horizon != nil {
		cutoff := now.Add(*horizon)
		row = tx.QueryRow(ctx, `
			SELECT `+goalColumns+`
			FROM goals
			WHERE state = $1 AND deadline IS NOT NULL AND deadline <= $2
			ORDER BY deadline, precondition_date NULLS FIRST, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED`, string(domain.WaitingForWorker), cutoff)
	} else {
		row = tx.QueryRow(ctx, `
			SELECT `+goalColumns+`
			FROM goals
			WHERE state = $1
			ORDER BY precondition_date NULLS FIRST, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED`, string(domain.WaitingForWorker))
	}
	return scanGoal(row)
}
