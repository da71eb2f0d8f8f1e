package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaywell/goals/internal/domain"
)

// RetentionCandidates returns ACHIEVED goals older than cutoff that no
// non-terminal goal still references as a prerequisite. Failed terminal
// states (GIVEN_UP, CORRUPTED, NOT_GOING_TO_HAPPEN_SOON) are never returned:
// spec.md §10 keeps failures around indefinitely so an operator can inspect
// them (original_source/django_goals/models.py:remove_old_goals only ever
// targets state=ACHIEVED).
func RetentionCandidates(ctx context.Context, tx pgx.Tx, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		SELECT g.id
		FROM goals g
		WHERE g.state = $1 AND g.updated_at < $2
		  AND NOT EXISTS (
			SELECT 1
			FROM goal_preconditions p
			JOIN goals dep ON dep.id = p.dependent_id
			WHERE p.prerequisite_id = g.id AND dep.state NOT IN ($3, $4, $5, $6)
		  )
		ORDER BY g.updated_at
		LIMIT $7
		FOR UPDATE OF g SKIP LOCKED`,
		string(domain.Achieved), cutoff,
		string(domain.Achieved), string(domain.GivenUp), string(domain.Corrupted), string(domain.NotGoingToHappenSoon),
		limit)
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

// DeleteGoal removes a goal and its precondition edges (either direction)
// and progress history. Only ever called on a RetentionCandidates result.
func DeleteGoal(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM goal_preconditions WHERE dependent_id = $1 OR prerequisite_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM goal_progress WHERE goal_id = $1`, id); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `DELETE FROM goals WHERE id = $1`, id)
	return err
}
