package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaywell/goals/internal/domain"
)

// AddPreconditions inserts edges from dependentID to each of
// prerequisiteIDs, ignoring ones that already exist (PreconditionEdge has
// no duplicates, spec.md §3).
func AddPreconditions(ctx context.Context, q Querier, dependentID uuid.UUID, prerequisiteIDs []uuid.UUID) error {
	for _, prereqID := range prerequisiteIDs {
		_, err := q.Exec(ctx, `
			INSERT INTO goal_preconditions (dependent_id, prerequisite_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, dependentID, prereqID)
		if err != nil {
			return err
		}
	}
	return nil
}

// ClearPreconditions removes every edge for which dependentID is the
// dependent (RetryMeLater(precondition_goals=[]), spec.md §4.3 step 6).
func ClearPreconditions(ctx context.Context, q Querier, dependentID uuid.UUID) error {
	_, err := q.Exec(ctx, `DELETE FROM goal_preconditions WHERE dependent_id = $1`, dependentID)
	return err
}

// ReplacePreconditions clears dependentID's existing edges and inserts the
// given set (RetryMeLater(precondition_goals=[g1, ...])).
func ReplacePreconditions(ctx context.Context, tx pgx.Tx, dependentID uuid.UUID, prerequisiteIDs []uuid.UUID) error {
	if err := ClearPreconditions(ctx, tx, dependentID); err != nil {
		return err
	}
	return AddPreconditions(ctx, tx, dependentID, prerequisiteIDs)
}

// PullDeadlines moves the deadline of every non-achieved goal in
// prerequisiteIDs earlier to at most deadline, recursing into their own
// prerequisites, so a tight horizon on a dependent is never stalled by a
// prerequisite scheduled with a looser one
// (original_source/django_goals/models.py:update_goals_deadline).
func PullDeadlines(ctx context.Context, tx pgx.Tx, prerequisiteIDs []uuid.UUID, deadline time.Time) error {
	if len(prerequisiteIDs) == 0 {
		return nil
	}
	rows, err := tx.Query(ctx, `
		UPDATE goals
		SET deadline = $1, updated_at = $1
		WHERE id = ANY($2) AND state != $3 AND (deadline IS NULL OR deadline > $1)
		RETURNING id`, deadline, prerequisiteIDs, string(domain.Achieved))
	if err != nil {
		return err
	}
	var pulled []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		pulled = append(pulled, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(pulled) == 0 {
		return nil
	}

	grandParents, err := prerequisitesOf(ctx, tx, pulled)
	if err != nil {
		return err
	}
	return PullDeadlines(ctx, tx, grandParents, deadline)
}

func prerequisitesOf(ctx context.Context, tx pgx.Tx, dependentIDs []uuid.UUID) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		SELECT DISTINCT prerequisite_id FROM goal_preconditions WHERE dependent_id = ANY($1)`, dependentIDs)
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
