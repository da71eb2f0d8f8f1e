package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaywell/goals/internal/domain"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("goal: not found")

const goalColumns = `
	id, handler, args, kwargs, state, precondition_date, deadline,
	preconditions_mode, precondition_failures_allowed, created_at, updated_at`

func scanGoal(row pgx.Row) (*domain.Goal, error) {
	g := &domain.Goal{}
	var mode string
	err := row.Scan(
		&g.ID, &g.Handler, &g.Args, &g.Kwargs, &g.State,
		&g.PreconditionDate, &g.Deadline, &mode,
		&g.PreconditionFailuresAllowed, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	g.PreconditionsMode = domain.PreconditionsMode(mode)
	return g, nil
}

// InsertGoal creates the row. Callers compute g.ID and g.State (via
// internal/transition) before calling this.
func InsertGoal(ctx context.Context, q Querier, g *domain.Goal) error {
	_, err := q.Exec(ctx, `
		INSERT INTO goals (
			id, handler, args, kwargs, state, precondition_date, deadline,
			preconditions_mode, precondition_failures_allowed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		g.ID, g.Handler, g.Args, g.Kwargs, g.State, g.PreconditionDate, g.Deadline,
		string(g.PreconditionsMode), g.PreconditionFailuresAllowed, g.CreatedAt, g.UpdatedAt)
	return err
}

// GetGoal fetches a goal by id without locking it.
func GetGoal(ctx context.Context, q Querier, id uuid.UUID) (*domain.Goal, error) {
	row := q.QueryRow(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = $1`, id)
	return scanGoal(row)
}

// LockGoal fetches a goal by id, taking a row lock in the caller's
// transaction. Used before any state mutation outside the claim path
// (schedule-time edge wiring, administrative block/retry).
func LockGoal(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Goal, error) {
	row := tx.QueryRow(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = $1 FOR UPDATE`, id)
	return scanGoal(row)
}

// UpdateState persists a new state (and, when non-nil, a new
// precondition_date) plus updated_at = now.
func UpdateState(ctx context.Context, q Querier, id uuid.UUID, state domain.State, preconditionDate *time.Time, now time.Time) error {
	_, err := q.Exec(ctx, `
		UPDATE goals
		SET state = $1, precondition_date = COALESCE($2, precondition_date), updated_at = $3
		WHERE id = $4`, string(state), preconditionDate, now, id)
	return err
}

// PrerequisiteStates returns the current states of goalID's direct
// prerequisites, in no particular order.
func PrerequisiteStates(ctx context.Context, q Querier, goalID uuid.UUID) ([]domain.State, error) {
	rows, err := q.Query(ctx, `
		SELECT g.state
		FROM goal_preconditions p
		JOIN goals g ON g.id = p.prerequisite_id
		WHERE p.dependent_id = $1`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []domain.State
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		states = append(states, domain.State(s))
	}
	return states, rows.Err()
}

// DependentsInState returns the ids of goals depending on prerequisiteID
// that are currently in the given state, locking each row FOR UPDATE
// SKIP LOCKED so concurrent resolver cascades never block on each other.
func DependentsInState(ctx context.Context, tx pgx.Tx, prerequisiteID uuid.UUID, state domain.State) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		SELECT g.id
		FROM goal_preconditions p
		JOIN goals g ON g.id = p.dependent_id
		WHERE p.prerequisite_id = $1 AND g.state = $2
		FOR UPDATE OF g SKIP LOCKED`, prerequisiteID, string(state))
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

// ListGoals returns up to limit goals ordered by most recently updated,
// optionally filtered to a single state. Used by goalsctl's status
// listing; callers needing a lock should use LockGoal per id instead.
func ListGoals(ctx context.Context, q Querier, state *domain.State, limit int) ([]*domain.Goal, error) {
	var rows pgx.Rows
	var err error
	if state != nil {
		rows, err = q.Query(ctx, `
			SELECT `+goalColumns+` FROM goals
			WHERE state = $1
			ORDER BY updated_at DESC
			LIMIT $2`, string(*state), limit)
	} else {
		rows, err = q.Query(ctx, `
			SELECT `+goalColumns+` FROM goals
			ORDER BY updated_at DESC
			LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var goals []*domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// DueDateGoals returns ids of WAITING_FOR_DATE goals whose gate has
// passed, locking them FOR UPDATE SKIP LOCKED
// (original_source/django_goals/busy_worker.py:handle_waiting_for_date).
func DueDateGoals(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		SELECT id FROM goals
		WHERE state = $1 AND precondition_date <= $2
		ORDER BY precondition_date
		LIMIT $3
		FOR UPDATE SKIP LOCKED`, string(domain.WaitingForDate), now, limit)
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
