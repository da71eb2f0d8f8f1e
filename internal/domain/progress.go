package domain

import (
	"time"

	"github.com/google/uuid"
)

// Progress is an append-only record of one handler invocation. A goal's
// Progress count never decreases; reaching GOALS_MAX_PROGRESS_COUNT is
// terminal (forces GIVEN_UP).
type Progress struct {
	ID         uuid.UUID
	GoalID     uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Success    bool
	Message    string
	Traceback  string
}

// PreconditionEdge is a relation from a dependent goal to a prerequisite
// goal. No duplicates; insertion order is irrelevant.
type PreconditionEdge struct {
	DependentID    uuid.UUID
	PrerequisiteID uuid.UUID
}

// Tracking is a WorkerTracking row: written outside the main transaction,
// just before a handler invocation, on a separate autocommit connection.
// A surviving row after a crash indicates a killed attempt.
type Tracking struct {
	WorkerID  string
	GoalID    uuid.UUID
	StartedAt time.Time
}
