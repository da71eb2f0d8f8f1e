package registry

import (
	"time"

	"github.com/google/uuid"
)

// Result is a closed sum type over a handler's outcome, per spec.md §9:
// "Implementers in a typed language should use a sum type rather than an
// exception-based protocol." AllDone and RetryMeLater are the only two
// implementations; the unexported method prevents others from outside the
// package.
type Result interface {
	isResult()
}

// AllDone reports the goal as achieved. No fields.
type AllDone struct{}

func (AllDone) isResult() {}

// RetryMeLater asks the dispatcher to keep pursuing this goal later.
//
// PreconditionGoals carries spec.md §4.3 step 6's three-way edge-mutation
// semantics:
//   - nil (the zero value): keep the goal's existing precondition edges
//     untouched, retry immediately (once its date/preconditions allow).
//   - non-nil, empty slice: clear all precondition edges.
//   - non-nil, non-empty slice: replace the edge set with exactly this set.
//
// PreconditionDate, if set, moves the goal's gate to
// max(current precondition_date, PreconditionDate) — a handler can only
// push the gate later, matching original_source/django_goals/models.py's
// handle_waiting_for_worker.
type RetryMeLater struct {
	PreconditionGoals *[]uuid.UUID
	PreconditionDate  *time.Time
	Message           string
}

func (RetryMeLater) isResult() {}
