// Package domain holds the entities and pure invariants of the goal engine:
// no behavior beyond constructors and accessors, per the transition engine
// design (writers live in internal/transition, internal/resolver and
// internal/dispatcher).
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// State is one of the eight states a Goal can occupy.
type State string

const (
	Blocked                 State = "blocked"
	WaitingForDate          State = "waiting_for_date"
	WaitingForPreconditions State = "waiting_for_preconditions"
	WaitingForWorker        State = "waiting_for_worker"
	Achieved                State = "achieved"
	GivenUp                 State = "given_up"
	Corrupted               State = "corrupted"
	NotGoingToHappenSoon    State = "not_going_to_happen_soon"
)

// Terminal reports whether a goal in this state never changes state again
// except via explicit administrative action (Retry).
func (s State) Terminal() bool {
	switch s {
	case Achieved, GivenUp, Corrupted, NotGoingToHappenSoon:
		return true
	default:
		return false
	}
}

// Failed reports whether the state represents a precondition that will
// propagate as a failure to dependents when PreconditionFailuresAllowed is
// false.
func (s State) Failed() bool {
	switch s {
	case GivenUp, Corrupted, NotGoingToHappenSoon:
		return true
	default:
		return false
	}
}

// PreconditionsMode selects how a goal's prerequisites are combined.
type PreconditionsMode string

const (
	ModeAll PreconditionsMode = "all"
	ModeAny PreconditionsMode = "any"
)

// ListenChannel is the single channel every worker subscribes to for
// dispatch wakeups (spec.md §3 "listen_channel").
const ListenChannel = "goals"

// Goal is the primary entity: a persistent unit of work pursued by a
// registered handler once its preconditions are satisfied.
type Goal struct {
	ID      uuid.UUID
	Handler string
	Args    json.RawMessage
	Kwargs  json.RawMessage

	State State

	PreconditionDate            *time.Time
	Deadline                    *time.Time
	PreconditionsMode           PreconditionsMode
	PreconditionFailuresAllowed bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DueForDate reports whether a WAITING_FOR_DATE goal's gate has passed.
func (g *Goal) DueForDate(now time.Time) bool {
	return g.PreconditionDate == nil || !g.PreconditionDate.After(now)
}
