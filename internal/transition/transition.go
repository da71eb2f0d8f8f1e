// Package transition implements the goal state machine as a pure function:
// it never writes. Callers (the scheduler, the dispatcher, the resolver)
// derive the target state and apply the change within their own
// transaction (spec.md §4.1).
package transition

import (
	"time"

	"github.com/relaywell/goals/internal/domain"
)

// Input is the subset of a Goal's fields NextState needs, plus its direct
// prerequisites' current states.
type Input struct {
	State                       domain.State
	PreconditionDate            *time.Time
	PreconditionsMode           domain.PreconditionsMode
	PreconditionFailuresAllowed bool
	Prerequisites               []domain.State
}

// NextState computes the state a goal should be in, given its current row
// and the states of its direct prerequisites, in the priority order fixed
// by spec.md §4.1:
//
//  1. Blocked or any terminal state -> unchanged.
//  2. A failed prerequisite with PreconditionFailuresAllowed=false ->
//     NOT_GOING_TO_HAPPEN_SOON.
//  3. Prerequisites not satisfied under Mode -> WAITING_FOR_PRECONDITIONS.
//  4. PreconditionDate in the future -> WAITING_FOR_DATE.
//  5. Otherwise -> WAITING_FOR_WORKER.
func NextState(in Input, now time.Time) domain.State {
	if in.State == domain.Blocked || in.State.Terminal() {
		return in.State
	}

	if !in.PreconditionFailuresAllowed {
		for _, p := range in.Prerequisites {
			if p.Failed() {
				return domain.NotGoingToHappenSoon
			}
		}
	}

	if !satisfied(in.PreconditionsMode, in.Prerequisites) {
		return domain.WaitingForPreconditions
	}

	if in.PreconditionDate != nil && in.PreconditionDate.After(now) {
		return domain.WaitingForDate
	}

	return domain.WaitingForWorker
}

// satisfied reports whether the prerequisite set counts as met under mode.
// An empty prerequisite set is always satisfied, in both modes.
func satisfied(mode domain.PreconditionsMode, prereqs []domain.State) bool {
	if len(prereqs) == 0 {
		return true
	}
	switch mode {
	case domain.ModeAny:
		for _, p := range prereqs {
			if p == domain.Achieved {
				return true
			}
		}
		return false
	default: // ModeAll
		for _, p := range prereqs {
			if p != domain.Achieved {
				return false
			}
		}
		return true
	}
}
