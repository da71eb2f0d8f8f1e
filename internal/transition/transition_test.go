package transition_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relaywell/goals/internal/domain"
	"github.com/relaywell/goals/internal/transition"
)

func TestNextState_TerminalAndBlockedAreSticky(t *testing.T) {
	now := time.Now()
	for _, s := range []domain.State{
		domain.Blocked, domain.Achieved, domain.GivenUp,
		domain.Corrupted, domain.NotGoingToHappenSoon,
	} {
		got := transition.NextState(transition.Input{
			State:             s,
			PreconditionsMode: domain.ModeAll,
		}, now)
		assert.Equal(t, s, got)
	}
}

func TestNextState_FailurePropagatesWhenNotAllowed(t *testing.T) {
	now := time.Now()
	got := transition.NextState(transition.Input{
		State:                       domain.WaitingForPreconditions,
		PreconditionsMode:           domain.ModeAll,
		PreconditionFailuresAllowed: false,
		Prerequisites:               []domain.State{domain.Achieved, domain.GivenUp},
	}, now)
	assert.Equal(t, domain.NotGoingToHappenSoon, got)
}

func TestNextState_FailureIgnoredWhenAllowed(t *testing.T) {
	now := time.Now()
	got := transition.NextState(transition.Input{
		State:                       domain.WaitingForPreconditions,
		PreconditionsMode:           domain.ModeAll,
		PreconditionFailuresAllowed: true,
		Prerequisites:               []domain.State{domain.Achieved, domain.GivenUp},
	}, now)
	// Still unsatisfied under ALL mode (GivenUp != Achieved), so it waits.
	assert.Equal(t, domain.WaitingForPreconditions, got)
}

func TestNextState_AllMode(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name   string
		prereq []domain.State
		want   domain.State
	}{
		{"none", nil, domain.WaitingForWorker},
		{"all achieved", []domain.State{domain.Achieved, domain.Achieved}, domain.WaitingForWorker},
		{"one pending", []domain.State{domain.Achieved, domain.WaitingForWorker}, domain.WaitingForPreconditions},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := transition.NextState(transition.Input{
				State:                       domain.WaitingForPreconditions,
				PreconditionsMode:           domain.ModeAll,
				PreconditionFailuresAllowed: true,
				Prerequisites:               c.prereq,
			}, now)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestNextState_AnyMode(t *testing.T) {
	now := time.Now()
	got := transition.NextState(transition.Input{
		State:                       domain.WaitingForPreconditions,
		PreconditionsMode:           domain.ModeAny,
		PreconditionFailuresAllowed: true,
		Prerequisites:               []domain.State{domain.Achieved, domain.WaitingForWorker},
	}, now)
	assert.Equal(t, domain.WaitingForWorker, got)

	got = transition.NextState(transition.Input{
		State:                       domain.WaitingForPreconditions,
		PreconditionsMode:           domain.ModeAny,
		PreconditionFailuresAllowed: true,
		Prerequisites:               []domain.State{domain.WaitingForWorker, domain.WaitingForWorker},
	}, now)
	assert.Equal(t, domain.WaitingForPreconditions, got)
}

func TestNextState_PreconditionDate(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	got := transition.NextState(transition.Input{
		State:             domain.WaitingForPreconditions,
		PreconditionsMode: domain.ModeAll,
		PreconditionDate:  &future,
	}, now)
	assert.Equal(t, domain.WaitingForDate, got)

	got = transition.NextState(transition.Input{
		State:             domain.WaitingForPreconditions,
		PreconditionsMode: domain.ModeAll,
		PreconditionDate:  &past,
	}, now)
	assert.Equal(t, domain.WaitingForWorker, got)
}
