package resolver_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywell/goals/internal/clock"
	"github.com/relaywell/goals/internal/domain"
	"github.com/relaywell/goals/internal/resolver"
)

// fakeStore is an in-memory resolver.Store: goals and their precondition
// edges kept in plain maps, no database involved.
type fakeStore struct {
	goals prereqGoals
	edges map[uuid.UUID][]uuid.UUID // dependentID -> prerequisiteIDs
}

type prereqGoals map[uuid.UUID]*domain.Goal

func newFakeStore() *fakeStore {
	return &fakeStore{goals: prereqGoals{}, edges: map[uuid.UUID][]uuid.UUID{}}
}

func (f *fakeStore) add(g *domain.Goal, prerequisites ...uuid.UUID) {
	f.goals[g.ID] = g
	if len(prerequisites) > 0 {
		f.edges[g.ID] = prerequisites
	}
}

func (f *fakeStore) LockGoal(_ context.Context, id uuid.UUID) (*domain.Goal, error) {
	g, ok := f.goals[id]
	if !ok {
		return nil, assert.AnError
	}
	cp := *g
	return &cp, nil
}

func (f *fakeStore) UpdateState(_ context.Context, id uuid.UUID, state domain.State, preconditionDate *time.Time, now time.Time) error {
	g, ok := f.goals[id]
	if !ok {
		return assert.AnError
	}
	g.State = state
	g.PreconditionDate = preconditionDate
	g.UpdatedAt = now
	return nil
}

func (f *fakeStore) DependentsInState(_ context.Context, prerequisiteID uuid.UUID, state domain.State) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for dependentID, prereqs := range f.edges {
		if f.goals[dependentID].State != state {
			continue
		}
		for _, p := range prereqs {
			if p == prerequisiteID {
				out = append(out, dependentID)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) PrerequisiteStates(_ context.Context, goalID uuid.UUID) ([]domain.State, error) {
	prereqs := f.edges[goalID]
	states := make([]domain.State, 0, len(prereqs))
	for _, p := range prereqs {
		states = append(states, f.goals[p].State)
	}
	return states, nil
}

// fakeNotifier records every notification instead of publishing on a
// connection.
type fakeNotifier struct {
	waitingForWorker []uuid.UUID
	progress         map[uuid.UUID]domain.State
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{progress: map[uuid.UUID]domain.State{}}
}

func (n *fakeNotifier) NotifyWaitingForWorker(_ context.Context, goalID uuid.UUID) error {
	n.waitingForWorker = append(n.waitingForWorker, goalID)
	return nil
}

func (n *fakeNotifier) NotifyProgress(_ context.Context, goalID uuid.UUID, state domain.State) error {
	n.progress[goalID] = state
	return nil
}

func waitingGoal(id uuid.UUID, now time.Time, mode domain.PreconditionsMode, failuresAllowed bool) *domain.Goal {
	return &domain.Goal{
		ID:                          id,
		Handler:                     "noop",
		State:                       domain.WaitingForPreconditions,
		PreconditionDate:            &now,
		PreconditionsMode:           mode,
		PreconditionFailuresAllowed: failuresAllowed,
		CreatedAt:                   now,
		UpdatedAt:                   now,
	}
}

func TestResolve_SingleDependentBecomesWaitingForWorker(t *testing.T) {
	ck := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	fs := newFakeStore()

	prereq := &domain.Goal{ID: uuid.New(), State: domain.Achieved}
	fs.add(prereq)

	dependent := waitingGoal(uuid.New(), ck.Now(), domain.ModeAll, true)
	fs.add(dependent, prereq.ID)

	notifier := newFakeNotifier()
	require.NoError(t, resolver.Resolve(context.Background(), fs, notifier, prereq.ID, ck.Now()))

	assert.Equal(t, domain.WaitingForWorker, fs.goals[dependent.ID].State)
	assert.Equal(t, domain.WaitingForWorker, notifier.progress[dependent.ID])
	assert.Equal(t, []uuid.UUID{dependent.ID}, notifier.waitingForWorker)
}

func TestResolve_AllModeWaitsOnRemainingPrerequisite(t *testing.T) {
	ck := clock.NewFake(time.Now())
	fs := newFakeStore()

	first := &domain.Goal{ID: uuid.New(), State: domain.Achieved}
	second := &domain.Goal{ID: uuid.New(), State: domain.WaitingForWorker}
	fs.add(first)
	fs.add(second)

	dependent := waitingGoal(uuid.New(), ck.Now(), domain.ModeAll, true)
	fs.add(dependent, first.ID, second.ID)

	notifier := newFakeNotifier()
	require.NoError(t, resolver.Resolve(context.Background(), fs, notifier, first.ID, ck.Now()))

	assert.Equal(t, domain.WaitingForPreconditions, fs.goals[dependent.ID].State)
	assert.Empty(t, notifier.progress)
}

func TestResolve_FailurePropagatesRecursively(t *testing.T) {
	ck := clock.NewFake(time.Now())
	fs := newFakeStore()

	root := &domain.Goal{ID: uuid.New(), State: domain.GivenUp}
	fs.add(root)

	mid := waitingGoal(uuid.New(), ck.Now(), domain.ModeAll, false)
	fs.add(mid, root.ID)

	leaf := waitingGoal(uuid.New(), ck.Now(), domain.ModeAll, false)
	fs.add(leaf, mid.ID)

	notifier := newFakeNotifier()
	require.NoError(t, resolver.Resolve(context.Background(), fs, notifier, root.ID, ck.Now()))

	assert.Equal(t, domain.NotGoingToHappenSoon, fs.goals[mid.ID].State)
	assert.Equal(t, domain.NotGoingToHappenSoon, fs.goals[leaf.ID].State)
	assert.Equal(t, domain.NotGoingToHappenSoon, notifier.progress[mid.ID])
	assert.Equal(t, domain.NotGoingToHappenSoon, notifier.progress[leaf.ID])
}

func TestResolve_AnyModeSatisfiedByOnePrerequisite(t *testing.T) {
	ck := clock.NewFake(time.Now())
	fs := newFakeStore()

	achieved := &domain.Goal{ID: uuid.New(), State: domain.Achieved}
	stillWaiting := &domain.Goal{ID: uuid.New(), State: domain.WaitingForWorker}
	fs.add(achieved)
	fs.add(stillWaiting)

	dependent := waitingGoal(uuid.New(), ck.Now(), domain.ModeAny, true)
	fs.add(dependent, achieved.ID, stillWaiting.ID)

	notifier := newFakeNotifier()
	require.NoError(t, resolver.Resolve(context.Background(), fs, notifier, achieved.ID, ck.Now()))

	assert.Equal(t, domain.WaitingForWorker, fs.goals[dependent.ID].State)
}

func TestBlock_RejectsTerminalGoal(t *testing.T) {
	fs := newFakeStore()
	g := &domain.Goal{ID: uuid.New(), State: domain.Achieved}
	fs.add(g)

	err := resolver.Block(context.Background(), fs, g.ID, time.Now())
	assert.ErrorIs(t, err, resolver.ErrNotWaiting)
}

func TestBlock_MovesWaitingGoalToBlocked(t *testing.T) {
	fs := newFakeStore()
	g := &domain.Goal{ID: uuid.New(), State: domain.WaitingForWorker}
	fs.add(g)

	require.NoError(t, resolver.Block(context.Background(), fs, g.ID, time.Now()))
	assert.Equal(t, domain.Blocked, fs.goals[g.ID].State)
}

func TestRetry_ReevaluatesDependentsThatFailedBecauseOfIt(t *testing.T) {
	ck := clock.NewFake(time.Now())
	fs := newFakeStore()

	blocked := &domain.Goal{ID: uuid.New(), State: domain.Blocked}
	fs.add(blocked)

	dependent := &domain.Goal{
		ID:                          uuid.New(),
		State:                       domain.NotGoingToHappenSoon,
		PreconditionsMode:           domain.ModeAll,
		PreconditionFailuresAllowed: false,
	}
	fs.add(dependent, blocked.ID)

	notifier := newFakeNotifier()
	require.NoError(t, resolver.Retry(context.Background(), fs, notifier, blocked.ID, ck.Now()))

	assert.Equal(t, domain.WaitingForDate, fs.goals[blocked.ID].State)
	assert.Equal(t, domain.WaitingForPreconditions, fs.goals[dependent.ID].State)
	assert.Equal(t, domain.WaitingForPreconditions, notifier.progress[dependent.ID])
}

func TestRetry_RejectsNonFailedGoal(t *testing.T) {
	fs := newFakeStore()
	g := &domain.Goal{ID: uuid.New(), State: domain.WaitingForWorker}
	fs.add(g)

	err := resolver.Retry(context.Background(), fs, newFakeNotifier(), g.ID, time.Now())
	assert.ErrorIs(t, err, resolver.ErrNotFailed)
}
