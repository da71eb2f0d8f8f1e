package dispatcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywell/goals/internal/clock"
	"github.com/relaywell/goals/internal/config"
	"github.com/relaywell/goals/internal/domain"
	"github.com/relaywell/goals/internal/registry"
	"github.com/relaywell/goals/internal/store"
)

// fakeTxStore is an in-memory TxStore: one goal table, one edge table, one
// progress counter per goal. Every method operates directly on the maps, no
// transaction semantics, since Turn's tests only need Turn's own call
// sequence to be observable.
type fakeTxStore struct {
	goals    map[uuid.UUID]*domain.Goal
	edges    map[uuid.UUID][]uuid.UUID
	progress map[uuid.UUID]int
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{
		goals:    map[uuid.UUID]*domain.Goal{},
		edges:    map[uuid.UUID][]uuid.UUID{},
		progress: map[uuid.UUID]int{},
	}
}

func (f *fakeTxStore) ClaimGoal(_ context.Context, now time.Time, _ *time.Duration) (*domain.Goal, error) {
	for _, g := range f.goals {
		if g.State == domain.WaitingForWorker {
			cp := *g
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeTxStore) LockGoal(_ context.Context, id uuid.UUID) (*domain.Goal, error) {
	g, ok := f.goals[id]
	if !ok {
		return nil, fmt.Errorf("no such goal %s", id)
	}
	cp := *g
	return &cp, nil
}

func (f *fakeTxStore) UpdateState(_ context.Context, id uuid.UUID, state domain.State, preconditionDate *time.Time, now time.Time) error {
	g := f.goals[id]
	g.State = state
	g.PreconditionDate = preconditionDate
	g.UpdatedAt = now
	return nil
}

func (f *fakeTxStore) AppendProgress(_ context.Context, goalID uuid.UUID, _, _ time.Time, _ bool, _, _ string) (uuid.UUID, error) {
	f.progress[goalID]++
	return uuid.New(), nil
}

func (f *fakeTxStore) ProgressCount(_ context.Context, goalID uuid.UUID) (int, error) {
	return f.progress[goalID], nil
}

func (f *fakeTxStore) ReplacePreconditions(_ context.Context, dependentID uuid.UUID, prerequisiteIDs []uuid.UUID) error {
	f.edges[dependentID] = prerequisiteIDs
	return nil
}

func (f *fakeTxStore) PullDeadlines(_ context.Context, _ []uuid.UUID, _ time.Time) error {
	return nil
}

func (f *fakeTxStore) DependentsInState(_ context.Context, prerequisiteID uuid.UUID, state domain.State) ([]uuid.UUID, error) {
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

func (f *fakeTxStore) PrerequisiteStates(_ context.Context, goalID uuid.UUID) ([]domain.State, error) {
	prereqs := f.edges[goalID]
	states := make([]domain.State, 0, len(prereqs))
	for _, p := range prereqs {
		states = append(states, f.goals[p].State)
	}
	return states, nil
}

// fakeStore is the Turn-facing Store: tracking rows and notifications kept
// in memory, WithTx just runs fn against the shared fakeTxStore.
type fakeStore struct {
	tx       *fakeTxStore
	tracking map[string]uuid.UUID

	waitingForWorkerNotifications int
	progressNotifications         map[uuid.UUID]domain.State
}

func newFakeStore(tx *fakeTxStore) *fakeStore {
	return &fakeStore{tx: tx, tracking: map[string]uuid.UUID{}, progressNotifications: map[uuid.UUID]domain.State{}}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(TxStore) error) error {
	return fn(f.tx)
}

func (f *fakeStore) InsertTracking(_ context.Context, workerID string, goalID uuid.UUID, _ time.Time) error {
	f.tracking[workerID] = goalID
	return nil
}

func (f *fakeStore) DeleteTracking(_ context.Context, workerID string, _ uuid.UUID) error {
	delete(f.tracking, workerID)
	return nil
}

func (f *fakeStore) NotifyWaitingForWorker(_ context.Context, _ uuid.UUID) error {
	f.waitingForWorkerNotifications++
	return nil
}

func (f *fakeStore) NotifyProgress(_ context.Context, goalID uuid.UUID, state domain.State) error {
	f.progressNotifications[goalID] = state
	return nil
}

func newTestDispatcher(fs *fakeStore, now time.Time) *Dispatcher {
	reg := registry.New()
	return &Dispatcher{
		Registry: reg,
		Config:   config.Config{MaxProgressCount: 3},
		Clock:    clock.NewFake(now),
		txDriver: fs,
	}
}

func TestTurn_IdleWhenNothingClaimable(t *testing.T) {
	fx := newFakeTxStore()
	fs := newFakeStore(fx)
	d := newTestDispatcher(fs, time.Now())

	outcome, err := d.Turn(context.Background(), "worker-1", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIdle, outcome)
}

func TestTurn_AllDoneMarksAchievedAndCleansUpTracking(t *testing.T) {
	fx := newFakeTxStore()
	goal := &domain.Goal{ID: uuid.New(), Handler: "noop", State: domain.WaitingForWorker}
	fx.goals[goal.ID] = goal

	fs := newFakeStore(fx)
	d := newTestDispatcher(fs, time.Now())
	d.Registry.Register("noop", func(context.Context, *domain.Goal) (registry.Result, error) {
		return registry.AllDone{}, nil
	})

	outcome, err := d.Turn(context.Background(), "worker-1", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProgressed, outcome)
	assert.Equal(t, domain.Achieved, fx.goals[goal.ID].State)
	assert.Empty(t, fs.tracking)
	assert.Equal(t, domain.Achieved, fs.progressNotifications[goal.ID])
}

func TestTurn_RetryMeLaterKeepsGoalWaitingForWorker(t *testing.T) {
	fx := newFakeTxStore()
	goal := &domain.Goal{ID: uuid.New(), Handler: "flaky", State: domain.WaitingForWorker, PreconditionsMode: domain.ModeAll, PreconditionFailuresAllowed: true}
	fx.goals[goal.ID] = goal

	fs := newFakeStore(fx)
	d := newTestDispatcher(fs, time.Now())
	d.Registry.Register("flaky", func(context.Context, *domain.Goal) (registry.Result, error) {
		return registry.RetryMeLater{Message: "not yet"}, nil
	})

	outcome, err := d.Turn(context.Background(), "worker-1", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProgressed, outcome)
	assert.Equal(t, domain.WaitingForWorker, fx.goals[goal.ID].State)
	assert.Equal(t, 1, fx.progress[goal.ID])
}

func TestTurn_ProgressCapForcesGivenUp(t *testing.T) {
	fx := newFakeTxStore()
	goal := &domain.Goal{ID: uuid.New(), Handler: "flaky", State: domain.WaitingForWorker, PreconditionsMode: domain.ModeAll, PreconditionFailuresAllowed: true}
	fx.goals[goal.ID] = goal
	fx.progress[goal.ID] = 2 // one below the fake dispatcher's cap of 3

	fs := newFakeStore(fx)
	d := newTestDispatcher(fs, time.Now())
	d.Registry.Register("flaky", func(context.Context, *domain.Goal) (registry.Result, error) {
		return registry.RetryMeLater{}, nil
	})

	_, err := d.Turn(context.Background(), "worker-1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.GivenUp, fx.goals[goal.ID].State)
}

func TestTurn_UnknownHandlerMarksCorrupted(t *testing.T) {
	fx := newFakeTxStore()
	goal := &domain.Goal{ID: uuid.New(), Handler: "does-not-exist", State: domain.WaitingForWorker}
	fx.goals[goal.ID] = goal

	fs := newFakeStore(fx)
	d := newTestDispatcher(fs, time.Now())

	_, err := d.Turn(context.Background(), "worker-1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Corrupted, fx.goals[goal.ID].State)
}

func TestTurn_TerminalStateCascadesToDependent(t *testing.T) {
	fx := newFakeTxStore()
	goal := &domain.Goal{ID: uuid.New(), Handler: "noop", State: domain.WaitingForWorker}
	fx.goals[goal.ID] = goal

	dependent := &domain.Goal{
		ID:                          uuid.New(),
		State:                       domain.WaitingForPreconditions,
		PreconditionsMode:           domain.ModeAll,
		PreconditionFailuresAllowed: true,
	}
	fx.goals[dependent.ID] = dependent
	fx.edges[dependent.ID] = []uuid.UUID{goal.ID}

	fs := newFakeStore(fx)
	d := newTestDispatcher(fs, time.Now())
	d.Registry.Register("noop", func(context.Context, *domain.Goal) (registry.Result, error) {
		return registry.AllDone{}, nil
	})

	_, err := d.Turn(context.Background(), "worker-1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitingForWorker, fx.goals[dependent.ID].State)
	assert.Equal(t, 1, fs.waitingForWorkerNotifications)
}

func TestTurn_HandlerPanicMarksCorrupted(t *testing.T) {
	fx := newFakeTxStore()
	goal := &domain.Goal{ID: uuid.New(), Handler: "panics", State: domain.WaitingForWorker}
	fx.goals[goal.ID] = goal

	fs := newFakeStore(fx)
	d := newTestDispatcher(fs, time.Now())
	d.Registry.Register("panics", func(context.Context, *domain.Goal) (registry.Result, error) {
		panic("boom")
	})

	outcome, err := d.Turn(context.Background(), "worker-1", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProgressed, outcome)
	assert.Equal(t, domain.Corrupted, fx.goals[goal.ID].State)
	assert.Empty(t, fs.tracking)
}
