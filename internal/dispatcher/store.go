package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaywell/goals/internal/domain"
	"github.com/relaywell/goals/internal/notify"
	"github.com/relaywell/goals/internal/store"
)

// TxStore is the persistence seam Turn's transactional work runs against.
// Every method returns plain domain/uuid/time types, not pgx types, so a
// test can implement it with an in-memory fake instead of a live
// transaction. Its method set is a superset of resolver.Store, so a TxStore
// value can be passed anywhere the resolver package expects one.
type TxStore interface {
	ClaimGoal(ctx context.Context, now time.Time, horizon *time.Duration) (*domain.Goal, error)
	LockGoal(ctx context.Context, id uuid.UUID) (*domain.Goal, error)
	UpdateState(ctx context.Context, id uuid.UUID, state domain.State, preconditionDate *time.Time, now time.Time) error
	AppendProgress(ctx context.Context, goalID uuid.UUID, startedAt, finishedAt time.Time, success bool, message, traceback string) (uuid.UUID, error)
	ProgressCount(ctx context.Context, goalID uuid.UUID) (int, error)
	ReplacePreconditions(ctx context.Context, dependentID uuid.UUID, prerequisiteIDs []uuid.UUID) error
	PullDeadlines(ctx context.Context, prerequisiteIDs []uuid.UUID, deadline time.Time) error
	DependentsInState(ctx context.Context, prerequisiteID uuid.UUID, state domain.State) ([]uuid.UUID, error)
	PrerequisiteStates(ctx context.Context, goalID uuid.UUID) ([]domain.State, error)
}

// Store is the transaction-boundary-plus-tracking seam Turn needs. The
// production implementation (pgxStore below) opens a real transaction and
// writes tracking rows on the dedicated autocommit connection; tests
// substitute an in-memory fake that skips the connection plumbing entirely.
type Store interface {
	WithTx(ctx context.Context, fn func(TxStore) error) error
	InsertTracking(ctx context.Context, workerID string, goalID uuid.UUID, startedAt time.Time) error
	DeleteTracking(ctx context.Context, workerID string, goalID uuid.UUID) error
	NotifyWaitingForWorker(ctx context.Context, goalID uuid.UUID) error
	NotifyProgress(ctx context.Context, goalID uuid.UUID, state domain.State) error
}

// pgxStore is the production Store, backed by internal/store's two pools.
type pgxStore struct {
	s *store.Store
}

func (p pgxStore) WithTx(ctx context.Context, fn func(TxStore) error) error {
	return p.s.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(txStore{tx: tx})
	})
}

func (p pgxStore) InsertTracking(ctx context.Context, workerID string, goalID uuid.UUID, startedAt time.Time) error {
	return store.InsertTracking(ctx, p.s.TrackingPool, workerID, goalID, startedAt)
}

func (p pgxStore) DeleteTracking(ctx context.Context, workerID string, goalID uuid.UUID) error {
	return store.DeleteTracking(ctx, p.s.TrackingPool, workerID, goalID)
}

func (p pgxStore) NotifyWaitingForWorker(ctx context.Context, _ uuid.UUID) error {
	return notify.Publish(ctx, p.s.TrackingPool, domain.ListenChannel)
}

func (p pgxStore) NotifyProgress(ctx context.Context, goalID uuid.UUID, state domain.State) error {
	return notify.PublishGoalProgress(ctx, p.s.TrackingPool, goalID, state)
}

// txStore adapts an open transaction to TxStore via internal/store's free
// functions.
type txStore struct {
	tx pgx.Tx
}

func (t txStore) ClaimGoal(ctx context.Context, now time.Time, horizon *time.Duration) (*domain.Goal, error) {
	return store.ClaimGoal(ctx, t.tx, now, horizon)
}

func (t txStore) LockGoal(ctx context.Context, id uuid.UUID) (*domain.Goal, error) {
	return store.LockGoal(ctx, t.tx, id)
}

func (t txStore) UpdateState(ctx context.Context, id uuid.UUID, state domain.State, preconditionDate *time.Time, now time.Time) error {
	return store.UpdateState(ctx, t.tx, id, state, preconditionDate, now)
}

func (t txStore) AppendProgress(ctx context.Context, goalID uuid.UUID, startedAt, finishedAt time.Time, success bool, message, traceback string) (uuid.UUID, error) {
	return store.AppendProgress(ctx, t.tx, goalID, startedAt, finishedAt, success, message, traceback)
}

func (t txStore) ProgressCount(ctx context.Context, goalID uuid.UUID) (int, error) {
	return store.ProgressCount(ctx, t.tx, goalID)
}

func (t txStore) ReplacePreconditions(ctx context.Context, dependentID uuid.UUID, prerequisiteIDs []uuid.UUID) error {
	return store.ReplacePreconditions(ctx, t.tx, dependentID, prerequisiteIDs)
}

func (t txStore) PullDeadlines(ctx context.Context, prerequisiteIDs []uuid.UUID, deadline time.Time) error {
	return store.PullDeadlines(ctx, t.tx, prerequisiteIDs, deadline)
}

func (t txStore) DependentsInState(ctx context.Context, prerequisiteID uuid.UUID, state domain.State) ([]uuid.UUID, error) {
	return store.DependentsInState(ctx, t.tx, prerequisiteID, state)
}

func (t txStore) PrerequisiteStates(ctx context.Context, goalID uuid.UUID) ([]domain.State, error) {
	return store.PrerequisiteStates(ctx, t.tx, goalID)
}
