// Package store is the Postgres-backed Store (spec.md §2.1): the
// transactional relational backend with row-level locking, SKIP LOCKED,
// and a publish/subscribe channel. Grounded on the teacher's
// (ryanshabaneh-atlas-queue) internal/worker/claim.go and
// internal/queue/enqueue.go, generalized from a job queue to a
// precondition-propagating goal graph.
//
// Every worker owns two connections: Pool serves transactional dispatch
// work, TrackingPool is a dedicated autocommit connection for
// WorkerTracking writes that must survive a crash of the main transaction
// (spec.md §9 "Out-of-transaction tracking").
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and *pgxpool.Conn, letting
// every query function in this package run against either a bare pool or
// an open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store bundles the two connection pools spec.md §5 requires per worker.
type Store struct {
	Pool         *pgxpool.Pool
	TrackingPool *pgxpool.Pool
}

// Connect opens both pools against databaseURL. TrackingPool is capped
// small: it only serves short autocommit statements (tracking-row
// inserts/deletes, pg_notify) and the blocking worker's LISTEN connection,
// so it never needs to compete with dispatch traffic for connections.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect main pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping main pool: %w", err)
	}

	trackingCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse tracking config: %w", err)
	}
	trackingCfg.MaxConns = 4
	trackingPool, err := pgxpool.NewWithConfig(ctx, trackingCfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect tracking pool: %w", err)
	}
	if err := trackingPool.Ping(ctx); err != nil {
		pool.Close()
		trackingPool.Close()
		return nil, fmt.Errorf("ping tracking pool: %w", err)
	}

	return &Store{Pool: pool, TrackingPool: trackingPool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
	s.TrackingPool.Close()
}

// WithTx runs fn inside a serializable-enough (read committed, Postgres's
// default, is sufficient here — every mutation goes through an explicit
// row lock) transaction on the main pool, committing on success and
// rolling back on error or panic. The panic is re-raised after rollback so
// the dispatcher's own recover() can classify it as a
// transaction-non-recoverable failure (spec.md §4.3 step 6).
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
