// Package retention implements the ACHIEVED-goal garbage collector of
// spec.md §10, grounded on
// original_source/django_goals/models.py:remove_old_goals: delete goals
// that reached ACHIEVED more than GOALS_RETENTION_SECONDS ago, skipping any
// still referenced by a non-terminal dependent so a late-arriving resolver
// cascade never joins against a row that no longer exists.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/relaywell/goals/internal/metrics"
	"github.com/relaywell/goals/internal/store"
)

// batchLimit bounds one sweep to a single small transaction, matching the
// original's `[:100]` slice on its delete candidate query set.
const batchLimit = 100

// Sweep deletes eligible ACHIEVED goals older than retention, in batches of
// at most batchLimit per call. Returns the number of goals deleted.
func Sweep(ctx context.Context, tx pgx.Tx, retention time.Duration, now time.Time, logger *slog.Logger, m *metrics.Collector) (int, error) {
	if retention <= 0 {
		return 0, nil
	}

	cutoff := now.Add(-retention)
	ids, err := store.RetentionCandidates(ctx, tx, cutoff, batchLimit)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	for _, id := range ids {
		if err := store.DeleteGoal(ctx, tx, id); err != nil {
			return 0, err
		}
	}

	if logger != nil {
		logger.Info("deleted old achieved goals", "count", len(ids))
	}
	if m != nil {
		m.RecordRetentionDeleted(len(ids))
	}
	return len(ids), nil
}
