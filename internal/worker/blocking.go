package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/relaywell/goals/internal/dispatcher"
	"github.com/relaywell/goals/internal/domain"
	"github.com/relaywell/goals/internal/notify"
)

// blockingWaitTimeout bounds one wait on the readiness channel, so a goal
// whose notification was missed is still picked up by the next drain.
const blockingWaitTimeout = time.Minute

// RunBlocking drains every immediately dispatchable goal, then blocks on
// the shared readiness channel and re-drains on each wakeup or after
// blockingWaitTimeout
// (original_source/django_goals/blocking_worker.py). It never sweeps dates
// or runs retention/killer maintenance itself — spec.md §4.4 assigns those
// exclusively to the busy-wait variant.
func RunBlocking(ctx context.Context, d *dispatcher.Dispatcher, workerID string, logger *slog.Logger) error {
	if err := drain(ctx, d, workerID, logger); err != nil {
		return err
	}

	for {
		waitCtx, cancel := context.WithTimeout(ctx, blockingWaitTimeout)
		err := notify.Wait(waitCtx, d.Store.TrackingPool, domain.ListenChannel)
		cancel()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			if ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
		}
		// We might pick a different goal than the one that was notified;
		// that is fine, drain keeps claiming until nothing is ready.
		if err := drain(ctx, d, workerID, logger); err != nil {
			return err
		}
	}
}

func drain(ctx context.Context, d *dispatcher.Dispatcher, workerID string, logger *slog.Logger) error {
	for {
		outcome, err := d.Turn(ctx, workerID, nil)
		if err != nil {
			if logger != nil {
				logger.Error("dispatch turn failed", "err", err)
			}
			return err
		}
		if outcome == dispatcher.OutcomeIdle {
			return nil
		}
	}
}
