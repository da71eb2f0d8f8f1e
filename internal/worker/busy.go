// Package worker implements the three worker loop shapes of spec.md §4.4,
// layered on top of internal/dispatcher's single-iteration Turn. Grounded
// on original_source/django_goals/{busy_worker,blocking_worker}.py and its
// management/commands/goals_threaded_worker.py, translated from Django's
// thread/stop_event model to goroutines and context cancellation.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaywell/goals/internal/dispatcher"
)

// idleSleep is how long the busy-wait worker naps when a turn found nothing
// to do (spec.md §4.4 "sleeps a short, bounded interval (e.g. 1 s)").
const idleSleep = time.Second

// dateSweepBatch bounds how many WAITING_FOR_DATE goals one sweep call
// promotes, keeping each sweep transaction small.
const dateSweepBatch = 500

// RunBusyWait loops dispatch turns until ctx is cancelled or maxProgress
// progressions have been made (0 means unlimited). It is the only loop
// variant that also drives the retention sweeper and the killer guard
// (spec.md §4.4): "at least one must exist in a deployment."
func RunBusyWait(ctx context.Context, d *dispatcher.Dispatcher, workerID string, maxProgress int, logger *slog.Logger) error {
	if _, err := d.RunKillerGuard(ctx); err != nil && logger != nil {
		logger.Error("killer guard sweep failed at startup", "err", err)
	}

	progressCount := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if maxProgress > 0 && progressCount >= maxProgress {
			if logger != nil {
				logger.Info("max progress count reached, exiting")
			}
			return nil
		}

		if _, err := d.SweepDates(ctx, dateSweepBatch); err != nil && logger != nil {
			logger.Error("date sweep failed", "err", err)
		}

		localProgress := 0
		for maxProgress <= 0 || progressCount+localProgress < maxProgress {
			outcome, err := d.Turn(ctx, workerID, nil)
			if err != nil {
				if logger != nil {
					logger.Error("dispatch turn failed", "err", err)
				}
				break
			}
			if outcome == dispatcher.OutcomeIdle {
				break
			}
			localProgress++
		}
		progressCount += localProgress

		if _, err := d.RunRetentionSweep(ctx); err != nil && logger != nil {
			logger.Error("retention sweep failed", "err", err)
		}

		if localProgress == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idleSleep):
			}
		}
	}
}
