package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaywell/goals/internal/dispatcher"
)

// Spec describes one deadline-horizon tier of the threaded worker: count
// goroutines all sharing the same horizon (nil means no horizon, i.e. bulk
// work). Grounded on goals_threaded_worker.py's --threads N[:HORIZON]
// argument.
type Spec struct {
	Count   int
	Horizon *time.Duration
}

// idleTracker is the Go equivalent of goals_threaded_worker.py's
// WorkersState: every goroutine reports whether its last turn did work, and
// allIdle becomes true only once every goroutine's most recent report was
// "idle" — any goroutine reporting real work resets the whole set, since
// that work might have unblocked the others.
type idleTracker struct {
	mu    sync.Mutex
	idle  map[string]bool
	total int
}

func newIdleTracker(total int) *idleTracker {
	return &idleTracker{idle: make(map[string]bool), total: total}
}

func (t *idleTracker) report(id string, didWork bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if didWork {
		t.idle = make(map[string]bool)
		return
	}
	t.idle[id] = true
}

func (t *idleTracker) allIdle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.idle) >= t.total
}

// RunThreaded runs one transitions goroutine (date sweep only — the
// Retention Sweeper and Killer Guard are busy-wait-worker exclusive, spec.md
// §4.4) plus one dispatch goroutine per Spec entry, all sharing workerID as
// a common prefix so worker_tracking rows can be told apart. It returns once
// every goroutine has exited.
func RunThreaded(ctx context.Context, d *dispatcher.Dispatcher, workerIDPrefix string, specs []Spec, once bool, logger *slog.Logger) error {
	total := 1 // transitions goroutine
	for _, s := range specs {
		total += s.Count
	}
	tracker := newIdleTracker(total)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runTransitionsLoop(ctx, d, tracker, once, logger)
	}()

	id := 0
	for _, s := range specs {
		for i := 0; i < s.Count; i++ {
			workerID := fmt.Sprintf("%s-%d", workerIDPrefix, id)
			horizon := s.Horizon
			wg.Add(1)
			go func() {
				defer wg.Done()
				runHeavyLiftingLoop(ctx, d, workerID, horizon, tracker, once, logger)
			}()
			id++
		}
	}

	wg.Wait()
	return ctx.Err()
}

func runHeavyLiftingLoop(ctx context.Context, d *dispatcher.Dispatcher, workerID string, horizon *time.Duration, tracker *idleTracker, once bool, logger *slog.Logger) {
	threadID := "worker:" + workerID
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		outcome, err := d.Turn(ctx, workerID, horizon)
		didWork := err == nil && outcome == dispatcher.OutcomeProgressed
		if err != nil && logger != nil {
			logger.Error("dispatch turn failed", "worker_id", workerID, "err", err)
		}
		tracker.report(threadID, didWork)

		if once && tracker.allIdle() {
			return
		}
		if !didWork {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
		}
	}
}

func runTransitionsLoop(ctx context.Context, d *dispatcher.Dispatcher, tracker *idleTracker, once bool, logger *slog.Logger) {
	const threadID = "transitions"
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		didWork := false
		if n, err := d.SweepDates(ctx, dateSweepBatch); err != nil {
			if logger != nil {
				logger.Error("date sweep failed", "err", err)
			}
		} else if n > 0 {
			didWork = true
		}

		tracker.report(threadID, didWork)

		if once && tracker.allIdle() {
			return
		}
		if !didWork {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
		}
	}
}
