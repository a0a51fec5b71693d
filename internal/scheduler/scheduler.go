package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Pass is one scan-compare-apply cycle. A returned error is pass-fatal only:
// it is logged and the schedule continues with the next tick.
type Pass func(ctx context.Context, iteration int) error

// Scheduler owns the iteration count and the interval timer. It runs passes
// strictly one after another: the timer is armed only after a pass returns,
// so two passes never overlap and slow passes never queue ticks.
type Scheduler struct {
	Interval   time.Duration
	Iterations int
}

// Run executes the configured number of passes, waiting Interval between the
// end of one pass and the start of the next. It returns early only when the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context, pass Pass) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	for i := 1; i <= s.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		slog.Info("pass started", "iteration", i, "of", s.Iterations)
		if err := pass(ctx, i); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("pass failed", "iteration", i, "error", err)
		}

		if i == s.Iterations {
			break
		}

		slog.Info("waiting until next pass", "interval", s.Interval)
		timer.Reset(s.Interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return nil
}
