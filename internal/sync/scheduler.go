package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler triggers a sync cycle on a fixed wall-clock interval. The
// first cycle fires one interval after start, matching the original
// deployment behavior.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
}

func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
	}
}

// Run blocks until the context is canceled. A tick that lands while the
// previous cycle is still in flight is skipped rather than overlapped.
// A cycle's failure never stops the schedule: the next tick always runs.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			err := s.engine.RunCycle(ctx)
			if errors.Is(err, ErrCycleRunning) {
				slog.Warn("previous cycle still running, skipping tick")
				continue
			}
			if err != nil {
				slog.Error("sync cycle finished with errors", "error", err)
			}
		}
	}
}
