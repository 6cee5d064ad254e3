package embedding

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler periodically re-runs the worker so products from newly ingested
// ads gain embeddings without an explicit trigger.
type Scheduler struct {
	worker   *Worker
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(worker *Worker, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		worker:   worker,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled, running the worker on each tick.
// Callers must track the goroutine with a WaitGroup.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	report, err := s.worker.Run(ctx)
	if err != nil {
		s.logger.Warn("scheduled embedding run failed", "error", err)
		return
	}
	if report.Embedded > 0 {
		s.logger.Info("scheduled embedding run", "embedded", report.Embedded)
	}
}
