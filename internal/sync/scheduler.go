package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/syncwell/esmirror/pkg/logger"
)

// immediateRestartDelay is the short pause between passes when no interval
// is configured, so a failing pass cannot spin the process hot
const immediateRestartDelay = time.Second

// Scheduler runs the orchestrator repeatedly forever, isolating failures
// of one pass from the next. Passes are serialized, never pipelined: the
// next pass starts only after the previous one finished and the interval
// elapsed.
type Scheduler struct {
	orch     *Orchestrator
	interval time.Duration
	log      *zap.Logger
}

// NewScheduler creates a scheduler driving the given orchestrator
func NewScheduler(orch *Orchestrator, interval time.Duration) *Scheduler {
	return &Scheduler{
		orch:     orch,
		interval: interval,
		log:      logger.With(zap.String("component", "scheduler")),
	}
}

// Run loops forever: one pass, a wait, the next pass. Cancellation is
// checked at each iteration boundary; a pass in flight runs to completion.
func (s *Scheduler) Run(ctx context.Context) {
	wait := s.interval
	if wait <= 0 {
		wait = immediateRestartDelay
	}
	s.log.Info("scheduler started", zap.Duration("interval", wait))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		default:
		}

		metrics := s.orch.RunPass(ctx)
		if metrics.Err != nil {
			s.log.Warn("pass failed, next pass still scheduled",
				zap.Duration("retry_in", wait),
				zap.Error(metrics.Err))
		}

		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-time.After(wait):
		}
	}
}
