package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// sweepSchedule runs the in-memory bucket sweep once a minute. The sweep
// itself is bounded, so frequent runs are cheap.
const sweepSchedule = "* * * * *"

// Scheduler runs retention pruning and rate-bucket sweeping on a
// schedule using cron syntax.
//
// Common prune expressions:
//   - "0 3 * * *"    - Daily at 3 AM
//   - "0 */6 * * *"  - Every 6 hours
type Scheduler struct {
	pruner *Pruner
	sweep  func() int
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler for the given pruner. sweep may be
// nil if no in-memory sweeping is wanted.
func NewScheduler(pruner *Pruner, sweep func() int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pruner: pruner,
		sweep:  sweep,
		cron:   cron.New(),
		logger: logger.With("component", "retention.scheduler"),
	}
}

// Start begins scheduled pruning and sweeping. If no prune schedule is
// configured only the sweep entry is installed.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if spec := s.pruner.config.PruneSchedule; spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
		}
		if _, err := s.cron.AddFunc(spec, func() {
			s.pruner.Run(ctx)
		}); err != nil {
			return fmt.Errorf("failed to schedule pruning: %w", err)
		}
		s.logger.Info("retention pruning scheduled", "schedule", spec)
	}

	if s.sweep != nil {
		if _, err := s.cron.AddFunc(sweepSchedule, func() {
			if n := s.sweep(); n > 0 {
				s.logger.Debug("swept idle rate buckets", "removed", n)
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule sweeping: %w", err)
		}
	}

	s.cron.Start()
	s.running = true
	return nil
}

// Stop halts the scheduler and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("retention scheduler stopped")
}
