package retention

import (
	"context"
	"log/slog"
	"time"

	"brightreel-ai/reelgate/pkg/storage"
)

// Config contains retention policy for stored rows.
type Config struct {
	// PruneSchedule is a standard cron expression for scheduled pruning.
	// Empty disables the scheduler.
	PruneSchedule string

	// LedgerMonths is how many closed calendar months of spend history to
	// keep in addition to the current month. Budget checks only ever read
	// the current month, so older rows are audit history.
	LedgerMonths int

	// JobRetention is how long terminal jobs are kept after completion.
	JobRetention time.Duration
}

// Pruner deletes aged ledger rows and terminal job records. Pruning is
// best-effort maintenance: failures are logged and retried on the next
// scheduled run, and nothing on the serving path waits for it.
type Pruner struct {
	backend storage.Backend
	config  Config
	logger  *slog.Logger

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewPruner creates a pruner over the given backend.
func NewPruner(backend storage.Backend, config Config, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		backend: backend,
		config:  config,
		logger:  logger.With("component", "retention"),
		now:     time.Now,
	}
}

// Run executes one pruning pass.
func (p *Pruner) Run(ctx context.Context) {
	if p.config.LedgerMonths > 0 {
		cutoff := p.ledgerCutoff()
		n, err := p.backend.PruneSpendBefore(ctx, cutoff)
		if err != nil {
			p.logger.Warn("ledger prune failed", "error", err)
		} else if n > 0 {
			p.logger.Info("pruned spend ledger", "rows", n, "cutoff", cutoff)
		}
	}

	if p.config.JobRetention > 0 {
		cutoff := p.now().Add(-p.config.JobRetention)
		n, err := p.backend.DeleteTerminalJobsBefore(ctx, cutoff)
		if err != nil {
			p.logger.Warn("job prune failed", "error", err)
		} else if n > 0 {
			p.logger.Info("pruned terminal jobs", "rows", n, "cutoff", cutoff)
		}
	}
}

// ledgerCutoff returns the first instant of the oldest calendar month to
// keep, in UTC to match the budget guard's month window.
func (p *Pruner) ledgerCutoff() time.Time {
	now := p.now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, -p.config.LedgerMonths, 0)
}
