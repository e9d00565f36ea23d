package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Ledger is the guard's view of the durable spend ledger. The guard only
// ever appends rows and sums them; it never mutates existing rows.
type Ledger interface {
	// SumSince returns the total spend for a principal from `since`
	// (inclusive) to now.
	SumSince(ctx context.Context, principal string, since time.Time) (float64, error)

	// Append records one billed operation.
	Append(ctx context.Context, principal string, amountUSD float64, at time.Time) error
}

// Status is the outcome of a budget check.
type Status struct {
	// Allowed indicates if the projected spend fits under the ceiling.
	Allowed bool

	// Reason explains a denial in human-readable form.
	Reason string

	// Unavailable marks a denial caused by an unreadable ledger rather
	// than an exhausted budget (the fail-closed path).
	Unavailable bool

	// TotalSpent is the principal's spend so far this month.
	TotalSpent float64

	// Remaining is the budget left before the ceiling.
	Remaining float64
}

// Guard enforces a per-principal monthly spend ceiling over a durable
// ledger.
//
// The window is the current calendar month in the configured location
// (UTC by default); it must stay consistent between checks and appends.
//
// The check is advisory-then-append: nothing reserves budget atomically
// against the ledger, so concurrent requests from one principal can race
// a small number of calls past the ceiling before the next check observes
// the updated spend. That bounded overrun is an accepted trade-off; the
// alternative (a provisional debit reconciled after every call) buys
// little at this spend granularity and couples the hot path to ledger
// write latency.
//
// # Fail-closed
//
// If the ledger cannot be read, the guard denies. Exceeding the budget is
// a worse outcome than a spurious denial the caller can retry.
type Guard struct {
	ledger       Ledger
	monthlyLimit float64
	location     *time.Location
	logger       *slog.Logger

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewGuard creates a budget guard. A monthlyLimit of zero disables
// checking (every request is allowed with zero accounting).
func NewGuard(ledger Ledger, monthlyLimit float64, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		ledger:       ledger,
		monthlyLimit: monthlyLimit,
		location:     time.UTC,
		logger:       logger.With("component", "budget"),
		now:          time.Now,
	}
}

// Check verifies that the principal's month-to-date spend plus the
// estimated cost of the next call stays under the monthly ceiling.
func (g *Guard) Check(ctx context.Context, principal string, estimatedCostUSD float64) Status {
	if g.monthlyLimit <= 0 {
		return Status{Allowed: true}
	}

	spent, err := g.ledger.SumSince(ctx, principal, g.monthStart())
	if err != nil {
		// Fail closed: an unreadable ledger denies the request rather
		// than risking unbounded spend.
		g.logger.Error("ledger read failed, denying request",
			"principal", principal, "error", err)
		return Status{
			Allowed:     false,
			Reason:      "spend ledger unavailable, request denied",
			Unavailable: true,
		}
	}

	remaining := g.monthlyLimit - spent
	if remaining < 0 {
		remaining = 0
	}

	if spent+estimatedCostUSD >= g.monthlyLimit {
		return Status{
			Allowed: false,
			Reason: fmt.Sprintf("monthly budget exceeded: spent $%.2f of $%.2f, estimated cost $%.2f",
				spent, g.monthlyLimit, estimatedCostUSD),
			TotalSpent: spent,
			Remaining:  remaining,
		}
	}

	return Status{
		Allowed:    true,
		TotalSpent: spent,
		Remaining:  remaining,
	}
}

// Record appends the actual cost of a completed billed call to the
// ledger.
func (g *Guard) Record(ctx context.Context, principal string, amountUSD float64) error {
	if g.monthlyLimit <= 0 {
		return nil
	}
	if err := g.ledger.Append(ctx, principal, amountUSD, g.now()); err != nil {
		return fmt.Errorf("failed to record spend: %w", err)
	}
	return nil
}

// monthStart returns the first instant of the current calendar month in
// the guard's location.
func (g *Guard) monthStart() time.Time {
	now := g.now().In(g.location)
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, g.location)
}
