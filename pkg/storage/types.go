package storage

import (
	"context"
	"time"

	"brightreel-ai/reelgate/pkg/generation"
)

// SpendEntry is one appended row of the spend ledger: a single billed
// operation for a principal. The ledger is append-only; monthly totals are
// computed by summing rows, never by mutating a counter row in place.
type SpendEntry struct {
	// Principal is the user the spend is attributed to.
	Principal string

	// AmountUSD is the cost of the billed operation.
	AmountUSD float64

	// Timestamp is when the operation was billed.
	Timestamp time.Time
}

// Backend is the persistence interface for the spend ledger and job
// records. Implementations must be safe for concurrent use and provide
// single-row atomicity; no cross-row transactions are required.
//
// The admission and generation packages consume narrower views of this
// interface (budget.Ledger, generation.JobStore); Backend is the union the
// wiring layer constructs once and shares.
type Backend interface {
	// AppendSpend appends one ledger row.
	AppendSpend(ctx context.Context, entry SpendEntry) error

	// SumSpendSince returns the total spend for a principal from `since`
	// (inclusive) to now.
	SumSpendSince(ctx context.Context, principal string, since time.Time) (float64, error)

	// PruneSpendBefore deletes ledger rows older than the cutoff and
	// returns how many were removed.
	PruneSpendBefore(ctx context.Context, cutoff time.Time) (int, error)

	// SaveJob inserts or replaces a job record (last write wins).
	SaveJob(ctx context.Context, job *generation.Job) error

	// GetJob returns the job record, or (nil, nil) if absent.
	GetJob(ctx context.Context, id string) (*generation.Job, error)

	// ListJobs returns all job records for a principal.
	ListJobs(ctx context.Context, principal string) ([]*generation.Job, error)

	// DeleteTerminalJobsBefore deletes completed/failed jobs whose
	// CompletedAt is older than the cutoff and returns how many were
	// removed.
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases any resources held by the backend.
	Close() error
}
