package storage

import (
	"context"
	"time"
)

// Ledger adapts a Backend to the budget guard's narrow ledger view
// (sum-and-append only).
type Ledger struct {
	backend Backend
}

// NewLedger wraps a backend as a spend ledger.
func NewLedger(backend Backend) *Ledger {
	return &Ledger{backend: backend}
}

// SumSince returns the total spend for a principal since the given time.
func (l *Ledger) SumSince(ctx context.Context, principal string, since time.Time) (float64, error) {
	return l.backend.SumSpendSince(ctx, principal, since)
}

// Append records one billed operation.
func (l *Ledger) Append(ctx context.Context, principal string, amountUSD float64, at time.Time) error {
	return l.backend.AppendSpend(ctx, SpendEntry{
		Principal: principal,
		AmountUSD: amountUSD,
		Timestamp: at,
	})
}
