package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"brightreel-ai/reelgate/pkg/generation"
)

// MemoryBackend implements Backend using in-memory storage.
// This is the default backend and provides fast access with no
// persistence. All data is lost when the process exits.
//
// MemoryBackend is thread-safe using sync.RWMutex. Job records are stored
// and returned as copies so callers never alias internal state.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries []SpendEntry
	jobs    map[string]*generation.Job
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		jobs: make(map[string]*generation.Job),
	}
}

// AppendSpend appends one ledger row.
func (m *MemoryBackend) AppendSpend(ctx context.Context, entry SpendEntry) error {
	if entry.Principal == "" {
		return fmt.Errorf("principal cannot be empty")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)
	return nil
}

// SumSpendSince returns the total spend for a principal since the given
// time.
func (m *MemoryBackend) SumSpendSince(ctx context.Context, principal string, since time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total float64
	for _, e := range m.entries {
		if e.Principal == principal && !e.Timestamp.Before(since) {
			total += e.AmountUSD
		}
	}
	return total, nil
}

// PruneSpendBefore deletes ledger rows older than the cutoff.
func (m *MemoryBackend) PruneSpendBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	deleted := 0
	for _, e := range m.entries {
		if e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return deleted, nil
}

// SaveJob inserts or replaces a job record.
func (m *MemoryBackend) SaveJob(ctx context.Context, job *generation.Job) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if job.ID == "" {
		return fmt.Errorf("job id cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob returns the job record, or (nil, nil) if absent.
func (m *MemoryBackend) GetJob(ctx context.Context, id string) (*generation.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return job.Clone(), nil
}

// ListJobs returns all job records for a principal, newest first.
func (m *MemoryBackend) ListJobs(ctx context.Context, principal string) ([]*generation.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var jobs []*generation.Job
	for _, job := range m.jobs {
		if job.Principal == principal {
			jobs = append(jobs, job.Clone())
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	return jobs, nil
}

// DeleteTerminalJobsBefore deletes terminal jobs completed before the
// cutoff.
func (m *MemoryBackend) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for id, job := range m.jobs {
		if job.Status.Terminal() && !job.CompletedAt.IsZero() && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// Close releases any resources held by the backend. No-op for memory.
func (m *MemoryBackend) Close() error {
	return nil
}

// LedgerSize returns the current number of ledger rows. Useful for
// monitoring and testing.
func (m *MemoryBackend) LedgerSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
