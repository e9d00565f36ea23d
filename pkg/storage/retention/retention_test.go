package retention

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"brightreel-ai/reelgate/pkg/generation"
	"brightreel-ai/reelgate/pkg/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPruner_LedgerCutoffKeepsRecentMonths(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	defer backend.Close()

	// Spend across five months; keep the current month plus three closed
	// months, so only the oldest row goes.
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{
		time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), // pruned
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
	} {
		err := backend.AppendSpend(ctx, storage.SpendEntry{
			Principal: "user-1", AmountUSD: 1.0, Timestamp: at,
		})
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	p := NewPruner(backend, Config{LedgerMonths: 3}, discardLogger())
	p.now = func() time.Time { return now }
	p.Run(ctx)

	if got := backend.LedgerSize(); got != 4 {
		t.Errorf("expected 4 rows after prune, got %d", got)
	}
	// Current-month sums are unaffected.
	total, _ := backend.SumSpendSince(ctx, "user-1", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	if total != 1.0 {
		t.Errorf("expected current-month spend 1.0, got %v", total)
	}
}

func TestPruner_DeletesOnlyAgedTerminalJobs(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	defer backend.Close()

	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	jobs := []*generation.Job{
		{
			ID: "aged-completed", Principal: "user-1", Status: generation.StatusCompleted,
			StartedAt: now.Add(-40 * 24 * time.Hour), CompletedAt: now.Add(-39 * 24 * time.Hour),
		},
		{
			ID: "aged-failed", Principal: "user-1", Status: generation.StatusFailed,
			StartedAt: now.Add(-40 * 24 * time.Hour), CompletedAt: now.Add(-39 * 24 * time.Hour),
		},
		{
			ID: "fresh-completed", Principal: "user-1", Status: generation.StatusCompleted,
			StartedAt: now.Add(-2 * 24 * time.Hour), CompletedAt: now.Add(-1 * 24 * time.Hour),
		},
		{
			ID: "aged-processing", Principal: "user-1", Status: generation.StatusProcessing,
			StartedAt: now.Add(-40 * 24 * time.Hour),
		},
	}
	for _, job := range jobs {
		job.InputSpec = generation.InputSpec{SceneText: "x"}
		if err := backend.SaveJob(ctx, job); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	p := NewPruner(backend, Config{JobRetention: 30 * 24 * time.Hour}, discardLogger())
	p.now = func() time.Time { return now }
	p.Run(ctx)

	for _, id := range []string{"aged-completed", "aged-failed"} {
		if got, _ := backend.GetJob(ctx, id); got != nil {
			t.Errorf("expected %s pruned", id)
		}
	}
	for _, id := range []string{"fresh-completed", "aged-processing"} {
		if got, _ := backend.GetJob(ctx, id); got == nil {
			t.Errorf("expected %s retained", id)
		}
	}
}

func TestPruner_ZeroConfigIsNoOp(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	defer backend.Close()

	err := backend.AppendSpend(ctx, storage.SpendEntry{
		Principal: "user-1", AmountUSD: 1.0,
		Timestamp: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	p := NewPruner(backend, Config{}, discardLogger())
	p.Run(ctx)

	if got := backend.LedgerSize(); got != 1 {
		t.Errorf("zero retention config must prune nothing, got %d rows", got)
	}
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	backend := storage.NewMemoryBackend()
	defer backend.Close()

	p := NewPruner(backend, Config{PruneSchedule: "not a cron line"}, discardLogger())
	s := NewScheduler(p, nil, discardLogger())

	if err := s.Start(context.Background()); err == nil {
		s.Stop()
		t.Fatal("expected error for invalid cron schedule")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	backend := storage.NewMemoryBackend()
	defer backend.Close()

	p := NewPruner(backend, Config{PruneSchedule: "0 3 * * *", LedgerMonths: 3}, discardLogger())
	s := NewScheduler(p, func() int { return 0 }, discardLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected error starting twice")
	}
	s.Stop()
	s.Stop() // idempotent
}
