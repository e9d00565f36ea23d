package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory JobStore.
type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*Job

	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*Job)}
}

func (s *fakeStore) SaveJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *fakeStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return job.Clone(), nil
}

func (s *fakeStore) ListJobs(_ context.Context, principal string) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, job := range s.jobs {
		if job.Principal == principal {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

// fakeBackend records submitted specs and serves scripted results.
type fakeBackend struct {
	mu      sync.Mutex
	specs   []InputSpec
	err     error
	block   time.Duration
	handles int
}

func (b *fakeBackend) Submit(ctx context.Context, spec InputSpec) (string, error) {
	b.mu.Lock()
	b.specs = append(b.specs, spec)
	b.handles++
	n := b.handles
	err := b.err
	block := b.block
	b.mu.Unlock()

	if block > 0 {
		select {
		case <-time.After(block):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("op-%d", n), nil
}

func (b *fakeBackend) submitted() []InputSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]InputSpec(nil), b.specs...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testService(store JobStore, backend Backend, cfg Config) *Service {
	return NewService(store, backend, cfg, discardLogger())
}

func testSpec() InputSpec {
	return InputSpec{
		SceneText:       "a product spinning on a turntable",
		Style:           "studio",
		DurationSeconds: 15,
		AspectRatio:     "16:9",
		Model:           "reel-v2",
	}
}

// ============================================================================
// Submit Tests
// ============================================================================

func TestSubmit_Success(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, &fakeBackend{}, Config{})

	job, err := svc.Submit(context.Background(), "user-1", testSpec())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if job.Status != StatusProcessing {
		t.Errorf("expected processing, got %s", job.Status)
	}
	if job.OperationHandle == "" {
		t.Error("expected a non-empty operation handle")
	}
	if job.ID == "" {
		t.Error("expected a generated job id")
	}
	if job.RetryCount != 0 {
		t.Errorf("expected retry count 0, got %d", job.RetryCount)
	}

	stored, err := svc.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != StatusProcessing || stored.OperationHandle != job.OperationHandle {
		t.Errorf("stored job diverges from returned snapshot: %+v", stored)
	}
}

func TestSubmit_BackendErrorFailsJob(t *testing.T) {
	store := newFakeStore()
	backend := &fakeBackend{err: errors.New("render farm rejected request")}
	svc := testService(store, backend, Config{})

	job, err := svc.Submit(context.Background(), "user-1", testSpec())
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}

	if job.Status != StatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
	if job.OperationHandle != "" {
		t.Error("failed job must not keep an operation handle")
	}
	if !strings.Contains(job.ErrorMessage, "render farm rejected request") {
		t.Errorf("expected backend error in message, got %q", job.ErrorMessage)
	}

	// The failed record is durable and retryable.
	stored, err := svc.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != StatusFailed {
		t.Errorf("expected stored job failed, got %s", stored.Status)
	}
}

func TestSubmit_TimeoutFailsJob(t *testing.T) {
	store := newFakeStore()
	backend := &fakeBackend{block: time.Second}
	svc := testService(store, backend, Config{SubmitTimeout: 10 * time.Millisecond})

	job, err := svc.Submit(context.Background(), "user-1", testSpec())
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed on timeout, got %v", err)
	}
	if job.Status != StatusFailed {
		t.Errorf("expected failed after timeout, got %s", job.Status)
	}
	if job.ErrorMessage == "" {
		t.Error("expected a recorded error message")
	}
}

func TestSubmit_SecretsAreRedactedFromErrors(t *testing.T) {
	store := newFakeStore()
	backend := &fakeBackend{err: errors.New("auth failed for key sk-abc123def456ghi789")}
	svc := testService(store, backend, Config{})

	job, _ := svc.Submit(context.Background(), "user-1", testSpec())
	if strings.Contains(job.ErrorMessage, "sk-abc123def456ghi789") {
		t.Errorf("api key leaked into stored error: %q", job.ErrorMessage)
	}
	if !strings.Contains(job.ErrorMessage, "sk-***") {
		t.Errorf("expected redaction marker, got %q", job.ErrorMessage)
	}
}

// ============================================================================
// Terminal Report Tests
// ============================================================================

func TestMarkCompleted_FromProcessing(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, &fakeBackend{}, Config{})

	job, _ := svc.Submit(context.Background(), "user-1", testSpec())

	meta := map[string]string{"url": "https://cdn.example.com/v/1.mp4", "duration": "15s"}
	done, err := svc.MarkCompleted(context.Background(), job.ID, meta)
	if err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}

	if done.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}
	if done.OperationHandle != "" {
		t.Error("completed job must not keep an operation handle")
	}
	if done.OutputMetadata["url"] != meta["url"] {
		t.Errorf("expected output metadata preserved, got %+v", done.OutputMetadata)
	}
	if done.CompletedAt.IsZero() {
		t.Error("expected a completion timestamp")
	}
}

func TestMarkCompleted_IdempotentRepeat(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, &fakeBackend{}, Config{})

	job, _ := svc.Submit(context.Background(), "user-1", testSpec())
	first, err := svc.MarkCompleted(context.Background(), job.ID, map[string]string{"url": "u"})
	if err != nil {
		t.Fatalf("first report failed: %v", err)
	}

	second, err := svc.MarkCompleted(context.Background(), job.ID, map[string]string{"url": "other"})
	if err != nil {
		t.Fatalf("repeated report must be a no-op, got %v", err)
	}
	if second.OutputMetadata["url"] != first.OutputMetadata["url"] {
		t.Errorf("repeat must not overwrite the first outcome: %+v", second.OutputMetadata)
	}
}

func TestMarkFailed_AfterCompletedIsConflict(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, &fakeBackend{}, Config{})

	job, _ := svc.Submit(context.Background(), "user-1", testSpec())
	if _, err := svc.MarkCompleted(context.Background(), job.ID, nil); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}

	_, err := svc.MarkFailed(context.Background(), job.ID, "late failure report")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatal("expected a TransitionError")
	}
	if terr.From != StatusCompleted || terr.To != StatusFailed {
		t.Errorf("unexpected transition in error: %s -> %s", terr.From, terr.To)
	}

	// The record is untouched.
	stored, _ := svc.Get(context.Background(), job.ID)
	if stored.Status != StatusCompleted {
		t.Errorf("conflicting report must not change state, got %s", stored.Status)
	}
}

func TestMarkCompleted_AfterFailedIsConflict(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, &fakeBackend{}, Config{})

	job, _ := svc.Submit(context.Background(), "user-1", testSpec())
	if _, err := svc.MarkFailed(context.Background(), job.ID, "render error"); err != nil {
		t.Fatalf("mark failed failed: %v", err)
	}

	if _, err := svc.MarkCompleted(context.Background(), job.ID, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMarkFailed_RecordsRedactedMessage(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, &fakeBackend{}, Config{})

	job, _ := svc.Submit(context.Background(), "user-1", testSpec())
	failed, err := svc.MarkFailed(context.Background(), job.ID, "upstream 500, api_key=supersecret123")
	if err != nil {
		t.Fatalf("mark failed failed: %v", err)
	}

	if failed.Status != StatusFailed {
		t.Errorf("expected failed, got %s", failed.Status)
	}
	if strings.Contains(failed.ErrorMessage, "supersecret123") {
		t.Errorf("secret leaked into error message: %q", failed.ErrorMessage)
	}
}

func TestMarkCompleted_UnknownJob(t *testing.T) {
	svc := testService(newFakeStore(), &fakeBackend{}, Config{})

	if _, err := svc.MarkCompleted(context.Background(), "no-such-job", nil); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

// ============================================================================
// Retry Tests
// ============================================================================

func TestRetry_ReplaysOriginalSpec(t *testing.T) {
	store := newFakeStore()
	backend := &fakeBackend{}
	svc := testService(store, backend, Config{})

	spec := testSpec()
	job, _ := svc.Submit(context.Background(), "user-1", spec)
	if _, err := svc.MarkFailed(context.Background(), job.ID, "transient render error"); err != nil {
		t.Fatalf("mark failed failed: %v", err)
	}

	retried, err := svc.Retry(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	if retried.Status != StatusProcessing {
		t.Errorf("expected processing after retry, got %s", retried.Status)
	}
	if retried.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", retried.RetryCount)
	}
	if retried.ErrorMessage != "" {
		t.Error("retry must clear the previous error message")
	}
	if retried.OperationHandle == job.OperationHandle {
		t.Error("retry must obtain a fresh operation handle")
	}

	specs := backend.submitted()
	if len(specs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(specs))
	}
	if specs[1] != spec {
		t.Errorf("retry submitted a different spec: %+v", specs[1])
	}
}

func TestRetry_OnlyFromFailed(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, &fakeBackend{}, Config{})

	job, _ := svc.Submit(context.Background(), "user-1", testSpec())

	// processing -> retry is invalid
	if _, err := svc.Retry(context.Background(), job.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for processing job, got %v", err)
	}

	// completed -> retry is invalid
	if _, err := svc.MarkCompleted(context.Background(), job.ID, nil); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}
	if _, err := svc.Retry(context.Background(), job.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for completed job, got %v", err)
	}
}

func TestRetry_CountSurvivesRepeatedFailures(t *testing.T) {
	store := newFakeStore()
	backend := &fakeBackend{err: errors.New("still broken")}
	svc := testService(store, backend, Config{})

	job, _ := svc.Submit(context.Background(), "user-1", testSpec())
	if job.Status != StatusFailed {
		t.Fatalf("expected failed initial submission, got %s", job.Status)
	}

	for want := 1; want <= 3; want++ {
		retried, err := svc.Retry(context.Background(), job.ID)
		if !errors.Is(err, ErrSubmissionFailed) {
			t.Fatalf("retry %d: expected ErrSubmissionFailed, got %v", want, err)
		}
		if retried.RetryCount != want {
			t.Errorf("retry %d: expected retry count %d, got %d", want, want, retried.RetryCount)
		}
		if retried.Status != StatusFailed {
			t.Errorf("retry %d: expected failed, got %s", want, retried.Status)
		}
	}
}

func TestRetry_ExhaustsAtMaxRetries(t *testing.T) {
	store := newFakeStore()
	backend := &fakeBackend{err: errors.New("permanent error")}
	svc := testService(store, backend, Config{MaxRetries: 2})

	job, _ := svc.Submit(context.Background(), "user-1", testSpec())
	for i := 0; i < 2; i++ {
		if _, err := svc.Retry(context.Background(), job.ID); !errors.Is(err, ErrSubmissionFailed) {
			t.Fatalf("retry %d: expected ErrSubmissionFailed, got %v", i+1, err)
		}
	}

	_, err := svc.Retry(context.Background(), job.ID)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}

	stored, _ := svc.Get(context.Background(), job.ID)
	if stored.RetryCount != 2 {
		t.Errorf("exhausted retry must not bump the count, got %d", stored.RetryCount)
	}
}

// ============================================================================
// Query Tests
// ============================================================================

func TestGet_UnknownJob(t *testing.T) {
	svc := testService(newFakeStore(), &fakeBackend{}, Config{})

	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestList_FiltersByPrincipal(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, &fakeBackend{}, Config{})

	svc.Submit(context.Background(), "user-1", testSpec())
	svc.Submit(context.Background(), "user-1", testSpec())
	svc.Submit(context.Background(), "user-2", testSpec())

	jobs, err := svc.List(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("expected 2 jobs for user-1, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.Principal != "user-1" {
			t.Errorf("unexpected principal %s in listing", j.Principal)
		}
	}
}

func TestConcurrentTerminalReports_OneOutcomeWins(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, &fakeBackend{}, Config{})

	job, _ := svc.Submit(context.Background(), "user-1", testSpec())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				svc.MarkCompleted(context.Background(), job.ID, map[string]string{"url": "u"})
			} else {
				svc.MarkFailed(context.Background(), job.ID, "late error")
			}
		}(i)
	}
	wg.Wait()

	stored, err := svc.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !stored.Status.Terminal() {
		t.Fatalf("expected a terminal state, got %s", stored.Status)
	}
	// Whichever report won, the record must be internally consistent.
	if stored.Status == StatusCompleted && stored.ErrorMessage != "" {
		t.Error("completed job carries an error message")
	}
	if stored.Status == StatusFailed && stored.OutputMetadata != nil {
		t.Error("failed job carries output metadata")
	}
}
