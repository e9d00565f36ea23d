package generation

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"brightreel-ai/reelgate/pkg/telemetry/logging"
)

// maxErrorMessageLen bounds how much of an upstream error is kept on a job
// record.
const maxErrorMessageLen = 512

// lockShards is the number of mutex shards for per-job serialization.
const lockShards = 64

// Service owns the generation-job state machine.
//
// All transitions on a single job are serialized: Submit, MarkCompleted,
// MarkFailed, and Retry acquire a per-job lock before reading or writing
// the record, so concurrent terminal reports and retries cannot interleave.
//
// # State machine
//
//	pending -> processing            (backend submission succeeded)
//	pending -> failed                (submission failed or timed out)
//	processing -> completed | failed (out-of-band terminal report)
//	failed -> pending                (explicit Retry; same record, RetryCount+1)
//
// Terminal reports are idempotent for an identical repeat and rejected as
// a conflict for a differing one.
type Service struct {
	store   JobStore
	backend Backend
	logger  *slog.Logger

	// submitTimeout bounds each backend submission attempt.
	submitTimeout time.Duration

	// maxRetries caps explicit retries per job; zero means no cap.
	maxRetries int

	redactor *logging.Redactor

	// locks shards per-job mutexes by job id. Two ids may share a shard;
	// that only costs contention, never correctness.
	locks [lockShards]sync.Mutex

	// now and newID are injectable for deterministic tests.
	now   func() time.Time
	newID func() string
}

// Config contains configuration for the Service.
type Config struct {
	// SubmitTimeout bounds each backend submission. Default: 30s.
	SubmitTimeout time.Duration

	// MaxRetries caps explicit retries per job. Zero means unlimited.
	MaxRetries int
}

// NewService creates a generation Service.
func NewService(store JobStore, backend Backend, cfg Config, logger *slog.Logger) *Service {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         store,
		backend:       backend,
		logger:        logger.With("component", "generation"),
		submitTimeout: cfg.SubmitTimeout,
		maxRetries:    cfg.MaxRetries,
		redactor:      logging.NewRedactor(),
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// Submit creates a new job and immediately attempts to start the external
// operation.
//
// On success the returned snapshot is in the processing state with a
// non-empty operation handle. If the backend submission fails or times
// out, the job is recorded as failed and the submission error is returned
// alongside the snapshot, wrapped in ErrSubmissionFailed.
func (s *Service) Submit(ctx context.Context, principal string, spec InputSpec) (*Job, error) {
	job := &Job{
		ID:        s.newID(),
		Principal: principal,
		Status:    StatusPending,
		InputSpec: spec,
		StartedAt: s.now(),
	}

	unlock := s.lock(job.ID)
	defer unlock()

	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	if err := s.startLocked(ctx, job); err != nil {
		return job.Clone(), err
	}

	s.logger.Info("job submitted",
		"job_id", job.ID,
		"principal", principal,
		"operation_handle", job.OperationHandle,
	)
	return job.Clone(), nil
}

// MarkCompleted records a successful outcome reported by the progress
// collaborator (poller or webhook).
//
// Valid only from the processing state. A repeated MarkCompleted on an
// already completed job is a no-op; a MarkCompleted on a failed job is a
// conflict and returns a TransitionError.
func (s *Service) MarkCompleted(ctx context.Context, id string, metadata map[string]string) (*Job, error) {
	unlock := s.lock(id)
	defer unlock()

	job, err := s.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case StatusCompleted:
		// Idempotent repeat of the same terminal outcome.
		return job.Clone(), nil
	case StatusProcessing:
		// Fall through to the transition below.
	default:
		terr := &TransitionError{JobID: id, From: job.Status, To: StatusCompleted}
		s.logger.Error("rejected conflicting terminal report", "job_id", id, "error", terr)
		return nil, terr
	}

	job.Status = StatusCompleted
	job.OperationHandle = ""
	job.OutputMetadata = metadata
	job.CompletedAt = s.now()

	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	s.logger.Info("job completed", "job_id", id)
	return job.Clone(), nil
}

// MarkFailed records a failure reported by the progress collaborator.
//
// Valid only from the processing state, with the same idempotency and
// conflict rules as MarkCompleted. The error message is redacted and
// truncated before it is stored.
func (s *Service) MarkFailed(ctx context.Context, id string, errorMessage string) (*Job, error) {
	unlock := s.lock(id)
	defer unlock()

	job, err := s.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case StatusFailed:
		return job.Clone(), nil
	case StatusProcessing:
		// Fall through to the transition below.
	default:
		terr := &TransitionError{JobID: id, From: job.Status, To: StatusFailed}
		s.logger.Error("rejected conflicting terminal report", "job_id", id, "error", terr)
		return nil, terr
	}

	job.Status = StatusFailed
	job.OperationHandle = ""
	job.ErrorMessage = s.sanitize(errorMessage)
	job.CompletedAt = s.now()

	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	s.logger.Warn("job failed", "job_id", id, "error_message", job.ErrorMessage)
	return job.Clone(), nil
}

// Retry resets a failed job to pending and resubmits it using the job's
// original, stored input spec. RetryCount is incremented and preserved
// even if the resubmission fails again, so retry storms stay visible.
//
// Retrying a job that is not failed returns a TransitionError.
func (s *Service) Retry(ctx context.Context, id string) (*Job, error) {
	unlock := s.lock(id)
	defer unlock()

	job, err := s.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}

	if job.Status != StatusFailed {
		terr := &TransitionError{JobID: id, From: job.Status, To: StatusPending}
		s.logger.Error("rejected retry of non-failed job", "job_id", id, "error", terr)
		return nil, terr
	}

	if s.maxRetries > 0 && job.RetryCount >= s.maxRetries {
		return job.Clone(), fmt.Errorf("%w: job %s retried %d times", ErrRetriesExhausted, id, job.RetryCount)
	}

	job.Status = StatusPending
	job.RetryCount++
	job.ErrorMessage = ""
	job.OutputMetadata = nil
	job.OperationHandle = ""
	job.CompletedAt = time.Time{}
	job.StartedAt = s.now()

	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	if err := s.startLocked(ctx, job); err != nil {
		return job.Clone(), err
	}

	s.logger.Info("job retried",
		"job_id", id,
		"retry_count", job.RetryCount,
		"operation_handle", job.OperationHandle,
	)
	return job.Clone(), nil
}

// Get returns a snapshot of the job, or ErrJobNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	unlock := s.lock(id)
	defer unlock()

	job, err := s.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// List returns snapshots of all jobs for a principal.
func (s *Service) List(ctx context.Context, principal string) ([]*Job, error) {
	jobs, err := s.store.ListJobs(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	out := make([]*Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Clone())
	}
	return out, nil
}

// startLocked submits the job's input spec to the backend under the
// configured timeout and records the outcome. Caller must hold the job's
// lock and have persisted the job in the pending state.
func (s *Service) startLocked(ctx context.Context, job *Job) error {
	sctx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	defer cancel()

	handle, err := s.backend.Submit(sctx, job.InputSpec)
	if err != nil {
		// A timeout counts as an immediate failure; the job is never
		// left dangling in pending.
		job.Status = StatusFailed
		job.OperationHandle = ""
		job.ErrorMessage = s.sanitize(err.Error())
		job.CompletedAt = s.now()

		if saveErr := s.store.SaveJob(ctx, job); saveErr != nil {
			s.logger.Error("failed to persist failed job", "job_id", job.ID, "error", saveErr)
		}

		s.logger.Warn("backend submission failed",
			"job_id", job.ID,
			"retry_count", job.RetryCount,
			"error_message", job.ErrorMessage,
		)
		return fmt.Errorf("%w: %s", ErrSubmissionFailed, job.ErrorMessage)
	}

	job.Status = StatusProcessing
	job.OperationHandle = handle

	if err := s.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}
	return nil
}

// loadLocked fetches the job record. Caller must hold the job's lock.
func (s *Service) loadLocked(ctx context.Context, id string) (*Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

// sanitize redacts secrets and bounds the length of an upstream error
// message before it is stored or logged.
func (s *Service) sanitize(msg string) string {
	return logging.Truncate(s.redactor.Redact(msg), maxErrorMessageLen)
}

// lock acquires the mutex shard for a job id and returns its unlock func.
func (s *Service) lock(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	mu := &s.locks[h.Sum32()%lockShards]
	mu.Lock()
	return mu.Unlock
}
