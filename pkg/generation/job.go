package generation

import (
	"time"
)

// Status is the lifecycle state of a generation job.
type Status string

const (
	// StatusPending means the job exists but no external operation has
	// been started for it yet (freshly submitted, or reset by a retry).
	StatusPending Status = "pending"

	// StatusProcessing means an external operation is in flight and the
	// job holds its operation handle.
	StatusProcessing Status = "processing"

	// StatusCompleted is a terminal state: the backend reported success.
	StatusCompleted Status = "completed"

	// StatusFailed is a terminal state: submission or the backend
	// reported failure. Failed jobs may be retried explicitly.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no further automatic
// transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InputSpec is everything needed to (re)submit a generation job to the
// backend. It is persisted with the job so retries replay the original
// request exactly, never caller-supplied free text.
type InputSpec struct {
	// SceneText is the marketing copy / scene description to render.
	SceneText string `json:"scene_text"`

	// Style selects the visual style preset.
	Style string `json:"style,omitempty"`

	// DurationSeconds is the requested clip length.
	DurationSeconds int `json:"duration_seconds,omitempty"`

	// AspectRatio is the output aspect ratio (e.g. "16:9", "9:16").
	AspectRatio string `json:"aspect_ratio,omitempty"`

	// Model names the backend model to use.
	Model string `json:"model,omitempty"`
}

// Job is the durable record of one logical generation attempt.
//
// Field invariants, enforced by the Service:
//   - OperationHandle is non-empty only while Status is processing.
//   - ErrorMessage is non-empty only while Status is failed.
//   - CompletedAt is non-zero iff the status is terminal.
//
// A retry mutates the same record rather than creating a new one, so a
// single audit trail (RetryCount, latest ErrorMessage) survives across
// attempts.
type Job struct {
	// ID uniquely identifies the job.
	ID string `json:"id"`

	// Principal is the user the job is billed and rate-limited against.
	Principal string `json:"principal"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// InputSpec is the original generation request.
	InputSpec InputSpec `json:"input_spec"`

	// OperationHandle is the opaque token identifying the in-flight
	// external operation.
	OperationHandle string `json:"operation_handle,omitempty"`

	// RetryCount is how many explicit retries this job has seen.
	RetryCount int `json:"retry_count"`

	// ErrorMessage is the (redacted, truncated) upstream error for a
	// failed job.
	ErrorMessage string `json:"error_message,omitempty"`

	// OutputMetadata describes the produced artifact (asset URL,
	// duration, etc.) for a completed job.
	OutputMetadata map[string]string `json:"output_metadata,omitempty"`

	// StartedAt is when the current attempt began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Clone returns a deep copy of the job. Snapshots handed to callers must
// not alias the stored record.
func (j *Job) Clone() *Job {
	out := *j
	if j.OutputMetadata != nil {
		out.OutputMetadata = make(map[string]string, len(j.OutputMetadata))
		for k, v := range j.OutputMetadata {
			out.OutputMetadata[k] = v
		}
	}
	return &out
}
