package generation

import (
	"context"
)

// Backend starts long-running generation operations on an external
// generative service. Submissions may take seconds; the Service applies a
// bounded timeout around every call.
//
// The returned handle is an opaque token identifying the in-flight
// operation. Completion is reported out of band (by a poller or webhook
// collaborator calling Service.MarkCompleted / Service.MarkFailed), never
// awaited inline.
type Backend interface {
	Submit(ctx context.Context, spec InputSpec) (handle string, err error)
}

// JobStore persists job records. Implementations must provide single-row
// atomicity for Save; no cross-row transaction is required.
//
// Get returns (nil, nil) when no job exists for the id.
type JobStore interface {
	SaveJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, principal string) ([]*Job, error)
}
