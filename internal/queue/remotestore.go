package queue

import (
	"context"
	"time"
)

// RemoteStore is the backend-agnostic surface the HTTP transport server
// drives one job at a time on behalf of a remote worker process that
// holds no storage connection of its own (spec.md §4.6). Each driver
// package's Client satisfies this alongside Client, reusing the same
// connection and notifier wiring.
type RemoteStore interface {
	// ClaimOne claims a single eligible job from queueName for workerID,
	// or returns nil, nil if none is ready.
	ClaimOne(ctx context.Context, queueName, workerID string, lease time.Duration) (*Job, error)

	// Heartbeat extends the lease workerID holds on jobID, returning
	// ErrLeaseLost if workerID no longer owns it.
	Heartbeat(ctx context.Context, jobID, workerID string, lease time.Duration) error

	// Complete marks jobID completed, provided workerID still holds its
	// lease, merging artifacts into the job's artifact map.
	Complete(ctx context.Context, jobID, workerID string, artifacts map[string]any) error

	// Fail applies the rate-limit path (retryAfter non-nil, no attempt
	// consumed) or the ordinary attempts-aware retry/fail path,
	// provided workerID still holds the job's lease.
	Fail(ctx context.Context, jobID, workerID, lastError string, retryAfter *time.Duration) error

	// Reschedule releases jobID back to pending at now+delay without
	// consuming an attempt, provided workerID still holds its lease.
	Reschedule(ctx context.Context, jobID, workerID string, delay time.Duration) error

	Stats(ctx context.Context, queueName string) (Stats, error)
}
