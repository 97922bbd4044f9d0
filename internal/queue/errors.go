package queue

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by storage-independent code. Drivers return
// their own wrapped variants satisfying errors.Is against these where
// the spec's taxonomy (spec.md §7) calls for it.
var (
	// ErrNotFound is returned by Client.GetJob/Cancel/Retry when no job
	// matches the given id or idempotency key.
	ErrNotFound = errors.New("queue: job not found")

	// ErrScheduleNotFound is returned by Scheduler.Get/Remove when no
	// schedule matches the given key.
	ErrScheduleNotFound = errors.New("queue: schedule not found")

	// ErrLeaseLost is returned by JobContext.Heartbeat and by driver
	// Complete/Fail/Reschedule paths when the caller no longer holds the
	// lease (expired, or claimed by another worker).
	ErrLeaseLost = errors.New("queue: lease lost")

	// ErrConnectionLost is the runtime-level classification for a
	// backend that is transiently unavailable (spec.md §7). Workers
	// treat it as retryable with cancellable backoff.
	ErrConnectionLost = errors.New("queue: connection lost")

	// ErrNotCancelable is returned by Client.Cancel when the job is
	// already processing or terminal.
	ErrNotCancelable = errors.New("queue: job is not cancelable in its current state")

	// ErrNotRetryable is returned by Client.Retry when the job is not in
	// the failed state.
	ErrNotRetryable = errors.New("queue: only failed jobs may be retried")
)

// ValidationError reports a configuration or input validation failure
// (spec.md §6 CLI exit code 1).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("queue: invalid %s: %s", e.Field, e.Reason)
}

// RetryableError marks a handler failure as transient: the job is
// rescheduled with backoff if attempts remain, else marked failed.
// Any error a handler returns that is not recognized as Permanent or
// RateLimit, including the sentinels above, is treated as
// RetryableError.
type RetryableError struct {
	Cause error
}

func (e *RetryableError) Error() string {
	if e.Cause == nil {
		return "queue: retryable error"
	}
	return "queue: retryable: " + e.Cause.Error()
}

func (e *RetryableError) Unwrap() error { return e.Cause }

// NewRetryableError wraps err (which may be nil) as a RetryableError.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Cause: err}
}

// PermanentError marks a handler failure as non-retryable: the job
// transitions to failed immediately regardless of attempts remaining.
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string {
	if e.Cause == nil {
		return "queue: permanent error"
	}
	return "queue: permanent: " + e.Cause.Error()
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// NewPermanentError wraps err as a PermanentError.
func NewPermanentError(err error) *PermanentError {
	return &PermanentError{Cause: err}
}

// RateLimitError signals that the handler was rate-limited externally:
// the job is released back to pending at now+RetryAfter without
// consuming an attempt.
type RateLimitError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *RateLimitError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("queue: rate limited, retry after %s", e.RetryAfter)
	}
	return fmt.Sprintf("queue: rate limited (retry after %s): %s", e.RetryAfter, e.Cause.Error())
}

func (e *RateLimitError) Unwrap() error { return e.Cause }

// NewRateLimitError builds a RateLimitError with the given retry delay.
func NewRateLimitError(retryAfter time.Duration, cause error) *RateLimitError {
	return &RateLimitError{RetryAfter: retryAfter, Cause: cause}
}

// TimeoutError is produced by the runtime (never by a handler) when a
// job's lease expires mid-execution.
type TimeoutError struct {
	JobID   string
	LeaseMs int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("queue: job %s exceeded lease of %dms", e.JobID, e.LeaseMs)
}

// AlreadyActiveError is returned by Client.Enqueue when a
// ReplaceIfNotActive enqueue collides with a job that is currently
// processing.
type AlreadyActiveError struct {
	Queue string
	Key   string
	ID    string
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("queue: job %s (queue=%s key=%s) is already active", e.ID, e.Queue, e.Key)
}

// Outcome classifies how a worker should update a job row after a
// handler returns. ClassifyOutcome replaces throwing RateLimit as
// control flow (spec.md §9 redesign) with ordinary Go error
// classification via errors.As.
type Outcome int

const (
	OutcomeComplete Outcome = iota
	OutcomeRetry
	OutcomeRateLimit
	OutcomePermanent
)

// ClassifyOutcome inspects a handler's returned error (nil means
// success) and determines which state transition the worker should
// apply. It never returns an error itself; any error that isn't a
// recognized variant is treated as RetryableError.
func ClassifyOutcome(err error) (Outcome, *RateLimitError, *PermanentError) {
	if err == nil {
		return OutcomeComplete, nil, nil
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return OutcomeRateLimit, rl, nil
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return OutcomePermanent, nil, perm
	}
	return OutcomeRetry, nil, nil
}
