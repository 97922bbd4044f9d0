package queue

import (
	"context"
	"time"
)

// EnqueueOptions configures a single Client.Enqueue call, per
// spec.md §4.1.
type EnqueueOptions struct {
	IdempotencyKey string
	Priority       int

	// Delay and RunAt are mutually exclusive; Delay is relative to now,
	// RunAt is absolute. If neither is set the job is immediately
	// eligible.
	Delay time.Duration
	RunAt *time.Time

	MaxAttempts   int
	Backoff       BackoffPolicy
	InitialStages []string
	Metadata      map[string]any

	// Replace controls collision handling when IdempotencyKey is set.
	Replace ReplacePolicy
}

// ScheduledFor resolves Delay/RunAt against now.
func (o EnqueueOptions) ScheduledFor(now time.Time) time.Time {
	if o.RunAt != nil {
		return *o.RunAt
	}
	if o.Delay > 0 {
		return now.Add(o.Delay)
	}
	return now
}

// Client is the producer-facing surface: enqueue, cancel, retry, look
// up, and aggregate stats, per spec.md §4.1.
//
// Because an idempotency key is only unique within a queue (spec.md
// §3), Cancel/Retry/GetJob accept an explicit queue name alongside the
// id-or-key identifier rather than the bare "id-or-key" the prose
// describes; a bare backend-assigned job id is accepted with queue="" .
type Client interface {
	// Enqueue inserts (or replaces, per opts.Replace) a job and returns
	// its backend-assigned id. It notifies the push waitlist for queue
	// on success, arming the waitlist's next-wakeup timer if the job is
	// scheduled for the future.
	Enqueue(ctx context.Context, queue string, payload []byte, opts EnqueueOptions) (string, error)

	// Cancel succeeds only for pending/retry_pending jobs (including
	// future-scheduled ones); processing jobs are never forcibly
	// cancelled through this surface.
	Cancel(ctx context.Context, queue, idOrKey string) (bool, error)

	// Retry is valid only on failed jobs: resets to pending with
	// attempts preserved and scheduled_for=now.
	Retry(ctx context.Context, queue, idOrKey string) (bool, error)

	// GetJob returns nil, nil if no job matches.
	GetJob(ctx context.Context, queue, idOrKey string) (*Job, error)

	// Stats aggregates counts for queue, or across every queue when
	// queue is "".
	Stats(ctx context.Context, queue string) (Stats, error)

	// Close releases any connections held by the client.
	Close() error
}

// JobHandler processes one claimed job. A nil return marks the job
// completed; a non-nil return is classified by ClassifyOutcome.
type JobHandler func(ctx context.Context, jc JobContext) error

// WorkerConfig configures a Worker instance, per spec.md §4.2 and §6.
type WorkerConfig struct {
	Queue       string
	Concurrency int

	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	GracefulShutdown  time.Duration
}

// DefaultWorkerConfig matches spec.md §6's documented defaults.
func DefaultWorkerConfig(queueName string) WorkerConfig {
	return WorkerConfig{
		Queue:             queueName,
		Concurrency:       5,
		LeaseDuration:     15 * time.Minute,
		HeartbeatInterval: 60 * time.Second,
		PollInterval:      500 * time.Millisecond,
		GracefulShutdown:  30 * time.Second,
	}
}

// Worker binds a queue, a handler, and a concurrency limit. Start spawns
// Concurrency consumer goroutines; Stop cancels new acquisition and
// drains in-flight handlers up to GracefulShutdown.
type Worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Scheduler manages recurring/future Schedule records, per spec.md §4.3.
type Scheduler interface {
	Upsert(ctx context.Context, spec ScheduleSpec) error
	Remove(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (*Schedule, error)
	List(ctx context.Context) ([]*Schedule, error)

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// JobContext is the handler-facing surface, per spec.md §4.4.
type JobContext interface {
	// Job returns a read-only snapshot of the job record as of claim
	// time or the last mutation made through this context.
	Job() *Job

	// Heartbeat force-extends the lease. Callers do not normally need
	// to call this directly: the worker runs an automatic heartbeat
	// ticker at HeartbeatInterval.
	Heartbeat(ctx context.Context) error

	// Log emits a structured log line enriched with job id and queue.
	Log(msg string, fields ...any)

	// Progress sets the job's numeric-only overall progress (0..100),
	// for handlers that do not use the multi-stage API.
	Progress(ctx context.Context, percent float64) error

	InitStages(ctx context.Context, names []string) error
	StartStage(ctx context.Context, name string) error
	UpdateStageProgress(ctx context.Context, name string, percent float64) error
	CompleteStage(ctx context.Context, name string, artifacts map[string]any) error
	FailStage(ctx context.Context, name string, err error) error
	AddStages(ctx context.Context, names []string) error

	// Done returns a channel that is closed when the worker is
	// stopping; handlers are expected to observe it cooperatively.
	Done() <-chan struct{}
}

// Notifier is the enqueue-side half of the push waitlist (spec.md §4.5,
// §9 redesign breaking the Worker/waitlist cycle). Client depends only
// on this narrow interface.
type Notifier interface {
	// Notify wakes the oldest waiter registered for queue, if any.
	Notify(queue string)

	// ArmAt schedules a future wakeup for queue at 'at', used when an
	// enqueued job is not yet eligible.
	ArmAt(queue string, at time.Time)
}

// NoopNotifier discards all notifications; used by drivers under test
// or when the waitlist is not wired in.
type NoopNotifier struct{}

func (NoopNotifier) Notify(string)           {}
func (NoopNotifier) ArmAt(string, time.Time) {}

// Registrar is the worker-side half of the push waitlist: Worker
// depends only on this to block on an empty queue, never on the
// waitlist's concrete type, completing the cycle-break described
// alongside Notifier.
type Registrar interface {
	Register(queueName string) (wake <-chan struct{}, cancel func())
}
