package queue

import "time"

// EnqueueOption mutates an EnqueueOptions being built. Enqueue callers
// compose these instead of constructing the struct literal directly,
// matching the teacher's EnqueueWithOptions call sites.
type EnqueueOption func(*EnqueueOptions)

func WithIdempotencyKey(key string) EnqueueOption {
	return func(o *EnqueueOptions) { o.IdempotencyKey = key }
}

func WithPriority(p int) EnqueueOption {
	return func(o *EnqueueOptions) { o.Priority = p }
}

func WithDelay(d time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) { o.Delay = d }
}

func WithRunAt(at time.Time) EnqueueOption {
	return func(o *EnqueueOptions) { o.RunAt = &at }
}

func WithMaxAttempts(n int) EnqueueOption {
	return func(o *EnqueueOptions) { o.MaxAttempts = n }
}

func WithBackoffPolicy(b BackoffPolicy) EnqueueOption {
	return func(o *EnqueueOptions) { o.Backoff = b }
}

func WithInitialStages(names ...string) EnqueueOption {
	return func(o *EnqueueOptions) { o.InitialStages = names }
}

func WithMetadata(md map[string]any) EnqueueOption {
	return func(o *EnqueueOptions) { o.Metadata = md }
}

func WithReplacePolicy(r ReplacePolicy) EnqueueOption {
	return func(o *EnqueueOptions) { o.Replace = r }
}

// NewEnqueueOptions applies opts over spec.md §6's documented defaults.
func NewEnqueueOptions(opts ...EnqueueOption) EnqueueOptions {
	o := EnqueueOptions{
		MaxAttempts: 5,
		Backoff:     DefaultBackoffPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ScheduleOption mutates a ScheduleSpec being built.
type ScheduleOption func(*ScheduleSpec)

func WithScheduleCron(expr string) ScheduleOption {
	return func(s *ScheduleSpec) { s.Cron = expr }
}

func WithScheduleInterval(d time.Duration) ScheduleOption {
	return func(s *ScheduleSpec) { s.Interval = d }
}

func WithScheduleRunAt(at time.Time) ScheduleOption {
	return func(s *ScheduleSpec) { s.RunAt = &at }
}

func WithSchedulePayload(p []byte) ScheduleOption {
	return func(s *ScheduleSpec) { s.Payload = p }
}

func WithScheduleLimit(n int) ScheduleOption {
	return func(s *ScheduleSpec) { s.Limit = n }
}

func WithScheduleEndDate(end time.Time) ScheduleOption {
	return func(s *ScheduleSpec) { s.EndDate = &end }
}

func WithScheduleImmediately() ScheduleOption {
	return func(s *ScheduleSpec) { s.Immediately = true }
}

// NewScheduleSpec builds a ScheduleSpec for key/queue, applying opts.
func NewScheduleSpec(key, queueName string, opts ...ScheduleOption) ScheduleSpec {
	s := ScheduleSpec{Key: key, Queue: queueName}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
