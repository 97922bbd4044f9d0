package queue

import (
	"context"
	"sync"
	"time"
)

// RetentionPolicy bounds how long terminal jobs (completed/failed) are
// kept, per spec.md §6's "retention: complete-after-age, failed-after-
// age, max-rows-per-status".
type RetentionPolicy struct {
	CompletedAfter   time.Duration
	FailedAfter      time.Duration
	MaxRowsPerStatus int
	Interval         time.Duration
}

// DefaultRetentionPolicy keeps completed jobs for 24h, failed jobs for
// 7 days, caps each status at 100k rows, and sweeps hourly.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		CompletedAfter:   24 * time.Hour,
		FailedAfter:      7 * 24 * time.Hour,
		MaxRowsPerStatus: 100_000,
		Interval:         time.Hour,
	}
}

// Retainer prunes terminal jobs according to policy, returning the
// number removed. Each driver's Client implements this alongside
// Client and RemoteStore.
type Retainer interface {
	Prune(ctx context.Context, policy RetentionPolicy) (int64, error)
}

// RetentionWorker periodically invokes a Retainer's Prune, generalizing
// RomanQed-gqs's CleanWorker (single status/age filter, internal timer
// task) to the richer dual-age/row-cap RetentionPolicy every driver
// implements the same way.
type RetentionWorker struct {
	retainer Retainer
	policy   RetentionPolicy
	log      func(msg string, fields ...any)

	stopOnce sync.Once
	stopping chan struct{}
	done     chan struct{}
}

// NewRetentionWorker builds a RetentionWorker. logFn may be nil.
func NewRetentionWorker(retainer Retainer, policy RetentionPolicy, logFn func(string, ...any)) *RetentionWorker {
	if logFn == nil {
		logFn = func(string, ...any) {}
	}
	if policy.Interval <= 0 {
		policy.Interval = DefaultRetentionPolicy().Interval
	}
	return &RetentionWorker{
		retainer: retainer,
		policy:   policy,
		log:      logFn,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *RetentionWorker) Start(ctx context.Context) error {
	go w.loop(ctx)
	return nil
}

func (w *RetentionWorker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopping) })
	select {
	case <-w.done:
	case <-ctx.Done():
	}
	return nil
}

func (w *RetentionWorker) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.policy.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopping:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.prune(ctx)
		}
	}
}

func (w *RetentionWorker) prune(ctx context.Context) {
	n, err := w.retainer.Prune(ctx, w.policy)
	if err != nil {
		w.log("retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		w.log("retention sweep pruned jobs", "count", n)
	}
}
