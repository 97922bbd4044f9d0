package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

// Scheduler manages schedules rows and periodically promotes due ones
// into jobs, generalizing the teacher's scheduler()/moveScheduledJobs
// ticker loop (originally hardcoded to a single "scheduled jobs"
// table) into the general recurring-schedule model of spec.md §4.3.
type Scheduler struct {
	client       *Client
	enqueue      queue.Client
	tickInterval time.Duration

	stopOnce sync.Once
	stopping chan struct{}
	done     chan struct{}
}

// NewScheduler builds a Scheduler. enqueueClient is used to insert the
// jobs produced by due schedules.
func NewScheduler(client *Client, enqueueClient queue.Client) *Scheduler {
	return &Scheduler{
		client:       client,
		enqueue:      enqueueClient,
		tickInterval: 10 * time.Second,
		stopping:     make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (s *Scheduler) Upsert(ctx context.Context, spec queue.ScheduleSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	now := time.Now()
	next, err := nextRunAt(spec, now)
	if err != nil {
		return err
	}
	_, err = s.client.pool.Exec(ctx, `
		INSERT INTO schedules (key, queue, cron, interval_ms, run_at, payload, job_limit, end_date, immediately, next_run_at, run_count, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, true, $11, $11)
		ON CONFLICT (key) DO UPDATE SET
			queue = EXCLUDED.queue, cron = EXCLUDED.cron, interval_ms = EXCLUDED.interval_ms,
			run_at = EXCLUDED.run_at, payload = EXCLUDED.payload, job_limit = EXCLUDED.job_limit,
			end_date = EXCLUDED.end_date, immediately = EXCLUDED.immediately,
			next_run_at = EXCLUDED.next_run_at, updated_at = EXCLUDED.updated_at
	`, spec.Key, spec.Queue, spec.Cron, spec.Interval.Milliseconds(), spec.RunAt, spec.Payload,
		spec.Limit, spec.EndDate, spec.Immediately, next, now)
	if err != nil {
		return err
	}
	if spec.Immediately {
		return s.fireNow(ctx, spec.Key)
	}
	return nil
}

// fireNow enqueues one job for key immediately instead of waiting for
// the next scheduler tick, then advances next_run_at/run_count as if
// the loop had just promoted it, so the background loop does not also
// fire it on its next pass.
func (s *Scheduler) fireNow(ctx context.Context, key string) error {
	sched, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if _, err := s.enqueue.Enqueue(ctx, sched.Queue, sched.Payload, queue.NewEnqueueOptions()); err != nil {
		return err
	}
	next, err := nextRunAt(queue.ScheduleSpec{Key: sched.Key, Queue: sched.Queue, Cron: sched.Cron, Interval: sched.Interval, RunAt: sched.RunAt}, time.Now())
	if err != nil {
		return err
	}
	_, err = s.client.pool.Exec(ctx, `
		UPDATE schedules SET next_run_at = $2, run_count = run_count + 1, updated_at = $3
		WHERE key = $1
	`, key, next, time.Now())
	return err
}

func (s *Scheduler) Remove(ctx context.Context, key string) error {
	tag, err := s.client.pool.Exec(ctx, `DELETE FROM schedules WHERE key = $1`, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrScheduleNotFound
	}
	return nil
}

func (s *Scheduler) Get(ctx context.Context, key string) (*queue.Schedule, error) {
	row := s.client.pool.QueryRow(ctx, `
		SELECT key, queue, cron, interval_ms, run_at, payload, job_limit, end_date, immediately,
			next_run_at, run_count, enabled, created_at, updated_at
		FROM schedules WHERE key = $1
	`, key)
	sched, err := scanSchedule(row)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, queue.ErrScheduleNotFound
	}
	return sched, nil
}

func (s *Scheduler) List(ctx context.Context) ([]*queue.Schedule, error) {
	rows, err := s.client.pool.Query(ctx, `
		SELECT key, queue, cron, interval_ms, run_at, payload, job_limit, end_date, immediately,
			next_run_at, run_count, enabled, created_at, updated_at
		FROM schedules ORDER BY key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*queue.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.loop(ctx)
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopping) })
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopping:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.promoteDue(ctx)
		}
	}
}

func (s *Scheduler) promoteDue(ctx context.Context) {
	due, err := s.List(ctx)
	if err != nil {
		return
	}
	now := time.Now()
	for _, sched := range due {
		if !sched.Enabled || sched.NextRunAt.After(now) {
			continue
		}
		if sched.EndDate != nil && now.After(*sched.EndDate) {
			_ = s.disable(ctx, sched.Key)
			continue
		}
		if sched.Limit > 0 && sched.RunCount >= sched.Limit {
			_ = s.disable(ctx, sched.Key)
			continue
		}
		opts := queue.NewEnqueueOptions()
		if _, err := s.enqueue.Enqueue(ctx, sched.Queue, sched.Payload, opts); err != nil {
			continue
		}
		spec := queue.ScheduleSpec{Key: sched.Key, Queue: sched.Queue, Cron: sched.Cron, Interval: sched.Interval, RunAt: sched.RunAt}
		next, err := nextRunAt(spec, now)
		if err != nil {
			continue
		}
		_, _ = s.client.pool.Exec(ctx, `
			UPDATE schedules SET next_run_at = $2, run_count = run_count + 1, updated_at = $3
			WHERE key = $1
		`, sched.Key, next, now)
	}
}

func (s *Scheduler) disable(ctx context.Context, key string) error {
	_, err := s.client.pool.Exec(ctx, `UPDATE schedules SET enabled = false, updated_at = now() WHERE key = $1`, key)
	return err
}

func nextRunAt(spec queue.ScheduleSpec, now time.Time) (time.Time, error) {
	if spec.RunAt != nil {
		return *spec.RunAt, nil
	}
	if spec.Interval > 0 {
		if spec.Immediately {
			return now, nil
		}
		return now.Add(spec.Interval), nil
	}
	sched, err := queue.ParseCron(spec.Cron)
	if err != nil {
		return time.Time{}, err
	}
	if spec.Immediately {
		return now, nil
	}
	return sched.Next(now), nil
}

func scanSchedule(row rowScanner) (*queue.Schedule, error) {
	var sc queue.Schedule
	var intervalMs int64
	err := row.Scan(
		&sc.Key, &sc.Queue, &sc.Cron, &intervalMs, &sc.RunAt, &sc.Payload, &sc.Limit, &sc.EndDate,
		&sc.Immediately, &sc.NextRunAt, &sc.RunCount, &sc.Enabled, &sc.CreatedAt, &sc.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	sc.Interval = time.Duration(intervalMs) * time.Millisecond
	return &sc, nil
}
