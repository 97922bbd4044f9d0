package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

// Scheduler mirrors postgres.Scheduler's promote-due-schedules loop
// against the bun-based schema.
type Scheduler struct {
	client       *Client
	enqueue      queue.Client
	tickInterval time.Duration

	stopOnce sync.Once
	stopping chan struct{}
	done     chan struct{}
}

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
	m := &scheduleModel{
		Key: spec.Key, Queue: spec.Queue, Cron: spec.Cron, IntervalMs: spec.Interval.Milliseconds(),
		RunAt: spec.RunAt, Payload: spec.Payload, JobLimit: spec.Limit, EndDate: spec.EndDate,
		Immediately: spec.Immediately, NextRunAt: next, Enabled: true, CreatedAt: now, UpdatedAt: now,
	}
	_, err = s.client.db.NewInsert().Model(m).
		On("CONFLICT (key) DO UPDATE").
		Set("queue = EXCLUDED.queue").
		Set("cron = EXCLUDED.cron").
		Set("interval_ms = EXCLUDED.interval_ms").
		Set("run_at = EXCLUDED.run_at").
		Set("payload = EXCLUDED.payload").
		Set("job_limit = EXCLUDED.job_limit").
		Set("end_date = EXCLUDED.end_date").
		Set("immediately = EXCLUDED.immediately").
		Set("next_run_at = EXCLUDED.next_run_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
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
	_, err = s.client.db.NewUpdate().Model((*scheduleModel)(nil)).
		Set("next_run_at = ?", next).
		Set("run_count = run_count + 1").
		Set("updated_at = ?", time.Now()).
		Where("key = ?", key).
		Exec(ctx)
	return err
}

func (s *Scheduler) Remove(ctx context.Context, key string) error {
	res, err := s.client.db.NewDelete().Model((*scheduleModel)(nil)).Where("key = ?", key).Exec(ctx)
	if err != nil {
		return err
	}
	if !affected(res) {
		return queue.ErrScheduleNotFound
	}
	return nil
}

func (s *Scheduler) Get(ctx context.Context, key string) (*queue.Schedule, error) {
	var m scheduleModel
	err := s.client.db.NewSelect().Model(&m).Where("key = ?", key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return toSchedule(&m), nil
}

func (s *Scheduler) List(ctx context.Context) ([]*queue.Schedule, error) {
	var ms []scheduleModel
	if err := s.client.db.NewSelect().Model(&ms).Order("key ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*queue.Schedule, 0, len(ms))
	for i := range ms {
		out = append(out, toSchedule(&ms[i]))
	}
	return out, nil
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
		_, _ = s.client.db.NewUpdate().Model((*scheduleModel)(nil)).
			Set("next_run_at = ?", next).
			Set("run_count = run_count + 1").
			Set("updated_at = ?", now).
			Where("key = ?", sched.Key).
			Exec(ctx)
	}
}

func (s *Scheduler) disable(ctx context.Context, key string) error {
	_, err := s.client.db.NewUpdate().Model((*scheduleModel)(nil)).
		Set("enabled = false").
		Set("updated_at = ?", time.Now()).
		Where("key = ?", key).
		Exec(ctx)
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

func toSchedule(m *scheduleModel) *queue.Schedule {
	return &queue.Schedule{
		Key: m.Key, Queue: m.Queue, Cron: m.Cron, Interval: time.Duration(m.IntervalMs) * time.Millisecond,
		RunAt: m.RunAt, Payload: m.Payload, Limit: m.JobLimit, EndDate: m.EndDate, Immediately: m.Immediately,
		NextRunAt: m.NextRunAt, RunCount: m.RunCount, Enabled: m.Enabled, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}
