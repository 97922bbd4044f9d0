package redisqueue

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

// Scheduler stores each queue.Schedule as a JSON blob keyed by its
// schedule key, indexed by a ZSET scored on NextRunAt for an efficient
// due-scan, mirroring the ZSET-based due-job index the Client itself
// uses.
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
	sched := &queue.Schedule{
		Key: spec.Key, Queue: spec.Queue, Cron: spec.Cron, Interval: spec.Interval, RunAt: spec.RunAt,
		Payload: spec.Payload, Limit: spec.Limit, EndDate: spec.EndDate, Immediately: spec.Immediately,
		NextRunAt: next, Enabled: true, CreatedAt: now, UpdatedAt: now,
	}
	data, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	pipe := s.client.rdb.TxPipeline()
	pipe.Set(ctx, s.client.k.schedule(spec.Key), data, 0)
	pipe.ZAdd(ctx, s.client.k.scheduleSet(), redis.Z{Score: float64(next.UnixMilli()), Member: spec.Key})
	if _, err := pipe.Exec(ctx); err != nil {
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
	spec := queue.ScheduleSpec{Key: sched.Key, Queue: sched.Queue, Cron: sched.Cron, Interval: sched.Interval, RunAt: sched.RunAt}
	next, err := nextRunAt(spec, time.Now())
	if err != nil {
		return err
	}
	sched.NextRunAt = next
	sched.RunCount++
	sched.UpdatedAt = time.Now()
	data, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	pipe := s.client.rdb.TxPipeline()
	pipe.Set(ctx, s.client.k.schedule(sched.Key), data, 0)
	pipe.ZAdd(ctx, s.client.k.scheduleSet(), redis.Z{Score: float64(next.UnixMilli()), Member: sched.Key})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Scheduler) Remove(ctx context.Context, key string) error {
	pipe := s.client.rdb.TxPipeline()
	del := pipe.Del(ctx, s.client.k.schedule(key))
	pipe.ZRem(ctx, s.client.k.scheduleSet(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return queue.ErrScheduleNotFound
	}
	return nil
}

func (s *Scheduler) Get(ctx context.Context, key string) (*queue.Schedule, error) {
	data, err := s.client.rdb.Get(ctx, s.client.k.schedule(key)).Bytes()
	if err == redis.Nil {
		return nil, queue.ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	var sched queue.Schedule
	if err := json.Unmarshal(data, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (s *Scheduler) List(ctx context.Context) ([]*queue.Schedule, error) {
	keys, err := s.client.rdb.ZRange(ctx, s.client.k.scheduleSet(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*queue.Schedule, 0, len(keys))
	for _, key := range keys {
		sched, err := s.Get(ctx, key)
		if err != nil {
			continue
		}
		out = append(out, sched)
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
	now := time.Now()
	keys, err := s.client.rdb.ZRangeByScore(ctx, s.client.k.scheduleSet(), &redis.ZRangeBy{Min: "-inf", Max: formatScore(now)}).Result()
	if err != nil {
		return
	}
	for _, key := range keys {
		sched, err := s.Get(ctx, key)
		if err != nil {
			continue
		}
		if !sched.Enabled {
			continue
		}
		if sched.EndDate != nil && now.After(*sched.EndDate) {
			_ = s.disable(ctx, sched)
			continue
		}
		if sched.Limit > 0 && sched.RunCount >= sched.Limit {
			_ = s.disable(ctx, sched)
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
		sched.NextRunAt = next
		sched.RunCount++
		sched.UpdatedAt = now
		data, err := json.Marshal(sched)
		if err != nil {
			continue
		}
		pipe := s.client.rdb.TxPipeline()
		pipe.Set(ctx, s.client.k.schedule(sched.Key), data, 0)
		pipe.ZAdd(ctx, s.client.k.scheduleSet(), redis.Z{Score: float64(next.UnixMilli()), Member: sched.Key})
		_, _ = pipe.Exec(ctx)
	}
}

func (s *Scheduler) disable(ctx context.Context, sched *queue.Schedule) error {
	sched.Enabled = false
	sched.UpdatedAt = time.Now()
	data, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	pipe := s.client.rdb.TxPipeline()
	pipe.Set(ctx, s.client.k.schedule(sched.Key), data, 0)
	pipe.ZRem(ctx, s.client.k.scheduleSet(), sched.Key)
	_, err = pipe.Exec(ctx)
	return err
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
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
