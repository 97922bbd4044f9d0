package redisqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

// Client implements queue.Client against Redis. Unlike the SQL
// drivers, the full Job is stored as one JSON blob per key; per-queue
// ZSETs/sets index it by state, following the storage shape of
// dmitrymomot-gokit's Storage.Put/Get/Update.
type Client struct {
	rdb      redis.UniversalClient
	k        keys
	notifier queue.Notifier
	events   *queue.EventBus
}

// New wraps an already-connected redis.UniversalClient. prefix scopes
// all keys this Client touches; pass "" for the default.
func New(rdb redis.UniversalClient, prefix string, notifier queue.Notifier) *Client {
	if notifier == nil {
		notifier = queue.NoopNotifier{}
	}
	return &Client{rdb: rdb, k: newKeys(prefix), notifier: notifier, events: queue.NewEventBus()}
}

// Events returns the bus stage mutations are published to.
func (c *Client) Events() *queue.EventBus { return c.events }

func (c *Client) Close() error {
	if closer, ok := c.rdb.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (c *Client) Enqueue(ctx context.Context, queueName string, payload []byte, opts queue.EnqueueOptions) (string, error) {
	now := time.Now()
	scheduledFor := opts.ScheduledFor(now)
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	backoff := opts.Backoff
	if backoff.Base == 0 {
		backoff = queue.DefaultBackoffPolicy()
	}

	if opts.IdempotencyKey != "" {
		if existingID, err := c.rdb.Get(ctx, c.k.idempotency(queueName, opts.IdempotencyKey)).Result(); err == nil {
			existing, getErr := c.GetJob(ctx, queueName, existingID)
			if getErr != nil {
				return "", getErr
			}
			if existing == nil {
				return "", queue.ErrNotFound
			}
			if opts.Replace == queue.ReplaceIfNotActive {
				if existing.Status == queue.StatusProcessing {
					return "", &queue.AlreadyActiveError{Queue: queueName, Key: opts.IdempotencyKey, ID: existing.ID}
				}
				return c.replace(ctx, existing.ID, queueName, payload, opts, now, scheduledFor, maxAttempts, backoff)
			}
			return existing.ID, nil
		} else if err != redis.Nil {
			return "", err
		}
	}

	job := &queue.Job{
		ID: queue.NewJobID(), Queue: queueName, IdempotencyKey: opts.IdempotencyKey, Payload: payload,
		Status: queue.StatusPending, Priority: opts.Priority, MaxAttempts: maxAttempts,
		CreatedAt: now, UpdatedAt: now, ScheduledFor: scheduledFor, Backoff: backoff,
		Stages: initialStages(opts.InitialStages), Metadata: opts.Metadata, Artifacts: map[string]any{},
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.k.job(job.ID), data, 0)
	pipe.ZAdd(ctx, c.k.duePending(queueName), redis.Z{Score: float64(scheduledFor.UnixMilli()), Member: job.ID})
	pipe.SAdd(ctx, c.k.queueRegistry(), queueName)
	if opts.IdempotencyKey != "" {
		pipe.Set(ctx, c.k.idempotency(queueName, opts.IdempotencyKey), job.ID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}

	if scheduledFor.After(now) {
		c.notifier.ArmAt(queueName, scheduledFor)
	} else {
		c.notifier.Notify(queueName)
	}
	return job.ID, nil
}

func (c *Client) replace(ctx context.Context, id, queueName string, payload []byte, opts queue.EnqueueOptions, now, scheduledFor time.Time, maxAttempts int, backoff queue.BackoffPolicy) (string, error) {
	job := &queue.Job{
		ID: id, Queue: queueName, IdempotencyKey: opts.IdempotencyKey, Payload: payload,
		Status: queue.StatusPending, Priority: opts.Priority, MaxAttempts: maxAttempts,
		CreatedAt: now, UpdatedAt: now, ScheduledFor: scheduledFor, Backoff: backoff,
		Stages: initialStages(opts.InitialStages), Metadata: opts.Metadata, Artifacts: map[string]any{},
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.k.job(id), data, 0)
	pipe.ZAdd(ctx, c.k.duePending(queueName), redis.Z{Score: float64(scheduledFor.UnixMilli()), Member: id})
	pipe.SRem(ctx, c.k.processing(queueName), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	if scheduledFor.After(now) {
		c.notifier.ArmAt(queueName, scheduledFor)
	} else {
		c.notifier.Notify(queueName)
	}
	return id, nil
}

func initialStages(names []string) []queue.Stage {
	if len(names) == 0 {
		return nil
	}
	stages := make([]queue.Stage, len(names))
	for i, n := range names {
		stages[i] = queue.Stage{Name: n, Status: queue.StagePending}
	}
	return stages
}

func (c *Client) loadJob(ctx context.Context, id string) (*queue.Job, error) {
	data, err := c.rdb.Get(ctx, c.k.job(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job queue.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) saveJob(ctx context.Context, job *queue.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.k.job(job.ID), data, 0).Err()
}

func (c *Client) Cancel(ctx context.Context, queueName, idOrKey string) (bool, error) {
	id := idOrKey
	job, err := c.loadJob(ctx, id)
	if err != nil {
		return false, err
	}
	if job == nil && queueName != "" {
		id, err = c.rdb.Get(ctx, c.k.idempotency(queueName, idOrKey)).Result()
		if err != nil && err != redis.Nil {
			return false, err
		}
		if id != "" {
			job, err = c.loadJob(ctx, id)
			if err != nil {
				return false, err
			}
		}
	}
	if job == nil || (job.Status != queue.StatusPending && job.Status != queue.StatusRetryPending) {
		return false, nil
	}
	job.Status = queue.StatusFailed
	job.LastError = "canceled"
	now := time.Now()
	job.EndedAt = &now
	job.UpdatedAt = now
	pipe := c.rdb.TxPipeline()
	data, _ := json.Marshal(job)
	pipe.Set(ctx, c.k.job(job.ID), data, 0)
	pipe.ZRem(ctx, c.k.duePending(job.Queue), job.ID)
	pipe.ZRem(ctx, c.k.dueRetry(job.Queue), job.ID)
	pipe.SAdd(ctx, c.k.failed(job.Queue), job.ID)
	_, err = pipe.Exec(ctx)
	return err == nil, err
}

func (c *Client) Retry(ctx context.Context, queueName, idOrKey string) (bool, error) {
	id := idOrKey
	job, err := c.loadJob(ctx, id)
	if err != nil {
		return false, err
	}
	if job == nil && queueName != "" {
		id, err = c.rdb.Get(ctx, c.k.idempotency(queueName, idOrKey)).Result()
		if err != nil && err != redis.Nil {
			return false, err
		}
		if id != "" {
			job, err = c.loadJob(ctx, id)
			if err != nil {
				return false, err
			}
		}
	}
	if job == nil || job.Status != queue.StatusFailed {
		return false, nil
	}
	now := time.Now()
	job.Status = queue.StatusPending
	job.ScheduledFor = now
	job.UpdatedAt = now
	job.LastError = ""
	pipe := c.rdb.TxPipeline()
	data, _ := json.Marshal(job)
	pipe.Set(ctx, c.k.job(job.ID), data, 0)
	pipe.SRem(ctx, c.k.failed(job.Queue), job.ID)
	pipe.ZAdd(ctx, c.k.duePending(job.Queue), redis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	c.notifier.Notify(job.Queue)
	return true, nil
}

func (c *Client) GetJob(ctx context.Context, queueName, idOrKey string) (*queue.Job, error) {
	job, err := c.loadJob(ctx, idOrKey)
	if err != nil {
		return nil, err
	}
	if job != nil || queueName == "" {
		return job, nil
	}
	id, err := c.rdb.Get(ctx, c.k.idempotency(queueName, idOrKey)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.loadJob(ctx, id)
}

// Stats counts the due, processing, completed and failed keys of
// queueName. Redis keys are per queue, so queueName "" reads the keys
// of a queue named "" and does not aggregate across queues.
func (c *Client) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	var stats queue.Stats
	var err error
	if stats.Pending, err = c.rdb.ZCard(ctx, c.k.duePending(queueName)).Result(); err != nil {
		return stats, err
	}
	if stats.RetryPending, err = c.rdb.ZCard(ctx, c.k.dueRetry(queueName)).Result(); err != nil {
		return stats, err
	}
	if stats.Processing, err = c.rdb.SCard(ctx, c.k.processing(queueName)).Result(); err != nil {
		return stats, err
	}
	if stats.Completed, err = c.rdb.SCard(ctx, c.k.completed(queueName)).Result(); err != nil {
		return stats, err
	}
	if stats.Failed, err = c.rdb.SCard(ctx, c.k.failed(queueName)).Result(); err != nil {
		return stats, err
	}
	return stats, nil
}
