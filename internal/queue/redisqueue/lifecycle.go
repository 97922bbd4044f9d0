package redisqueue

import (
	"context"
	"time"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

// checkLease reloads job from the store and confirms workerID still
// holds its processing lease, guarding against StaleRecoverer having
// already reclaimed it out from under a worker that is slow to finish.
func (c *Client) checkLease(ctx context.Context, jobID, workerID string) error {
	current, err := c.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if current == nil || current.LockedBy != workerID || current.Status != queue.StatusProcessing {
		return queue.ErrLeaseLost
	}
	return nil
}

func (c *Client) completeLifecycle(ctx context.Context, job *queue.Job, workerID string) error {
	if err := c.checkLease(ctx, job.ID, workerID); err != nil {
		return err
	}
	now := time.Now()
	job.Status = queue.StatusCompleted
	job.EndedAt = &now
	job.UpdatedAt = now
	job.OverallProgress = 100
	pipe := c.rdb.TxPipeline()
	data, err := marshal(job)
	if err != nil {
		return err
	}
	pipe.Set(ctx, c.k.job(job.ID), data, 0)
	pipe.SRem(ctx, c.k.processing(job.Queue), job.ID)
	pipe.SAdd(ctx, c.k.completed(job.Queue), job.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *Client) failLifecycle(ctx context.Context, job *queue.Job, workerID, lastError string) error {
	if err := c.checkLease(ctx, job.ID, workerID); err != nil {
		return err
	}
	now := time.Now()
	job.Status = queue.StatusFailed
	job.EndedAt = &now
	job.UpdatedAt = now
	job.LastError = lastError
	pipe := c.rdb.TxPipeline()
	data, err := marshal(job)
	if err != nil {
		return err
	}
	pipe.Set(ctx, c.k.job(job.ID), data, 0)
	pipe.SRem(ctx, c.k.processing(job.Queue), job.ID)
	pipe.SAdd(ctx, c.k.failed(job.Queue), job.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// rescheduleLifecycle releases job back to a due set. consumedAttempt
// mirrors the SQL drivers' distinction: a rate-limited job (false)
// returns to the plain pending set without having consumed an attempt,
// while an ordinary retry (true) returns to the retry set.
func (c *Client) rescheduleLifecycle(ctx context.Context, job *queue.Job, workerID string, runAt time.Time, consumedAttempt bool) error {
	if err := c.checkLease(ctx, job.ID, workerID); err != nil {
		return err
	}
	now := time.Now()
	job.ScheduledFor = runAt
	job.LockedBy = ""
	job.LockedAt = nil
	job.ExpiresAt = nil
	job.UpdatedAt = now
	destSet := c.k.dueRetry(job.Queue)
	if consumedAttempt {
		job.Status = queue.StatusRetryPending
	} else {
		job.Status = queue.StatusPending
		job.Attempts--
		if job.Attempts < 0 {
			job.Attempts = 0
		}
		destSet = c.k.duePending(job.Queue)
	}
	pipe := c.rdb.TxPipeline()
	data, err := marshal(job)
	if err != nil {
		return err
	}
	pipe.Set(ctx, c.k.job(job.ID), data, 0)
	pipe.SRem(ctx, c.k.processing(job.Queue), job.ID)
	pipe.ZAdd(ctx, destSet, zMember(runAt, job.ID))
	_, err = pipe.Exec(ctx)
	return err
}

// ExtendLease implements queue.ContextStore.
func (c *Client) ExtendLease(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	job, err := c.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil || job.LockedBy != workerID || job.Status != queue.StatusProcessing {
		return queue.ErrLeaseLost
	}
	now := time.Now()
	expires := now.Add(lease)
	job.LockedAt = &now
	job.ExpiresAt = &expires
	job.UpdatedAt = now
	return c.saveJob(ctx, job)
}

// SaveProgress implements queue.ContextStore.
func (c *Client) SaveProgress(ctx context.Context, jobID string, stages []queue.Stage, overall float64) error {
	job, err := c.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return queue.ErrNotFound
	}
	job.Stages = stages
	job.OverallProgress = overall
	job.UpdatedAt = time.Now()
	return c.saveJob(ctx, job)
}
