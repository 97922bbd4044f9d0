package redisqueue

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

// ClaimOne implements queue.RemoteStore, duplicating Worker.claim's
// pick-then-claimScript shape for an arbitrary workerID/lease pair
// rather than an in-process Worker's own fields.
func (c *Client) ClaimOne(ctx context.Context, queueName, workerID string, lease time.Duration) (*queue.Job, error) {
	now := time.Now()
	candidateID, candidateJob, retry, err := c.pickCandidateFor(ctx, queueName, now)
	if err != nil || candidateID == "" {
		return nil, err
	}

	dueSet := c.k.duePending(queueName)
	if retry {
		dueSet = c.k.dueRetry(queueName)
	}
	won, err := claimScript.Run(ctx, c.rdb, []string{dueSet, c.k.processing(queueName)}, candidateID).Int()
	if err != nil || won != 1 {
		return nil, err
	}

	candidateJob.Status = queue.StatusProcessing
	candidateJob.Attempts++
	candidateJob.StartedAt = &now
	candidateJob.LockedBy = workerID
	candidateJob.LockedAt = &now
	expires := now.Add(lease)
	candidateJob.ExpiresAt = &expires
	candidateJob.UpdatedAt = now
	if err := c.saveJob(ctx, candidateJob); err != nil {
		return nil, err
	}
	return candidateJob, nil
}

func (c *Client) pickCandidateFor(ctx context.Context, queueName string, now time.Time) (string, *queue.Job, bool, error) {
	nowScore := strconv.FormatFloat(float64(now.UnixMilli()), 'f', -1, 64)
	pendingIDs, err := c.rdb.ZRangeByScore(ctx, c.k.duePending(queueName), &redis.ZRangeBy{Min: "-inf", Max: nowScore, Count: claimBatch}).Result()
	if err != nil {
		return "", nil, false, err
	}
	retryIDs, err := c.rdb.ZRangeByScore(ctx, c.k.dueRetry(queueName), &redis.ZRangeBy{Min: "-inf", Max: nowScore, Count: claimBatch}).Result()
	if err != nil {
		return "", nil, false, err
	}

	type candidate struct {
		id    string
		job   *queue.Job
		retry bool
	}
	var candidates []candidate
	for _, id := range pendingIDs {
		job, err := c.loadJob(ctx, id)
		if err == nil && job != nil {
			candidates = append(candidates, candidate{id: id, job: job})
		}
	}
	for _, id := range retryIDs {
		job, err := c.loadJob(ctx, id)
		if err == nil && job != nil {
			candidates = append(candidates, candidate{id: id, job: job, retry: true})
		}
	}
	if len(candidates) == 0 {
		return "", nil, false, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].job.Priority != candidates[j].job.Priority {
			return candidates[i].job.Priority > candidates[j].job.Priority
		}
		return candidates[i].job.ScheduledFor.Before(candidates[j].job.ScheduledFor)
	})
	best := candidates[0]
	return best.id, best.job, best.retry, nil
}

// Heartbeat implements queue.RemoteStore.
func (c *Client) Heartbeat(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	return c.ExtendLease(ctx, jobID, workerID, lease)
}

// Complete implements queue.RemoteStore.
func (c *Client) Complete(ctx context.Context, jobID, workerID string, artifacts map[string]any) error {
	job, err := c.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil || job.LockedBy != workerID || job.Status != queue.StatusProcessing {
		return queue.ErrLeaseLost
	}
	if len(artifacts) > 0 {
		if job.Artifacts == nil {
			job.Artifacts = map[string]any{}
		}
		for k, v := range artifacts {
			job.Artifacts[k] = v
		}
	}
	return c.completeLifecycle(ctx, job, workerID)
}

// Fail implements queue.RemoteStore.
func (c *Client) Fail(ctx context.Context, jobID, workerID, lastError string, retryAfter *time.Duration) error {
	job, err := c.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil || job.LockedBy != workerID || job.Status != queue.StatusProcessing {
		return queue.ErrLeaseLost
	}
	if retryAfter != nil {
		return c.rescheduleLifecycle(ctx, job, workerID, time.Now().Add(*retryAfter), false)
	}
	if job.Attempts >= job.MaxAttempts {
		return c.failLifecycle(ctx, job, workerID, lastError)
	}
	delay := queue.Backoff(job.Backoff, job.Attempts)
	job.LastError = lastError
	return c.rescheduleLifecycle(ctx, job, workerID, time.Now().Add(delay), true)
}

// Reschedule implements queue.RemoteStore.
func (c *Client) Reschedule(ctx context.Context, jobID, workerID string, delay time.Duration) error {
	job, err := c.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil || job.LockedBy != workerID || job.Status != queue.StatusProcessing {
		return queue.ErrLeaseLost
	}
	if err := c.rescheduleLifecycle(ctx, job, workerID, time.Now().Add(delay), false); err != nil {
		return err
	}
	if delay > 0 {
		c.notifier.ArmAt(job.Queue, time.Now().Add(delay))
	} else {
		c.notifier.Notify(job.Queue)
	}
	return nil
}
