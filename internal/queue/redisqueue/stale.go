package redisqueue

import (
	"context"
	"time"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

// RecoverStaleJobs scans the processing set for queueName and moves
// back to the retry-due set any job whose lease has expired, as a
// crashed-worker recovery path: Redis's processing set does not expire
// entries on its own the way a fresh claim query re-selects an
// expired-lease row in the SQL drivers, so this sweep must run
// periodically, generalizing dmitrymomot-gokit's CleanStaleJobs loop to
// this package's richer Job model and its separate pending/retry due
// sets.
func (c *Client) RecoverStaleJobs(ctx context.Context, queueName string) (int, error) {
	ids, err := c.rdb.SMembers(ctx, c.k.processing(queueName)).Result()
	if err != nil {
		return 0, err
	}
	now := time.Now()
	recovered := 0
	for _, id := range ids {
		job, err := c.loadJob(ctx, id)
		if err != nil {
			continue
		}
		if job == nil {
			c.rdb.SRem(ctx, c.k.processing(queueName), id)
			continue
		}
		if job.ExpiresAt == nil || job.ExpiresAt.After(now) {
			continue
		}
		job.Status = queue.StatusRetryPending
		job.LockedBy = ""
		job.LockedAt = nil
		job.ExpiresAt = nil
		job.UpdatedAt = now
		job.LastError = "lease expired"
		data, err := marshal(job)
		if err != nil {
			continue
		}
		pipe := c.rdb.TxPipeline()
		pipe.Set(ctx, c.k.job(id), data, 0)
		pipe.SRem(ctx, c.k.processing(queueName), id)
		pipe.ZAdd(ctx, c.k.dueRetry(queueName), zMember(now, id))
		if _, err := pipe.Exec(ctx); err == nil {
			recovered++
		}
	}
	return recovered, nil
}

// StaleRecoverer runs RecoverStaleJobs on an interval until ctx is
// canceled. A worker process typically starts one per queue alongside
// its consumer goroutines.
func StaleRecoverer(ctx context.Context, client *Client, queueName string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = client.RecoverStaleJobs(ctx, queueName)
		}
	}
}
