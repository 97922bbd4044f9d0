package redisqueue

import (
	"context"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

// Prune implements queue.Retainer. Redis has no cross-queue jobs table
// to DELETE against directly, so this walks the queue registry built up
// by Enqueue and runs the age/row-cap sweep against each queue's
// completed/failed sets in turn, mirroring the SQL drivers' two-phase
// age-then-excess pass per status.
func (c *Client) Prune(ctx context.Context, policy queue.RetentionPolicy) (int64, error) {
	queues, err := c.rdb.SMembers(ctx, c.k.queueRegistry()).Result()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, q := range queues {
		n, err := c.pruneSet(ctx, c.k.completed(q), policy.CompletedAfter, policy.MaxRowsPerStatus)
		if err != nil {
			return total, err
		}
		total += n

		n, err = c.pruneSet(ctx, c.k.failed(q), policy.FailedAfter, policy.MaxRowsPerStatus)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// pruneSet loads every job referenced by setKey, deletes the ones older
// than maxAge (when set), then trims whatever remains back to maxRows
// by EndedAt, oldest first.
func (c *Client) pruneSet(ctx context.Context, setKey string, maxAge time.Duration, maxRows int) (int64, error) {
	ids, err := c.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	type candidate struct {
		id      string
		endedAt time.Time
	}
	var live []candidate
	var expired []string
	cutoff := time.Now().Add(-maxAge)

	for _, id := range ids {
		job, err := c.loadJob(ctx, id)
		if err != nil {
			continue
		}
		if job == nil {
			expired = append(expired, id)
			continue
		}
		endedAt := job.UpdatedAt
		if job.EndedAt != nil {
			endedAt = *job.EndedAt
		}
		if maxAge > 0 && endedAt.Before(cutoff) {
			expired = append(expired, id)
			continue
		}
		live = append(live, candidate{id: id, endedAt: endedAt})
	}

	if maxRows > 0 && len(live) > maxRows {
		sort.Slice(live, func(i, j int) bool { return live[i].endedAt.Before(live[j].endedAt) })
		excess := len(live) - maxRows
		for _, cand := range live[:excess] {
			expired = append(expired, cand.id)
		}
	}

	if len(expired) == 0 {
		return 0, nil
	}

	pipe := c.rdb.TxPipeline()
	for _, id := range expired {
		pipe.Del(ctx, c.k.job(id))
		pipe.SRem(ctx, setKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, err
	}
	return int64(len(expired)), nil
}
