package postgres

import (
	"context"
	"time"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

// Prune implements queue.Retainer: ages out completed/failed rows past
// their policy threshold, then trims each status back to
// MaxRowsPerStatus, oldest first, mirroring RomanQed-gqs's
// status/before-timestamp Cleaner filter extended with a row-count cap.
func (c *Client) Prune(ctx context.Context, policy queue.RetentionPolicy) (int64, error) {
	var total int64

	n, err := c.pruneAge(ctx, "completed", policy.CompletedAfter)
	if err != nil {
		return total, err
	}
	total += n

	n, err = c.pruneAge(ctx, "failed", policy.FailedAfter)
	if err != nil {
		return total, err
	}
	total += n

	for _, status := range []string{"completed", "failed"} {
		n, err = c.pruneExcess(ctx, status, policy.MaxRowsPerStatus)
		if err != nil {
			return total, err
		}
		total += n
	}

	return total, nil
}

func (c *Client) pruneAge(ctx context.Context, status string, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, nil
	}
	tag, err := c.pool.Exec(ctx, `
		DELETE FROM jobs WHERE status = $1 AND ended_at < now() - make_interval(secs => $2)
	`, status, age.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *Client) pruneExcess(ctx context.Context, status string, maxRows int) (int64, error) {
	if maxRows <= 0 {
		return 0, nil
	}
	tag, err := c.pool.Exec(ctx, `
		DELETE FROM jobs WHERE id IN (
			SELECT id FROM jobs WHERE status = $1
			ORDER BY ended_at DESC
			OFFSET $2
		)
	`, status, maxRows)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
