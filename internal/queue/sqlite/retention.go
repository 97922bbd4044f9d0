package sqlite

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

// Prune implements queue.Retainer, the same dual-age/row-cap sweep as
// the postgres driver, expressed with bun's query builder instead of
// raw SQL.
func (c *Client) Prune(ctx context.Context, policy queue.RetentionPolicy) (int64, error) {
	var total int64

	n, err := c.pruneAge(ctx, queue.StatusCompleted.String(), policy.CompletedAfter)
	if err != nil {
		return total, err
	}
	total += n

	n, err = c.pruneAge(ctx, queue.StatusFailed.String(), policy.FailedAfter)
	if err != nil {
		return total, err
	}
	total += n

	for _, status := range []string{queue.StatusCompleted.String(), queue.StatusFailed.String()} {
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
	cutoff := time.Now().Add(-age)
	res, err := c.db.NewDelete().Model((*jobModel)(nil)).
		Where("status = ?", status).
		Where("ended_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// pruneExcess trims a status back to maxRows, oldest-ended-first. bun's
// DELETE ... WHERE id IN (subquery) mirrors the postgres driver's
// OFFSET-based excess sweep since SQLite has no multi-table DELETE.
func (c *Client) pruneExcess(ctx context.Context, status string, maxRows int) (int64, error) {
	if maxRows <= 0 {
		return 0, nil
	}
	var ids []string
	err := c.db.NewSelect().Model((*jobModel)(nil)).
		Column("id").
		Where("status = ?", status).
		OrderExpr("ended_at DESC").
		Offset(maxRows).
		Scan(ctx, &ids)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := c.db.NewDelete().Model((*jobModel)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
