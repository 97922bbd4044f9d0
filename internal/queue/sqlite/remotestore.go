package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
	"github.com/BillyRonksGlobal/queuecore/internal/queue/sqldriver"
)

// ClaimOne implements queue.RemoteStore, reusing Worker.claim's
// select-then-guarded-UPDATE shape keyed on an arbitrary workerID/lease
// pair, so the HTTP transport server can drive a claim without owning a
// Worker goroutine. Eligibility mirrors Worker.claim: due pending/
// retry_pending jobs, plus processing jobs whose lease expired with
// attempts remaining.
func (c *Client) ClaimOne(ctx context.Context, queueName, workerID string, lease time.Duration) (*queue.Job, error) {
	var candidate jobModel
	now := time.Now()
	err := c.db.NewSelect().Model(&candidate).
		Column("id", "status", "locked_by").
		Where("queue = ?", queueName).
		Where("(status IN (?, ?) AND scheduled_for <= ?) OR (status = ? AND expires_at < ? AND attempts < max_attempts)",
			queue.StatusPending.String(), queue.StatusRetryPending.String(), now,
			queue.StatusProcessing.String(), now).
		OrderExpr(sqldriver.ClaimOrder).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	expires := now.Add(lease)
	res, err := c.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", queue.StatusProcessing.String()).
		Set("attempts = attempts + 1").
		Set("started_at = ?", now).
		Set("locked_by = ?", workerID).
		Set("locked_at = ?", now).
		Set("expires_at = ?", expires).
		Set("updated_at = ?", now).
		Where("id = ?", candidate.ID).
		Where("status = ?", candidate.Status).
		Where("locked_by = ?", candidate.LockedBy).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if !affected(res) {
		return nil, nil
	}

	var m jobModel
	if err := c.db.NewSelect().Model(&m).Where("id = ?", candidate.ID).Scan(ctx); err != nil {
		return nil, err
	}
	return toJob(&m)
}

// Heartbeat implements queue.RemoteStore.
func (c *Client) Heartbeat(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	return c.ExtendLease(ctx, jobID, workerID, lease)
}

// Complete implements queue.RemoteStore.
func (c *Client) Complete(ctx context.Context, jobID, workerID string, artifacts map[string]any) error {
	q := c.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", queue.StatusCompleted.String()).
		Set("ended_at = ?", time.Now()).
		Set("updated_at = ?", time.Now()).
		Set("overall_progress = 100").
		Where("id = ?", jobID).
		Where("locked_by = ?", workerID).
		Where("status = ?", queue.StatusProcessing.String())
	if len(artifacts) > 0 {
		artifactsJSON, err := sqldriver.MarshalMap(artifacts)
		if err != nil {
			return err
		}
		q = q.Set("artifacts = ?", artifactsJSON)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	if !affected(res) {
		return queue.ErrLeaseLost
	}
	return nil
}

// Fail implements queue.RemoteStore.
func (c *Client) Fail(ctx context.Context, jobID, workerID, lastError string, retryAfter *time.Duration) error {
	if retryAfter != nil {
		return c.rescheduleOwned(ctx, jobID, workerID, time.Now().Add(*retryAfter), false, "")
	}

	var m jobModel
	err := c.db.NewSelect().Model(&m).
		Column("id", "queue", "attempts", "max_attempts", "backoff_kind", "backoff_base_ms", "backoff_max_ms", "backoff_jitter").
		Where("id = ?", jobID).
		Where("locked_by = ?", workerID).
		Where("status = ?", queue.StatusProcessing.String()).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.ErrLeaseLost
	}
	if err != nil {
		return err
	}

	if m.Attempts >= m.MaxAttempts {
		res, err := c.db.NewUpdate().Model((*jobModel)(nil)).
			Set("status = ?", queue.StatusFailed.String()).
			Set("ended_at = ?", time.Now()).
			Set("updated_at = ?", time.Now()).
			Set("last_error = ?", lastError).
			Where("id = ?", jobID).
			Where("locked_by = ?", workerID).
			Where("status = ?", queue.StatusProcessing.String()).
			Exec(ctx)
		if err != nil {
			return err
		}
		if !affected(res) {
			return queue.ErrLeaseLost
		}
		return nil
	}

	policy := queue.BackoffPolicy{
		Kind:         queue.BackoffKind(m.BackoffKind),
		Base:         time.Duration(m.BackoffBaseMs) * time.Millisecond,
		Max:          time.Duration(m.BackoffMaxMs) * time.Millisecond,
		JitterFactor: m.BackoffJitter,
	}
	delay := queue.Backoff(policy, m.Attempts)
	return c.rescheduleOwned(ctx, jobID, workerID, time.Now().Add(delay), true, lastError)
}

// Reschedule implements queue.RemoteStore.
func (c *Client) Reschedule(ctx context.Context, jobID, workerID string, delay time.Duration) error {
	return c.rescheduleOwned(ctx, jobID, workerID, time.Now().Add(delay), false, "")
}

func (c *Client) rescheduleOwned(ctx context.Context, jobID, workerID string, runAt time.Time, consumedAttempt bool, lastError string) error {
	status := queue.StatusRetryPending.String()
	if !consumedAttempt {
		status = queue.StatusPending.String()
	}
	q := c.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", status).
		Set("scheduled_for = ?", runAt).
		Set("updated_at = ?", time.Now()).
		Set("locked_by = ''").
		Set("locked_at = NULL").
		Set("expires_at = NULL")
	if lastError != "" {
		q = q.Set("last_error = ?", lastError)
	}
	if !consumedAttempt {
		q = q.Set("attempts = MAX(attempts - 1, 0)")
	}
	q = q.Where("id = ?", jobID).
		Where("locked_by = ?", workerID).
		Where("status = ?", queue.StatusProcessing.String())

	var m jobModel
	if err := c.db.NewSelect().Model(&m).Column("queue").Where("id = ?", jobID).Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	if !affected(res) {
		return queue.ErrLeaseLost
	}
	if runAt.After(time.Now()) {
		c.notifier.ArmAt(m.Queue, runAt)
	} else {
		c.notifier.Notify(m.Queue)
	}
	return nil
}
