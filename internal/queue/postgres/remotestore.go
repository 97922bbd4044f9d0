package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
	"github.com/BillyRonksGlobal/queuecore/internal/queue/sqldriver"
)

// ClaimOne implements queue.RemoteStore, reusing Worker.claim's
// SKIP LOCKED query keyed on an arbitrary workerID/lease pair instead of
// an in-process Worker's own fields, so the HTTP transport server can
// drive a claim without owning a Worker goroutine.
func (c *Client) ClaimOne(ctx context.Context, queueName, workerID string, lease time.Duration) (*queue.Job, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, queue.ErrConnectionLost
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	expires := now.Add(lease)

	// Eligible: due pending/retry_pending, or processing past its
	// lease with attempts remaining (crashed-worker recovery).
	selectSQL := `
		SELECT id, status, locked_by FROM jobs
		WHERE queue = $1 AND (
			(status IN ('pending', 'retry_pending') AND scheduled_for <= $2)
			OR (status = 'processing' AND expires_at < $2 AND attempts < max_attempts)
		)
		ORDER BY ` + sqldriver.ClaimOrder + `
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	var id, status string
	var lockedBy *string
	err = tx.QueryRow(ctx, selectSQL, queueName, now).Scan(&id, &status, &lockedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs SET
			status = 'processing', attempts = attempts + 1, started_at = $2,
			locked_by = $3, locked_at = $2, expires_at = $4, updated_at = $2
		WHERE id = $1 AND status = $5 AND locked_by IS NOT DISTINCT FROM $6
	`, id, now, workerID, expires, status, lockedBy)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, selectColumns+" FROM jobs WHERE id = $1", id)
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

// Heartbeat implements queue.RemoteStore.
func (c *Client) Heartbeat(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	return c.ExtendLease(ctx, jobID, workerID, lease)
}

// Complete implements queue.RemoteStore.
func (c *Client) Complete(ctx context.Context, jobID, workerID string, artifacts map[string]any) error {
	var artifactsJSON []byte
	if len(artifacts) > 0 {
		var err error
		artifactsJSON, err = sqldriver.MarshalMap(artifacts)
		if err != nil {
			return err
		}
	}
	sql := `
		UPDATE jobs SET status = 'completed', ended_at = now(), updated_at = now(), overall_progress = 100
	`
	args := []any{jobID, workerID}
	if artifactsJSON != nil {
		sql += `, artifacts = $3`
		args = append(args, artifactsJSON)
	}
	sql += ` WHERE id = $1 AND locked_by = $2 AND status = 'processing'`
	tag, err := c.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrLeaseLost
	}
	return nil
}

// Fail implements queue.RemoteStore.
func (c *Client) Fail(ctx context.Context, jobID, workerID, lastError string, retryAfter *time.Duration) error {
	if retryAfter != nil {
		return c.rescheduleOwned(ctx, jobID, workerID, time.Now().Add(*retryAfter), false)
	}

	var attempts, maxAttempts int
	var backoffKind int
	var backoffBaseMs, backoffMaxMs int64
	var jitter float64
	err := c.pool.QueryRow(ctx, `
		SELECT attempts, max_attempts, backoff_kind, backoff_base_ms, backoff_max_ms, backoff_jitter
		FROM jobs WHERE id = $1 AND locked_by = $2 AND status = 'processing'
	`, jobID, workerID).Scan(&attempts, &maxAttempts, &backoffKind, &backoffBaseMs, &backoffMaxMs, &jitter)
	if errors.Is(err, pgx.ErrNoRows) {
		return queue.ErrLeaseLost
	}
	if err != nil {
		return err
	}

	if attempts >= maxAttempts {
		tag, err := c.pool.Exec(ctx, `
			UPDATE jobs SET status = 'failed', ended_at = now(), updated_at = now(), last_error = $3
			WHERE id = $1 AND locked_by = $2 AND status = 'processing'
		`, jobID, workerID, lastError)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return queue.ErrLeaseLost
		}
		return nil
	}

	policy := queue.BackoffPolicy{
		Kind:         queue.BackoffKind(backoffKind),
		Base:         time.Duration(backoffBaseMs) * time.Millisecond,
		Max:          time.Duration(backoffMaxMs) * time.Millisecond,
		JitterFactor: jitter,
	}
	delay := queue.Backoff(policy, attempts)
	return c.rescheduleOwned(ctx, jobID, workerID, time.Now().Add(delay), true, lastError)
}

// Reschedule implements queue.RemoteStore: an operator-triggered
// deferral, identical in effect to the rate-limit path.
func (c *Client) Reschedule(ctx context.Context, jobID, workerID string, delay time.Duration) error {
	return c.rescheduleOwned(ctx, jobID, workerID, time.Now().Add(delay), false)
}

func (c *Client) rescheduleOwned(ctx context.Context, jobID, workerID string, runAt time.Time, consumedAttempt bool, lastError ...string) error {
	status := "retry_pending"
	if !consumedAttempt {
		status = "pending"
	}
	msg := ""
	if len(lastError) > 0 {
		msg = lastError[0]
	}
	var queueName string
	var err error
	if consumedAttempt {
		err = c.pool.QueryRow(ctx, `
			UPDATE jobs SET status = $3, scheduled_for = $2, updated_at = now(), last_error = $4,
				locked_by = NULL, locked_at = NULL, expires_at = NULL
			WHERE id = $1 AND locked_by = $5 AND status = 'processing'
			RETURNING queue
		`, jobID, runAt, status, msg, workerID).Scan(&queueName)
	} else {
		err = c.pool.QueryRow(ctx, `
			UPDATE jobs SET status = $3, scheduled_for = $2, updated_at = now(),
				attempts = GREATEST(attempts - 1, 0), locked_by = NULL, locked_at = NULL, expires_at = NULL
			WHERE id = $1 AND locked_by = $4 AND status = 'processing'
			RETURNING queue
		`, jobID, runAt, status, workerID).Scan(&queueName)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return queue.ErrLeaseLost
	}
	if err != nil {
		return err
	}
	if runAt.After(time.Now()) {
		c.notifier.ArmAt(queueName, runAt)
	} else {
		c.notifier.Notify(queueName)
	}
	return nil
}
