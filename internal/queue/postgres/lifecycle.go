package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
	"github.com/BillyRonksGlobal/queuecore/internal/queue/sqldriver"
)

// complete marks jobID completed, persisting artifacts (the job's
// accumulated metadata merged with whatever CompleteStage supplied)
// when present, guarded on workerID still holding the processing lease.
func (c *Client) complete(ctx context.Context, jobID, workerID string, artifacts map[string]any) error {
	var artifactsJSON []byte
	if len(artifacts) > 0 {
		var err error
		artifactsJSON, err = sqldriver.MarshalMap(artifacts)
		if err != nil {
			return err
		}
	}
	sql := `UPDATE jobs SET status = 'completed', ended_at = now(), updated_at = now(), overall_progress = 100`
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

func (c *Client) fail(ctx context.Context, jobID, workerID, lastError string, artifacts map[string]any) error {
	var artifactsJSON []byte
	if len(artifacts) > 0 {
		var err error
		artifactsJSON, err = sqldriver.MarshalMap(artifacts)
		if err != nil {
			return err
		}
	}
	sql := `UPDATE jobs SET status = 'failed', ended_at = now(), updated_at = now(), last_error = $3`
	args := []any{jobID, workerID, lastError}
	if artifactsJSON != nil {
		sql += `, artifacts = $4`
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

// reschedule releases jobID back to pending at runAt, guarded on
// workerID still holding the processing lease. When consumedAttempt is
// false (rate-limit path) the job goes back to pending and its attempt
// count is decremented here: the postgres claim increments attempts
// unconditionally at claim time, and rate limiting does not consume an
// attempt.
func (c *Client) reschedule(ctx context.Context, jobID, workerID string, runAt time.Time, consumedAttempt bool) error {
	status := "retry_pending"
	if !consumedAttempt {
		status = "pending"
	}
	var tag pgconn.CommandTag
	var err error
	if consumedAttempt {
		tag, err = c.pool.Exec(ctx, `
			UPDATE jobs SET status = $3, scheduled_for = $2, updated_at = now(),
				locked_by = NULL, locked_at = NULL, expires_at = NULL
			WHERE id = $1 AND locked_by = $4 AND status = 'processing'
		`, jobID, runAt, status, workerID)
	} else {
		tag, err = c.pool.Exec(ctx, `
			UPDATE jobs SET status = $3, scheduled_for = $2, updated_at = now(),
				attempts = GREATEST(attempts - 1, 0), locked_by = NULL, locked_at = NULL, expires_at = NULL
			WHERE id = $1 AND locked_by = $4 AND status = 'processing'
		`, jobID, runAt, status, workerID)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrLeaseLost
	}
	return nil
}

func (c *Client) setLastError(ctx context.Context, jobID, msg string) error {
	_, err := c.pool.Exec(ctx, `UPDATE jobs SET last_error = $2 WHERE id = $1`, jobID, msg)
	return err
}

// ExtendLease implements queue.ContextStore: it bumps expires_at and
// locked_at provided workerID still holds the lease, returning
// queue.ErrLeaseLost otherwise.
func (c *Client) ExtendLease(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	now := time.Now()
	tag, err := c.pool.Exec(ctx, `
		UPDATE jobs SET locked_at = $3, expires_at = $4, updated_at = $3
		WHERE id = $1 AND locked_by = $2 AND status = 'processing'
	`, jobID, workerID, now, now.Add(lease))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrLeaseLost
	}
	return nil
}

// SaveProgress implements queue.ContextStore.
func (c *Client) SaveProgress(ctx context.Context, jobID string, stages []queue.Stage, overall float64) error {
	stagesJSON, err := sqldriver.MarshalStages(stages)
	if err != nil {
		return err
	}
	_, err = c.pool.Exec(ctx, `
		UPDATE jobs SET stages = $2, overall_progress = $3, updated_at = now()
		WHERE id = $1
	`, jobID, stagesJSON, overall)
	return err
}
