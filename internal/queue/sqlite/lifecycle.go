package sqlite

import (
	"context"
	"time"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
	"github.com/BillyRonksGlobal/queuecore/internal/queue/sqldriver"
)

// complete marks jobID completed, persisting artifacts (the job's
// accumulated metadata merged with whatever CompleteStage supplied)
// when present, guarded on workerID still holding the processing lease.
func (c *Client) complete(ctx context.Context, jobID, workerID string, artifacts map[string]any) error {
	q := c.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", queue.StatusCompleted.String()).
		Set("ended_at = ?", time.Now()).
		Set("updated_at = ?", time.Now()).
		Set("overall_progress = 100")
	if len(artifacts) > 0 {
		artifactsJSON, err := sqldriver.MarshalMap(artifacts)
		if err != nil {
			return err
		}
		q = q.Set("artifacts = ?", artifactsJSON)
	}
	res, err := q.Where("id = ?", jobID).
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

func (c *Client) fail(ctx context.Context, jobID, workerID, lastError string, artifacts map[string]any) error {
	q := c.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", queue.StatusFailed.String()).
		Set("ended_at = ?", time.Now()).
		Set("updated_at = ?", time.Now()).
		Set("last_error = ?", lastError)
	if len(artifacts) > 0 {
		artifactsJSON, err := sqldriver.MarshalMap(artifacts)
		if err != nil {
			return err
		}
		q = q.Set("artifacts = ?", artifactsJSON)
	}
	res, err := q.Where("id = ?", jobID).
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

func (c *Client) reschedule(ctx context.Context, jobID, workerID string, runAt time.Time, consumedAttempt bool) error {
	status := queue.StatusRetryPending.String()
	q := c.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", status).
		Set("scheduled_for = ?", runAt).
		Set("updated_at = ?", time.Now()).
		Set("locked_by = ''").
		Set("locked_at = NULL").
		Set("expires_at = NULL")
	if !consumedAttempt {
		q = q.Set("status = ?", queue.StatusPending.String()).
			Set("attempts = MAX(attempts - 1, 0)")
	}
	res, err := q.Where("id = ?", jobID).
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

func (c *Client) setLastError(ctx context.Context, jobID, msg string) error {
	_, err := c.db.NewUpdate().Model((*jobModel)(nil)).
		Set("last_error = ?", msg).
		Where("id = ?", jobID).
		Exec(ctx)
	return err
}

// ExtendLease implements queue.ContextStore.
func (c *Client) ExtendLease(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	now := time.Now()
	res, err := c.db.NewUpdate().Model((*jobModel)(nil)).
		Set("locked_at = ?", now).
		Set("expires_at = ?", now.Add(lease)).
		Set("updated_at = ?", now).
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

// SaveProgress implements queue.ContextStore.
func (c *Client) SaveProgress(ctx context.Context, jobID string, stages []queue.Stage, overall float64) error {
	stagesJSON, err := sqldriver.MarshalStages(stages)
	if err != nil {
		return err
	}
	_, err = c.db.NewUpdate().Model((*jobModel)(nil)).
		Set("stages = ?", stagesJSON).
		Set("overall_progress = ?", overall).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", jobID).
		Exec(ctx)
	return err
}
