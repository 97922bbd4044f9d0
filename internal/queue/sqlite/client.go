package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
	"github.com/BillyRonksGlobal/queuecore/internal/queue/sqldriver"
)

// Client implements queue.Client against bun.DB/modernc.org/sqlite.
type Client struct {
	db       *bun.DB
	notifier queue.Notifier
	events   *queue.EventBus
}

// New wraps an already-opened *bun.DB. Callers should call InitSchema
// once at startup.
func New(db *bun.DB, notifier queue.Notifier) *Client {
	if notifier == nil {
		notifier = queue.NoopNotifier{}
	}
	return &Client{db: db, notifier: notifier, events: queue.NewEventBus()}
}

// Events returns the bus stage mutations are published to.
func (c *Client) Events() *queue.EventBus { return c.events }

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Enqueue(ctx context.Context, queueName string, payload []byte, opts queue.EnqueueOptions) (string, error) {
	now := time.Now()
	scheduledFor := opts.ScheduledFor(now)
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	backoff := opts.Backoff
	if backoff.Base == 0 {
		backoff = queue.DefaultBackoffPolicy()
	}
	stagesJSON, err := sqldriver.MarshalStages(initialStages(opts.InitialStages))
	if err != nil {
		return "", err
	}
	metadataJSON, err := sqldriver.MarshalMap(opts.Metadata)
	if err != nil {
		return "", err
	}
	artifactsJSON, _ := sqldriver.MarshalMap(nil)

	m := &jobModel{
		ID:              queue.NewJobID(),
		Queue:           queueName,
		IdempotencyKey:  opts.IdempotencyKey,
		Payload:         payload,
		Status:          queue.StatusPending.String(),
		Priority:        opts.Priority,
		MaxAttempts:     maxAttempts,
		CreatedAt:       now,
		UpdatedAt:       now,
		ScheduledFor:    scheduledFor,
		BackoffKind:     int(backoff.Kind),
		BackoffBaseMs:   backoff.Base.Milliseconds(),
		BackoffMaxMs:    backoff.Max.Milliseconds(),
		BackoffJitter:   backoff.JitterFactor,
		Stages:          stagesJSON,
		OverallProgress: 0,
		Metadata:        metadataJSON,
		Artifacts:       artifactsJSON,
	}

	_, err = c.db.NewInsert().Model(m).Exec(ctx)
	if err != nil && isUniqueViolation(err) && opts.IdempotencyKey != "" {
		existing, getErr := c.findByKey(ctx, queueName, opts.IdempotencyKey)
		if getErr != nil {
			return "", getErr
		}
		if existing == nil {
			return "", queue.ErrNotFound
		}
		if opts.Replace == queue.ReplaceIfNotActive {
			if existing.Status == queue.StatusProcessing {
				return "", &queue.AlreadyActiveError{Queue: queueName, Key: opts.IdempotencyKey, ID: existing.ID}
			}
			return c.replace(ctx, existing.ID, payload, opts, now, scheduledFor, maxAttempts, backoff, stagesJSON, metadataJSON)
		}
		return existing.ID, nil
	}
	if err != nil {
		return "", err
	}

	if scheduledFor.After(now) {
		c.notifier.ArmAt(queueName, scheduledFor)
	} else {
		c.notifier.Notify(queueName)
	}
	return m.ID, nil
}

func (c *Client) replace(ctx context.Context, id string, payload []byte, opts queue.EnqueueOptions, now, scheduledFor time.Time, maxAttempts int, backoff queue.BackoffPolicy, stagesJSON, metadataJSON []byte) (string, error) {
	_, err := c.db.NewUpdate().Model((*jobModel)(nil)).
		Set("payload = ?", payload).
		Set("status = ?", queue.StatusPending.String()).
		Set("priority = ?", opts.Priority).
		Set("attempts = 0").
		Set("max_attempts = ?", maxAttempts).
		Set("updated_at = ?", now).
		Set("scheduled_for = ?", scheduledFor).
		Set("backoff_kind = ?", int(backoff.Kind)).
		Set("backoff_base_ms = ?", backoff.Base.Milliseconds()).
		Set("backoff_max_ms = ?", backoff.Max.Milliseconds()).
		Set("backoff_jitter = ?", backoff.JitterFactor).
		Set("stages = ?", stagesJSON).
		Set("metadata = ?", metadataJSON).
		Set("current_stage = ''").
		Set("overall_progress = 0").
		Set("last_error = ''").
		Set("started_at = NULL").
		Set("ended_at = NULL").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return "", err
	}
	return id, nil
}

func initialStages(names []string) []queue.Stage {
	if len(names) == 0 {
		return nil
	}
	stages := make([]queue.Stage, len(names))
	for i, n := range names {
		stages[i] = queue.Stage{Name: n, Status: queue.StagePending}
	}
	return stages
}

func (c *Client) findByKey(ctx context.Context, queueName, key string) (*queue.Job, error) {
	if key == "" {
		return nil, nil
	}
	var m jobModel
	err := c.db.NewSelect().Model(&m).Where("queue = ? AND idempotency_key = ?", queueName, key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toJob(&m)
}

func (c *Client) Cancel(ctx context.Context, queueName, idOrKey string) (bool, error) {
	res, err := c.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", queue.StatusFailed.String()).
		Set("last_error = 'canceled'").
		Set("ended_at = ?", time.Now()).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", idOrKey).
		Where("status IN (?, ?)", queue.StatusPending.String(), queue.StatusRetryPending.String()).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	if affected(res) {
		return true, nil
	}
	if queueName == "" {
		return false, nil
	}
	res, err = c.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", queue.StatusFailed.String()).
		Set("last_error = 'canceled'").
		Set("ended_at = ?", time.Now()).
		Set("updated_at = ?", time.Now()).
		Where("queue = ? AND idempotency_key = ?", queueName, idOrKey).
		Where("status IN (?, ?)", queue.StatusPending.String(), queue.StatusRetryPending.String()).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return affected(res), nil
}

func (c *Client) Retry(ctx context.Context, queueName, idOrKey string) (bool, error) {
	res, err := c.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", queue.StatusPending.String()).
		Set("scheduled_for = ?", time.Now()).
		Set("updated_at = ?", time.Now()).
		Set("last_error = ''").
		Where("id = ?", idOrKey).
		Where("status = ?", queue.StatusFailed.String()).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	if affected(res) {
		c.notifier.Notify(queueName)
		return true, nil
	}
	if queueName == "" {
		return false, nil
	}
	res, err = c.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", queue.StatusPending.String()).
		Set("scheduled_for = ?", time.Now()).
		Set("updated_at = ?", time.Now()).
		Set("last_error = ''").
		Where("queue = ? AND idempotency_key = ?", queueName, idOrKey).
		Where("status = ?", queue.StatusFailed.String()).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	ok := affected(res)
	if ok {
		c.notifier.Notify(queueName)
	}
	return ok, nil
}

func (c *Client) GetJob(ctx context.Context, queueName, idOrKey string) (*queue.Job, error) {
	var m jobModel
	err := c.db.NewSelect().Model(&m).Where("id = ?", idOrKey).Scan(ctx)
	if err == nil {
		return toJob(&m)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if queueName == "" {
		return nil, nil
	}
	return c.findByKey(ctx, queueName, idOrKey)
}

func (c *Client) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	var stats queue.Stats
	rows := []struct {
		Status string `bun:"status"`
		N      int64  `bun:"n"`
	}{}
	q := c.db.NewSelect().Model((*jobModel)(nil)).
		ColumnExpr("status").
		ColumnExpr("count(*) AS n").
		GroupExpr("status")
	if queueName != "" {
		q = q.Where("queue = ?", queueName)
	}
	if err := q.Scan(ctx, &rows); err != nil {
		return stats, err
	}
	for _, r := range rows {
		switch r.Status {
		case queue.StatusPending.String():
			stats.Pending = r.N
		case queue.StatusProcessing.String():
			stats.Processing = r.N
		case queue.StatusCompleted.String():
			stats.Completed = r.N
		case queue.StatusFailed.String():
			stats.Failed = r.N
		case queue.StatusRetryPending.String():
			stats.RetryPending = r.N
		}
	}
	return stats, nil
}

func affected(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}

// isUniqueViolation detects the idempotency-key collision path.
// modernc.org/sqlite surfaces constraint failures as plain error
// strings rather than a typed code, so this matches on SQLite's
// standard message text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toJob(m *jobModel) (*queue.Job, error) {
	status, err := queue.ParseStatus(m.Status)
	if err != nil {
		return nil, err
	}
	stages, err := sqldriver.UnmarshalStages(m.Stages)
	if err != nil {
		return nil, err
	}
	metadata, err := sqldriver.UnmarshalMap(m.Metadata)
	if err != nil {
		return nil, err
	}
	artifacts, err := sqldriver.UnmarshalMap(m.Artifacts)
	if err != nil {
		return nil, err
	}
	return &queue.Job{
		ID:             m.ID,
		Queue:          m.Queue,
		IdempotencyKey: m.IdempotencyKey,
		Payload:        m.Payload,
		Status:         status,
		Priority:       m.Priority,
		Attempts:       m.Attempts,
		MaxAttempts:    m.MaxAttempts,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		ScheduledFor:   m.ScheduledFor,
		StartedAt:      m.StartedAt,
		EndedAt:        m.EndedAt,
		LockedBy:       m.LockedBy,
		LockedAt:       m.LockedAt,
		ExpiresAt:      m.ExpiresAt,
		LastError:      m.LastError,
		Backoff: queue.BackoffPolicy{
			Kind:         queue.BackoffKind(m.BackoffKind),
			Base:         time.Duration(m.BackoffBaseMs) * time.Millisecond,
			Max:          time.Duration(m.BackoffMaxMs) * time.Millisecond,
			JitterFactor: m.BackoffJitter,
		},
		Stages:          stages,
		CurrentStage:    m.CurrentStage,
		OverallProgress: m.OverallProgress,
		Metadata:        metadata,
		Artifacts:       artifacts,
	}, nil
}
