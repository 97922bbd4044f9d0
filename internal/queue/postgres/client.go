package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
	"github.com/BillyRonksGlobal/queuecore/internal/queue/sqldriver"
)

// Client implements queue.Client against a PostgreSQL pool, mirroring
// the teacher's Service.Enqueue/EnqueueWithOptions/EnqueueBatch shape
// but generalized to an arbitrary queue name and idempotency key.
type Client struct {
	pool     *pgxpool.Pool
	notifier queue.Notifier
	events   *queue.EventBus
}

// New wraps an already-connected pgxpool.Pool. Callers are expected to
// call EnsureSchema once at startup.
func New(pool *pgxpool.Pool, notifier queue.Notifier) *Client {
	if notifier == nil {
		notifier = queue.NoopNotifier{}
	}
	return &Client{pool: pool, notifier: notifier, events: queue.NewEventBus()}
}

// Events returns the bus stage mutations are published to.
func (c *Client) Events() *queue.EventBus { return c.events }

func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

func (c *Client) Enqueue(ctx context.Context, queueName string, payload []byte, opts queue.EnqueueOptions) (string, error) {
	now := time.Now()
	id := queue.NewJobID()
	scheduledFor := opts.ScheduledFor(now)

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	backoff := opts.Backoff
	if backoff.Base == 0 {
		backoff = queue.DefaultBackoffPolicy()
	}

	stages, err := sqldriver.MarshalStages(initialStages(opts.InitialStages))
	if err != nil {
		return "", err
	}
	metadata, err := sqldriver.MarshalMap(opts.Metadata)
	if err != nil {
		return "", err
	}

	var idemKey any
	if opts.IdempotencyKey != "" {
		idemKey = opts.IdempotencyKey
	}

	const insertSQL = `
		INSERT INTO jobs (
			id, queue, idempotency_key, payload, status, priority,
			attempts, max_attempts, created_at, updated_at, scheduled_for,
			backoff_kind, backoff_base_ms, backoff_max_ms, backoff_jitter,
			stages, metadata, artifacts
		) VALUES (
			$1, $2, $3, $4, 'pending', $5,
			0, $6, $7, $7, $8,
			$9, $10, $11, $12,
			$13, $14, '{}'
		)
		ON CONFLICT (queue, idempotency_key) WHERE idempotency_key IS NOT NULL AND idempotency_key <> ''
		DO NOTHING
		RETURNING id
	`

	var returnedID string
	err = c.pool.QueryRow(ctx, insertSQL,
		id, queueName, idemKey, payload, opts.Priority,
		maxAttempts, now, scheduledFor,
		int(backoff.Kind), backoff.Base.Milliseconds(), backoff.Max.Milliseconds(), backoff.JitterFactor,
		stages, metadata,
	).Scan(&returnedID)

	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := c.findByKey(ctx, queueName, opts.IdempotencyKey)
		if getErr != nil {
			return "", getErr
		}
		if existing == nil {
			return "", queue.ErrNotFound
		}
		if opts.Replace == queue.ReplaceIfNotActive && existing.Status != queue.StatusProcessing {
			return c.replace(ctx, existing.ID, queueName, payload, opts, now, scheduledFor, maxAttempts, backoff)
		}
		if opts.Replace == queue.ReplaceIfNotActive && existing.Status == queue.StatusProcessing {
			return "", &queue.AlreadyActiveError{Queue: queueName, Key: opts.IdempotencyKey, ID: existing.ID}
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
	return returnedID, nil
}

func (c *Client) replace(ctx context.Context, id, queueName string, payload []byte, opts queue.EnqueueOptions, now, scheduledFor time.Time, maxAttempts int, backoff queue.BackoffPolicy) (string, error) {
	stages, err := sqldriver.MarshalStages(initialStages(opts.InitialStages))
	if err != nil {
		return "", err
	}
	metadata, err := sqldriver.MarshalMap(opts.Metadata)
	if err != nil {
		return "", err
	}
	const updateSQL = `
		UPDATE jobs SET
			payload = $2, status = 'pending', priority = $3, attempts = 0,
			max_attempts = $4, updated_at = $5, scheduled_for = $6,
			backoff_kind = $7, backoff_base_ms = $8, backoff_max_ms = $9, backoff_jitter = $10,
			stages = $11, metadata = $12, current_stage = '', overall_progress = 0,
			last_error = '', started_at = NULL, ended_at = NULL
		WHERE id = $1
	`
	_, err = c.pool.Exec(ctx, updateSQL, id, payload, opts.Priority, maxAttempts, now, scheduledFor,
		int(backoff.Kind), backoff.Base.Milliseconds(), backoff.Max.Milliseconds(), backoff.JitterFactor,
		stages, metadata)
	if err != nil {
		return "", err
	}
	if scheduledFor.After(now) {
		c.notifier.ArmAt(queueName, scheduledFor)
	} else {
		c.notifier.Notify(queueName)
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
	const sql = selectColumns + ` FROM jobs WHERE queue = $1 AND idempotency_key = $2`
	row := c.pool.QueryRow(ctx, sql, queueName, key)
	return scanJob(row)
}

func (c *Client) Cancel(ctx context.Context, queueName, idOrKey string) (bool, error) {
	const sql = `
		UPDATE jobs SET status = 'failed', last_error = 'canceled', ended_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'retry_pending')
	`
	tag, err := c.pool.Exec(ctx, sql, idOrKey)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if queueName == "" {
		return false, nil
	}
	const byKey = `
		UPDATE jobs SET status = 'failed', last_error = 'canceled', ended_at = now(), updated_at = now()
		WHERE queue = $1 AND idempotency_key = $2 AND status IN ('pending', 'retry_pending')
	`
	tag, err = c.pool.Exec(ctx, byKey, queueName, idOrKey)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (c *Client) Retry(ctx context.Context, queueName, idOrKey string) (bool, error) {
	const sql = `
		UPDATE jobs SET status = 'pending', scheduled_for = now(), updated_at = now(), last_error = ''
		WHERE id = $1 AND status = 'failed'
	`
	tag, err := c.pool.Exec(ctx, sql, idOrKey)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		c.notifier.Notify(queueName)
		return true, nil
	}
	if queueName == "" {
		return false, nil
	}
	const byKey = `
		UPDATE jobs SET status = 'pending', scheduled_for = now(), updated_at = now(), last_error = ''
		WHERE queue = $1 AND idempotency_key = $2 AND status = 'failed'
	`
	tag, err = c.pool.Exec(ctx, byKey, queueName, idOrKey)
	if err != nil {
		return false, err
	}
	ok := tag.RowsAffected() > 0
	if ok {
		c.notifier.Notify(queueName)
	}
	return ok, nil
}

func (c *Client) GetJob(ctx context.Context, queueName, idOrKey string) (*queue.Job, error) {
	const sql = selectColumns + ` FROM jobs WHERE id = $1`
	row := c.pool.QueryRow(ctx, sql, idOrKey)
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if job != nil || queueName == "" {
		return job, nil
	}
	return c.findByKey(ctx, queueName, idOrKey)
}

func (c *Client) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	var stats queue.Stats
	sql := `
		SELECT status, count(*) FROM jobs
		WHERE ($1 = '' OR queue = $1)
		GROUP BY status
	`
	rows, err := c.pool.Query(ctx, sql, queueName)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return stats, err
		}
		switch status {
		case "pending":
			stats.Pending = n
		case "processing":
			stats.Processing = n
		case "completed":
			stats.Completed = n
		case "failed":
			stats.Failed = n
		case "retry_pending":
			stats.RetryPending = n
		}
	}
	return stats, rows.Err()
}

const selectColumns = `
	SELECT id, queue, idempotency_key, payload, status, priority, attempts, max_attempts,
		created_at, updated_at, scheduled_for, started_at, ended_at, locked_by, locked_at,
		expires_at, last_error, backoff_kind, backoff_base_ms, backoff_max_ms, backoff_jitter,
		stages, current_stage, overall_progress, metadata, artifacts
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*queue.Job, error) {
	var j queue.Job
	var idemKey *string
	var backoffKind int
	var backoffBaseMs, backoffMaxMs int64
	var stagesRaw, metadataRaw, artifactsRaw []byte

	err := row.Scan(
		&j.ID, &j.Queue, &idemKey, &j.Payload, &j.Status, &j.Priority, &j.Attempts, &j.MaxAttempts,
		&j.CreatedAt, &j.UpdatedAt, &j.ScheduledFor, &j.StartedAt, &j.EndedAt, &j.LockedBy, &j.LockedAt,
		&j.ExpiresAt, &j.LastError, &backoffKind, &backoffBaseMs, &backoffMaxMs, &j.Backoff.JitterFactor,
		&stagesRaw, &j.CurrentStage, &j.OverallProgress, &metadataRaw, &artifactsRaw,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if idemKey != nil {
		j.IdempotencyKey = *idemKey
	}
	j.Backoff.Kind = queue.BackoffKind(backoffKind)
	j.Backoff.Base = time.Duration(backoffBaseMs) * time.Millisecond
	j.Backoff.Max = time.Duration(backoffMaxMs) * time.Millisecond

	j.Stages, err = sqldriver.UnmarshalStages(stagesRaw)
	if err != nil {
		return nil, err
	}
	j.Metadata, err = sqldriver.UnmarshalMap(metadataRaw)
	if err != nil {
		return nil, err
	}
	j.Artifacts, err = sqldriver.UnmarshalMap(artifactsRaw)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
