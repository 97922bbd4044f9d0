// Package postgres implements the queue.Client/Worker/Scheduler
// contracts against PostgreSQL, using row-level locking (SELECT ...
// FOR UPDATE SKIP LOCKED) to claim jobs, grounded on the teacher's
// internal/worker/service.go fetchJob query. Each claim selects and
// updates a single row (LIMIT 1).
package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	queue            TEXT NOT NULL,
	idempotency_key  TEXT,
	payload          BYTEA NOT NULL,
	status           TEXT NOT NULL,
	priority         INTEGER NOT NULL DEFAULT 0,
	attempts         INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL DEFAULT 5,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	scheduled_for    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at       TIMESTAMPTZ,
	ended_at         TIMESTAMPTZ,
	locked_by        TEXT,
	locked_at        TIMESTAMPTZ,
	expires_at       TIMESTAMPTZ,
	last_error       TEXT,
	backoff_kind     SMALLINT NOT NULL DEFAULT 0,
	backoff_base_ms  BIGINT NOT NULL DEFAULT 1000,
	backoff_max_ms   BIGINT NOT NULL DEFAULT 300000,
	backoff_jitter   DOUBLE PRECISION NOT NULL DEFAULT 0.1,
	stages           JSONB NOT NULL DEFAULT '[]',
	current_stage    TEXT NOT NULL DEFAULT '',
	overall_progress DOUBLE PRECISION NOT NULL DEFAULT 0,
	metadata         JSONB NOT NULL DEFAULT '{}',
	artifacts        JSONB NOT NULL DEFAULT '{}'
);

CREATE UNIQUE INDEX IF NOT EXISTS jobs_queue_idempotency_key_idx
	ON jobs (queue, idempotency_key) WHERE idempotency_key IS NOT NULL AND idempotency_key <> '';

CREATE INDEX IF NOT EXISTS jobs_claim_idx
	ON jobs (queue, status, scheduled_for, priority, created_at) WHERE status IN ('pending', 'retry_pending');

CREATE TABLE IF NOT EXISTS schedules (
	key          TEXT PRIMARY KEY,
	queue        TEXT NOT NULL,
	cron         TEXT NOT NULL DEFAULT '',
	interval_ms  BIGINT NOT NULL DEFAULT 0,
	run_at       TIMESTAMPTZ,
	payload      BYTEA NOT NULL,
	job_limit    INTEGER NOT NULL DEFAULT 0,
	end_date     TIMESTAMPTZ,
	immediately  BOOLEAN NOT NULL DEFAULT false,
	next_run_at  TIMESTAMPTZ NOT NULL,
	run_count    INTEGER NOT NULL DEFAULT 0,
	enabled      BOOLEAN NOT NULL DEFAULT true,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the jobs/schedules tables and supporting
// indexes if they do not already exist. Migrations beyond this are out
// of scope, per spec.md §1's non-goal on domain migrations.
func (c *Client) EnsureSchema(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, schemaSQL)
	return err
}
