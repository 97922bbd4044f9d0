// Package sqlite implements the queue.Client/Worker/Scheduler
// contracts against a single-writer embedded SQLite database via bun,
// grounded on RomanQed-gqs's sql/model.go and sql/puller.go: claims
// use a guarded UPDATE ... WHERE status = expected instead of SELECT
// ... FOR UPDATE SKIP LOCKED, since SQLite has no row-level locking.
package sqlite

import (
	"time"

	"github.com/uptrace/bun"
)

// jobModel mirrors queue.Job as a flat bun row; JSON-shaped fields
// (stages, metadata, artifacts) are stored as TEXT and marshaled
// through sqldriver's helpers rather than relying on a native JSON
// column type, since modernc.org/sqlite exposes none.
type jobModel struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID             string `bun:"id,pk"`
	Queue          string `bun:"queue,notnull"`
	IdempotencyKey string `bun:"idempotency_key"`
	Payload        []byte `bun:"payload"`
	Status         string `bun:"status,notnull"`
	Priority       int    `bun:"priority,notnull,default:0"`
	Attempts       int    `bun:"attempts,notnull,default:0"`
	MaxAttempts    int    `bun:"max_attempts,notnull,default:5"`

	CreatedAt    time.Time  `bun:"created_at,notnull"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull"`
	ScheduledFor time.Time  `bun:"scheduled_for,notnull"`
	StartedAt    *time.Time `bun:"started_at"`
	EndedAt      *time.Time `bun:"ended_at"`

	LockedBy  string     `bun:"locked_by"`
	LockedAt  *time.Time `bun:"locked_at"`
	ExpiresAt *time.Time `bun:"expires_at"`

	LastError string `bun:"last_error"`

	BackoffKind   int     `bun:"backoff_kind,notnull,default:0"`
	BackoffBaseMs int64   `bun:"backoff_base_ms,notnull,default:1000"`
	BackoffMaxMs  int64   `bun:"backoff_max_ms,notnull,default:300000"`
	BackoffJitter float64 `bun:"backoff_jitter,notnull,default:0.1"`

	Stages          []byte  `bun:"stages"`
	CurrentStage    string  `bun:"current_stage"`
	OverallProgress float64 `bun:"overall_progress,notnull,default:0"`

	Metadata  []byte `bun:"metadata"`
	Artifacts []byte `bun:"artifacts"`
}

// scheduleModel mirrors queue.Schedule as a flat bun row.
type scheduleModel struct {
	bun.BaseModel `bun:"table:schedules,alias:s"`

	Key         string     `bun:"key,pk"`
	Queue       string     `bun:"queue,notnull"`
	Cron        string     `bun:"cron"`
	IntervalMs  int64      `bun:"interval_ms,notnull,default:0"`
	RunAt       *time.Time `bun:"run_at"`
	Payload     []byte     `bun:"payload"`
	JobLimit    int        `bun:"job_limit,notnull,default:0"`
	EndDate     *time.Time `bun:"end_date"`
	Immediately bool       `bun:"immediately,notnull,default:false"`
	NextRunAt   time.Time  `bun:"next_run_at,notnull"`
	RunCount    int        `bun:"run_count,notnull,default:0"`
	Enabled     bool       `bun:"enabled,notnull,default:true"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
}
