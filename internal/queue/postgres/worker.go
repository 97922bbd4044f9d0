package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
	"github.com/BillyRonksGlobal/queuecore/internal/queue/sqldriver"
)

// Worker claims and runs jobs from a single queue using SELECT ... FOR
// UPDATE SKIP LOCKED, generalizing the teacher's Service.fetchJob /
// worker loop to an arbitrary handler and to the idle-wait Registrar
// instead of a fixed PollInterval-only sleep.
type Worker struct {
	client    *Client
	cfg       queue.WorkerConfig
	handler   queue.JobHandler
	registrar queue.Registrar
	id        string

	stopOnce sync.Once
	stopping chan struct{}
	wg       sync.WaitGroup
}

// NewWorker builds a Worker for queueName. registrar may be nil, in
// which case the worker falls back to PollInterval-paced polling only.
func NewWorker(client *Client, cfg queue.WorkerConfig, handler queue.JobHandler, registrar queue.Registrar) *Worker {
	return &Worker{
		client:    client,
		cfg:       cfg,
		handler:   handler,
		registrar: registrar,
		id:        queue.NewWorkerID("pg"),
		stopping:  make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx)
	}
	return nil
}

func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopping) })
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(w.cfg.GracefulShutdown):
		return ctx.Err()
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopping:
			return
		default:
		}

		job, err := w.claim(ctx)
		if err != nil || job == nil {
			w.idleWait(ctx)
			continue
		}
		w.run(ctx, job)
	}
}

func (w *Worker) idleWait(ctx context.Context) {
	if w.registrar == nil {
		_ = queue.CancellableSleep(ctx, w.cfg.PollInterval)
		return
	}
	wake, cancel := w.registrar.Register(w.cfg.Queue)
	defer cancel()
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopping:
	case <-wake:
	case <-timer.C:
	}
}

func (w *Worker) claim(ctx context.Context) (*queue.Job, error) {
	tx, err := w.client.pool.Begin(ctx)
	if err != nil {
		return nil, queue.ErrConnectionLost
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	expires := now.Add(w.cfg.LeaseDuration)

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
	err = tx.QueryRow(ctx, selectSQL, w.cfg.Queue, now).Scan(&id, &status, &lockedBy)
	if err == pgx.ErrNoRows {
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
	`, id, now, w.id, expires, status, lockedBy)
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

func (w *Worker) run(ctx context.Context, job *queue.Job) {
	jc := queue.NewJobContext(job, w.client, w.cfg.LeaseDuration, w.stopping, nil, w.client.Events())

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go w.heartbeatLoop(hbCtx, jc)

	runCtx, runCancel := context.WithTimeout(ctx, w.cfg.LeaseDuration)
	defer runCancel()

	err := w.safeHandle(runCtx, jc)

	outcome, rl, perm := queue.ClassifyOutcome(err)
	switch outcome {
	case queue.OutcomeComplete:
		_ = w.client.complete(context.Background(), job.ID, w.id, job.Artifacts)
	case queue.OutcomeRateLimit:
		_ = w.client.reschedule(context.Background(), job.ID, w.id, time.Now().Add(rl.RetryAfter), false)
	case queue.OutcomePermanent:
		_ = w.client.fail(context.Background(), job.ID, w.id, perm.Error(), job.Artifacts)
	default:
		w.retryOrFail(job, err)
	}
}

// safeHandle recovers a handler panic and reclassifies it as a
// PermanentError, generalizing RomanQed-gqs's worker-pool
// panic-recovering safeHandle to this driver's job loop.
func (w *Worker) safeHandle(ctx context.Context, jc queue.JobContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = queue.NewPermanentError(&panicError{r})
		}
	}()
	return w.handler(ctx, jc)
}

type panicError struct{ v any }

func (p *panicError) Error() string { return "handler panicked" }

func (w *Worker) retryOrFail(job *queue.Job, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if job.Attempts >= job.MaxAttempts {
		_ = w.client.fail(context.Background(), job.ID, w.id, msg, job.Artifacts)
		return
	}
	delay := queue.Backoff(job.Backoff, job.Attempts)
	_ = w.client.reschedule(context.Background(), job.ID, w.id, time.Now().Add(delay), true)
	_ = w.client.setLastError(context.Background(), job.ID, msg)
}

func (w *Worker) heartbeatLoop(ctx context.Context, jc queue.JobContext) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = jc.Heartbeat(ctx)
		}
	}
}
