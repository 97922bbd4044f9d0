package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
	"github.com/BillyRonksGlobal/queuecore/internal/queue/sqldriver"
)

// Worker claims jobs with a guarded UPDATE ... WHERE status = expected
// instead of row-level locking, since SQLite serializes writers; this
// follows RomanQed-gqs's sql/puller.go Pull/ExtendLock/Complete/Return
// shape, adapted to this package's richer Job model.
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

func NewWorker(client *Client, cfg queue.WorkerConfig, handler queue.JobHandler, registrar queue.Registrar) *Worker {
	return &Worker{
		client:    client,
		cfg:       cfg,
		handler:   handler,
		registrar: registrar,
		id:        queue.NewWorkerID("sqlite"),
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

// claim picks the single oldest eligible job id, then attempts a
// guarded UPDATE keyed on that id, its last-known status, and its
// last-known lock holder. A job is eligible if it is pending or
// retry_pending and due, or if it was left processing past its lease
// with attempts remaining (a crashed-worker recovery path). If the
// guarded UPDATE affects zero rows, another worker won the race (or a
// concurrent writer interleaved); the caller simply retries on its next
// loop iteration rather than looping internally, keeping each claim
// attempt bounded.
func (w *Worker) claim(ctx context.Context) (*queue.Job, error) {
	var candidate jobModel
	now := time.Now()
	err := w.client.db.NewSelect().Model(&candidate).
		Column("id", "status", "locked_by").
		Where("queue = ?", w.cfg.Queue).
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

	expires := now.Add(w.cfg.LeaseDuration)
	res, err := w.client.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", queue.StatusProcessing.String()).
		Set("attempts = attempts + 1").
		Set("started_at = ?", now).
		Set("locked_by = ?", w.id).
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
	if err := w.client.db.NewSelect().Model(&m).Where("id = ?", candidate.ID).Scan(ctx); err != nil {
		return nil, err
	}
	return toJob(&m)
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
