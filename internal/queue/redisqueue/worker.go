package redisqueue

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

// claimBatch bounds how many due candidates a single claim attempt
// inspects before picking the highest-priority one: Redis's ZSET
// orders by scheduled_for alone, so priority ordering is approximated
// within this window rather than globally, trading strict ordering
// for an O(1) round trip per claim.
const claimBatch = 20

// claimScript atomically removes id from the due ZSET and adds it to
// the processing set, returning 1 if this worker won the race. It is
// the single-job analogue of dmitrymomot-gokit's FetchDue script.
var claimScript = redis.NewScript(`
local due = KEYS[1]
local processing = KEYS[2]
local id = ARGV[1]
local removed = redis.call('ZREM', due, id)
if removed == 1 then
	redis.call('SADD', processing, id)
end
return removed
`)

// Worker polls the due ZSETs for a queue, picks the highest-priority
// due candidate within a bounded window, and claims it via Lua script
// to avoid a race between two workers claiming the same id.
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
		id:        queue.NewWorkerID("redis"),
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
	rdb := w.client.rdb
	k := w.client.k
	now := time.Now()

	candidateID, candidateJob, retry, err := w.pickCandidate(ctx, now)
	if err != nil || candidateID == "" {
		return nil, err
	}

	dueSet := k.duePending(w.cfg.Queue)
	if retry {
		dueSet = k.dueRetry(w.cfg.Queue)
	}
	won, err := claimScript.Run(ctx, rdb, []string{dueSet, k.processing(w.cfg.Queue)}, candidateID).Int()
	if err != nil || won != 1 {
		return nil, err
	}

	candidateJob.Status = queue.StatusProcessing
	candidateJob.Attempts++
	candidateJob.StartedAt = &now
	candidateJob.LockedBy = w.id
	candidateJob.LockedAt = &now
	expires := now.Add(w.cfg.LeaseDuration)
	candidateJob.ExpiresAt = &expires
	candidateJob.UpdatedAt = now
	if err := w.client.saveJob(ctx, candidateJob); err != nil {
		return nil, err
	}
	return candidateJob, nil
}

// pickCandidate inspects up to claimBatch due jobs from both the
// pending and retry ZSETs and returns the highest-priority one whose
// scheduled_for has arrived.
func (w *Worker) pickCandidate(ctx context.Context, now time.Time) (string, *queue.Job, bool, error) {
	rdb := w.client.rdb
	k := w.client.k
	nowMs := float64(now.UnixMilli())

	nowScore := strconv.FormatFloat(nowMs, 'f', -1, 64)
	pendingIDs, err := rdb.ZRangeByScore(ctx, k.duePending(w.cfg.Queue), &redis.ZRangeBy{Min: "-inf", Max: nowScore, Count: claimBatch}).Result()
	if err != nil {
		return "", nil, false, err
	}
	retryIDs, err := rdb.ZRangeByScore(ctx, k.dueRetry(w.cfg.Queue), &redis.ZRangeBy{Min: "-inf", Max: nowScore, Count: claimBatch}).Result()
	if err != nil {
		return "", nil, false, err
	}

	type candidate struct {
		id    string
		job   *queue.Job
		retry bool
	}
	var candidates []candidate
	for _, id := range pendingIDs {
		job, err := w.client.loadJob(ctx, id)
		if err == nil && job != nil {
			candidates = append(candidates, candidate{id: id, job: job})
		}
	}
	for _, id := range retryIDs {
		job, err := w.client.loadJob(ctx, id)
		if err == nil && job != nil {
			candidates = append(candidates, candidate{id: id, job: job, retry: true})
		}
	}
	if len(candidates) == 0 {
		return "", nil, false, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].job.Priority != candidates[j].job.Priority {
			return candidates[i].job.Priority > candidates[j].job.Priority
		}
		return candidates[i].job.ScheduledFor.Before(candidates[j].job.ScheduledFor)
	})
	best := candidates[0]
	return best.id, best.job, best.retry, nil
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
		_ = w.client.completeLifecycle(context.Background(), job, w.id)
	case queue.OutcomeRateLimit:
		_ = w.client.rescheduleLifecycle(context.Background(), job, w.id, time.Now().Add(rl.RetryAfter), false)
	case queue.OutcomePermanent:
		_ = w.client.failLifecycle(context.Background(), job, w.id, perm.Error())
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
		_ = w.client.failLifecycle(context.Background(), job, w.id, msg)
		return
	}
	delay := queue.Backoff(job.Backoff, job.Attempts)
	_ = w.client.rescheduleLifecycle(context.Background(), job, w.id, time.Now().Add(delay), true)
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
