package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

// connectionBackoff paces retries after a round trip to the HTTP
// transport fails, mirroring the teacher's worker loop's cancellable
// backoff for a lost database connection (spec.md §4.8).
const connectionBackoff = 2 * time.Second

// RemoteWorker is the remote queue.Worker implementation of
// spec.md §4.6: it holds no storage connection, long-polling /wait and
// reporting outcomes over HTTP instead. Concurrency, lease, and poll
// cadence come from the same queue.WorkerConfig a local driver Worker
// uses.
type RemoteWorker struct {
	baseURL string
	http    *http.Client
	cfg     queue.WorkerConfig
	handler queue.JobHandler
	id      string

	stopOnce sync.Once
	stopping chan struct{}
	wg       sync.WaitGroup
}

// NewRemoteWorker builds a RemoteWorker talking to baseURL (the address
// of a process running httptransport.Server). httpClient may be nil, in
// which case http.DefaultClient is used.
func NewRemoteWorker(baseURL string, httpClient *http.Client, cfg queue.WorkerConfig, handler queue.JobHandler) *RemoteWorker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RemoteWorker{
		baseURL:  baseURL,
		http:     httpClient,
		cfg:      cfg,
		handler:  handler,
		id:       queue.NewWorkerID("remote"),
		stopping: make(chan struct{}),
	}
}

func (w *RemoteWorker) Start(ctx context.Context) error {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx)
	}
	return nil
}

func (w *RemoteWorker) Stop(ctx context.Context) error {
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

func (w *RemoteWorker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopping:
			return
		default:
		}

		job, err := w.wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			_ = queue.CancellableSleep(ctx, connectionBackoff)
			continue
		}
		if job == nil {
			continue
		}
		w.run(ctx, job)
	}
}

// waitTimeout is clamped server-side too, but the client picks a value
// within [1s, 60s] bounded by its own poll cadence so a single long
// poll doesn't outlive a quick shutdown by much.
func (w *RemoteWorker) waitTimeout() time.Duration {
	t := w.cfg.PollInterval * 60
	if t < time.Second {
		return time.Second
	}
	if t > 30*time.Second {
		return 30 * time.Second
	}
	return t
}

func (w *RemoteWorker) wait(ctx context.Context) (*queue.Job, error) {
	q := url.Values{}
	q.Set("queue", w.cfg.Queue)
	q.Set("worker", w.id)
	q.Set("timeout", strconv.FormatInt(w.waitTimeout().Milliseconds(), 10))

	var resp JobResponse
	found, err := w.doJSON(ctx, http.MethodGet, "/wait?"+q.Encode(), nil, &resp)
	if err != nil || !found {
		return nil, err
	}
	return fromJobResponse(&resp), nil
}

func (w *RemoteWorker) run(ctx context.Context, job *queue.Job) {
	jc := queue.NewJobContext(job, &remoteContextStore{w: w}, w.cfg.LeaseDuration, w.stopping, nil, nil)

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go w.heartbeatLoop(hbCtx, jc)

	runCtx, runCancel := context.WithTimeout(ctx, w.cfg.LeaseDuration)
	defer runCancel()

	err := w.safeHandle(runCtx, jc)

	outcome, rl, perm := queue.ClassifyOutcome(err)
	switch outcome {
	case queue.OutcomeComplete:
		_ = w.reportComplete(context.Background(), job.ID, job.Artifacts)
	case queue.OutcomeRateLimit:
		_ = w.reportFail(context.Background(), job.ID, "", &rl.RetryAfter)
	case queue.OutcomePermanent:
		_ = w.reportFail(context.Background(), job.ID, perm.Error(), nil)
	default:
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		_ = w.reportFail(context.Background(), job.ID, msg, nil)
	}
}

func (w *RemoteWorker) safeHandle(ctx context.Context, jc queue.JobContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = queue.NewPermanentError(&panicError{r})
		}
	}()
	return w.handler(ctx, jc)
}

type panicError struct{ v any }

func (p *panicError) Error() string { return "handler panicked" }

func (w *RemoteWorker) heartbeatLoop(ctx context.Context, jc queue.JobContext) {
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

func (w *RemoteWorker) reportComplete(ctx context.Context, jobID string, artifacts map[string]any) error {
	body := CompleteRequest{Worker: w.id, Artifacts: artifacts}
	_, err := w.doJSON(ctx, http.MethodPost, "/"+jobID+"/complete", body, nil)
	return err
}

func (w *RemoteWorker) reportFail(ctx context.Context, jobID, lastError string, retryAfter *time.Duration) error {
	body := FailRequest{Worker: w.id, Error: lastError}
	if retryAfter != nil {
		ms := retryAfter.Milliseconds()
		body.RetryAfterMs = &ms
	}
	_, err := w.doJSON(ctx, http.MethodPost, "/"+jobID+"/fail", body, nil)
	return err
}

func (w *RemoteWorker) heartbeat(ctx context.Context, jobID string) error {
	body := HeartbeatRequest{Worker: w.id}
	found, err := w.doJSON(ctx, http.MethodPost, "/"+jobID+"/heartbeat", body, nil)
	if err == nil && !found {
		return queue.ErrLeaseLost
	}
	return err
}

// doJSON round-trips a request against baseURL+path. found reports
// whether the response carried a body (used by /wait and /fetch, whose
// "no job available" case is an HTTP 200 with a JSON null body).
func (w *RemoteWorker) doJSON(ctx context.Context, method, path string, body, out any) (bool, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.baseURL+path, reader)
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, queue.ErrLeaseLost
	}
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("queue: httptransport request to %s failed with status %d", path, resp.StatusCode)
	}
	if out == nil {
		return true, nil
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return false, err
	}
	if string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func fromJobResponse(r *JobResponse) *queue.Job {
	status, _ := queue.ParseStatus(r.Status)
	return &queue.Job{
		ID:             r.ID,
		Queue:          r.Queue,
		IdempotencyKey: r.IdempotencyKey,
		Payload:        r.Payload,
		Status:         status,
		Priority:       r.Priority,
		Attempts:       r.Attempts,
		MaxAttempts:    r.MaxAttempts,
		ScheduledFor:   r.ScheduledFor,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		LastError:      r.LastError,
		CurrentStage:   r.CurrentStage,
		OverallProgress: r.OverallProgress,
		Metadata:        r.Metadata,
		Artifacts:       r.Artifacts,
	}
}

// remoteContextStore implements queue.ContextStore over HTTP.
// SaveProgress is a no-op: spec.md §4.6 exposes no progress-reporting
// endpoint, so stage/percent mutations made through a remote
// JobContext are visible locally to the handler but are not persisted
// until the job's final complete/fail report, which carries artifacts
// only.
type remoteContextStore struct {
	w *RemoteWorker
}

func (s *remoteContextStore) ExtendLease(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	return s.w.heartbeat(ctx, jobID)
}

func (s *remoteContextStore) SaveProgress(ctx context.Context, jobID string, stages []queue.Stage, overall float64) error {
	return nil
}
