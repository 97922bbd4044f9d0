package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeStore is an in-memory queue.RemoteStore double, letting the
// transport's request parsing, status mapping and error translation be
// exercised without a real backend.
type fakeStore struct {
	claimJob   *queue.Job
	claimErr   error
	heartbeatErr error
	completeErr  error
	failErr      error
	rescheduleErr error
	stats       queue.Stats
	statsErr    error

	lastCompleteArtifacts map[string]any
	lastFailRetryAfter    *time.Duration
	lastRescheduleDelay   time.Duration
}

func (f *fakeStore) ClaimOne(ctx context.Context, queueName, workerID string, lease time.Duration) (*queue.Job, error) {
	return f.claimJob, f.claimErr
}

func (f *fakeStore) Heartbeat(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	return f.heartbeatErr
}

func (f *fakeStore) Complete(ctx context.Context, jobID, workerID string, artifacts map[string]any) error {
	f.lastCompleteArtifacts = artifacts
	return f.completeErr
}

func (f *fakeStore) Fail(ctx context.Context, jobID, workerID, lastError string, retryAfter *time.Duration) error {
	f.lastFailRetryAfter = retryAfter
	return f.failErr
}

func (f *fakeStore) Reschedule(ctx context.Context, jobID, workerID string, delay time.Duration) error {
	f.lastRescheduleDelay = delay
	return f.rescheduleErr
}

func (f *fakeStore) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	return f.stats, f.statsErr
}

func newTestRouter(store queue.RemoteStore, registrar queue.Registrar) *gin.Engine {
	server := NewServer(store, registrar, time.Minute, nil)
	router := gin.New()
	server.RegisterRoutes(router.Group("/jobs"))
	return router
}

func doRequest(router *gin.Engine, method, target string, body []byte) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestFetchReturnsClaimedJob(t *testing.T) {
	store := &fakeStore{claimJob: &queue.Job{ID: "job-1", Queue: "emails", Status: queue.StatusProcessing}}
	router := newTestRouter(store, nil)

	rec := doRequest(router, http.MethodGet, "/jobs/fetch?queue=emails&worker=w1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var resp JobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != "job-1" || resp.Status != "processing" {
		t.Errorf("resp = %+v, want ID=job-1 Status=processing", resp)
	}
}

func TestFetchReturnsNullWhenQueueEmpty(t *testing.T) {
	store := &fakeStore{claimJob: nil}
	router := newTestRouter(store, nil)

	rec := doRequest(router, http.MethodGet, "/jobs/fetch?queue=emails&worker=w1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "null" {
		t.Errorf("body = %q, want null", rec.Body.String())
	}
}

func TestFetchRequiresQueueAndWorker(t *testing.T) {
	store := &fakeStore{}
	router := newTestRouter(store, nil)

	rec := doRequest(router, http.MethodGet, "/jobs/fetch?queue=emails", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestFetchSurfacesClaimError(t *testing.T) {
	store := &fakeStore{claimErr: context.DeadlineExceeded}
	router := newTestRouter(store, nil)

	rec := doRequest(router, http.MethodGet, "/jobs/fetch?queue=emails&worker=w1", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

type fakeRegistrar struct {
	wake chan struct{}
}

func (f *fakeRegistrar) Register(queueName string) (<-chan struct{}, func()) {
	return f.wake, func() {}
}

func TestWaitReturnsImmediatelyWhenJobAvailable(t *testing.T) {
	store := &fakeStore{claimJob: &queue.Job{ID: "job-1", Status: queue.StatusProcessing}}
	router := newTestRouter(store, &fakeRegistrar{wake: make(chan struct{})})

	rec := doRequest(router, http.MethodGet, "/jobs/wait?queue=emails&worker=w1&timeout=5000", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp JobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != "job-1" {
		t.Errorf("resp.ID = %q, want job-1", resp.ID)
	}
}

func TestWaitTimesOutToNullWithoutRegistrar(t *testing.T) {
	store := &fakeStore{claimJob: nil}
	router := newTestRouter(store, nil)

	rec := doRequest(router, http.MethodGet, "/jobs/wait?queue=emails&worker=w1&timeout=1000", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "null" {
		t.Errorf("body = %q, want null", rec.Body.String())
	}
}

func TestHeartbeatRequiresWorkerField(t *testing.T) {
	store := &fakeStore{}
	router := newTestRouter(store, nil)

	rec := doRequest(router, http.MethodPost, "/jobs/job-1/heartbeat", []byte(`{}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHeartbeatSucceeds(t *testing.T) {
	store := &fakeStore{}
	router := newTestRouter(store, nil)

	rec := doRequest(router, http.MethodPost, "/jobs/job-1/heartbeat", []byte(`{"worker":"w1"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHeartbeatTranslatesLeaseLostToNotFound(t *testing.T) {
	store := &fakeStore{heartbeatErr: queue.ErrLeaseLost}
	router := newTestRouter(store, nil)

	rec := doRequest(router, http.MethodPost, "/jobs/job-1/heartbeat", []byte(`{"worker":"w1"}`))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCompletePassesArtifactsThrough(t *testing.T) {
	store := &fakeStore{}
	router := newTestRouter(store, nil)

	rec := doRequest(router, http.MethodPost, "/jobs/job-1/complete",
		[]byte(`{"worker":"w1","artifacts":{"sent":true}}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if store.lastCompleteArtifacts["sent"] != true {
		t.Errorf("artifacts = %v, want sent=true", store.lastCompleteArtifacts)
	}
}

func TestFailWithRetryAfterMsConvertsToDuration(t *testing.T) {
	store := &fakeStore{}
	router := newTestRouter(store, nil)

	rec := doRequest(router, http.MethodPost, "/jobs/job-1/fail",
		[]byte(`{"worker":"w1","error":"rate limited","retryAfterMs":5000}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if store.lastFailRetryAfter == nil || *store.lastFailRetryAfter != 5*time.Second {
		t.Errorf("retryAfter = %v, want 5s", store.lastFailRetryAfter)
	}
}

func TestFailWithoutRetryAfterLeavesItNil(t *testing.T) {
	store := &fakeStore{}
	router := newTestRouter(store, nil)

	rec := doRequest(router, http.MethodPost, "/jobs/job-1/fail",
		[]byte(`{"worker":"w1","error":"boom"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.lastFailRetryAfter != nil {
		t.Errorf("retryAfter = %v, want nil", store.lastFailRetryAfter)
	}
}

func TestRescheduleConvertsDelayMsToDuration(t *testing.T) {
	store := &fakeStore{}
	router := newTestRouter(store, nil)

	rec := doRequest(router, http.MethodPost, "/jobs/job-1/reschedule",
		[]byte(`{"worker":"w1","delayMs":2000}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if store.lastRescheduleDelay != 2*time.Second {
		t.Errorf("delay = %v, want 2s", store.lastRescheduleDelay)
	}
}

func TestStatsReturnsCounts(t *testing.T) {
	store := &fakeStore{stats: queue.Stats{Pending: 3, Completed: 1}}
	router := newTestRouter(store, nil)

	rec := doRequest(router, http.MethodGet, "/jobs/stats?queue=emails", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Pending != 3 || resp.Completed != 1 {
		t.Errorf("resp = %+v, want Pending=3 Completed=1", resp)
	}
}

func TestStatsSurfacesStoreError(t *testing.T) {
	store := &fakeStore{statsErr: context.DeadlineExceeded}
	router := newTestRouter(store, nil)

	rec := doRequest(router, http.MethodGet, "/jobs/stats?queue=emails", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestClampWaitTimeout(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", minWaitTimeout},
		{"abc", minWaitTimeout},
		{"500", minWaitTimeout},
		{"5000", 5 * time.Second},
		{"120000", maxWaitTimeout},
	}
	for _, tt := range tests {
		if got := clampWaitTimeout(tt.raw); got != tt.want {
			t.Errorf("clampWaitTimeout(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
