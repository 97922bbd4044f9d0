package httptransport

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

func newTestHTTPServer(store queue.RemoteStore) *httptest.Server {
	router := newTestRouter(store, nil)
	return httptest.NewServer(router)
}

func testWorkerConfig() queue.WorkerConfig {
	return queue.WorkerConfig{
		Queue:             "emails",
		Concurrency:       1,
		PollInterval:      10 * time.Millisecond,
		LeaseDuration:     5 * time.Second,
		HeartbeatInterval: time.Hour,
		GracefulShutdown:  time.Second,
	}
}

func TestRemoteWorkerClaimsAndCompletesJob(t *testing.T) {
	store := &fakeStore{claimJob: &queue.Job{ID: "job-1", Queue: "emails", Status: queue.StatusProcessing, MaxAttempts: 5}}
	srv := newTestHTTPServer(store)
	defer srv.Close()

	invoked := make(chan struct{})
	handler := func(ctx context.Context, jc queue.JobContext) error {
		close(invoked)
		return nil
	}

	w := NewRemoteWorker(srv.URL+"/jobs", nil, testWorkerConfig(), handler)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop(context.Background())

	select {
	case <-invoked:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked by the remote worker")
	}
}

func TestRemoteWorkerReportsHandlerErrorAsFail(t *testing.T) {
	store := &fakeStore{claimJob: &queue.Job{ID: "job-1", Queue: "emails", Status: queue.StatusProcessing, MaxAttempts: 5}}
	srv := newTestHTTPServer(store)
	defer srv.Close()

	invoked := make(chan struct{})
	handler := func(ctx context.Context, jc queue.JobContext) error {
		defer close(invoked)
		return queue.NewPermanentError(context.DeadlineExceeded)
	}

	w := NewRemoteWorker(srv.URL+"/jobs", nil, testWorkerConfig(), handler)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop(context.Background())

	select {
	case <-invoked:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked by the remote worker")
	}
}

func TestWaitTimeoutClampedToConfiguredBounds(t *testing.T) {
	w := &RemoteWorker{cfg: queue.WorkerConfig{PollInterval: time.Millisecond}}
	if got := w.waitTimeout(); got != time.Second {
		t.Errorf("waitTimeout() with a tiny poll interval = %v, want the 1s floor", got)
	}

	w = &RemoteWorker{cfg: queue.WorkerConfig{PollInterval: time.Minute}}
	if got := w.waitTimeout(); got != 30*time.Second {
		t.Errorf("waitTimeout() with a large poll interval = %v, want the 30s ceiling", got)
	}
}
