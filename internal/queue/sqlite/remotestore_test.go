package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

func TestClaimOneLocksJobToWorker(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})
	id, err := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := client.ClaimOne(context.Background(), "emails", "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}
	if job == nil || job.ID != id {
		t.Fatalf("ClaimOne() = %v, want job %q", job, id)
	}

	second, err := client.ClaimOne(context.Background(), "emails", "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("second ClaimOne: %v", err)
	}
	if second != nil {
		t.Error("second ClaimOne should find nothing left to claim")
	}
}

func TestHeartbeatExtendsLeaseForOwningWorker(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})
	id, _ := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions())
	if _, err := client.ClaimOne(context.Background(), "emails", "worker-1", time.Minute); err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}

	if err := client.Heartbeat(context.Background(), id, "worker-1", 5*time.Minute); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
}

func TestHeartbeatFromWrongWorkerFails(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})
	id, _ := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions())
	if _, err := client.ClaimOne(context.Background(), "emails", "worker-1", time.Minute); err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}

	err := client.Heartbeat(context.Background(), id, "worker-2", 5*time.Minute)
	if err != queue.ErrLeaseLost {
		t.Errorf("Heartbeat from wrong worker = %v, want queue.ErrLeaseLost", err)
	}
}

func TestCompleteStoresArtifactsAndMarksDone(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})
	id, _ := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions())
	if _, err := client.ClaimOne(context.Background(), "emails", "worker-1", time.Minute); err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}

	err := client.Complete(context.Background(), id, "worker-1", map[string]any{"sent": true})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	job, err := client.GetJob(context.Background(), "emails", id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != queue.StatusCompleted {
		t.Errorf("Status = %v, want StatusCompleted", job.Status)
	}
	if job.Artifacts["sent"] != true {
		t.Errorf("Artifacts[sent] = %v, want true", job.Artifacts["sent"])
	}
}

func TestCompleteFromWrongWorkerFails(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})
	id, _ := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions())
	if _, err := client.ClaimOne(context.Background(), "emails", "worker-1", time.Minute); err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}

	err := client.Complete(context.Background(), id, "worker-2", nil)
	if err != queue.ErrLeaseLost {
		t.Errorf("Complete from wrong worker = %v, want queue.ErrLeaseLost", err)
	}
}

func TestFailWithRetryAfterReschedulesWithoutConsumingAttempt(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})
	id, _ := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions())
	if _, err := client.ClaimOne(context.Background(), "emails", "worker-1", time.Minute); err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}

	retryAfter := 30 * time.Second
	err := client.Fail(context.Background(), id, "worker-1", "rate limited", &retryAfter)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}

	job, err := client.GetJob(context.Background(), "emails", id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != queue.StatusPending {
		t.Errorf("Status after rate-limited Fail = %v, want StatusPending", job.Status)
	}
}

func TestFailExhaustsAttemptsAndMarksFailed(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})
	opts := queue.NewEnqueueOptions(queue.WithMaxAttempts(1))
	id, _ := client.Enqueue(context.Background(), "emails", []byte("{}"), opts)
	if _, err := client.ClaimOne(context.Background(), "emails", "worker-1", time.Minute); err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}

	err := client.Fail(context.Background(), id, "worker-1", "boom", nil)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}

	job, err := client.GetJob(context.Background(), "emails", id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != queue.StatusFailed {
		t.Errorf("Status = %v, want StatusFailed", job.Status)
	}
	if job.LastError != "boom" {
		t.Errorf("LastError = %q, want boom", job.LastError)
	}
}

func TestRescheduleRequeuesWithDelay(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})
	id, _ := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions())
	if _, err := client.ClaimOne(context.Background(), "emails", "worker-1", time.Minute); err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}

	err := client.Reschedule(context.Background(), id, "worker-1", time.Hour)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	job, err := client.GetJob(context.Background(), "emails", id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != queue.StatusPending {
		t.Errorf("Status after Reschedule = %v, want StatusPending", job.Status)
	}
	if !job.ScheduledFor.After(time.Now().Add(50 * time.Minute)) {
		t.Errorf("ScheduledFor = %v, want roughly 1h from now", job.ScheduledFor)
	}
}
