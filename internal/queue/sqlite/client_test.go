package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

// newTestDB opens a fresh in-memory SQLite database with its schema
// applied. Each test gets an isolated database since ":memory:" is
// per-connection and bun's default pool is capped to one connection
// below to keep all statements on the same in-memory instance.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	if err := InitSchema(context.Background(), db); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return db
}

// markProcessing forces id directly to processing under workerID,
// bypassing claim(), so complete/fail's lease guard has something to
// match in tests that don't need a full claim cycle.
func markProcessing(t *testing.T, client *Client, id, workerID string) {
	t.Helper()
	_, err := client.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", queue.StatusProcessing.String()).
		Set("locked_by = ?", workerID).
		Where("id = ?", id).
		Exec(context.Background())
	if err != nil {
		t.Fatalf("markProcessing: %v", err)
	}
}

type recordingNotifier struct {
	notified []string
	armed    []string
}

func (r *recordingNotifier) Notify(queueName string)              { r.notified = append(r.notified, queueName) }
func (r *recordingNotifier) ArmAt(queueName string, _ time.Time)   { r.armed = append(r.armed, queueName) }
func (r *recordingNotifier) NotifyAll(queueName string)            { r.notified = append(r.notified, queueName) }

func TestEnqueueAssignsIDAndNotifies(t *testing.T) {
	db := newTestDB(t)
	notifier := &recordingNotifier{}
	client := New(db, notifier)

	id, err := client.Enqueue(context.Background(), "emails", []byte(`{"to":"a@b.com"}`), queue.NewEnqueueOptions())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("Enqueue returned empty ID")
	}
	if len(notifier.notified) != 1 || notifier.notified[0] != "emails" {
		t.Errorf("notifier.notified = %v, want [emails]", notifier.notified)
	}

	job, err := client.GetJob(context.Background(), "emails", id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != queue.StatusPending {
		t.Errorf("Status = %v, want StatusPending", job.Status)
	}
}

func TestEnqueueWithDelayArmsInsteadOfNotifying(t *testing.T) {
	db := newTestDB(t)
	notifier := &recordingNotifier{}
	client := New(db, notifier)

	_, err := client.Enqueue(context.Background(), "emails", []byte("{}"),
		queue.NewEnqueueOptions(queue.WithDelay(time.Hour)))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(notifier.armed) != 1 {
		t.Errorf("expected ArmAt to be called once, got %d", len(notifier.armed))
	}
	if len(notifier.notified) != 0 {
		t.Errorf("Notify should not fire for a delayed job, got %v", notifier.notified)
	}
}

func TestEnqueueIdempotencyKeyReturnsExistingID(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})

	id1, err := client.Enqueue(context.Background(), "emails", []byte("{}"),
		queue.NewEnqueueOptions(queue.WithIdempotencyKey("order-1")))
	if err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}

	id2, err := client.Enqueue(context.Background(), "emails", []byte("{}"),
		queue.NewEnqueueOptions(queue.WithIdempotencyKey("order-1")))
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if id1 != id2 {
		t.Errorf("second Enqueue returned a different ID: %q vs %q", id1, id2)
	}
}

func TestEnqueueReplaceIfNotActiveResetsJob(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})

	id, err := client.Enqueue(context.Background(), "emails", []byte(`{"v":1}`),
		queue.NewEnqueueOptions(queue.WithIdempotencyKey("order-1")))
	if err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}

	opts := queue.NewEnqueueOptions(queue.WithIdempotencyKey("order-1"))
	opts.Replace = queue.ReplaceIfNotActive
	_, err = client.Enqueue(context.Background(), "emails", []byte(`{"v":2}`), opts)
	if err != nil {
		t.Fatalf("replace Enqueue: %v", err)
	}

	job, err := client.GetJob(context.Background(), "emails", id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if string(job.Payload) != `{"v":2}` {
		t.Errorf("Payload = %s, want replaced payload", job.Payload)
	}
}

func TestCancelPendingJobSucceeds(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})

	id, err := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ok, err := client.Cancel(context.Background(), "emails", id)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !ok {
		t.Fatal("Cancel() = false, want true")
	}

	job, _ := client.GetJob(context.Background(), "emails", id)
	if job.Status != queue.StatusFailed {
		t.Errorf("Status after cancel = %v, want StatusFailed", job.Status)
	}
}

func TestCancelUnknownJobReturnsFalse(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})

	ok, err := client.Cancel(context.Background(), "emails", "does-not-exist")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok {
		t.Error("Cancel() = true for an unknown job, want false")
	}
}

func TestRetryFailedJobReschedulesToPending(t *testing.T) {
	db := newTestDB(t)
	notifier := &recordingNotifier{}
	client := New(db, notifier)

	id, _ := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions())
	markProcessing(t, client, id, "w1")
	if err := client.fail(context.Background(), id, "w1", "boom", nil); err != nil {
		t.Fatalf("fail: %v", err)
	}

	ok, err := client.Retry(context.Background(), "emails", id)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !ok {
		t.Fatal("Retry() = false, want true")
	}

	job, _ := client.GetJob(context.Background(), "emails", id)
	if job.Status != queue.StatusPending {
		t.Errorf("Status after retry = %v, want StatusPending", job.Status)
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})

	for i := 0; i < 3; i++ {
		if _, err := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions()); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	id, _ := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions())
	markProcessing(t, client, id, "w1")
	if err := client.complete(context.Background(), id, "w1", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stats, err := client.Stats(context.Background(), "emails")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Pending != 3 {
		t.Errorf("Pending = %d, want 3", stats.Pending)
	}
	if stats.Completed != 1 {
		t.Errorf("Completed = %d, want 1", stats.Completed)
	}
}

func TestExtendLeaseFailsWhenLockMismatched(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})

	id, _ := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions())

	err := client.ExtendLease(context.Background(), id, "some-worker", time.Minute)
	if err != queue.ErrLeaseLost {
		t.Errorf("ExtendLease on an unlocked job = %v, want queue.ErrLeaseLost", err)
	}
}
