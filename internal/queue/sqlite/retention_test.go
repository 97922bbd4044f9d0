package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

func TestPruneRemovesCompletedJobsOlderThanCutoff(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})

	id, err := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	markProcessing(t, client, id, "w1")
	if err := client.complete(context.Background(), id, "w1", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if _, err := db.NewUpdate().Model((*jobModel)(nil)).
		Set("ended_at = ?", old).
		Where("id = ?", id).
		Exec(context.Background()); err != nil {
		t.Fatalf("backdate ended_at: %v", err)
	}

	n, err := client.Prune(context.Background(), queue.RetentionPolicy{CompletedAfter: 24 * time.Hour})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() pruned %d rows, want 1", n)
	}

	job, err := client.GetJob(context.Background(), "emails", id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job != nil {
		t.Error("expected pruned job to be gone")
	}
}

func TestPruneLeavesRecentJobsAlone(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})

	id, _ := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions())
	markProcessing(t, client, id, "w1")
	if err := client.complete(context.Background(), id, "w1", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	n, err := client.Prune(context.Background(), queue.RetentionPolicy{CompletedAfter: 24 * time.Hour})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 0 {
		t.Errorf("Prune() pruned %d rows for a freshly-completed job, want 0", n)
	}
}

func TestPruneExcessCapsRowsPerStatus(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})

	for i := 0; i < 5; i++ {
		id, err := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions())
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		markProcessing(t, client, id, "w1")
		if err := client.complete(context.Background(), id, "w1", nil); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	n, err := client.Prune(context.Background(), queue.RetentionPolicy{MaxRowsPerStatus: 2})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 3 {
		t.Errorf("Prune() pruned %d rows, want 3 (5 - cap of 2)", n)
	}

	stats, err := client.Stats(context.Background(), "emails")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Completed != 2 {
		t.Errorf("Completed after prune = %d, want 2", stats.Completed)
	}
}

func TestPruneWithZeroPolicyDeletesNothing(t *testing.T) {
	db := newTestDB(t)
	client := New(db, &recordingNotifier{})

	id, _ := client.Enqueue(context.Background(), "emails", []byte("{}"), queue.NewEnqueueOptions())
	markProcessing(t, client, id, "w1")
	if err := client.complete(context.Background(), id, "w1", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	n, err := client.Prune(context.Background(), queue.RetentionPolicy{})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 0 {
		t.Errorf("Prune() with zero policy pruned %d rows, want 0", n)
	}
}
