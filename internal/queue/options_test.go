package queue

import (
	"testing"
	"time"
)

func TestNewEnqueueOptionsAppliesDefaults(t *testing.T) {
	opts := NewEnqueueOptions()

	if opts.MaxAttempts != 5 {
		t.Errorf("default MaxAttempts = %d, want 5", opts.MaxAttempts)
	}
	if opts.Backoff.Kind != BackoffExponential {
		t.Errorf("default Backoff.Kind = %v, want BackoffExponential", opts.Backoff.Kind)
	}
}

func TestNewEnqueueOptionsAppliesOverrides(t *testing.T) {
	opts := NewEnqueueOptions(
		WithIdempotencyKey("order-42"),
		WithPriority(10),
		WithMaxAttempts(3),
		WithDelay(time.Minute),
		WithMetadata(map[string]any{"tenant": "acme"}),
	)

	if opts.IdempotencyKey != "order-42" {
		t.Errorf("IdempotencyKey = %q, want order-42", opts.IdempotencyKey)
	}
	if opts.Priority != 10 {
		t.Errorf("Priority = %d, want 10", opts.Priority)
	}
	if opts.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", opts.MaxAttempts)
	}
	if opts.Delay != time.Minute {
		t.Errorf("Delay = %v, want 1m", opts.Delay)
	}
	if opts.Metadata["tenant"] != "acme" {
		t.Errorf("Metadata[tenant] = %v, want acme", opts.Metadata["tenant"])
	}
}

func TestScheduledForPrefersRunAtOverDelay(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	runAt := now.Add(24 * time.Hour)

	opts := EnqueueOptions{RunAt: &runAt, Delay: time.Minute}
	got := opts.ScheduledFor(now)

	if !got.Equal(runAt) {
		t.Errorf("ScheduledFor() = %v, want %v (RunAt should win over Delay)", got, runAt)
	}
}

func TestScheduledForFallsBackToDelay(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := EnqueueOptions{Delay: 5 * time.Minute}

	got := opts.ScheduledFor(now)
	want := now.Add(5 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("ScheduledFor() = %v, want %v", got, want)
	}
}

func TestScheduledForDefaultsToNow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := EnqueueOptions{}

	got := opts.ScheduledFor(now)
	if !got.Equal(now) {
		t.Errorf("ScheduledFor() = %v, want %v", got, now)
	}
}

func TestNewScheduleSpecAppliesOptions(t *testing.T) {
	spec := NewScheduleSpec("nightly-report", "reports",
		WithScheduleCron("0 2 * * *"),
		WithScheduleLimit(10),
		WithScheduleImmediately(),
	)

	if spec.Key != "nightly-report" || spec.Queue != "reports" {
		t.Errorf("Key/Queue = %q/%q, want nightly-report/reports", spec.Key, spec.Queue)
	}
	if spec.Cron != "0 2 * * *" {
		t.Errorf("Cron = %q, want 0 2 * * *", spec.Cron)
	}
	if spec.Limit != 10 {
		t.Errorf("Limit = %d, want 10", spec.Limit)
	}
	if !spec.Immediately {
		t.Error("expected Immediately to be true")
	}
}
