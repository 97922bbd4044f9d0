package queue

import (
	"testing"
	"time"
)

func TestBackoffExponentialDoublesPerAttempt(t *testing.T) {
	policy := BackoffPolicy{Kind: BackoffExponential, Base: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}

	for _, tt := range tests {
		got := Backoff(policy, tt.attempt)
		if got != tt.want {
			t.Errorf("Backoff(attempt=%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffLinearScalesWithAttempt(t *testing.T) {
	policy := BackoffPolicy{Kind: BackoffLinear, Base: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{5, 5 * time.Second},
	}

	for _, tt := range tests {
		got := Backoff(policy, tt.attempt)
		if got != tt.want {
			t.Errorf("Backoff(attempt=%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffFixedIgnoresAttempt(t *testing.T) {
	policy := BackoffPolicy{Kind: BackoffFixed, Base: 3 * time.Second}

	for _, attempt := range []int{1, 2, 10} {
		got := Backoff(policy, attempt)
		if got != 3*time.Second {
			t.Errorf("Backoff(attempt=%d) = %s, want 3s", attempt, got)
		}
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	policy := BackoffPolicy{Kind: BackoffExponential, Base: time.Second, Max: 5 * time.Second}

	got := Backoff(policy, 10)
	if got != 5*time.Second {
		t.Errorf("Backoff with attempt=10 = %s, want capped 5s", got)
	}
}

func TestBackoffJitterStaysWithinBounds(t *testing.T) {
	policy := BackoffPolicy{Kind: BackoffFixed, Base: time.Second, JitterFactor: 0.5}

	for i := 0; i < 20; i++ {
		got := Backoff(policy, 1)
		if got < time.Second || got > 1500*time.Millisecond {
			t.Errorf("Backoff with jitter = %s, want in [1s, 1.5s]", got)
		}
	}
}

func TestBackoffTreatsSubOneAttemptAsOne(t *testing.T) {
	policy := BackoffPolicy{Kind: BackoffExponential, Base: time.Second}

	got := Backoff(policy, 0)
	want := Backoff(policy, 1)
	if got != want {
		t.Errorf("Backoff(attempt=0) = %s, want same as attempt=1 (%s)", got, want)
	}
}
