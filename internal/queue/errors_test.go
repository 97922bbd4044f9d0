package queue

import (
	"errors"
	"testing"
	"time"
)

func TestClassifyOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil error completes", nil, OutcomeComplete},
		{"plain error retries", errors.New("boom"), OutcomeRetry},
		{"retryable error retries", NewRetryableError(errors.New("transient")), OutcomeRetry},
		{"permanent error fails", NewPermanentError(errors.New("bad input")), OutcomePermanent},
		{"rate limit error", NewRateLimitError(time.Second, errors.New("429")), OutcomeRateLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, _, _ := ClassifyOutcome(tt.err)
			if outcome != tt.want {
				t.Errorf("ClassifyOutcome(%v) = %v, want %v", tt.err, outcome, tt.want)
			}
		})
	}
}

func TestClassifyOutcomeReturnsRateLimitDetails(t *testing.T) {
	rl := NewRateLimitError(5*time.Second, nil)
	outcome, gotRL, gotPerm := ClassifyOutcome(rl)

	if outcome != OutcomeRateLimit {
		t.Fatalf("outcome = %v, want OutcomeRateLimit", outcome)
	}
	if gotPerm != nil {
		t.Error("expected nil PermanentError alongside a RateLimitError")
	}
	if gotRL == nil || gotRL.RetryAfter != 5*time.Second {
		t.Errorf("gotRL = %+v, want RetryAfter=5s", gotRL)
	}
}

func TestPermanentErrorUnwraps(t *testing.T) {
	cause := errors.New("invalid payload")
	err := NewPermanentError(cause)

	if !errors.Is(err, cause) {
		t.Error("expected PermanentError to unwrap to its cause")
	}
}

func TestRetryableErrorUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewRetryableError(cause)

	if !errors.Is(err, cause) {
		t.Error("expected RetryableError to unwrap to its cause")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "queue_backend", Reason: "must be one of postgres, sqlite, redis"}
	want := "queue: invalid queue_backend: must be one of postgres, sqlite, redis"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
