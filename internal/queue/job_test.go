package queue

import "testing"

func TestStatusStringAndParseRoundTrip(t *testing.T) {
	statuses := []Status{
		StatusPending, StatusProcessing, StatusCompleted,
		StatusFailed, StatusRetryPending,
	}

	for _, want := range statuses {
		s := want.String()
		got, err := ParseStatus(s)
		if err != nil {
			t.Errorf("ParseStatus(%q) returned error: %v", s, err)
		}
		if got != want {
			t.Errorf("ParseStatus(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestParseStatusUnknown(t *testing.T) {
	for _, s := range []string{"unknown", ""} {
		got, err := ParseStatus(s)
		if err != nil {
			t.Errorf("ParseStatus(%q) returned error: %v", s, err)
		}
		if got != StatusUnknown {
			t.Errorf("ParseStatus(%q) = %v, want StatusUnknown", s, got)
		}
	}
}

func TestParseStatusRejectsGarbage(t *testing.T) {
	_, err := ParseStatus("not_a_status")
	if err == nil {
		t.Error("ParseStatus(garbage) = nil error, want error")
	}
}

func TestDefaultBackoffPolicy(t *testing.T) {
	policy := DefaultBackoffPolicy()
	if policy.Kind != BackoffExponential {
		t.Errorf("DefaultBackoffPolicy().Kind = %v, want BackoffExponential", policy.Kind)
	}
	if policy.Base <= 0 {
		t.Error("DefaultBackoffPolicy().Base must be positive")
	}
}
