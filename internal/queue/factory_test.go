package queue

import "testing"

func TestParseBackend(t *testing.T) {
	tests := []struct {
		input   string
		want    Backend
		wantErr bool
	}{
		{"postgres", BackendPostgres, false},
		{"postgresql", BackendPostgres, false},
		{"pg", BackendPostgres, false},
		{"sqlite", BackendSQLite, false},
		{"sqlite3", BackendSQLite, false},
		{"redis", BackendRedis, false},
		{"mysql", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseBackend(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseBackend(%q) = nil error, want error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseBackend(%q) unexpected error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseBackend(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestBackendString(t *testing.T) {
	tests := []struct {
		backend Backend
		want    string
	}{
		{BackendPostgres, "postgres"},
		{BackendSQLite, "sqlite"},
		{BackendRedis, "redis"},
		{Backend(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.backend.String(); got != tt.want {
			t.Errorf("Backend(%d).String() = %q, want %q", tt.backend, got, tt.want)
		}
	}
}
