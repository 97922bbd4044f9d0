package queue

import "testing"

func TestScheduleSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    ScheduleSpec
		wantErr bool
	}{
		{
			name: "valid cron",
			spec: ScheduleSpec{Key: "k", Queue: "q", Cron: "0 2 * * *"},
		},
		{
			name: "valid interval",
			spec: ScheduleSpec{Key: "k", Queue: "q", Interval: 1},
		},
		{
			name:    "missing key",
			spec:    ScheduleSpec{Queue: "q", Cron: "0 2 * * *"},
			wantErr: true,
		},
		{
			name:    "missing queue",
			spec:    ScheduleSpec{Key: "k", Cron: "0 2 * * *"},
			wantErr: true,
		},
		{
			name:    "no schedule set",
			spec:    ScheduleSpec{Key: "k", Queue: "q"},
			wantErr: true,
		},
		{
			name:    "cron and interval both set",
			spec:    ScheduleSpec{Key: "k", Queue: "q", Cron: "0 2 * * *", Interval: 1},
			wantErr: true,
		},
		{
			name:    "malformed cron",
			spec:    ScheduleSpec{Key: "k", Queue: "q", Cron: "not a cron"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestParseCronAcceptsFiveAndSixField(t *testing.T) {
	if _, err := ParseCron("0 2 * * *"); err != nil {
		t.Errorf("5-field cron rejected: %v", err)
	}
	if _, err := ParseCron("0 0 2 * * *"); err != nil {
		t.Errorf("6-field cron rejected: %v", err)
	}
}

func TestParseCronRejectsWrongFieldCount(t *testing.T) {
	if _, err := ParseCron("* * *"); err == nil {
		t.Error("3-field cron accepted, want rejection")
	}
}
