package queue

import "testing"

func TestOverallProgressAveragesStages(t *testing.T) {
	tests := []struct {
		name   string
		stages []Stage
		want   float64
	}{
		{"empty", nil, 0},
		{"single", []Stage{{Percent: 50}}, 50},
		{"two equal", []Stage{{Percent: 40}, {Percent: 60}}, 50},
		{"uneven", []Stage{{Percent: 0}, {Percent: 100}, {Percent: 50}}, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OverallProgress(tt.stages)
			if got != tt.want {
				t.Errorf("OverallProgress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindStage(t *testing.T) {
	stages := []Stage{{Name: "download"}, {Name: "process"}, {Name: "upload"}}

	idx, ok := FindStage(stages, "process")
	if !ok || idx != 1 {
		t.Errorf("FindStage(process) = (%d, %v), want (1, true)", idx, ok)
	}

	_, ok = FindStage(stages, "missing")
	if ok {
		t.Error("FindStage(missing) = found, want not found")
	}
}

func TestStageStatusString(t *testing.T) {
	tests := []struct {
		status StageStatus
		want   string
	}{
		{StagePending, "pending"},
		{StageRunning, "running"},
		{StageCompleted, "completed"},
		{StageFailed, "failed"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("StageStatus(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}
