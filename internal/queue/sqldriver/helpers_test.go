package sqldriver

import (
	"testing"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

func TestMarshalStagesEncodesNilAsEmptyArray(t *testing.T) {
	data, err := MarshalStages(nil)
	if err != nil {
		t.Fatalf("MarshalStages(nil): %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("MarshalStages(nil) = %s, want []", data)
	}
}

func TestMarshalUnmarshalStagesRoundTrip(t *testing.T) {
	stages := []queue.Stage{
		{Name: "download", Status: queue.StageCompleted},
		{Name: "transcode", Status: queue.StageRunning},
	}
	data, err := MarshalStages(stages)
	if err != nil {
		t.Fatalf("MarshalStages: %v", err)
	}
	got, err := UnmarshalStages(data)
	if err != nil {
		t.Fatalf("UnmarshalStages: %v", err)
	}
	if len(got) != 2 || got[0].Name != "download" || got[1].Status != queue.StageRunning {
		t.Errorf("round-tripped stages = %+v, want the original two stages", got)
	}
}

func TestUnmarshalStagesEmptyInputReturnsEmptySlice(t *testing.T) {
	got, err := UnmarshalStages(nil)
	if err != nil {
		t.Fatalf("UnmarshalStages(nil): %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("UnmarshalStages(nil) = %v, want empty non-nil slice", got)
	}
}

func TestMarshalMapEncodesNilAsEmptyObject(t *testing.T) {
	data, err := MarshalMap(nil)
	if err != nil {
		t.Fatalf("MarshalMap(nil): %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("MarshalMap(nil) = %s, want {}", data)
	}
}

func TestMarshalUnmarshalMapRoundTrip(t *testing.T) {
	m := map[string]any{"tenant": "acme", "retries": float64(3)}
	data, err := MarshalMap(m)
	if err != nil {
		t.Fatalf("MarshalMap: %v", err)
	}
	got, err := UnmarshalMap(data)
	if err != nil {
		t.Fatalf("UnmarshalMap: %v", err)
	}
	if got["tenant"] != "acme" || got["retries"] != float64(3) {
		t.Errorf("round-tripped map = %v, want the original", got)
	}
}

func TestUnmarshalMapEmptyInputReturnsEmptyMap(t *testing.T) {
	got, err := UnmarshalMap(nil)
	if err != nil {
		t.Fatalf("UnmarshalMap(nil): %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("UnmarshalMap(nil) = %v, want empty non-nil map", got)
	}
}
