package queue

import "time"

// StageStatus is the lifecycle state of a single named stage within a
// job's multi-stage progress model.
type StageStatus uint8

const (
	StagePending StageStatus = iota
	StageRunning
	StageCompleted
	StageFailed
)

func (s StageStatus) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageRunning:
		return "running"
	case StageCompleted:
		return "completed"
	case StageFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Stage is one named unit of work within a job's ordered stage list.
// The ordered list is assigned once by JobContext.InitStages; stages may
// be appended (JobContext.AddStages) but never reordered.
type Stage struct {
	Name      string
	Status    StageStatus
	Percent   float64
	StartedAt *time.Time
	EndedAt   *time.Time
	Error     string
	Artifacts map[string]any
}

// OverallProgress computes the job-level percentage as the arithmetic
// mean of per-stage percentages, equally weighted, per spec.md §4.4.
// An empty stage list yields 0.
func OverallProgress(stages []Stage) float64 {
	if len(stages) == 0 {
		return 0
	}
	var sum float64
	for _, s := range stages {
		sum += s.Percent
	}
	return sum / float64(len(stages))
}

// findStage returns the index of the stage named name within stages,
// and whether it was found.
func findStage(stages []Stage, name string) (int, bool) {
	for i := range stages {
		if stages[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

// FindStage is the exported form of findStage, used by drivers that
// need to locate a stage by name without duplicating the scan.
func FindStage(stages []Stage, name string) (int, bool) {
	return findStage(stages, name)
}
