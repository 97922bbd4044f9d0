package httptransport

import (
	"time"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

// JobResponse is the wire shape of a queue.Job, following the teacher's
// JobResponse convention of a flat struct mirroring the domain type one
// field at a time rather than embedding it.
type JobResponse struct {
	ID             string         `json:"id"`
	Queue          string         `json:"queue"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Payload        []byte         `json:"payload"`
	Status         string         `json:"status"`
	Priority       int            `json:"priority"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"maxAttempts"`
	ScheduledFor   time.Time      `json:"scheduledFor"`
	StartedAt      *time.Time     `json:"startedAt,omitempty"`
	EndedAt        *time.Time     `json:"endedAt,omitempty"`
	LastError      string         `json:"lastError,omitempty"`
	CurrentStage   string         `json:"currentStage,omitempty"`
	OverallProgress float64        `json:"overallProgress"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Artifacts      map[string]any `json:"artifacts,omitempty"`
}

func toJobResponse(j *queue.Job) *JobResponse {
	if j == nil {
		return nil
	}
	return &JobResponse{
		ID:             j.ID,
		Queue:          j.Queue,
		IdempotencyKey: j.IdempotencyKey,
		Payload:        j.Payload,
		Status:         j.Status.String(),
		Priority:       j.Priority,
		Attempts:       j.Attempts,
		MaxAttempts:    j.MaxAttempts,
		ScheduledFor:   j.ScheduledFor,
		StartedAt:      j.StartedAt,
		EndedAt:        j.EndedAt,
		LastError:      j.LastError,
		CurrentStage:   j.CurrentStage,
		OverallProgress: j.OverallProgress,
		Metadata:       j.Metadata,
		Artifacts:      j.Artifacts,
	}
}

// HeartbeatRequest is the body of POST /{id}/heartbeat.
type HeartbeatRequest struct {
	Worker string `json:"worker" binding:"required"`
}

// CompleteRequest is the body of POST /{id}/complete.
type CompleteRequest struct {
	Worker    string         `json:"worker" binding:"required"`
	Artifacts map[string]any `json:"artifacts,omitempty"`
}

// FailRequest is the body of POST /{id}/fail. RetryAfterMs present
// selects the rate-limit path; absent selects the ordinary
// attempts-aware retry/fail path.
type FailRequest struct {
	Worker       string `json:"worker" binding:"required"`
	Error        string `json:"error"`
	RetryAfterMs *int64 `json:"retryAfterMs,omitempty"`
}

// RescheduleRequest is the body of POST /{id}/reschedule.
type RescheduleRequest struct {
	Worker  string `json:"worker" binding:"required"`
	DelayMs int64  `json:"delayMs"`
}

// StatsResponse is the response body of GET /stats.
type StatsResponse struct {
	Pending      int64 `json:"pending"`
	Processing   int64 `json:"processing"`
	Completed    int64 `json:"completed"`
	Failed       int64 `json:"failed"`
	RetryPending int64 `json:"retryPending"`
}

func toStatsResponse(s queue.Stats) StatsResponse {
	return StatsResponse{
		Pending:      s.Pending,
		Processing:   s.Processing,
		Completed:    s.Completed,
		Failed:       s.Failed,
		RetryPending: s.RetryPending,
	}
}

// ErrorResponse is the body of any non-2xx response, matching the
// teacher's api/worker/handlers.go ErrorResponse shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
