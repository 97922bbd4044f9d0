package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ContextStore is the narrow persistence surface a jobContext needs from
// its driver: extend the lease and flush stage/progress mutations. Each
// driver (postgres, sqlite, redisqueue) implements this against its own
// schema; jobContext itself is entirely storage-agnostic, generalizing
// the half-lock heartbeat extension pattern from RomanQed-gqs's
// worker.go into a richer context object instead of a raw message.
type ContextStore interface {
	ExtendLease(ctx context.Context, jobID, workerID string, lease time.Duration) error
	SaveProgress(ctx context.Context, jobID string, stages []Stage, overall float64) error
}

// jobContext is the concrete JobContext handed to a JobHandler.
type jobContext struct {
	mu    sync.Mutex
	job   *Job
	store ContextStore
	log   func(msg string, fields ...any)
	lease time.Duration
	done  <-chan struct{}
	bus   *EventBus
}

// NewJobContext builds a JobContext wrapping job. done is closed by the
// worker when it begins a graceful shutdown; logFn receives job-id- and
// queue-enriched log calls. bus may be nil, in which case stage
// mutations simply skip publishing.
func NewJobContext(job *Job, store ContextStore, lease time.Duration, done <-chan struct{}, logFn func(string, ...any), bus *EventBus) JobContext {
	if logFn == nil {
		logFn = func(string, ...any) {}
	}
	return &jobContext{job: job, store: store, lease: lease, done: done, log: logFn, bus: bus}
}

// eventKey derives the EventBus key for job per spec.md §4.4: the
// user-or-tenant id from metadata when present, falling back to the
// queue name so a bus is still useful without per-tenant metadata.
func eventKey(job *Job) string {
	for _, k := range []string{"tenant", "tenant_id", "user_id"} {
		if v, ok := job.Metadata[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return "processing:" + s
			}
		}
	}
	return "processing:" + job.Queue
}

func (c *jobContext) Job() *Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *c.job
	return &cp
}

func (c *jobContext) Heartbeat(ctx context.Context) error {
	c.mu.Lock()
	job := c.job
	c.mu.Unlock()
	return c.store.ExtendLease(ctx, job.ID, job.LockedBy, c.lease)
}

func (c *jobContext) Log(msg string, fields ...any) {
	c.log(msg, fields...)
}

func (c *jobContext) Progress(ctx context.Context, percent float64) error {
	c.mu.Lock()
	c.job.OverallProgress = clampPercent(percent)
	stages := append([]Stage(nil), c.job.Stages...)
	overall := c.job.OverallProgress
	c.mu.Unlock()
	return c.store.SaveProgress(ctx, c.job.ID, stages, overall)
}

func (c *jobContext) InitStages(ctx context.Context, names []string) error {
	c.mu.Lock()
	stages := make([]Stage, 0, len(names))
	for _, n := range names {
		stages = append(stages, Stage{Name: n, Status: StagePending})
	}
	c.job.Stages = stages
	c.job.OverallProgress = OverallProgress(stages)
	overall := c.job.OverallProgress
	c.mu.Unlock()
	return c.store.SaveProgress(ctx, c.job.ID, stages, overall)
}

func (c *jobContext) AddStages(ctx context.Context, names []string) error {
	c.mu.Lock()
	for _, n := range names {
		if _, ok := FindStage(c.job.Stages, n); ok {
			continue
		}
		c.job.Stages = append(c.job.Stages, Stage{Name: n, Status: StagePending})
	}
	c.job.OverallProgress = OverallProgress(c.job.Stages)
	stages := append([]Stage(nil), c.job.Stages...)
	overall := c.job.OverallProgress
	c.mu.Unlock()
	return c.store.SaveProgress(ctx, c.job.ID, stages, overall)
}

func (c *jobContext) StartStage(ctx context.Context, name string) error {
	return c.mutateStage(ctx, name, EventStageStarted, func(s *Stage) error {
		s.Status = StageRunning
		now := time.Now()
		s.StartedAt = &now
		c.job.CurrentStage = name
		return nil
	})
}

func (c *jobContext) UpdateStageProgress(ctx context.Context, name string, percent float64) error {
	return c.mutateStage(ctx, name, EventStageProgress, func(s *Stage) error {
		s.Percent = clampPercent(percent)
		return nil
	})
}

func (c *jobContext) CompleteStage(ctx context.Context, name string, artifacts map[string]any) error {
	return c.mutateStage(ctx, name, EventStageCompleted, func(s *Stage) error {
		s.Status = StageCompleted
		s.Percent = 100
		now := time.Now()
		s.EndedAt = &now
		if artifacts != nil {
			if c.job.Artifacts == nil {
				c.job.Artifacts = make(map[string]any, len(artifacts))
			}
			for k, v := range artifacts {
				c.job.Artifacts[k] = v
			}
			s.Artifacts = artifacts
		}
		return nil
	})
}

func (c *jobContext) FailStage(ctx context.Context, name string, err error) error {
	return c.mutateStage(ctx, name, EventStageFailed, func(s *Stage) error {
		s.Status = StageFailed
		now := time.Now()
		s.EndedAt = &now
		if err != nil {
			s.Error = err.Error()
		}
		return nil
	})
}

func (c *jobContext) mutateStage(ctx context.Context, name string, kind EventKind, mutate func(*Stage) error) error {
	c.mu.Lock()
	idx, ok := findStage(c.job.Stages, name)
	if !ok {
		c.mu.Unlock()
		return errors.New("queue: unknown stage " + name)
	}
	if err := mutate(&c.job.Stages[idx]); err != nil {
		c.mu.Unlock()
		return err
	}
	c.job.OverallProgress = OverallProgress(c.job.Stages)
	stages := append([]Stage(nil), c.job.Stages...)
	overall := c.job.OverallProgress
	stage := c.job.Stages[idx]
	key := eventKey(c.job)
	jobID := c.job.ID
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(Event{Kind: kind, JobID: jobID, Key: key, Stage: name, Percent: stage.Percent, Error: stage.Error})
	}
	return c.store.SaveProgress(ctx, jobID, stages, overall)
}

func (c *jobContext) Done() <-chan struct{} {
	return c.done
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
