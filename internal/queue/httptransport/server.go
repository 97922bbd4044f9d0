package httptransport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
)

const (
	minWaitTimeout = time.Second
	maxWaitTimeout = 60 * time.Second
)

// Server exposes spec.md §4.6's HTTP surface over a queue.RemoteStore,
// in the style of the teacher's worker.Handler: a thin struct wrapping
// a service and a *zap.Logger, with RegisterRoutes taking a
// *gin.RouterGroup rather than owning the gin.Engine.
type Server struct {
	store     queue.RemoteStore
	registrar queue.Registrar
	lease     time.Duration
	logger    *zap.Logger
}

// NewServer builds a Server. registrar may be nil, in which case GET
// /wait claims once, sleeps for the clamped timeout, then claims once
// more.
func NewServer(store queue.RemoteStore, registrar queue.Registrar, lease time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: store, registrar: registrar, lease: lease, logger: logger}
}

// RegisterRoutes registers the /jobs routes of spec.md §4.6.
func (s *Server) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/fetch", s.Fetch)
	rg.GET("/wait", s.Wait)
	rg.POST("/:id/heartbeat", s.Heartbeat)
	rg.POST("/:id/complete", s.Complete)
	rg.POST("/:id/fail", s.Fail)
	rg.POST("/:id/reschedule", s.Reschedule)
	rg.GET("/stats", s.Stats)
}

// Fetch handles GET /fetch?queue=Q&worker=W: a single non-blocking
// claim attempt.
func (s *Server) Fetch(c *gin.Context) {
	queueName := c.Query("queue")
	workerID := c.Query("worker")
	if queueName == "" || workerID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "queue and worker are required"})
		return
	}
	job, err := s.store.ClaimOne(c.Request.Context(), queueName, workerID, s.lease)
	if err != nil {
		s.logger.Error("claim failed", zap.Error(err), zap.String("queue", queueName))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "claim_failed", Message: "failed to claim a job"})
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

// Wait handles GET /wait?queue=Q&worker=W&timeout=ms: claim, and if
// none is ready, register in the waitlist until notified or the
// clamped timeout elapses, then claim once more.
func (s *Server) Wait(c *gin.Context) {
	queueName := c.Query("queue")
	workerID := c.Query("worker")
	if queueName == "" || workerID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "queue and worker are required"})
		return
	}
	timeout := clampWaitTimeout(c.Query("timeout"))

	ctx := c.Request.Context()
	job, err := s.store.ClaimOne(ctx, queueName, workerID, s.lease)
	if err != nil {
		s.logger.Error("claim failed", zap.Error(err), zap.String("queue", queueName))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "claim_failed", Message: "failed to claim a job"})
		return
	}
	if job != nil {
		c.JSON(http.StatusOK, toJobResponse(job))
		return
	}

	s.awaitWakeOrTimeout(ctx, queueName, timeout)

	job, err = s.store.ClaimOne(ctx, queueName, workerID, s.lease)
	if err != nil {
		s.logger.Error("claim failed", zap.Error(err), zap.String("queue", queueName))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "claim_failed", Message: "failed to claim a job"})
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

func (s *Server) awaitWakeOrTimeout(ctx context.Context, queueName string, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	if s.registrar == nil {
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		return
	}
	wake, cancel := s.registrar.Register(queueName)
	defer cancel()
	select {
	case <-ctx.Done():
	case <-wake:
	case <-timer.C:
	}
}

func clampWaitTimeout(raw string) time.Duration {
	ms, err := time.ParseDuration(raw + "ms")
	if err != nil || ms < minWaitTimeout {
		return minWaitTimeout
	}
	if ms > maxWaitTimeout {
		return maxWaitTimeout
	}
	return ms
}

// Heartbeat handles POST /{id}/heartbeat.
func (s *Server) Heartbeat(c *gin.Context) {
	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	err := s.store.Heartbeat(c.Request.Context(), c.Param("id"), req.Worker, s.lease)
	s.respondOwned(c, err)
}

// Complete handles POST /{id}/complete.
func (s *Server) Complete(c *gin.Context) {
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	err := s.store.Complete(c.Request.Context(), c.Param("id"), req.Worker, req.Artifacts)
	s.respondOwned(c, err)
}

// Fail handles POST /{id}/fail.
func (s *Server) Fail(c *gin.Context) {
	var req FailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	var retryAfter *time.Duration
	if req.RetryAfterMs != nil {
		d := time.Duration(*req.RetryAfterMs) * time.Millisecond
		retryAfter = &d
	}
	err := s.store.Fail(c.Request.Context(), c.Param("id"), req.Worker, req.Error, retryAfter)
	s.respondOwned(c, err)
}

// Reschedule handles POST /{id}/reschedule.
func (s *Server) Reschedule(c *gin.Context) {
	var req RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	delay := time.Duration(req.DelayMs) * time.Millisecond
	err := s.store.Reschedule(c.Request.Context(), c.Param("id"), req.Worker, delay)
	s.respondOwned(c, err)
}

func (s *Server) respondOwned(c *gin.Context, err error) {
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	if errors.Is(err, queue.ErrLeaseLost) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "lease_lost", Message: "job is not owned by this worker"})
		return
	}
	s.logger.Error("job mutation failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "update_failed", Message: "failed to update job"})
}

// Stats handles GET /stats?queue=Q.
func (s *Server) Stats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context(), c.Query("queue"))
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "stats_failed", Message: "failed to retrieve statistics"})
		return
	}
	c.JSON(http.StatusOK, toStatsResponse(stats))
}
