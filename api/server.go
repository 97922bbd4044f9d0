// Package api wires the gin HTTP surface for the queue runtime: health
// checks and the job transport routes of spec.md §4.6.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BillyRonksGlobal/queuecore/internal/queue"
	"github.com/BillyRonksGlobal/queuecore/internal/queue/httptransport"
	"github.com/BillyRonksGlobal/queuecore/pkg/config"
	"github.com/BillyRonksGlobal/queuecore/pkg/middleware"
)

// NewRouter assembles the gin engine: ambient middleware, health/ready
// checks, and the job queue's HTTP transport routes under /api/v1/jobs.
func NewRouter(client queue.Client, transport *httptransport.Server, logger *zap.Logger, cfg *config.Config) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.SecureHeaders())
	router.Use(middleware.APIVersion(cfg.App.Version))
	router.Use(middleware.Timeout(cfg.Server.ReadTimeout))

	h := &healthHandler{client: client}
	router.GET("/health", h.health)
	router.GET("/ready", h.ready)

	v1 := router.Group("/api/v1")
	jobs := v1.Group("/jobs")
	transport.RegisterRoutes(jobs)

	return router
}

type healthHandler struct {
	client queue.Client
}

func (h *healthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *healthHandler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.client.Stats(ctx, "default"); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
