// Package api exposes the management HTTP surface: job submission, schedule
// management, dead letter operations, and system introspection.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"taskforge/pkg/api/middleware"
	"taskforge/pkg/auth"
	"taskforge/pkg/logger"
	"taskforge/pkg/storage"
)

// Pinger reports connectivity of the durable store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server encapsulates the HTTP API server and its dependencies.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	log        *zap.Logger

	jobs        storage.JobStore
	schedules   storage.ScheduleStore
	workers     storage.WorkerStore
	deadLetters storage.DeadLetterStore
	webhooks    storage.WebhookEventStore
	queue       storage.QueueManager
	db          Pinger
	validator   *middleware.Validator
}

// Config holds API server configuration.
type Config struct {
	Port string

	Jobs        storage.JobStore
	Schedules   storage.ScheduleStore
	Workers     storage.WorkerStore
	DeadLetters storage.DeadLetterStore
	Webhooks    storage.WebhookEventStore
	Queue       storage.QueueManager
	DB          Pinger

	// Optional auth; when both are nil the API is open.
	JWTService  *auth.JWTService
	APIKeyStore auth.APIKeyStore

	// Tracing installs the per-request span middleware. Leave false when no
	// trace provider is configured.
	Tracing bool
}

// NewServer wires the middleware stack and routes.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware order matters: recovery outermost, limits before handlers.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	if cfg.Tracing {
		router.Use(middleware.TracingMiddleware("taskforge-api"))
	}
	router.Use(requestLogger())
	router.Use(middleware.RateLimitMiddleware())
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20))

	s := &Server{
		router:      router,
		log:         logger.Get().Named("api"),
		jobs:        cfg.Jobs,
		schedules:   cfg.Schedules,
		workers:     cfg.Workers,
		deadLetters: cfg.DeadLetters,
		webhooks:    cfg.Webhooks,
		queue:       cfg.Queue,
		db:          cfg.DB,
		validator:   middleware.NewValidator(middleware.DefaultValidatorConfig()),
	}

	s.registerRoutes(cfg)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening for HTTP requests. Blocks until shutdown.
func (s *Server) Start() error {
	s.log.Info("starting server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes(cfg Config) {
	// Liveness and readiness sit outside auth.
	s.router.GET("/health/live", s.healthLive)
	s.router.GET("/health/ready", s.healthReady)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	if cfg.JWTService != nil || cfg.APIKeyStore != nil {
		v1.Use(middleware.AuthMiddleware(middleware.AuthConfig{
			JWTService:  cfg.JWTService,
			APIKeyStore: cfg.APIKeyStore,
		}))
	}

	jobs := v1.Group("/jobs")
	{
		jobs.POST("", s.createJob)
		jobs.GET("", s.listJobs)
		jobs.GET("/:id", s.getJob)
		jobs.POST("/:id/cancel", s.cancelJob)
	}

	schedules := v1.Group("/schedules")
	{
		schedules.POST("", s.createSchedule)
		schedules.GET("", s.listSchedules)
		schedules.GET("/:id", s.getSchedule)
		schedules.PATCH("/:id", s.updateSchedule)
		schedules.DELETE("/:id", s.deleteSchedule)
		schedules.POST("/:id/enable", s.enableSchedule)
		schedules.POST("/:id/disable", s.disableSchedule)
		schedules.POST("/:id/trigger", s.triggerSchedule)
		schedules.GET("/:id/next-runs", s.scheduleNextRuns)
	}

	deadLetter := v1.Group("/dead-letter")
	{
		deadLetter.GET("", s.listDeadLetters)
		deadLetter.GET("/stats", s.deadLetterStats)
		deadLetter.GET("/:id", s.getDeadLetter)
		deadLetter.POST("/:id/retry", s.retryDeadLetter)
		deadLetter.DELETE("/:id", s.deleteDeadLetter)
	}

	system := v1.Group("/system")
	{
		system.GET("/workers", s.listWorkers)
		system.GET("/stats", s.systemStats)
	}
}

// requestLogger logs each request with its ID, status, and latency.
func requestLogger() gin.HandlerFunc {
	log := logger.Get().Named("api")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)))
	}
}

// healthLive reports process liveness only.
func (s *Server) healthLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// healthReady reports dependency health. Degraded (store reachable, no
// active workers) still returns 200 so load balancers keep routing
// submissions; a down store returns 503.
func (s *Server) healthReady(c *gin.Context) {
	ctx := c.Request.Context()
	deps := make(map[string]bool)

	deps["postgres"] = s.db != nil && s.db.Ping(ctx) == nil

	_, queueErr := s.queue.Stats(ctx)
	deps["redis"] = queueErr == nil

	status := "healthy"
	httpStatus := http.StatusOK
	for _, ok := range deps {
		if !ok {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	var activeWorkers int64
	if status == "healthy" {
		if n, err := s.workers.CountActive(ctx); err == nil {
			activeWorkers = n
			if n == 0 {
				status = "degraded"
			}
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":         status,
		"dependencies":   deps,
		"active_workers": activeWorkers,
		"timestamp":      time.Now().UTC(),
	})
}
