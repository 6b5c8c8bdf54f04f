package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskforge/pkg/api/middleware"
	"taskforge/pkg/models"
	"taskforge/pkg/storage"
)

// CreateJobRequest is the payload for submitting a job.
type CreateJobRequest struct {
	Name         string             `json:"name" binding:"required"`
	Type         string             `json:"type" binding:"required"`
	Payload      models.JSONDoc     `json:"payload"`
	Priority     models.JobPriority `json:"priority"`
	ScheduledAt  *time.Time         `json:"scheduled_at"`
	MaxRetries   *int               `json:"max_retries"`
	RetryDelayMs *int               `json:"retry_delay_ms"`
	WebhookURL   string             `json:"webhook_url"`
}

// createJob handles POST /api/v1/jobs.
func (s *Server) createJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.validateJobRequest(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	maxRetries := 3
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		maxRetries = *req.MaxRetries
	}
	retryDelayMs := 1000
	if req.RetryDelayMs != nil {
		retryDelayMs = *req.RetryDelayMs
	}

	job := &models.Job{
		Name:         req.Name,
		Type:         req.Type,
		Payload:      req.Payload,
		Priority:     priority,
		Status:       models.JobStatusPending,
		ScheduledAt:  req.ScheduledAt,
		MaxRetries:   maxRetries,
		RetryDelayMs: retryDelayMs,
		WebhookURL:   req.WebhookURL,
	}

	// Durable row first; a crash after this point leaves a PENDING row an
	// operator can re-enqueue, never a queue entry with no row.
	ctx := c.Request.Context()
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job: " + err.Error()})
		return
	}

	now := time.Now().UTC()
	var enqueueErr error
	if job.Delayed(now) {
		enqueueErr = s.queue.EnqueueDelayed(ctx, job.ID, *job.ScheduledAt, job.Priority)
	} else {
		enqueueErr = s.queue.Enqueue(ctx, job.ID, job.Priority)
	}
	if enqueueErr != nil {
		s.log.Error("failed to enqueue job",
			zap.String("job_id", job.ID.String()), zap.Error(enqueueErr))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	if err := s.jobs.MarkQueued(ctx, job.ID); err != nil {
		s.log.Warn("failed to mark job queued",
			zap.String("job_id", job.ID.String()), zap.Error(err))
	} else {
		job.Status = models.JobStatusQueued
	}

	c.JSON(http.StatusCreated, job)
}

func (s *Server) validateJobRequest(req *CreateJobRequest) error {
	if err := s.validator.ValidateName(req.Name); err != nil {
		return err
	}
	if err := s.validator.ValidateJobType(req.Type); err != nil {
		return err
	}
	if err := s.validator.ValidatePriority(req.Priority); err != nil {
		return err
	}
	if err := s.validator.ValidateWebhookURL(req.WebhookURL); err != nil {
		return err
	}
	if req.ScheduledAt != nil && req.ScheduledAt.Before(time.Now().Add(-time.Minute)) {
		return &middleware.ValidationError{Field: "scheduled_at", Message: "scheduled_at must not be in the past"}
	}
	if req.RetryDelayMs != nil && *req.RetryDelayMs < 100 {
		return &middleware.ValidationError{Field: "retry_delay_ms", Message: "retry_delay_ms must be at least 100"}
	}
	return nil
}

// listJobs handles GET /api/v1/jobs with optional status filter.
func (s *Server) listJobs(c *gin.Context) {
	limit, offset := pagination(c)

	var status models.JobStatus
	if raw := c.Query("status"); raw != "" {
		status = models.JobStatus(raw)
	}

	jobs, err := s.jobs.ListJobs(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"count":  len(jobs),
		"limit":  limit,
		"offset": offset,
	})
}

// getJob handles GET /api/v1/jobs/:id.
func (s *Server) getJob(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	job, err := s.jobs.GetJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

// cancelJob handles POST /api/v1/jobs/:id/cancel. Jobs already running or
// finished cannot be cancelled.
func (s *Server) cancelJob(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	err := s.jobs.CancelJob(c.Request.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, storage.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "job cannot be cancelled in its current status"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		// The queue reference is left in place; dequeue discards it after
		// seeing the CANCELLED row.
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	}
}

// parseID reads the :id path parameter as a UUID, answering 400 itself on
// failure.
func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

// pagination reads limit/offset query parameters with bounds.
func pagination(c *gin.Context) (int, int) {
	limit := 50
	offset := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
