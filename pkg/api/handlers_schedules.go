package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"taskforge/pkg/models"
	"taskforge/pkg/scheduler"
	"taskforge/pkg/storage"
)

// CreateScheduleRequest is the payload for creating a recurring schedule.
type CreateScheduleRequest struct {
	Name        string             `json:"name" binding:"required"`
	CronExpr    string             `json:"cron_expr" binding:"required"`
	Timezone    string             `json:"timezone"`
	JobType     string             `json:"job_type" binding:"required"`
	JobPayload  models.JSONDoc     `json:"job_payload"`
	JobPriority models.JobPriority `json:"job_priority"`
	Enabled     *bool              `json:"enabled"`
}

// UpdateScheduleRequest carries partial schedule updates.
type UpdateScheduleRequest struct {
	Name        *string             `json:"name"`
	CronExpr    *string             `json:"cron_expr"`
	Timezone    *string             `json:"timezone"`
	JobType     *string             `json:"job_type"`
	JobPayload  *models.JSONDoc     `json:"job_payload"`
	JobPriority *models.JobPriority `json:"job_priority"`
}

// createSchedule handles POST /api/v1/schedules.
func (s *Server) createSchedule(c *gin.Context) {
	var req CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.validator.ValidateName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.ValidateJobType(req.JobType); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.ValidatePriority(req.JobPriority); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := scheduler.ParseCron(req.CronExpr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cron expression: " + err.Error()})
		return
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown timezone: " + timezone})
		return
	}

	priority := req.JobPriority
	if priority == "" {
		priority = models.PriorityNormal
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	sched := &models.Schedule{
		Name:        req.Name,
		CronExpr:    req.CronExpr,
		Timezone:    timezone,
		Enabled:     enabled,
		JobType:     req.JobType,
		JobPayload:  req.JobPayload,
		JobPriority: priority,
	}
	if enabled {
		next, err := scheduler.NextRun(req.CronExpr, loc, time.Now())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sched.NextRunAt = &next
	}

	if err := s.schedules.CreateSchedule(c.Request.Context(), sched); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create schedule: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sched)
}

// listSchedules handles GET /api/v1/schedules.
func (s *Server) listSchedules(c *gin.Context) {
	limit, offset := pagination(c)

	schedules, err := s.schedules.ListSchedules(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"schedules": schedules,
		"count":     len(schedules),
		"limit":     limit,
		"offset":    offset,
	})
}

// getSchedule handles GET /api/v1/schedules/:id.
func (s *Server) getSchedule(c *gin.Context) {
	sched, ok := s.loadSchedule(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sched)
}

// updateSchedule handles PATCH /api/v1/schedules/:id.
func (s *Server) updateSchedule(c *gin.Context) {
	sched, ok := s.loadSchedule(c)
	if !ok {
		return
	}

	var req UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name != nil {
		if err := s.validator.ValidateName(*req.Name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sched.Name = *req.Name
	}
	if req.JobType != nil {
		if err := s.validator.ValidateJobType(*req.JobType); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sched.JobType = *req.JobType
	}
	if req.JobPayload != nil {
		sched.JobPayload = *req.JobPayload
	}
	if req.JobPriority != nil {
		if err := s.validator.ValidatePriority(*req.JobPriority); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sched.JobPriority = *req.JobPriority
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown timezone: " + *req.Timezone})
			return
		}
		sched.Timezone = *req.Timezone
	}
	if req.CronExpr != nil {
		if _, err := scheduler.ParseCron(*req.CronExpr); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cron expression: " + err.Error()})
			return
		}
		sched.CronExpr = *req.CronExpr
	}

	// A rule change moves the next firing.
	if sched.Enabled && (req.CronExpr != nil || req.Timezone != nil) {
		next, err := scheduler.NextRun(sched.CronExpr, sched.Location(), time.Now())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sched.NextRunAt = &next
	}

	if err := s.schedules.UpdateSchedule(c.Request.Context(), sched); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sched)
}

// deleteSchedule handles DELETE /api/v1/schedules/:id.
func (s *Server) deleteSchedule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.schedules.DeleteSchedule(c.Request.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// enableSchedule handles POST /api/v1/schedules/:id/enable.
func (s *Server) enableSchedule(c *gin.Context) {
	sched, ok := s.loadSchedule(c)
	if !ok {
		return
	}

	next, err := scheduler.NextRun(sched.CronExpr, sched.Location(), time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.schedules.SetEnabled(c.Request.Context(), sched.ID, true, &next); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "enabled", "next_run_at": next})
}

// disableSchedule handles POST /api/v1/schedules/:id/disable.
func (s *Server) disableSchedule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.schedules.SetEnabled(c.Request.Context(), id, false, nil); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disabled"})
}

// triggerSchedule handles POST /api/v1/schedules/:id/trigger: fire the
// template immediately without touching the firing state.
func (s *Server) triggerSchedule(c *gin.Context) {
	sched, ok := s.loadSchedule(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	job := &models.Job{
		Name:         sched.Name + " (manual)",
		Type:         sched.JobType,
		Payload:      sched.JobPayload,
		Priority:     sched.JobPriority,
		Status:       models.JobStatusPending,
		ScheduleID:   &sched.ID,
		MaxRetries:   3,
		RetryDelayMs: 1000,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.queue.Enqueue(ctx, job.ID, job.Priority); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}
	if err := s.jobs.MarkQueued(ctx, job.ID); err == nil {
		job.Status = models.JobStatusQueued
	}
	c.JSON(http.StatusCreated, job)
}

// scheduleNextRuns handles GET /api/v1/schedules/:id/next-runs.
func (s *Server) scheduleNextRuns(c *gin.Context) {
	sched, ok := s.loadSchedule(c)
	if !ok {
		return
	}

	count := 5
	if raw := c.Query("count"); raw != "" {
		if n, err := parsePositiveInt(raw, 50); err == nil {
			count = n
		}
	}

	cronSched, err := scheduler.ParseCron(sched.CronExpr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stored cron expression is invalid"})
		return
	}

	loc := sched.Location()
	runs := make([]time.Time, 0, count)
	next := time.Now().In(loc)
	for i := 0; i < count; i++ {
		next = cronSched.Next(next)
		runs = append(runs, next)
	}

	c.JSON(http.StatusOK, gin.H{
		"schedule_id": sched.ID,
		"timezone":    sched.Timezone,
		"next_runs":   runs,
	})
}

func parsePositiveInt(raw string, max int) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > max {
		return 0, fmt.Errorf("value out of range: %d", n)
	}
	return n, nil
}

func (s *Server) loadSchedule(c *gin.Context) (*models.Schedule, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}
	sched, err := s.schedules.GetSchedule(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return sched, true
}
