package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"taskforge/pkg/models"
	"taskforge/pkg/storage"
)

// listDeadLetters handles GET /api/v1/dead-letter.
func (s *Server) listDeadLetters(c *gin.Context) {
	limit, offset := pagination(c)

	entries, err := s.deadLetters.ListDeadLetters(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dead_letters": entries,
		"count":        len(entries),
		"limit":        limit,
		"offset":       offset,
	})
}

// getDeadLetter handles GET /api/v1/dead-letter/:id.
func (s *Server) getDeadLetter(c *gin.Context) {
	entry, ok := s.loadDeadLetter(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, entry)
}

// retryDeadLetter handles POST /api/v1/dead-letter/:id/retry: resubmit the
// failed job as a fresh one with a clean retry budget, then drop the dead
// letter entry.
func (s *Server) retryDeadLetter(c *gin.Context) {
	entry, ok := s.loadDeadLetter(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	job := &models.Job{
		Name:         entry.JobName + " (retried)",
		Type:         entry.JobType,
		Payload:      entry.JobPayload,
		Priority:     entry.JobPriority,
		Status:       models.JobStatusPending,
		MaxRetries:   3,
		RetryDelayMs: 1000,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job: " + err.Error()})
		return
	}
	if err := s.queue.Enqueue(ctx, job.ID, job.Priority); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}
	if err := s.jobs.MarkQueued(ctx, job.ID); err == nil {
		job.Status = models.JobStatusQueued
	}

	// Cleanup is best effort; the new job already exists.
	if err := s.queue.RemoveFromDLQ(ctx, entry.OriginalJobID); err != nil {
		s.log.Warn("failed to remove original job from queue dead letter index")
	}
	if err := s.deadLetters.DeleteDeadLetter(ctx, entry.ID); err != nil {
		s.log.Warn("failed to delete dead letter entry after retry")
	}

	c.JSON(http.StatusCreated, gin.H{
		"job":              job,
		"original_job_id":  entry.OriginalJobID,
		"dead_letter_id":   entry.ID,
		"dead_letter_gone": true,
	})
}

// deleteDeadLetter handles DELETE /api/v1/dead-letter/:id.
func (s *Server) deleteDeadLetter(c *gin.Context) {
	entry, ok := s.loadDeadLetter(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := s.queue.RemoveFromDLQ(ctx, entry.OriginalJobID); err != nil {
		s.log.Warn("failed to remove job from queue dead letter index")
	}
	if err := s.deadLetters.DeleteDeadLetter(ctx, entry.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// deadLetterStats handles GET /api/v1/dead-letter/stats.
func (s *Server) deadLetterStats(c *gin.Context) {
	ctx := c.Request.Context()

	total, err := s.deadLetters.CountDeadLetters(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	queueStats, err := s.queue.Stats(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":       total,
		"queue_index": queueStats.DeadLetter,
	})
}

func (s *Server) loadDeadLetter(c *gin.Context) (*models.DeadLetterJob, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}
	entry, err := s.deadLetters.GetDeadLetter(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "dead letter entry not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return entry, true
}
