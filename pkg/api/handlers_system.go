package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taskforge/pkg/models"
)

// listWorkers handles GET /api/v1/system/workers with optional status
// filter.
func (s *Server) listWorkers(c *gin.Context) {
	limit, offset := pagination(c)

	var status models.WorkerStatus
	if raw := c.Query("status"); raw != "" {
		status = models.WorkerStatus(raw)
	}

	workers, err := s.workers.ListWorkers(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"workers": workers,
		"count":   len(workers),
		"limit":   limit,
		"offset":  offset,
	})
}

// systemStats handles GET /api/v1/system/stats: queue depths plus durable
// job counts per status.
func (s *Server) systemStats(c *gin.Context) {
	ctx := c.Request.Context()

	queueStats, err := s.queue.Stats(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	jobCounts, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	activeWorkers, err := s.workers.CountActive(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"queue":          queueStats,
		"jobs":           jobCounts,
		"active_workers": activeWorkers,
	})
}
