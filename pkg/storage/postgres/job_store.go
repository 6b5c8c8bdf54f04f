package postgres

import (
	"context"
	"fmt"
	"time"

	"taskforge/pkg/models"
	"taskforge/pkg/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var _ storage.JobStore = (*Store)(nil)

func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	result := s.db.WithContext(ctx).Create(job)
	if result.Error != nil {
		return fmt.Errorf("failed to create job: %w", result.Error)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	result := s.db.WithContext(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

func (s *Store) ListJobs(ctx context.Context, status models.JobStatus, limit, offset int) ([]models.Job, error) {
	var jobs []models.Job
	query := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Offset(offset)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) MarkQueued(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", id).
		Where("status IN ?", []models.JobStatus{models.JobStatusPending, models.JobStatusRetrying}).
		Update("status", models.JobStatusQueued)
	if result.Error != nil {
		return fmt.Errorf("failed to mark job queued: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) MarkProcessing(ctx context.Context, id, workerID uuid.UUID, startedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", id).
		Where("status IN ?", []models.JobStatus{models.JobStatusQueued, models.JobStatusRetrying}).
		Updates(map[string]interface{}{
			"status":     models.JobStatusProcessing,
			"worker_id":  workerID,
			"started_at": startedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job processing: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrConflict
	}
	return nil
}

// CompleteJob is conditional on status = PROCESSING and worker_id matching.
// A late finisher whose job was reclaimed by orphan recovery sees
// ErrConflict and its result is discarded.
func (s *Store) CompleteJob(ctx context.Context, id, workerID uuid.UUID, result models.JSONDoc, completedAt time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ? AND worker_id = ?", id, models.JobStatusProcessing, workerID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusCompleted,
			"result":       result,
			"error":        "",
			"worker_id":    nil,
			"completed_at": completedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) MarkRetrying(ctx context.Context, id, workerID uuid.UUID, errMsg string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ? AND worker_id = ?", id, models.JobStatusProcessing, workerID).
		Updates(map[string]interface{}{
			"status":      models.JobStatusRetrying,
			"retry_count": gorm.Expr("retry_count + 1"),
			"error":       errMsg,
			"worker_id":   nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job retrying: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrConflict
	}
	return nil
}

// MarkFailed carries the ownership guard when workerID is set. The nil
// branch covers jobs that never entered processing; it is still guarded on
// the dequeueable statuses so a concurrent cancellation wins the race and
// the row never leaves CANCELLED.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, workerID *uuid.UUID, errMsg string, completedAt time.Time) error {
	query := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id)
	if workerID != nil {
		query = query.Where("status = ? AND worker_id = ?", models.JobStatusProcessing, *workerID)
	} else {
		query = query.Where("status IN ?", []models.JobStatus{
			models.JobStatusQueued, models.JobStatusRetrying,
		})
	}
	result := query.Updates(map[string]interface{}{
		"status":       models.JobStatusFailed,
		"error":        errMsg,
		"worker_id":    nil,
		"completed_at": completedAt,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) CancelJob(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", id).
		Where("status IN ?", []models.JobStatus{
			models.JobStatusPending, models.JobStatusQueued, models.JobStatusRetrying,
		}).
		Update("status", models.JobStatusCancelled)
	if result.Error != nil {
		return fmt.Errorf("failed to cancel job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Distinguish missing from non-cancellable for the API layer.
		var count int64
		s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Count(&count)
		if count == 0 {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) RecoverJob(ctx context.Context, id uuid.UUID, errMsg string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":      models.JobStatusRetrying,
			"retry_count": gorm.Expr("retry_count + 1"),
			"error":       errMsg,
			"worker_id":   nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to recover job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) ListProcessingByWorker(ctx context.Context, workerID uuid.UUID, limit int) ([]models.Job, error) {
	var jobs []models.Job
	result := s.db.WithContext(ctx).
		Where("status = ? AND worker_id = ?", models.JobStatusProcessing, workerID).
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list processing jobs: %w", result.Error)
	}
	return jobs, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	type row struct {
		Status models.JobStatus
		Count  int64
	}
	var rows []row
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", result.Error)
	}
	counts := make(map[models.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
