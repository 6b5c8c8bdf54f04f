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

var _ storage.WorkerStore = (*Store)(nil)

func (s *Store) RegisterWorker(ctx context.Context, w *models.Worker) error {
	result := s.db.WithContext(ctx).Create(w)
	if result.Error != nil {
		return fmt.Errorf("failed to register worker: %w", result.Error)
	}
	return nil
}

func (s *Store) GetWorker(ctx context.Context, id uuid.UUID) (*models.Worker, error) {
	var w models.Worker
	result := s.db.WithContext(ctx).First(&w, "id = ?", id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &w, nil
}

func (s *Store) ListWorkers(ctx context.Context, status models.WorkerStatus, limit, offset int) ([]models.Worker, error) {
	var workers []models.Worker
	query := s.db.WithContext(ctx).Order("started_at desc").Limit(limit).Offset(offset)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&workers).Error; err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	return workers, nil
}

// Heartbeat never moves last_heartbeat backwards, even if ticks are
// delivered out of order.
func (s *Store) Heartbeat(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Worker{}).
		Where("id = ? AND last_heartbeat < ?", id, at).
		Update("last_heartbeat", at)
	if result.Error != nil {
		return fmt.Errorf("failed to record heartbeat: %w", result.Error)
	}
	return nil
}

func (s *Store) SetActiveJobs(ctx context.Context, id uuid.UUID, n int) error {
	status := models.WorkerStatusIdle
	if n > 0 {
		status = models.WorkerStatusActive
	}
	result := s.db.WithContext(ctx).
		Model(&models.Worker{}).
		Where("id = ? AND stopped_at IS NULL", id).
		Updates(map[string]interface{}{
			"active_jobs": n,
			"status":      status,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update active jobs: %w", result.Error)
	}
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, id uuid.UUID, failed bool) error {
	column := "processed_count"
	if failed {
		column = "failed_count"
	}
	result := s.db.WithContext(ctx).
		Model(&models.Worker{}).
		Where("id = ?", id).
		Update(column, gorm.Expr(column+" + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to record outcome: %w", result.Error)
	}
	return nil
}

func (s *Store) StopWorker(ctx context.Context, id uuid.UUID, stoppedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Worker{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      models.WorkerStatusStopped,
			"stopped_at":  stoppedAt,
			"active_jobs": 0,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to stop worker: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListStaleWorkers(ctx context.Context, cutoff time.Time) ([]models.Worker, error) {
	var workers []models.Worker
	result := s.db.WithContext(ctx).
		Where("status IN ?", []models.WorkerStatus{models.WorkerStatusActive, models.WorkerStatusIdle}).
		Where("last_heartbeat < ?", cutoff).
		Find(&workers)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list stale workers: %w", result.Error)
	}
	return workers, nil
}

func (s *Store) CountActive(ctx context.Context) (int64, error) {
	var count int64
	result := s.db.WithContext(ctx).
		Model(&models.Worker{}).
		Where("status IN ?", []models.WorkerStatus{models.WorkerStatusActive, models.WorkerStatusIdle}).
		Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count active workers: %w", result.Error)
	}
	return count, nil
}
