package postgres

import (
	"context"
	"fmt"

	"taskforge/pkg/models"
	"taskforge/pkg/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var _ storage.DeadLetterStore = (*Store)(nil)

func (s *Store) CreateDeadLetter(ctx context.Context, d *models.DeadLetterJob) error {
	result := s.db.WithContext(ctx).Create(d)
	if result.Error != nil {
		return fmt.Errorf("failed to create dead-letter entry: %w", result.Error)
	}
	return nil
}

func (s *Store) GetDeadLetter(ctx context.Context, id uuid.UUID) (*models.DeadLetterJob, error) {
	var d models.DeadLetterJob
	result := s.db.WithContext(ctx).First(&d, "id = ?", id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &d, nil
}

func (s *Store) ListDeadLetters(ctx context.Context, limit, offset int) ([]models.DeadLetterJob, error) {
	var entries []models.DeadLetterJob
	result := s.db.WithContext(ctx).
		Order("failed_at desc").
		Limit(limit).
		Offset(offset).
		Find(&entries)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list dead-letter entries: %w", result.Error)
	}
	return entries, nil
}

func (s *Store) DeleteDeadLetter(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&models.DeadLetterJob{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete dead-letter entry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CountDeadLetters(ctx context.Context) (int64, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&models.DeadLetterJob{}).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count dead-letter entries: %w", result.Error)
	}
	return count, nil
}
