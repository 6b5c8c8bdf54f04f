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

var _ storage.WebhookEventStore = (*Store)(nil)

func (s *Store) CreateEvent(ctx context.Context, e *models.WebhookEvent) error {
	result := s.db.WithContext(ctx).Create(e)
	if result.Error != nil {
		return fmt.Errorf("failed to create webhook event: %w", result.Error)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	result := s.db.WithContext(ctx).First(&e, "id = ?", id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &e, nil
}

func (s *Store) ListRetryable(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	result := s.db.WithContext(ctx).
		Where("status IN ?", []models.WebhookStatus{models.WebhookStatusPending, models.WebhookStatusRetrying}).
		Where("attempts < max_attempts").
		Order("created_at asc").
		Limit(limit).
		Find(&events)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list retryable events: %w", result.Error)
	}
	return events, nil
}

func (s *Store) MarkAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          models.WebhookStatusRetrying,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_attempt_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark webhook attempt: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) MarkSuccess(ctx context.Context, id uuid.UUID, statusCode int, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           models.WebhookStatusSuccess,
			"last_status_code": statusCode,
			"completed_at":     at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark webhook success: %w", result.Error)
	}
	return nil
}

func (s *Store) MarkFailure(ctx context.Context, id uuid.UUID, statusCode *int, errMsg string, terminal bool) error {
	status := models.WebhookStatusRetrying
	if terminal {
		status = models.WebhookStatusFailed
	}
	updates := map[string]interface{}{
		"status":     status,
		"last_error": errMsg,
	}
	if statusCode != nil {
		updates["last_status_code"] = *statusCode
	}
	result := s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to mark webhook failure: %w", result.Error)
	}
	return nil
}
