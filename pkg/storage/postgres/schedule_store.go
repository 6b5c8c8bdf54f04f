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

var _ storage.ScheduleStore = (*Store)(nil)

func (s *Store) CreateSchedule(ctx context.Context, sched *models.Schedule) error {
	result := s.db.WithContext(ctx).Create(sched)
	if result.Error != nil {
		return fmt.Errorf("failed to create schedule: %w", result.Error)
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (*models.Schedule, error) {
	var sched models.Schedule
	result := s.db.WithContext(ctx).First(&sched, "id = ?", id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &sched, nil
}

func (s *Store) ListSchedules(ctx context.Context, limit, offset int) ([]models.Schedule, error) {
	var schedules []models.Schedule
	result := s.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&schedules)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", result.Error)
	}
	return schedules, nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sched *models.Schedule) error {
	result := s.db.WithContext(ctx).
		Model(&models.Schedule{}).
		Where("id = ?", sched.ID).
		Updates(map[string]interface{}{
			"name":         sched.Name,
			"cron_expr":    sched.CronExpr,
			"timezone":     sched.Timezone,
			"enabled":      sched.Enabled,
			"job_type":     sched.JobType,
			"job_payload":  sched.JobPayload,
			"job_priority": sched.JobPriority,
			"next_run_at":  sched.NextRunAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&models.Schedule{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]models.Schedule, error) {
	var schedules []models.Schedule
	result := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Where("next_run_at <= ?", now).
		Order("next_run_at asc").
		Limit(limit).
		Find(&schedules)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", result.Error)
	}
	return schedules, nil
}

// MarkFired advances the firing state. run_count increments only when a job
// was actually created; next_run_at advances either way so a failed creation
// skips one firing instead of replaying it forever.
func (s *Store) MarkFired(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time, fired bool) error {
	updates := map[string]interface{}{
		"last_run_at": lastRun,
		"next_run_at": nextRun,
	}
	if fired {
		updates["run_count"] = gorm.Expr("run_count + 1")
	}
	result := s.db.WithContext(ctx).
		Model(&models.Schedule{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to mark schedule fired: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool, nextRun *time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Schedule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"enabled":     enabled,
			"next_run_at": nextRun,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to toggle schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
