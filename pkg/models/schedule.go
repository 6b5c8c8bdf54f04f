package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Schedule is a recurring job template driven by a 5-field cron expression.
type Schedule struct {
	ID   uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Name string    `json:"name" gorm:"not null"`

	// Rule
	CronExpr string `json:"cron_expr" gorm:"not null"`
	Timezone string `json:"timezone" gorm:"default:'UTC'"`
	Enabled  bool   `json:"enabled" gorm:"default:true;index"`

	// Template for produced jobs
	JobType     string      `json:"job_type" gorm:"not null"`
	JobPayload  JSONDoc     `json:"job_payload" gorm:"type:jsonb"`
	JobPriority JobPriority `json:"job_priority" gorm:"type:varchar(20);default:'NORMAL'"`

	// Firing state. NextRunAt is null iff the schedule is disabled.
	NextRunAt *time.Time `json:"next_run_at" gorm:"index"`
	LastRunAt *time.Time `json:"last_run_at"`
	RunCount  int64      `json:"run_count" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Schedule) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return
}

// Location resolves the schedule's IANA timezone, falling back to UTC when
// the name is empty or unknown.
func (s *Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
