package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookStatus represents the delivery state of an outbox event.
type WebhookStatus string

const (
	WebhookStatusPending  WebhookStatus = "pending"
	WebhookStatusRetrying WebhookStatus = "retrying"
	WebhookStatusSuccess  WebhookStatus = "success"
	WebhookStatusFailed   WebhookStatus = "failed"
)

// WebhookEvent is the outbox entry for one outbound notification. The
// payload is frozen at creation; delivery state evolves on the row only.
type WebhookEvent struct {
	ID      uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	JobID   uuid.UUID `json:"job_id" gorm:"type:uuid;not null;index:idx_webhook_status_job,priority:2"`
	JobType string    `json:"job_type"`
	URL     string    `json:"url" gorm:"not null"`
	Payload JSONDoc   `json:"payload" gorm:"type:jsonb"`

	Status      WebhookStatus `json:"status" gorm:"type:varchar(20);default:'pending';index:idx_webhook_status_job,priority:1"`
	Attempts    int           `json:"attempts" gorm:"default:0"`
	MaxAttempts int           `json:"max_attempts" gorm:"default:3"`

	LastStatusCode *int       `json:"last_status_code"`
	LastError      string     `json:"last_error"`
	LastAttemptAt  *time.Time `json:"last_attempt_at"`
	CompletedAt    *time.Time `json:"completed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e *WebhookEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return
}
