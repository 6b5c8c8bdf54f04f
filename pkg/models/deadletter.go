package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeadLetterJob is a post-mortem copy of a job whose retries were exhausted.
// The descriptor fields are immutable copies taken at the moment of failure.
type DeadLetterJob struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	OriginalJobID uuid.UUID `json:"original_job_id" gorm:"type:uuid;not null;index:idx_dlq_original_failed"`

	JobName     string      `json:"job_name"`
	JobType     string      `json:"job_type"`
	JobPayload  JSONDoc     `json:"job_payload" gorm:"type:jsonb"`
	JobPriority JobPriority `json:"job_priority" gorm:"type:varchar(20)"`

	FailureReason string     `json:"failure_reason"`
	FailureCount  int        `json:"failure_count"`
	LastError     string     `json:"last_error"`
	ErrorStack    string     `json:"error_stack"`
	WorkerID      *uuid.UUID `json:"worker_id" gorm:"type:uuid"`

	// ArchiveRef points at the uploaded post-mortem document, when an
	// archive store is configured.
	ArchiveRef string `json:"archive_ref"`

	OriginalCreatedAt time.Time `json:"original_created_at"`
	FailedAt          time.Time `json:"failed_at" gorm:"index:idx_dlq_original_failed"`

	CreatedAt time.Time `json:"created_at"`
}

func (d *DeadLetterJob) BeforeCreate(tx *gorm.DB) (err error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return
}
