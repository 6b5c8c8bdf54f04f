package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobStatus represents the state of a job in its lifecycle.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusRetrying   JobStatus = "RETRYING"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// Terminal reports whether a job can never leave this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Dequeueable reports whether a worker may pick up a job in this status.
// A popped queue reference whose row is in any other status is discarded.
func (s JobStatus) Dequeueable() bool {
	return s == JobStatusQueued || s == JobStatusRetrying
}

// validTransitions encodes the job state machine. Keys are the current
// status; values are the statuses reachable from it.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusQueued, JobStatusCancelled},
	JobStatusQueued:     {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusRetrying, JobStatusFailed},
	JobStatusRetrying:   {JobStatusQueued, JobStatusProcessing, JobStatusCancelled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// JobPriority orders jobs across bands in the ready index.
type JobPriority string

const (
	PriorityCritical JobPriority = "CRITICAL"
	PriorityHigh     JobPriority = "HIGH"
	PriorityNormal   JobPriority = "NORMAL"
	PriorityLow      JobPriority = "LOW"
)

// PriorityOffsets maps each priority band to the millisecond offset added to
// the enqueue timestamp when computing the ready-index score. The gap between
// adjacent bands must exceed any plausible burst duration so a saturated
// lower band cannot starve a higher one.
var PriorityOffsets = map[JobPriority]int64{
	PriorityCritical: 0,
	PriorityHigh:     3_600_000,
	PriorityNormal:   7_200_000,
	PriorityLow:      10_800_000,
}

// Offset returns the score offset for the priority, defaulting unknown
// values to the NORMAL band.
func (p JobPriority) Offset() int64 {
	if off, ok := PriorityOffsets[p]; ok {
		return off
	}
	return PriorityOffsets[PriorityNormal]
}

// Valid reports whether the priority is one of the four known bands.
func (p JobPriority) Valid() bool {
	_, ok := PriorityOffsets[p]
	return ok
}

// JSONDoc is an opaque structured document stored as JSONB. Payloads and
// results carry no schema beyond round-tripping through JSON losslessly.
type JSONDoc map[string]interface{}

func (d *JSONDoc) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, d)
}

func (d JSONDoc) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// Job represents a single unit of work.
type Job struct {
	ID       uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	Name     string      `json:"name" gorm:"not null"`
	Type     string      `json:"type" gorm:"not null;index"`
	Payload  JSONDoc     `json:"payload" gorm:"type:jsonb"`
	Priority JobPriority `json:"priority" gorm:"type:varchar(20);default:'NORMAL'"`

	Status JobStatus `json:"status" gorm:"type:varchar(20);default:'PENDING';index"`

	// Scheduling
	ScheduledAt *time.Time `json:"scheduled_at" gorm:"index"`
	ScheduleID  *uuid.UUID `json:"schedule_id" gorm:"type:uuid;index"`

	// Retry policy
	MaxRetries   int `json:"max_retries" gorm:"default:3"`
	RetryDelayMs int `json:"retry_delay_ms" gorm:"default:1000"`
	RetryCount   int `json:"retry_count" gorm:"default:0"`

	// Execution tracking. WorkerID is set only while PROCESSING.
	WorkerID    *uuid.UUID `json:"worker_id" gorm:"type:uuid"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Result      JSONDoc    `json:"result" gorm:"type:jsonb"`
	Error       string     `json:"error"`

	WebhookURL string `json:"webhook_url"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (j *Job) BeforeCreate(tx *gorm.DB) (err error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return
}

// Delayed reports whether the job's earliest fire time is still in the
// future at the given instant.
func (j *Job) Delayed(now time.Time) bool {
	return j.ScheduledAt != nil && j.ScheduledAt.After(now)
}
