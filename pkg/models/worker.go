package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WorkerStatus represents the liveness state of a worker process.
type WorkerStatus string

const (
	WorkerStatusActive  WorkerStatus = "active"
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// Worker is a registration of a live processing process. A worker is
// stopped iff StoppedAt is set; LastHeartbeat never decreases.
type Worker struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Name     string    `json:"name" gorm:"not null"`
	Hostname string    `json:"hostname"`
	PID      int       `json:"pid"`

	Status      WorkerStatus `json:"status" gorm:"type:varchar(20);default:'active';index"`
	Concurrency int          `json:"concurrency" gorm:"default:1"`
	ActiveJobs  int          `json:"active_jobs" gorm:"default:0"`

	ProcessedCount int64 `json:"processed_count" gorm:"default:0"`
	FailedCount    int64 `json:"failed_count" gorm:"default:0"`

	// Advisory system info captured at registration.
	TotalMemoryMB uint64 `json:"total_memory_mb"`

	LastHeartbeat time.Time  `json:"last_heartbeat" gorm:"index"`
	StartedAt     time.Time  `json:"started_at"`
	StoppedAt     *time.Time `json:"stopped_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (w *Worker) BeforeCreate(tx *gorm.DB) (err error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return
}
