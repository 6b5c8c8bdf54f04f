package storage

import (
	"context"
	"errors"
	"time"

	"taskforge/pkg/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict signals a guarded state transition whose predicate no
	// longer holds, e.g. completing a job that was reclaimed by recovery.
	ErrConflict = errors.New("conflicting state transition")
)

// JobStore is the durable system of record for jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, status models.JobStatus, limit, offset int) ([]models.Job, error)

	// MarkQueued moves a PENDING or RETRYING job to QUEUED.
	MarkQueued(ctx context.Context, id uuid.UUID) error

	// MarkProcessing assigns the job to a worker and stamps startedAt.
	MarkProcessing(ctx context.Context, id, workerID uuid.UUID, startedAt time.Time) error

	// CompleteJob records success. The update is conditional on
	// status = PROCESSING and worker_id = workerID; ErrConflict is
	// returned when the guard fails (the job was reclaimed).
	CompleteJob(ctx context.Context, id, workerID uuid.UUID, result models.JSONDoc, completedAt time.Time) error

	// MarkRetrying bumps retry_count and records the error, guarded the
	// same way as CompleteJob.
	MarkRetrying(ctx context.Context, id, workerID uuid.UUID, errMsg string) error

	// MarkFailed records permanent failure. When workerID is non-nil the
	// update carries the same guard as CompleteJob; a nil workerID covers
	// the missing-handler path where no PROCESSING transition happened and
	// is guarded on status IN (QUEUED, RETRYING) so a concurrent
	// cancellation yields ErrConflict instead of being overwritten.
	MarkFailed(ctx context.Context, id uuid.UUID, workerID *uuid.UUID, errMsg string, completedAt time.Time) error

	// CancelJob transitions to CANCELLED when the current status is
	// PENDING, QUEUED, or RETRYING; ErrConflict otherwise.
	CancelJob(ctx context.Context, id uuid.UUID) error

	// RecoverJob reclaims an orphaned PROCESSING job: status RETRYING,
	// retry_count incremented, worker_id cleared.
	RecoverJob(ctx context.Context, id uuid.UUID, errMsg string) error

	// ListProcessingByWorker pages the PROCESSING jobs owned by a worker.
	ListProcessingByWorker(ctx context.Context, workerID uuid.UUID, limit int) ([]models.Job, error)

	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
}

// ScheduleStore manages recurring job templates.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s *models.Schedule) error
	GetSchedule(ctx context.Context, id uuid.UUID) (*models.Schedule, error)
	ListSchedules(ctx context.Context, limit, offset int) ([]models.Schedule, error)
	UpdateSchedule(ctx context.Context, s *models.Schedule) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error

	// ListDueSchedules returns enabled schedules with next_run_at <= now,
	// ordered by next_run_at ascending.
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]models.Schedule, error)

	// MarkFired advances the firing state after a due schedule was
	// handled: last_run_at, next_run_at, run_count (incremented only when
	// fired is true; a failed job creation still advances next_run_at).
	MarkFired(ctx context.Context, id uuid.UUID, lastRun time.Time, nextRun time.Time, fired bool) error

	// SetEnabled toggles the schedule. nextRun must be nil when disabling
	// and the first future firing when enabling.
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool, nextRun *time.Time) error
}

// WorkerStore tracks registered worker processes.
type WorkerStore interface {
	RegisterWorker(ctx context.Context, w *models.Worker) error
	GetWorker(ctx context.Context, id uuid.UUID) (*models.Worker, error)
	ListWorkers(ctx context.Context, status models.WorkerStatus, limit, offset int) ([]models.Worker, error)
	Heartbeat(ctx context.Context, id uuid.UUID, at time.Time) error
	SetActiveJobs(ctx context.Context, id uuid.UUID, n int) error
	RecordOutcome(ctx context.Context, id uuid.UUID, failed bool) error
	StopWorker(ctx context.Context, id uuid.UUID, stoppedAt time.Time) error

	// ListStaleWorkers returns active workers whose last heartbeat is
	// before the cutoff.
	ListStaleWorkers(ctx context.Context, cutoff time.Time) ([]models.Worker, error)
	CountActive(ctx context.Context) (int64, error)
}

// DeadLetterStore is the terminal archive of permanently failed jobs.
type DeadLetterStore interface {
	CreateDeadLetter(ctx context.Context, d *models.DeadLetterJob) error
	GetDeadLetter(ctx context.Context, id uuid.UUID) (*models.DeadLetterJob, error)
	ListDeadLetters(ctx context.Context, limit, offset int) ([]models.DeadLetterJob, error)
	DeleteDeadLetter(ctx context.Context, id uuid.UUID) error
	CountDeadLetters(ctx context.Context) (int64, error)
}

// WebhookEventStore persists the outbound notification outbox.
type WebhookEventStore interface {
	CreateEvent(ctx context.Context, e *models.WebhookEvent) error
	GetEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)

	// ListRetryable returns events with status pending or retrying and
	// attempts below max_attempts.
	ListRetryable(ctx context.Context, limit int) ([]models.WebhookEvent, error)

	// MarkAttempt optimistically records one more delivery attempt.
	MarkAttempt(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkSuccess(ctx context.Context, id uuid.UUID, statusCode int, at time.Time) error
	// MarkFailure records a failed attempt; terminal indicates the event
	// exhausted its attempts. statusCode is nil on transport errors.
	MarkFailure(ctx context.Context, id uuid.UUID, statusCode *int, errMsg string, terminal bool) error
}

// QueueStats reports the cardinality of each queue index.
type QueueStats struct {
	Ready      int64 `json:"ready"`
	Delayed    int64 `json:"delayed"`
	Processing int64 `json:"processing"`
	DeadLetter int64 `json:"dead_letter"`
}

// QueueManager is the algebra over the sorted-set queue index. Every
// operation is individually atomic in the KV engine; multi-step agreement
// with the durable store is the caller's concern (durable-store-first on
// creation, queue-first on removal).
type QueueManager interface {
	Enqueue(ctx context.Context, jobID uuid.UUID, priority models.JobPriority) error
	EnqueueDelayed(ctx context.Context, jobID uuid.UUID, fireAt time.Time, priority models.JobPriority) error

	// Dequeue pops the minimum-score ready member, or uuid.Nil when the
	// ready index is empty. Non-blocking.
	Dequeue(ctx context.Context) (uuid.UUID, error)

	// PromoteDelayed moves due delayed members into the ready index and
	// returns the number promoted. Safe under concurrent promoters.
	PromoteDelayed(ctx context.Context) (int, error)

	MarkProcessing(ctx context.Context, jobID, workerID uuid.UUID) error
	MarkCompleted(ctx context.Context, jobID uuid.UUID) error

	// Requeue moves a job from the processing set into the delayed index
	// with fireAt = now + delay. Used for retries and orphan recovery.
	Requeue(ctx context.Context, jobID uuid.UUID, priority models.JobPriority, delay time.Duration) error

	MoveToDLQ(ctx context.Context, jobID uuid.UUID, reason string) error
	RemoveFromDLQ(ctx context.Context, jobID uuid.UUID) error

	Stats(ctx context.Context) (QueueStats, error)
}
