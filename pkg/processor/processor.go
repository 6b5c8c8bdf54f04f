// Package processor executes dequeued jobs: it resolves the handler for the
// job type, drives the durable state machine through the execution, and
// routes exhausted jobs into the dead-letter store.
package processor

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"taskforge/pkg/logger"
	"taskforge/pkg/metrics"
	"taskforge/pkg/models"
	"taskforge/pkg/storage"

	"github.com/google/uuid"
)

// maxRetryBackoff caps the exponential retry delay.
const maxRetryBackoff = 60 * time.Second

// Notifier receives terminal job outcomes for webhook delivery. succeeded
// distinguishes a completed job from a permanently failed one.
type Notifier interface {
	JobFinished(ctx context.Context, job *models.Job, succeeded bool)
}

// Processor runs a single job execution end to end.
type Processor struct {
	jobs        storage.JobStore
	deadLetters storage.DeadLetterStore
	queue       storage.QueueManager
	registry    *Registry
	archive     storage.ArchiveStore // optional
	notifier    Notifier             // optional
	log         *zap.Logger

	now func() time.Time
}

// New assembles a processor. archive and notifier may be nil; dead-letter
// archival and webhook delivery are skipped when they are.
func New(jobs storage.JobStore, deadLetters storage.DeadLetterStore, queue storage.QueueManager, registry *Registry, archive storage.ArchiveStore, notifier Notifier) *Processor {
	return &Processor{
		jobs:        jobs,
		deadLetters: deadLetters,
		queue:       queue,
		registry:    registry,
		archive:     archive,
		notifier:    notifier,
		log:         logger.Get().Named("processor"),
		now:         time.Now,
	}
}

// RetryBackoff computes the delay before the next attempt: the base delay
// doubled per prior retry, capped at one minute.
func RetryBackoff(retryDelayMs, retryCount int) time.Duration {
	backoff := time.Duration(retryDelayMs) * time.Millisecond
	for i := 0; i < retryCount; i++ {
		backoff *= 2
		if backoff >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	if backoff > maxRetryBackoff {
		return maxRetryBackoff
	}
	return backoff
}

// Process executes one job on behalf of a worker. The returned error covers
// infrastructure problems only; handler failures are absorbed into the job's
// retry or dead-letter path.
func (p *Processor) Process(ctx context.Context, job *models.Job, workerID uuid.UUID) error {
	handler, err := p.registry.Resolve(job.Type)
	if err != nil {
		// No handler means no execution ever started, so retrying cannot
		// help. The job goes straight to the dead letter store.
		p.log.Warn("no handler for job type",
			zap.String("job_id", job.ID.String()),
			zap.String("type", job.Type))
		return p.failPermanently(ctx, job, nil, "no registered handler", err.Error())
	}

	startedAt := p.now()
	if err := p.jobs.MarkProcessing(ctx, job.ID, workerID, startedAt); err != nil {
		return err
	}
	if err := p.queue.MarkProcessing(ctx, job.ID, workerID); err != nil {
		p.log.Warn("failed to record queue processing entry",
			zap.String("job_id", job.ID.String()), zap.Error(err))
	}

	result, handlerErr := handler(ctx, job)
	duration := p.now().Sub(startedAt)
	metrics.JobDuration.WithLabelValues(job.Type).Observe(duration.Seconds())

	if handlerErr == nil {
		return p.complete(ctx, job, workerID, result, duration)
	}
	return p.handleFailure(ctx, job, workerID, handlerErr)
}

func (p *Processor) complete(ctx context.Context, job *models.Job, workerID uuid.UUID, result models.JSONDoc, duration time.Duration) error {
	completedAt := p.now()
	err := p.jobs.CompleteJob(ctx, job.ID, workerID, result, completedAt)
	if err == storage.ErrConflict {
		// The job was reclaimed by orphan recovery while we ran it and
		// another attempt now owns it. Discard this result.
		p.log.Warn("completion lost ownership race, discarding result",
			zap.String("job_id", job.ID.String()))
		return nil
	}
	if err != nil {
		return err
	}

	if err := p.queue.MarkCompleted(ctx, job.ID); err != nil {
		p.log.Warn("failed to clear queue processing entry",
			zap.String("job_id", job.ID.String()), zap.Error(err))
	}

	metrics.JobsProcessedTotal.WithLabelValues(job.Type, "completed").Inc()
	p.log.Info("job completed",
		zap.String("job_id", job.ID.String()),
		zap.String("type", job.Type),
		zap.Duration("duration", duration))

	job.Status = models.JobStatusCompleted
	job.Result = result
	job.CompletedAt = &completedAt
	p.notify(ctx, job, true)
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, job *models.Job, workerID uuid.UUID, handlerErr error) error {
	errMsg := handlerErr.Error()

	if job.RetryCount < job.MaxRetries {
		if err := p.jobs.MarkRetrying(ctx, job.ID, workerID, errMsg); err != nil {
			if err == storage.ErrConflict {
				p.log.Warn("retry transition lost ownership race",
					zap.String("job_id", job.ID.String()))
				return nil
			}
			return err
		}
		backoff := RetryBackoff(job.RetryDelayMs, job.RetryCount)
		if err := p.queue.Requeue(ctx, job.ID, job.Priority, backoff); err != nil {
			return err
		}
		job.Status = models.JobStatusRetrying
		job.RetryCount++
		job.Error = errMsg
		metrics.JobRetriesTotal.WithLabelValues(job.Type).Inc()
		p.log.Info("job scheduled for retry",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempt", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Duration("backoff", backoff),
			zap.String("error", errMsg))
		return nil
	}

	return p.failPermanently(ctx, job, &workerID, "max retries exceeded", errMsg)
}

// failPermanently drives a job into FAILED and records the dead-letter
// post-mortem. A nil workerID is used for jobs that never entered
// processing; the status update then matches only QUEUED or RETRYING rows.
func (p *Processor) failPermanently(ctx context.Context, job *models.Job, workerID *uuid.UUID, reason, lastErr string) error {
	failedAt := p.now()
	if err := p.jobs.MarkFailed(ctx, job.ID, workerID, lastErr, failedAt); err != nil {
		if err == storage.ErrConflict {
			// Either the job was reclaimed by recovery or it was cancelled
			// before execution started. No dead letter either way.
			p.log.Warn("failure transition superseded, discarding",
				zap.String("job_id", job.ID.String()))
			return nil
		}
		return err
	}

	if err := p.queue.MoveToDLQ(ctx, job.ID, reason); err != nil {
		p.log.Warn("failed to move job to queue dead letter index",
			zap.String("job_id", job.ID.String()), zap.Error(err))
	}

	dead := &models.DeadLetterJob{
		OriginalJobID:     job.ID,
		JobName:           job.Name,
		JobType:           job.Type,
		JobPayload:        job.Payload,
		JobPriority:       job.Priority,
		FailureReason:     reason,
		FailureCount:      job.RetryCount + 1,
		LastError:         lastErr,
		WorkerID:          workerID,
		OriginalCreatedAt: job.CreatedAt,
		FailedAt:          failedAt,
	}
	dead.ArchiveRef = p.archivePostMortem(ctx, job, dead)

	if err := p.deadLetters.CreateDeadLetter(ctx, dead); err != nil {
		return err
	}

	metrics.JobsProcessedTotal.WithLabelValues(job.Type, "failed").Inc()
	metrics.DeadLetteredTotal.Inc()
	p.log.Error("job permanently failed",
		zap.String("job_id", job.ID.String()),
		zap.String("type", job.Type),
		zap.String("reason", reason),
		zap.String("error", lastErr))

	job.Status = models.JobStatusFailed
	job.Error = lastErr
	job.CompletedAt = &failedAt
	p.notify(ctx, job, false)
	return nil
}

// archivePostMortem uploads a snapshot of the failed job and returns the
// reference, or empty when no archive store is configured or the upload
// fails. Archival is best effort.
func (p *Processor) archivePostMortem(ctx context.Context, job *models.Job, dead *models.DeadLetterJob) string {
	if p.archive == nil {
		return ""
	}
	doc, err := json.Marshal(map[string]interface{}{
		"job":            job,
		"failure_reason": dead.FailureReason,
		"failure_count":  dead.FailureCount,
		"last_error":     dead.LastError,
		"failed_at":      dead.FailedAt,
	})
	if err != nil {
		return ""
	}
	ref, err := p.archive.Store(ctx, job.ID.String(), doc)
	if err != nil {
		p.log.Warn("failed to archive dead letter post-mortem",
			zap.String("job_id", job.ID.String()), zap.Error(err))
		return ""
	}
	return ref
}

func (p *Processor) notify(ctx context.Context, job *models.Job, succeeded bool) {
	if p.notifier == nil || job.WebhookURL == "" {
		return
	}
	p.notifier.JobFinished(ctx, job, succeeded)
}
