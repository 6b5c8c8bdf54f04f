// Package scheduler turns cron schedules into jobs. One executor runs per
// cluster; leader election in cmd/scheduler enforces that.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"taskforge/pkg/logger"
	"taskforge/pkg/metrics"
	"taskforge/pkg/models"
	"taskforge/pkg/storage"
)

// cronParser accepts standard five-field expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validates a five-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// NextRun computes the first firing strictly after the given instant, in the
// schedule's timezone. Ambiguous or skipped local times during DST changes
// resolve to whatever the timezone database yields.
func NextRun(expr string, loc *time.Location, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(after.In(loc)), nil
}

// Executor fires due schedules at a fixed cadence.
type Executor struct {
	schedules storage.ScheduleStore
	jobs      storage.JobStore
	queue     storage.QueueManager
	interval  time.Duration
	batchSize int
	log       *zap.Logger

	now func() time.Time
}

// New builds an executor. interval defaults to 10s when zero.
func New(schedules storage.ScheduleStore, jobs storage.JobStore, queue storage.QueueManager, interval time.Duration) *Executor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Executor{
		schedules: schedules,
		jobs:      jobs,
		queue:     queue,
		interval:  interval,
		batchSize: 50,
		log:       logger.Get().Named("scheduler"),
		now:       time.Now,
	}
}

// Run fires due schedules until ctx is cancelled. The caller must hold
// leadership; Run itself does not campaign.
func (e *Executor) Run(ctx context.Context) {
	e.log.Info("schedule executor started", zap.Duration("interval", e.interval))

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("schedule executor stopped")
			return
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				e.log.Error("schedule tick failed", zap.Error(err))
			}
		}
	}
}

// Tick processes one batch of due schedules.
func (e *Executor) Tick(ctx context.Context) error {
	now := e.now().UTC()
	due, err := e.schedules.ListDueSchedules(ctx, now, e.batchSize)
	if err != nil {
		return err
	}

	for i := range due {
		e.fire(ctx, &due[i], now)
	}
	return nil
}

// fire creates one job from the schedule template and advances the firing
// state. The next fire time advances even when job creation fails, so a
// broken schedule cannot wedge the executor.
func (e *Executor) fire(ctx context.Context, sched *models.Schedule, now time.Time) {
	loc := sched.Location()
	next, err := NextRun(sched.CronExpr, loc, now)
	if err != nil {
		// Unparseable expressions are disabled rather than retried forever.
		e.log.Error("disabling schedule with invalid cron expression",
			zap.String("schedule_id", sched.ID.String()),
			zap.String("cron", sched.CronExpr),
			zap.Error(err))
		if derr := e.schedules.SetEnabled(ctx, sched.ID, false, nil); derr != nil {
			e.log.Error("failed to disable schedule", zap.Error(derr))
		}
		return
	}

	if sched.NextRunAt != nil {
		metrics.SchedulerLag.Observe(now.Sub(*sched.NextRunAt).Seconds())
	}

	job := &models.Job{
		Name:         sched.Name + " (scheduled)",
		Type:         sched.JobType,
		Payload:      sched.JobPayload,
		Priority:     sched.JobPriority,
		Status:       models.JobStatusPending,
		ScheduleID:   &sched.ID,
		MaxRetries:   3,
		RetryDelayMs: 1000,
	}

	fired := e.createAndEnqueue(ctx, job)
	if fired {
		metrics.SchedulesFiredTotal.Inc()
		e.log.Info("schedule fired",
			zap.String("schedule_id", sched.ID.String()),
			zap.String("job_id", job.ID.String()),
			zap.String("type", job.Type),
			zap.Time("next_run", next))
	}

	if err := e.schedules.MarkFired(ctx, sched.ID, now, next, fired); err != nil {
		e.log.Error("failed to advance schedule",
			zap.String("schedule_id", sched.ID.String()), zap.Error(err))
	}
}

func (e *Executor) createAndEnqueue(ctx context.Context, job *models.Job) bool {
	if err := e.jobs.CreateJob(ctx, job); err != nil {
		e.log.Error("failed to create scheduled job", zap.Error(err))
		return false
	}
	if err := e.queue.Enqueue(ctx, job.ID, job.Priority); err != nil {
		e.log.Error("failed to enqueue scheduled job",
			zap.String("job_id", job.ID.String()), zap.Error(err))
		return false
	}
	if err := e.jobs.MarkQueued(ctx, job.ID); err != nil {
		e.log.Warn("failed to mark scheduled job queued",
			zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	return true
}
