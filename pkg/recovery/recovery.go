// Package recovery reclaims jobs orphaned by dead workers. A worker whose
// heartbeat goes stale is marked stopped and every PROCESSING job it owned is
// returned to the queue as a retry.
package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"taskforge/pkg/logger"
	"taskforge/pkg/metrics"
	"taskforge/pkg/models"
	"taskforge/pkg/storage"
)

const orphanErrMsg = "worker died; job recovered automatically"

// Config tunes the recovery sweep.
type Config struct {
	// CheckInterval is the sweep cadence.
	CheckInterval time.Duration
	// StaleThreshold is how long a heartbeat may lag before the worker is
	// presumed dead. Must be comfortably larger than the heartbeat interval.
	StaleThreshold time.Duration
	// RecoveryDelay is the requeue delay for reclaimed jobs, giving a
	// worker that is merely slow a window to finish its guarded update.
	RecoveryDelay time.Duration
	// PageSize bounds jobs reclaimed per worker per sweep.
	PageSize int
}

// DefaultConfig returns production sweep settings.
func DefaultConfig() Config {
	return Config{
		CheckInterval:  60 * time.Second,
		StaleThreshold: 90 * time.Second,
		RecoveryDelay:  5 * time.Second,
		PageSize:       100,
	}
}

// Recoverer sweeps for stale workers and reclaims their jobs.
type Recoverer struct {
	cfg     Config
	jobs    storage.JobStore
	workers storage.WorkerStore
	queue   storage.QueueManager
	log     *zap.Logger

	now func() time.Time
}

func New(cfg Config, jobs storage.JobStore, workers storage.WorkerStore, queue storage.QueueManager) *Recoverer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Recoverer{
		cfg:     cfg,
		jobs:    jobs,
		workers: workers,
		queue:   queue,
		log:     logger.Get().Named("recovery"),
		now:     time.Now,
	}
}

// Run sweeps until ctx is cancelled.
func (r *Recoverer) Run(ctx context.Context) {
	r.log.Info("orphan recovery started",
		zap.Duration("check_interval", r.cfg.CheckInterval),
		zap.Duration("stale_threshold", r.cfg.StaleThreshold))

	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("orphan recovery stopped")
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.log.Error("recovery sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep performs one pass over stale workers.
func (r *Recoverer) Sweep(ctx context.Context) error {
	cutoff := r.now().UTC().Add(-r.cfg.StaleThreshold)
	stale, err := r.workers.ListStaleWorkers(ctx, cutoff)
	if err != nil {
		return err
	}

	for i := range stale {
		r.reclaimWorker(ctx, &stale[i])
	}
	return nil
}

func (r *Recoverer) reclaimWorker(ctx context.Context, worker *models.Worker) {
	r.log.Warn("stale worker detected",
		zap.String("worker_id", worker.ID.String()),
		zap.String("name", worker.Name),
		zap.Time("last_heartbeat", worker.LastHeartbeat))

	orphans, err := r.jobs.ListProcessingByWorker(ctx, worker.ID, r.cfg.PageSize)
	if err != nil {
		r.log.Error("failed to list orphaned jobs",
			zap.String("worker_id", worker.ID.String()), zap.Error(err))
		return
	}

	recovered := 0
	for i := range orphans {
		if r.reclaimJob(ctx, &orphans[i]) {
			recovered++
		}
	}

	// Leave the worker active when any reclaim failed; a stopped worker is
	// never swept again and its remaining jobs would be stranded.
	if recovered < len(orphans) {
		r.log.Warn("partial reclaim, worker left for next sweep",
			zap.String("worker_id", worker.ID.String()),
			zap.Int("recovered", recovered),
			zap.Int("orphans", len(orphans)))
		return
	}

	if err := r.workers.StopWorker(ctx, worker.ID, r.now().UTC()); err != nil {
		r.log.Error("failed to mark stale worker stopped",
			zap.String("worker_id", worker.ID.String()), zap.Error(err))
		return
	}

	metrics.StaleWorkersTotal.Inc()
	r.log.Info("stale worker reclaimed",
		zap.String("worker_id", worker.ID.String()),
		zap.Int("jobs_recovered", recovered))
}

// reclaimJob returns one orphan to the queue. The durable transition runs
// first so a crash between the two steps leaves a RETRYING row that the next
// sweep cannot double-requeue but an operator can see.
func (r *Recoverer) reclaimJob(ctx context.Context, job *models.Job) bool {
	if err := r.jobs.RecoverJob(ctx, job.ID, orphanErrMsg); err != nil {
		r.log.Error("failed to recover orphaned job",
			zap.String("job_id", job.ID.String()), zap.Error(err))
		return false
	}

	// Requeue clears the dead worker's processing entry and parks the job
	// in the delayed index.
	if err := r.queue.Requeue(ctx, job.ID, job.Priority, r.cfg.RecoveryDelay); err != nil {
		r.log.Error("failed to requeue orphaned job",
			zap.String("job_id", job.ID.String()), zap.Error(err))
		return false
	}

	metrics.OrphansRecoveredTotal.Inc()
	r.log.Info("orphaned job recovered",
		zap.String("job_id", job.ID.String()),
		zap.Int("retry_count", job.RetryCount+1))
	return true
}
