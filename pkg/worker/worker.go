// Package worker runs the job consumption loop: dequeue, validate, execute,
// report. One Worker maps to one registered row in the worker store.
package worker

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"taskforge/pkg/logger"
	"taskforge/pkg/metrics"
	"taskforge/pkg/models"
	"taskforge/pkg/storage"
)

// JobProcessor executes a dequeued job on behalf of a worker.
type JobProcessor interface {
	Process(ctx context.Context, job *models.Job, workerID uuid.UUID) error
}

// Config tunes the worker loops.
type Config struct {
	Name              string
	Concurrency       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	PromoteInterval   time.Duration
}

// DefaultConfig returns production loop intervals.
func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		Concurrency:       1,
		PollInterval:      time.Second,
		HeartbeatInterval: 30 * time.Second,
		PromoteInterval:   5 * time.Second,
	}
}

// Worker consumes ready jobs until its context is cancelled.
type Worker struct {
	cfg     Config
	id      uuid.UUID
	jobs    storage.JobStore
	workers storage.WorkerStore
	queue   storage.QueueManager
	proc    JobProcessor
	log     *zap.Logger
}

// New assembles a worker. Register must be called before Run.
func New(cfg Config, jobs storage.JobStore, workers storage.WorkerStore, queue storage.QueueManager, proc JobProcessor) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Worker{
		cfg:     cfg,
		jobs:    jobs,
		workers: workers,
		queue:   queue,
		proc:    proc,
		log:     logger.Get().Named("worker"),
	}
}

// ID returns the worker's registration ID. Valid after Register.
func (w *Worker) ID() uuid.UUID { return w.id }

// Register writes the worker row with host metadata and an initial
// heartbeat.
func (w *Worker) Register(ctx context.Context) error {
	hostname, _ := os.Hostname()

	var totalMB uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		totalMB = vm.Total / 1024 / 1024
	}

	now := time.Now().UTC()
	row := &models.Worker{
		Name:          w.cfg.Name,
		Hostname:      hostname,
		PID:           os.Getpid(),
		Status:        models.WorkerStatusIdle,
		Concurrency:   w.cfg.Concurrency,
		TotalMemoryMB: totalMB,
		LastHeartbeat: now,
		StartedAt:     now,
	}
	if err := w.workers.RegisterWorker(ctx, row); err != nil {
		return err
	}
	w.id = row.ID
	w.log = w.log.With(zap.String("worker_id", w.id.String()))
	w.log.Info("worker registered",
		zap.String("name", w.cfg.Name),
		zap.String("hostname", hostname),
		zap.Int("pid", row.PID),
		zap.Uint64("total_memory_mb", totalMB))
	return nil
}

// Run drives the heartbeat, promotion, and consumption loops until ctx is
// cancelled, then marks the worker stopped.
func (w *Worker) Run(ctx context.Context) error {
	if w.id == uuid.Nil {
		return errors.New("worker not registered")
	}

	go w.heartbeatLoop(ctx)
	go w.promoteLoop(ctx)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything that is ready before sleeping.
		for w.consumeOne(ctx) {
			if ctx.Err() != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			return w.shutdown()
		case <-ticker.C:
		}
	}
}

// consumeOne pops and processes a single job. Returns true when a job was
// handled, false when the queue was empty or an error forced a backoff.
func (w *Worker) consumeOne(ctx context.Context) bool {
	jobID, err := w.queue.Dequeue(ctx)
	if err != nil {
		w.log.Error("dequeue failed", zap.Error(err))
		return false
	}
	if jobID == uuid.Nil {
		return false
	}

	job, err := w.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			w.log.Warn("dequeued reference has no job row, discarding",
				zap.String("job_id", jobID.String()))
			return true
		}
		w.log.Error("failed to load dequeued job",
			zap.String("job_id", jobID.String()), zap.Error(err))
		return false
	}

	// The queue holds references, not truth. A cancelled or already
	// terminal job is simply dropped here.
	if !job.Status.Dequeueable() {
		w.log.Info("discarding dequeued job in non-runnable status",
			zap.String("job_id", jobID.String()),
			zap.String("status", string(job.Status)))
		return true
	}

	w.setActive(ctx, 1)
	err = w.proc.Process(ctx, job, w.id)
	w.setActive(ctx, 0)

	if err != nil {
		w.log.Error("job processing failed",
			zap.String("job_id", jobID.String()), zap.Error(err))
	}
	w.recordOutcome(ctx, job, err)
	return true
}

func (w *Worker) setActive(ctx context.Context, n int) {
	metrics.WorkerJobsInFlight.Set(float64(n))
	if err := w.workers.SetActiveJobs(ctx, w.id, n); err != nil {
		w.log.Warn("failed to update active job count", zap.Error(err))
	}
}

func (w *Worker) recordOutcome(ctx context.Context, job *models.Job, procErr error) {
	// A retrying job is a failed attempt; only a completed run counts as
	// processed.
	failed := procErr != nil ||
		job.Status == models.JobStatusFailed ||
		job.Status == models.JobStatusRetrying
	if err := w.workers.RecordOutcome(ctx, w.id, failed); err != nil {
		w.log.Warn("failed to record worker outcome", zap.Error(err))
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.workers.Heartbeat(ctx, w.id, time.Now().UTC()); err != nil {
				w.log.Warn("heartbeat failed", zap.Error(err))
				continue
			}
			metrics.WorkerHeartbeatsTotal.Inc()
			if stats, err := w.queue.Stats(ctx); err == nil {
				metrics.SetQueueDepths(stats.Ready, stats.Delayed, stats.Processing, stats.DeadLetter)
			}
		}
	}
}

// promoteLoop moves due delayed jobs into the ready index. Every worker
// promotes; the queue's promotion is idempotent under racing promoters.
func (w *Worker) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.queue.PromoteDelayed(ctx)
			if err != nil {
				w.log.Warn("delayed promotion failed", zap.Error(err))
				continue
			}
			if n > 0 {
				metrics.DelayedPromotedTotal.Add(float64(n))
				w.log.Debug("promoted delayed jobs", zap.Int("count", n))
			}
		}
	}
}

// shutdown marks the worker row stopped. Uses a fresh context because the
// run context is already cancelled.
func (w *Worker) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.workers.StopWorker(ctx, w.id, time.Now().UTC()); err != nil {
		w.log.Error("failed to mark worker stopped", zap.Error(err))
		return err
	}
	w.log.Info("worker stopped")
	return nil
}
