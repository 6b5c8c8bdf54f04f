package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/pkg/models"
	"taskforge/pkg/storage"
)

type fakeJobStore struct {
	storage.JobStore

	processingByWorker map[uuid.UUID][]models.Job
	recovered          []uuid.UUID
	recoverErr         error
}

func (f *fakeJobStore) ListProcessingByWorker(ctx context.Context, workerID uuid.UUID, limit int) ([]models.Job, error) {
	return f.processingByWorker[workerID], nil
}

func (f *fakeJobStore) RecoverJob(ctx context.Context, id uuid.UUID, errMsg string) error {
	if f.recoverErr != nil {
		return f.recoverErr
	}
	f.recovered = append(f.recovered, id)
	return nil
}

type fakeWorkerStore struct {
	storage.WorkerStore

	stale      []models.Worker
	lastCutoff time.Time
	stopped    []uuid.UUID
}

func (f *fakeWorkerStore) ListStaleWorkers(ctx context.Context, cutoff time.Time) ([]models.Worker, error) {
	f.lastCutoff = cutoff
	return f.stale, nil
}

func (f *fakeWorkerStore) StopWorker(ctx context.Context, id uuid.UUID, stoppedAt time.Time) error {
	f.stopped = append(f.stopped, id)
	return nil
}

type fakeQueue struct {
	storage.QueueManager

	requeued   []uuid.UUID
	lastDelay  time.Duration
	requeueErr error
}

func (f *fakeQueue) Requeue(ctx context.Context, jobID uuid.UUID, priority models.JobPriority, delay time.Duration) error {
	if f.requeueErr != nil {
		return f.requeueErr
	}
	f.requeued = append(f.requeued, jobID)
	f.lastDelay = delay
	return nil
}

func staleWorker() models.Worker {
	return models.Worker{
		ID:            uuid.New(),
		Name:          "w1",
		Status:        models.WorkerStatusActive,
		LastHeartbeat: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
	}
}

func processingJob(workerID uuid.UUID) models.Job {
	return models.Job{
		ID:       uuid.New(),
		Type:     "email",
		Status:   models.JobStatusProcessing,
		Priority: models.PriorityNormal,
		WorkerID: &workerID,
	}
}

func newTestRecoverer(jobs *fakeJobStore, workers *fakeWorkerStore, queue *fakeQueue) *Recoverer {
	r := New(DefaultConfig(), jobs, workers, queue)
	r.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestSweepReclaimsOrphans(t *testing.T) {
	w := staleWorker()
	j1 := processingJob(w.ID)
	j2 := processingJob(w.ID)

	jobs := &fakeJobStore{processingByWorker: map[uuid.UUID][]models.Job{w.ID: {j1, j2}}}
	workers := &fakeWorkerStore{stale: []models.Worker{w}}
	queue := &fakeQueue{}

	r := newTestRecoverer(jobs, workers, queue)
	require.NoError(t, r.Sweep(context.Background()))

	assert.ElementsMatch(t, []uuid.UUID{j1.ID, j2.ID}, jobs.recovered)
	assert.ElementsMatch(t, []uuid.UUID{j1.ID, j2.ID}, queue.requeued)
	assert.Equal(t, 5*time.Second, queue.lastDelay)
	assert.Equal(t, []uuid.UUID{w.ID}, workers.stopped)

	// Cutoff is now minus the stale threshold.
	assert.Equal(t, time.Date(2025, 6, 1, 11, 58, 30, 0, time.UTC), workers.lastCutoff)
}

func TestSweepNoStaleWorkers(t *testing.T) {
	jobs := &fakeJobStore{}
	workers := &fakeWorkerStore{}
	queue := &fakeQueue{}

	r := newTestRecoverer(jobs, workers, queue)
	require.NoError(t, r.Sweep(context.Background()))
	assert.Empty(t, jobs.recovered)
	assert.Empty(t, workers.stopped)
}

func TestSweepStopsIdleStaleWorker(t *testing.T) {
	// A stale worker with no in-flight jobs is still marked stopped.
	w := staleWorker()
	jobs := &fakeJobStore{processingByWorker: map[uuid.UUID][]models.Job{}}
	workers := &fakeWorkerStore{stale: []models.Worker{w}}
	queue := &fakeQueue{}

	r := newTestRecoverer(jobs, workers, queue)
	require.NoError(t, r.Sweep(context.Background()))
	assert.Empty(t, queue.requeued)
	assert.Equal(t, []uuid.UUID{w.ID}, workers.stopped)
}

func TestSweepRecoverFailureSkipsRequeue(t *testing.T) {
	w := staleWorker()
	j := processingJob(w.ID)
	jobs := &fakeJobStore{
		processingByWorker: map[uuid.UUID][]models.Job{w.ID: {j}},
		recoverErr:         errors.New("db down"),
	}
	workers := &fakeWorkerStore{stale: []models.Worker{w}}
	queue := &fakeQueue{}

	r := newTestRecoverer(jobs, workers, queue)
	require.NoError(t, r.Sweep(context.Background()))

	// The durable transition failed, so the job must not be re-queued and
	// the worker stays active for the next sweep to retry.
	assert.Empty(t, queue.requeued)
	assert.Empty(t, workers.stopped)
}
