package worker

import (
	"context"
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
	jobs map[uuid.UUID]*models.Job
}

func (f *fakeJobStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return job, nil
}

type fakeWorkerStore struct {
	storage.WorkerStore
	activeJobs []int
	outcomes   []bool
	stopped    bool
}

func (f *fakeWorkerStore) SetActiveJobs(ctx context.Context, id uuid.UUID, n int) error {
	f.activeJobs = append(f.activeJobs, n)
	return nil
}

func (f *fakeWorkerStore) RecordOutcome(ctx context.Context, id uuid.UUID, failed bool) error {
	f.outcomes = append(f.outcomes, failed)
	return nil
}

func (f *fakeWorkerStore) StopWorker(ctx context.Context, id uuid.UUID, stoppedAt time.Time) error {
	f.stopped = true
	return nil
}

type fakeQueue struct {
	storage.QueueManager
	ready []uuid.UUID
}

func (f *fakeQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	if len(f.ready) == 0 {
		return uuid.Nil, nil
	}
	id := f.ready[0]
	f.ready = f.ready[1:]
	return id, nil
}

type fakeProcessor struct {
	processed []uuid.UUID
	err       error
}

func (f *fakeProcessor) Process(ctx context.Context, job *models.Job, workerID uuid.UUID) error {
	f.processed = append(f.processed, job.ID)
	return f.err
}

func newTestWorker(jobs *fakeJobStore, workers *fakeWorkerStore, queue *fakeQueue, proc JobProcessor) *Worker {
	w := New(DefaultConfig("test-worker"), jobs, workers, queue, proc)
	w.id = uuid.New()
	return w
}

func queuedJob(id uuid.UUID, status models.JobStatus) *models.Job {
	return &models.Job{ID: id, Name: "j", Type: "email", Status: status, Priority: models.PriorityNormal}
}

func TestConsumeOneProcessesRunnableJob(t *testing.T) {
	id := uuid.New()
	jobs := &fakeJobStore{jobs: map[uuid.UUID]*models.Job{id: queuedJob(id, models.JobStatusQueued)}}
	workers := &fakeWorkerStore{}
	queue := &fakeQueue{ready: []uuid.UUID{id}}
	proc := &fakeProcessor{}

	w := newTestWorker(jobs, workers, queue, proc)
	assert.True(t, w.consumeOne(context.Background()))

	assert.Equal(t, []uuid.UUID{id}, proc.processed)
	assert.Equal(t, []int{1, 0}, workers.activeJobs)
	require.Len(t, workers.outcomes, 1)
	assert.False(t, workers.outcomes[0])
}

func TestConsumeOneEmptyQueue(t *testing.T) {
	w := newTestWorker(&fakeJobStore{}, &fakeWorkerStore{}, &fakeQueue{}, &fakeProcessor{})
	assert.False(t, w.consumeOne(context.Background()))
}

func TestConsumeOneDiscardsCancelledJob(t *testing.T) {
	id := uuid.New()
	jobs := &fakeJobStore{jobs: map[uuid.UUID]*models.Job{id: queuedJob(id, models.JobStatusCancelled)}}
	workers := &fakeWorkerStore{}
	queue := &fakeQueue{ready: []uuid.UUID{id}}
	proc := &fakeProcessor{}

	w := newTestWorker(jobs, workers, queue, proc)
	// The stale reference counts as handled, but nothing runs.
	assert.True(t, w.consumeOne(context.Background()))
	assert.Empty(t, proc.processed)
	assert.Empty(t, workers.activeJobs)
	assert.Empty(t, workers.outcomes)
}

func TestConsumeOneDiscardsMissingJobRow(t *testing.T) {
	id := uuid.New()
	jobs := &fakeJobStore{jobs: map[uuid.UUID]*models.Job{}}
	queue := &fakeQueue{ready: []uuid.UUID{id}}
	proc := &fakeProcessor{}

	w := newTestWorker(jobs, &fakeWorkerStore{}, queue, proc)
	assert.True(t, w.consumeOne(context.Background()))
	assert.Empty(t, proc.processed)
}

func TestConsumeOneRecordsFailedOutcome(t *testing.T) {
	id := uuid.New()
	job := queuedJob(id, models.JobStatusQueued)
	jobs := &fakeJobStore{jobs: map[uuid.UUID]*models.Job{id: job}}
	workers := &fakeWorkerStore{}
	queue := &fakeQueue{ready: []uuid.UUID{id}}
	proc := &fakeProcessor{}

	// Terminal failure surfaces through the job status, not an error.
	procWithStatus := &statusSettingProcessor{inner: proc, status: models.JobStatusFailed}
	w := newTestWorker(jobs, workers, queue, procWithStatus)

	assert.True(t, w.consumeOne(context.Background()))
	require.Len(t, workers.outcomes, 1)
	assert.True(t, workers.outcomes[0])
}

func TestConsumeOneCountsRetryAsFailedOutcome(t *testing.T) {
	id := uuid.New()
	job := queuedJob(id, models.JobStatusQueued)
	jobs := &fakeJobStore{jobs: map[uuid.UUID]*models.Job{id: job}}
	workers := &fakeWorkerStore{}
	queue := &fakeQueue{ready: []uuid.UUID{id}}

	// A handler failure taking the retry path leaves the job RETRYING and
	// returns no error; the attempt still failed.
	proc := &statusSettingProcessor{inner: &fakeProcessor{}, status: models.JobStatusRetrying}
	w := newTestWorker(jobs, workers, queue, proc)

	assert.True(t, w.consumeOne(context.Background()))
	require.Len(t, workers.outcomes, 1)
	assert.True(t, workers.outcomes[0])
}

type statusSettingProcessor struct {
	inner  *fakeProcessor
	status models.JobStatus
}

func (s *statusSettingProcessor) Process(ctx context.Context, job *models.Job, workerID uuid.UUID) error {
	job.Status = s.status
	return s.inner.Process(ctx, job, workerID)
}

func TestRunRequiresRegistration(t *testing.T) {
	w := New(DefaultConfig("test"), &fakeJobStore{}, &fakeWorkerStore{}, &fakeQueue{}, &fakeProcessor{})
	err := w.Run(context.Background())
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	workers := &fakeWorkerStore{}
	cfg := DefaultConfig("test")
	cfg.PollInterval = 10 * time.Millisecond
	w := New(cfg, &fakeJobStore{jobs: map[uuid.UUID]*models.Job{}}, workers, &fakeQueue{}, &fakeProcessor{})
	w.id = uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	assert.True(t, workers.stopped)
}
