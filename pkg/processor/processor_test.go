package processor

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

// fakeJobStore records state transitions and can inject guard conflicts.
type fakeJobStore struct {
	storage.JobStore

	processing   []uuid.UUID
	completed    []uuid.UUID
	retried      []uuid.UUID
	failed       []uuid.UUID
	failedWorker []*uuid.UUID
	lastError    string
	lastResult   models.JSONDoc

	completeErr error
	retryErr    error
	failErr     error
}

func (f *fakeJobStore) MarkProcessing(ctx context.Context, id, workerID uuid.UUID, startedAt time.Time) error {
	f.processing = append(f.processing, id)
	return nil
}

func (f *fakeJobStore) CompleteJob(ctx context.Context, id, workerID uuid.UUID, result models.JSONDoc, completedAt time.Time) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = append(f.completed, id)
	f.lastResult = result
	return nil
}

func (f *fakeJobStore) MarkRetrying(ctx context.Context, id, workerID uuid.UUID, errMsg string) error {
	if f.retryErr != nil {
		return f.retryErr
	}
	f.retried = append(f.retried, id)
	f.lastError = errMsg
	return nil
}

func (f *fakeJobStore) MarkFailed(ctx context.Context, id uuid.UUID, workerID *uuid.UUID, errMsg string, completedAt time.Time) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.failed = append(f.failed, id)
	f.failedWorker = append(f.failedWorker, workerID)
	f.lastError = errMsg
	return nil
}

type fakeDeadLetterStore struct {
	storage.DeadLetterStore
	created []*models.DeadLetterJob
}

func (f *fakeDeadLetterStore) CreateDeadLetter(ctx context.Context, d *models.DeadLetterJob) error {
	f.created = append(f.created, d)
	return nil
}

// fakeQueue records queue index mutations.
type fakeQueue struct {
	storage.QueueManager

	processing []uuid.UUID
	completed  []uuid.UUID
	requeued   []uuid.UUID
	lastDelay  time.Duration
	dlq        []uuid.UUID
	dlqReason  string
}

func (f *fakeQueue) MarkProcessing(ctx context.Context, jobID, workerID uuid.UUID) error {
	f.processing = append(f.processing, jobID)
	return nil
}

func (f *fakeQueue) MarkCompleted(ctx context.Context, jobID uuid.UUID) error {
	f.completed = append(f.completed, jobID)
	return nil
}

func (f *fakeQueue) Requeue(ctx context.Context, jobID uuid.UUID, priority models.JobPriority, delay time.Duration) error {
	f.requeued = append(f.requeued, jobID)
	f.lastDelay = delay
	return nil
}

func (f *fakeQueue) MoveToDLQ(ctx context.Context, jobID uuid.UUID, reason string) error {
	f.dlq = append(f.dlq, jobID)
	f.dlqReason = reason
	return nil
}

type fakeNotifier struct {
	jobs      []*models.Job
	succeeded []bool
}

func (f *fakeNotifier) JobFinished(ctx context.Context, job *models.Job, succeeded bool) {
	f.jobs = append(f.jobs, job)
	f.succeeded = append(f.succeeded, succeeded)
}

type fakeArchive struct {
	stored map[string][]byte
	err    error
}

func (f *fakeArchive) Store(ctx context.Context, jobID string, doc []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.stored == nil {
		f.stored = map[string][]byte{}
	}
	f.stored[jobID] = doc
	return "local://" + jobID, nil
}

func (f *fakeArchive) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func newTestProcessor(jobs *fakeJobStore, dlq *fakeDeadLetterStore, queue *fakeQueue, reg *Registry, notifier Notifier, archive storage.ArchiveStore) *Processor {
	p := New(jobs, dlq, queue, reg, archive, notifier)
	p.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func testJob(jobType string) *models.Job {
	return &models.Job{
		ID:           uuid.New(),
		Name:         "test job",
		Type:         jobType,
		Priority:     models.PriorityNormal,
		Status:       models.JobStatusQueued,
		MaxRetries:   3,
		RetryDelayMs: 1000,
		WebhookURL:   "https://example.com/hook",
	}
}

func TestProcessSuccess(t *testing.T) {
	jobs := &fakeJobStore{}
	dlq := &fakeDeadLetterStore{}
	queue := &fakeQueue{}
	notifier := &fakeNotifier{}
	reg := NewRegistry()
	reg.Register("email", func(ctx context.Context, job *models.Job) (models.JSONDoc, error) {
		return models.JSONDoc{"sent": true}, nil
	})

	p := newTestProcessor(jobs, dlq, queue, reg, notifier, nil)
	job := testJob("email")
	workerID := uuid.New()

	require.NoError(t, p.Process(context.Background(), job, workerID))

	assert.Equal(t, []uuid.UUID{job.ID}, jobs.processing)
	assert.Equal(t, []uuid.UUID{job.ID}, jobs.completed)
	assert.Equal(t, models.JSONDoc{"sent": true}, jobs.lastResult)
	assert.Equal(t, []uuid.UUID{job.ID}, queue.completed)
	assert.Empty(t, queue.requeued)
	assert.Empty(t, dlq.created)

	require.Len(t, notifier.jobs, 1)
	assert.True(t, notifier.succeeded[0])
	assert.Equal(t, models.JobStatusCompleted, notifier.jobs[0].Status)
}

func TestProcessHandlerErrorSchedulesRetry(t *testing.T) {
	jobs := &fakeJobStore{}
	dlq := &fakeDeadLetterStore{}
	queue := &fakeQueue{}
	reg := NewRegistry()
	reg.Register("report", func(ctx context.Context, job *models.Job) (models.JSONDoc, error) {
		return nil, errors.New("upstream timeout")
	})

	p := newTestProcessor(jobs, dlq, queue, reg, nil, nil)
	job := testJob("report")
	job.RetryCount = 1 // second attempt failing

	require.NoError(t, p.Process(context.Background(), job, uuid.New()))

	assert.Equal(t, []uuid.UUID{job.ID}, jobs.retried)
	assert.Equal(t, "upstream timeout", jobs.lastError)
	assert.Equal(t, []uuid.UUID{job.ID}, queue.requeued)
	assert.Equal(t, 2*time.Second, queue.lastDelay) // 1000ms * 2^1
	assert.Empty(t, jobs.failed)
	assert.Empty(t, dlq.created)

	// The in-memory job mirrors the row so the worker can account the
	// attempt as a failure.
	assert.Equal(t, models.JobStatusRetrying, job.Status)
	assert.Equal(t, 2, job.RetryCount)
	assert.Equal(t, "upstream timeout", job.Error)
}

func TestProcessExhaustedRetriesDeadLetters(t *testing.T) {
	jobs := &fakeJobStore{}
	dlq := &fakeDeadLetterStore{}
	queue := &fakeQueue{}
	notifier := &fakeNotifier{}
	archive := &fakeArchive{}
	reg := NewRegistry()
	reg.Register("report", func(ctx context.Context, job *models.Job) (models.JSONDoc, error) {
		return nil, errors.New("still broken")
	})

	p := newTestProcessor(jobs, dlq, queue, reg, notifier, archive)
	job := testJob("report")
	job.RetryCount = 3 // all retries used

	workerID := uuid.New()
	require.NoError(t, p.Process(context.Background(), job, workerID))

	assert.Equal(t, []uuid.UUID{job.ID}, jobs.failed)
	require.Len(t, jobs.failedWorker, 1)
	require.NotNil(t, jobs.failedWorker[0])
	assert.Equal(t, workerID, *jobs.failedWorker[0])

	assert.Equal(t, []uuid.UUID{job.ID}, queue.dlq)
	assert.Equal(t, "max retries exceeded", queue.dlqReason)

	require.Len(t, dlq.created, 1)
	dead := dlq.created[0]
	assert.Equal(t, job.ID, dead.OriginalJobID)
	assert.Equal(t, "report", dead.JobType)
	assert.Equal(t, 4, dead.FailureCount)
	assert.Equal(t, "still broken", dead.LastError)
	assert.Equal(t, "local://"+job.ID.String(), dead.ArchiveRef)

	require.Len(t, notifier.jobs, 1)
	assert.False(t, notifier.succeeded[0])
}

func TestProcessMissingHandlerFailsWithoutRetry(t *testing.T) {
	jobs := &fakeJobStore{}
	dlq := &fakeDeadLetterStore{}
	queue := &fakeQueue{}
	p := newTestProcessor(jobs, dlq, queue, NewRegistry(), nil, nil)
	job := testJob("unknown-type")

	require.NoError(t, p.Process(context.Background(), job, uuid.New()))

	// Never entered processing; the failure carries no worker ownership.
	assert.Empty(t, jobs.processing)
	assert.Empty(t, jobs.retried)
	assert.Equal(t, []uuid.UUID{job.ID}, jobs.failed)
	require.Len(t, jobs.failedWorker, 1)
	assert.Nil(t, jobs.failedWorker[0])
	require.Len(t, dlq.created, 1)
	assert.Equal(t, "no registered handler", dlq.created[0].FailureReason)
}

func TestProcessMissingHandlerLosesRaceToCancellation(t *testing.T) {
	// A cancellation committed between dequeue and the failure write makes
	// the guarded update miss. The job must stay cancelled with no dead
	// letter row and no webhook.
	jobs := &fakeJobStore{failErr: storage.ErrConflict}
	dlq := &fakeDeadLetterStore{}
	queue := &fakeQueue{}
	notifier := &fakeNotifier{}
	p := newTestProcessor(jobs, dlq, queue, NewRegistry(), notifier, nil)
	job := testJob("unknown-type")

	require.NoError(t, p.Process(context.Background(), job, uuid.New()))

	assert.Empty(t, jobs.failed)
	assert.Empty(t, queue.dlq)
	assert.Empty(t, dlq.created)
	assert.Empty(t, notifier.jobs)
}

func TestProcessCompletionConflictDiscardsResult(t *testing.T) {
	jobs := &fakeJobStore{completeErr: storage.ErrConflict}
	dlq := &fakeDeadLetterStore{}
	queue := &fakeQueue{}
	notifier := &fakeNotifier{}
	reg := NewRegistry()
	reg.Register("email", func(ctx context.Context, job *models.Job) (models.JSONDoc, error) {
		return models.JSONDoc{"sent": true}, nil
	})

	p := newTestProcessor(jobs, dlq, queue, reg, notifier, nil)
	job := testJob("email")

	require.NoError(t, p.Process(context.Background(), job, uuid.New()))

	// Reclaimed mid-flight: no completion recorded, no webhook fired.
	assert.Empty(t, jobs.completed)
	assert.Empty(t, queue.completed)
	assert.Empty(t, notifier.jobs)
}

func TestProcessArchiveFailureStillDeadLetters(t *testing.T) {
	jobs := &fakeJobStore{}
	dlq := &fakeDeadLetterStore{}
	queue := &fakeQueue{}
	archive := &fakeArchive{err: errors.New("bucket unavailable")}
	reg := NewRegistry()
	reg.Register("report", func(ctx context.Context, job *models.Job) (models.JSONDoc, error) {
		return nil, errors.New("boom")
	})

	p := newTestProcessor(jobs, dlq, queue, reg, nil, archive)
	job := testJob("report")
	job.RetryCount = 3

	require.NoError(t, p.Process(context.Background(), job, uuid.New()))
	require.Len(t, dlq.created, 1)
	assert.Empty(t, dlq.created[0].ArchiveRef)
}

func TestRetryBackoff(t *testing.T) {
	assert.Equal(t, time.Second, RetryBackoff(1000, 0))
	assert.Equal(t, 2*time.Second, RetryBackoff(1000, 1))
	assert.Equal(t, 4*time.Second, RetryBackoff(1000, 2))
	assert.Equal(t, 32*time.Second, RetryBackoff(1000, 5))
	// Capped at one minute regardless of attempt count.
	assert.Equal(t, 60*time.Second, RetryBackoff(1000, 6))
	assert.Equal(t, 60*time.Second, RetryBackoff(1000, 20))
	assert.Equal(t, 60*time.Second, RetryBackoff(120_000, 0))
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Resolve("missing")
	assert.Error(t, err)

	reg.Register("email", func(ctx context.Context, job *models.Job) (models.JSONDoc, error) {
		return nil, nil
	})
	h, err := reg.Resolve("email")
	require.NoError(t, err)
	assert.NotNil(t, h)
	assert.Equal(t, []string{"email"}, reg.Types())
}
