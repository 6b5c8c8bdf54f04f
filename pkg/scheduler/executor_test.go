package scheduler

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

type fakeScheduleStore struct {
	storage.ScheduleStore

	due []models.Schedule

	firedID   uuid.UUID
	firedNext time.Time
	firedFlag bool
	disabled  []uuid.UUID
}

func (f *fakeScheduleStore) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]models.Schedule, error) {
	return f.due, nil
}

func (f *fakeScheduleStore) MarkFired(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time, fired bool) error {
	f.firedID = id
	f.firedNext = nextRun
	f.firedFlag = fired
	return nil
}

func (f *fakeScheduleStore) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool, nextRun *time.Time) error {
	if !enabled {
		f.disabled = append(f.disabled, id)
	}
	return nil
}

type fakeJobStore struct {
	storage.JobStore
	created   []*models.Job
	queued    []uuid.UUID
	createErr error
}

func (f *fakeJobStore) CreateJob(ctx context.Context, job *models.Job) error {
	if f.createErr != nil {
		return f.createErr
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	f.created = append(f.created, job)
	return nil
}

func (f *fakeJobStore) MarkQueued(ctx context.Context, id uuid.UUID) error {
	f.queued = append(f.queued, id)
	return nil
}

type fakeQueue struct {
	storage.QueueManager
	enqueued []uuid.UUID
}

func (f *fakeQueue) Enqueue(ctx context.Context, jobID uuid.UUID, priority models.JobPriority) error {
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

func dueSchedule(expr, tz string) models.Schedule {
	next := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return models.Schedule{
		ID:          uuid.New(),
		Name:        "nightly report",
		CronExpr:    expr,
		Timezone:    tz,
		Enabled:     true,
		JobType:     "report",
		JobPayload:  models.JSONDoc{"kind": "nightly"},
		JobPriority: models.PriorityHigh,
		NextRunAt:   &next,
	}
}

func newTestExecutor(schedules *fakeScheduleStore, jobs *fakeJobStore, queue *fakeQueue, now time.Time) *Executor {
	e := New(schedules, jobs, queue, time.Second)
	e.now = func() time.Time { return now }
	return e
}

func TestTickFiresDueSchedule(t *testing.T) {
	sched := dueSchedule("0 * * * *", "UTC")
	schedules := &fakeScheduleStore{due: []models.Schedule{sched}}
	jobs := &fakeJobStore{}
	queue := &fakeQueue{}

	now := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	e := newTestExecutor(schedules, jobs, queue, now)
	require.NoError(t, e.Tick(context.Background()))

	require.Len(t, jobs.created, 1)
	job := jobs.created[0]
	assert.Equal(t, "nightly report (scheduled)", job.Name)
	assert.Equal(t, "report", job.Type)
	assert.Equal(t, models.PriorityHigh, job.Priority)
	require.NotNil(t, job.ScheduleID)
	assert.Equal(t, sched.ID, *job.ScheduleID)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, 1000, job.RetryDelayMs)

	assert.Equal(t, []uuid.UUID{job.ID}, queue.enqueued)
	assert.Equal(t, []uuid.UUID{job.ID}, jobs.queued)

	assert.Equal(t, sched.ID, schedules.firedID)
	assert.True(t, schedules.firedFlag)
	// Hourly schedule: next fire at 13:00, strictly after now.
	assert.Equal(t, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC), schedules.firedNext.UTC())
}

func TestTickAdvancesOnCreateFailure(t *testing.T) {
	sched := dueSchedule("0 * * * *", "UTC")
	schedules := &fakeScheduleStore{due: []models.Schedule{sched}}
	jobs := &fakeJobStore{createErr: errors.New("db down")}
	queue := &fakeQueue{}

	now := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	e := newTestExecutor(schedules, jobs, queue, now)
	require.NoError(t, e.Tick(context.Background()))

	// The schedule still advances so one failure cannot replay forever.
	assert.Equal(t, sched.ID, schedules.firedID)
	assert.False(t, schedules.firedFlag)
	assert.Equal(t, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC), schedules.firedNext.UTC())
	assert.Empty(t, queue.enqueued)
}

func TestTickDisablesInvalidCron(t *testing.T) {
	sched := dueSchedule("not a cron", "UTC")
	schedules := &fakeScheduleStore{due: []models.Schedule{sched}}
	jobs := &fakeJobStore{}

	e := newTestExecutor(schedules, jobs, &fakeQueue{}, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, e.Tick(context.Background()))

	assert.Equal(t, []uuid.UUID{sched.ID}, schedules.disabled)
	assert.Empty(t, jobs.created)
}

func TestNextRunTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Daily at 09:00 New York time.
	after := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) // 08:00 in NY
	next, err := NextRun("0 9 * * *", ny, after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 9, 0, 0, 0, ny), next)
	// EDT is UTC-4, so 09:00 local is 13:00 UTC.
	assert.Equal(t, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextRunStrictlyAfter(t *testing.T) {
	// Exactly on a firing minute: next must be the following hour, never the
	// same instant.
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next, err := NextRun("0 * * * *", time.UTC, at)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC), next)
}

func TestNextRunDSTSpringForward(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 02:30 local does not exist on 2025-03-09; the firing lands after the
	// gap instead of being lost.
	after := time.Date(2025, 3, 9, 1, 0, 0, 0, ny)
	next, err := NextRun("30 2 * * *", ny, after)
	require.NoError(t, err)
	assert.True(t, next.After(after))
	assert.Equal(t, time.March, next.Month())
}

func TestParseCronRejectsSixFields(t *testing.T) {
	_, err := ParseCron("0 0 * * * *")
	assert.Error(t, err)

	_, err = ParseCron("*/5 * * * *")
	assert.NoError(t, err)
}
