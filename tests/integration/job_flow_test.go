package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"taskforge/pkg/models"
	"taskforge/pkg/storage"
	"taskforge/pkg/storage/postgres"
	"taskforge/pkg/storage/redis"
)

// IntegrationTestSuite exercises the durable store and queue together
// against live Postgres and Redis instances.
type IntegrationTestSuite struct {
	suite.Suite
	store *postgres.Store
	queue *redis.QueueManager
}

func (s *IntegrationTestSuite) SetupSuite() {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		s.T().Skip("Skipping integration tests (SKIP_INTEGRATION_TESTS=true)")
	}

	gin.SetMode(gin.TestMode)

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("TEST_DB_HOST", "localhost"),
		getEnv("TEST_DB_PORT", "5432"),
		getEnv("TEST_DB_USER", "taskforge"),
		getEnv("TEST_DB_PASS", "password"),
		getEnv("TEST_DB_NAME", "taskforge_test"),
	)

	store, err := postgres.NewStore(connStr)
	if err != nil {
		s.T().Skipf("Skipping integration tests: %v", err)
	}
	s.store = store

	redisAddr := fmt.Sprintf("%s:%s",
		getEnv("TEST_REDIS_HOST", "localhost"),
		getEnv("TEST_REDIS_PORT", "6379"),
	)
	queue, err := redis.NewQueueManager(redisAddr)
	if err != nil {
		s.T().Skipf("Skipping integration tests: %v", err)
	}
	s.queue = queue
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
	if s.queue != nil {
		s.queue.Close()
	}
}

// TestJobLifecycle walks a job through submit, dequeue, processing, and
// completion.
func (s *IntegrationTestSuite) TestJobLifecycle() {
	ctx := context.Background()
	workerID := uuid.New()

	job := &models.Job{
		Name:         "integration test job",
		Type:         "integration.echo",
		Payload:      models.JSONDoc{"message": "hello"},
		Priority:     models.PriorityCritical,
		Status:       models.JobStatusPending,
		MaxRetries:   3,
		RetryDelayMs: 1000,
	}
	require.NoError(s.T(), s.store.CreateJob(ctx, job))
	require.NoError(s.T(), s.queue.Enqueue(ctx, job.ID, job.Priority))
	require.NoError(s.T(), s.store.MarkQueued(ctx, job.ID))

	// Critical priority sorts ahead of anything enqueued by other suites,
	// but drain defensively in case of leftovers.
	popped := s.dequeueUntil(ctx, job.ID)
	require.Equal(s.T(), job.ID, popped)

	require.NoError(s.T(), s.store.MarkProcessing(ctx, job.ID, workerID, time.Now().UTC()))
	require.NoError(s.T(), s.queue.MarkProcessing(ctx, job.ID, workerID))

	result := models.JSONDoc{"echoed": "hello"}
	require.NoError(s.T(), s.store.CompleteJob(ctx, job.ID, workerID, result, time.Now().UTC()))
	require.NoError(s.T(), s.queue.MarkCompleted(ctx, job.ID))

	final, err := s.store.GetJob(ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.JobStatusCompleted, final.Status)
	assert.Equal(s.T(), "hello", final.Result["echoed"])
	assert.Nil(s.T(), final.WorkerID)
}

// TestCompletionGuard verifies a reclaimed job rejects its original
// worker's completion.
func (s *IntegrationTestSuite) TestCompletionGuard() {
	ctx := context.Background()
	workerID := uuid.New()

	job := &models.Job{
		Name:         "guarded job",
		Type:         "integration.echo",
		Status:       models.JobStatusPending,
		Priority:     models.PriorityNormal,
		MaxRetries:   3,
		RetryDelayMs: 1000,
	}
	require.NoError(s.T(), s.store.CreateJob(ctx, job))
	require.NoError(s.T(), s.store.MarkQueued(ctx, job.ID))
	require.NoError(s.T(), s.store.MarkProcessing(ctx, job.ID, workerID, time.Now().UTC()))

	// Orphan recovery reclaims the job.
	require.NoError(s.T(), s.store.RecoverJob(ctx, job.ID, "worker died; job recovered automatically"))

	// The original worker's late completion must be rejected.
	err := s.store.CompleteJob(ctx, job.ID, workerID, models.JSONDoc{"late": true}, time.Now().UTC())
	assert.ErrorIs(s.T(), err, storage.ErrConflict)

	reclaimed, err := s.store.GetJob(ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.JobStatusRetrying, reclaimed.Status)
	assert.Equal(s.T(), 1, reclaimed.RetryCount)
	assert.Nil(s.T(), reclaimed.WorkerID)
}

// TestCancellationGuard verifies a cancelled job cannot be flipped to
// FAILED by the unowned failure path.
func (s *IntegrationTestSuite) TestCancellationGuard() {
	ctx := context.Background()

	job := &models.Job{
		Name:       "cancelled job",
		Type:       "integration.nohandler",
		Status:     models.JobStatusPending,
		Priority:   models.PriorityNormal,
		MaxRetries: 3,
	}
	require.NoError(s.T(), s.store.CreateJob(ctx, job))
	require.NoError(s.T(), s.store.MarkQueued(ctx, job.ID))
	require.NoError(s.T(), s.store.CancelJob(ctx, job.ID))

	// The worker's missing-handler failure writes with a nil worker; the
	// cancellation committed first must win.
	err := s.store.MarkFailed(ctx, job.ID, nil, "no registered handler", time.Now().UTC())
	assert.ErrorIs(s.T(), err, storage.ErrConflict)

	final, err := s.store.GetJob(ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.JobStatusCancelled, final.Status)
}

// TestDelayedPromotion verifies a due delayed job surfaces in the ready
// index after promotion.
func (s *IntegrationTestSuite) TestDelayedPromotion() {
	ctx := context.Background()

	job := &models.Job{
		Name:     "delayed job",
		Type:     "integration.echo",
		Status:   models.JobStatusPending,
		Priority: models.PriorityCritical,
	}
	require.NoError(s.T(), s.store.CreateJob(ctx, job))

	// Fire time already in the past so one promotion pass is enough.
	fireAt := time.Now().Add(-time.Second)
	require.NoError(s.T(), s.queue.EnqueueDelayed(ctx, job.ID, fireAt, job.Priority))
	require.NoError(s.T(), s.store.MarkQueued(ctx, job.ID))

	promoted, err := s.queue.PromoteDelayed(ctx)
	require.NoError(s.T(), err)
	assert.GreaterOrEqual(s.T(), promoted, 1)

	popped := s.dequeueUntil(ctx, job.ID)
	assert.Equal(s.T(), job.ID, popped)
}

// TestPriorityOrdering verifies a CRITICAL job dequeues before an earlier
// LOW job.
func (s *IntegrationTestSuite) TestPriorityOrdering() {
	ctx := context.Background()

	low := &models.Job{Name: "low", Type: "integration.echo", Status: models.JobStatusPending, Priority: models.PriorityLow}
	critical := &models.Job{Name: "critical", Type: "integration.echo", Status: models.JobStatusPending, Priority: models.PriorityCritical}

	require.NoError(s.T(), s.store.CreateJob(ctx, low))
	require.NoError(s.T(), s.store.CreateJob(ctx, critical))

	require.NoError(s.T(), s.queue.Enqueue(ctx, low.ID, low.Priority))
	require.NoError(s.T(), s.queue.Enqueue(ctx, critical.ID, critical.Priority))

	first := s.dequeueUntil(ctx, critical.ID, low.ID)
	assert.Equal(s.T(), critical.ID, first)

	// Drain the low job so later tests start clean.
	s.dequeueUntil(ctx, low.ID)
}

// dequeueUntil pops until one of the wanted IDs appears, discarding
// leftovers from other runs. Returns uuid.Nil after exhausting the queue.
func (s *IntegrationTestSuite) dequeueUntil(ctx context.Context, wanted ...uuid.UUID) uuid.UUID {
	for i := 0; i < 100; i++ {
		id, err := s.queue.Dequeue(ctx)
		require.NoError(s.T(), err)
		if id == uuid.Nil {
			return uuid.Nil
		}
		for _, w := range wanted {
			if id == w {
				return id
			}
		}
	}
	return uuid.Nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}
