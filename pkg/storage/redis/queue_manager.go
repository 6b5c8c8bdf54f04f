// Package redis implements the queue index on Redis sorted sets. The four
// indexes live under the scheduler:* prefix; the durable store remains the
// system of record and every member here is rebuildable from it.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"taskforge/pkg/models"
	"taskforge/pkg/storage"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	KeyReady      = "scheduler:ready"
	KeyDelayed    = "scheduler:delayed"
	KeyProcessing = "scheduler:processing"
	KeyDeadLetter = "scheduler:deadletter"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr         string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// DefaultConfig returns production defaults for the given address.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

// QueueManager is the Redis-backed implementation of storage.QueueManager.
type QueueManager struct {
	client *redis.Client
	// now is swappable in tests.
	now func() time.Time
}

var _ storage.QueueManager = (*QueueManager)(nil)

// NewQueueManager connects to Redis with default config and verifies the
// connection with a ping.
func NewQueueManager(addr string) (*QueueManager, error) {
	return NewQueueManagerWithConfig(DefaultConfig(addr))
}

// NewQueueManagerWithConfig connects to Redis with custom config.
func NewQueueManagerWithConfig(cfg Config) (*QueueManager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &QueueManager{client: client, now: time.Now}, nil
}

func (q *QueueManager) Close() error {
	return q.client.Close()
}

// Client exposes the underlying connection for collaborators that share the
// pool (API key store, health checks).
func (q *QueueManager) Client() *redis.Client {
	return q.client
}

// ReadyScore computes the priority-adjusted ready-index score for an enqueue
// at time t: t in epoch millis plus the band offset. Minimum score pops
// first, so CRITICAL dominates LOW up to the inter-band gap while FIFO holds
// within a band.
func ReadyScore(t time.Time, priority models.JobPriority) float64 {
	return float64(t.UnixMilli() + priority.Offset())
}

// delayedMember encodes "jobID:priority" so promotion can re-score without a
// durable-store read.
func delayedMember(jobID uuid.UUID, priority models.JobPriority) string {
	return jobID.String() + ":" + string(priority)
}

func parseDelayedMember(member string) (uuid.UUID, models.JobPriority, error) {
	idx := strings.IndexByte(member, ':')
	if idx < 0 {
		return uuid.Nil, "", fmt.Errorf("malformed delayed member %q", member)
	}
	id, err := uuid.Parse(member[:idx])
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("malformed delayed member %q: %w", member, err)
	}
	return id, models.JobPriority(member[idx+1:]), nil
}

// processingEntry is the value stored per job in the processing hash.
type processingEntry struct {
	WorkerID  string    `json:"worker_id"`
	StartedAt time.Time `json:"started_at"`
}

// deadLetterMember is the structured member stored in the dead-letter index.
type deadLetterMember struct {
	JobID    string    `json:"job_id"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// Enqueue adds the job to the ready index under the priority-adjusted score.
func (q *QueueManager) Enqueue(ctx context.Context, jobID uuid.UUID, priority models.JobPriority) error {
	score := ReadyScore(q.now(), priority)
	if err := q.client.ZAdd(ctx, KeyReady, redis.Z{Score: score, Member: jobID.String()}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// EnqueueDelayed parks the job in the delayed index until fireAt.
func (q *QueueManager) EnqueueDelayed(ctx context.Context, jobID uuid.UUID, fireAt time.Time, priority models.JobPriority) error {
	member := delayedMember(jobID, priority)
	if err := q.client.ZAdd(ctx, KeyDelayed, redis.Z{Score: float64(fireAt.UnixMilli()), Member: member}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue delayed job: %w", err)
	}
	return nil
}

// Dequeue atomically pops the minimum-score ready member. Returns uuid.Nil
// when the ready index is empty.
func (q *QueueManager) Dequeue(ctx context.Context) (uuid.UUID, error) {
	members, err := q.client.ZPopMin(ctx, KeyReady, 1).Result()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to pop ready index: %w", err)
	}
	if len(members) == 0 {
		return uuid.Nil, nil
	}
	raw, ok := members[0].Member.(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("unexpected ready member type %T", members[0].Member)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed ready member %q: %w", raw, err)
	}
	return id, nil
}

// PromoteDelayed scans the delayed index for members due at or before now
// and moves each into the ready index. ZRem gates the re-add, so concurrent
// promoters handle each member at most once.
func (q *QueueManager) PromoteDelayed(ctx context.Context) (int, error) {
	now := q.now()
	due, err := q.client.ZRangeByScore(ctx, KeyDelayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan delayed index: %w", err)
	}

	promoted := 0
	for _, member := range due {
		removed, err := q.client.ZRem(ctx, KeyDelayed, member).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to remove delayed member: %w", err)
		}
		if removed == 0 {
			// Another promoter claimed it.
			continue
		}
		jobID, priority, err := parseDelayedMember(member)
		if err != nil {
			return promoted, err
		}
		if err := q.Enqueue(ctx, jobID, priority); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// MarkProcessing records queue-level ownership of an in-flight job.
func (q *QueueManager) MarkProcessing(ctx context.Context, jobID, workerID uuid.UUID) error {
	entry, err := json.Marshal(processingEntry{
		WorkerID:  workerID.String(),
		StartedAt: q.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal processing entry: %w", err)
	}
	if err := q.client.HSet(ctx, KeyProcessing, jobID.String(), entry).Err(); err != nil {
		return fmt.Errorf("failed to mark processing: %w", err)
	}
	return nil
}

// MarkCompleted releases queue-level ownership.
func (q *QueueManager) MarkCompleted(ctx context.Context, jobID uuid.UUID) error {
	if err := q.client.HDel(ctx, KeyProcessing, jobID.String()).Err(); err != nil {
		return fmt.Errorf("failed to clear processing entry: %w", err)
	}
	return nil
}

// Requeue releases ownership and parks the job in the delayed index for a
// retry after the backoff delay.
func (q *QueueManager) Requeue(ctx context.Context, jobID uuid.UUID, priority models.JobPriority, delay time.Duration) error {
	if err := q.MarkCompleted(ctx, jobID); err != nil {
		return err
	}
	return q.EnqueueDelayed(ctx, jobID, q.now().Add(delay), priority)
}

// MoveToDLQ records the failure in the dead-letter index and releases
// queue-level ownership.
func (q *QueueManager) MoveToDLQ(ctx context.Context, jobID uuid.UUID, reason string) error {
	failedAt := q.now()
	member, err := json.Marshal(deadLetterMember{
		JobID:    jobID.String(),
		Reason:   reason,
		FailedAt: failedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter member: %w", err)
	}
	if err := q.client.ZAdd(ctx, KeyDeadLetter, redis.Z{
		Score:  float64(failedAt.UnixMilli()),
		Member: string(member),
	}).Err(); err != nil {
		return fmt.Errorf("failed to add dead-letter member: %w", err)
	}
	return q.MarkCompleted(ctx, jobID)
}

// RemoveFromDLQ removes every dead-letter member whose embedded job id
// matches. Used by operator retry and deletion.
func (q *QueueManager) RemoveFromDLQ(ctx context.Context, jobID uuid.UUID) error {
	members, err := q.client.ZRange(ctx, KeyDeadLetter, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to scan dead-letter index: %w", err)
	}
	target := jobID.String()
	for _, raw := range members {
		var m deadLetterMember
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		if m.JobID != target {
			continue
		}
		if err := q.client.ZRem(ctx, KeyDeadLetter, raw).Err(); err != nil {
			return fmt.Errorf("failed to remove dead-letter member: %w", err)
		}
	}
	return nil
}

// Stats returns the cardinality of each index.
func (q *QueueManager) Stats(ctx context.Context) (storage.QueueStats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.ZCard(ctx, KeyReady)
	delayed := pipe.ZCard(ctx, KeyDelayed)
	processing := pipe.HLen(ctx, KeyProcessing)
	deadLetter := pipe.ZCard(ctx, KeyDeadLetter)
	if _, err := pipe.Exec(ctx); err != nil {
		return storage.QueueStats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return storage.QueueStats{
		Ready:      ready.Val(),
		Delayed:    delayed.Val(),
		Processing: processing.Val(),
		DeadLetter: deadLetter.Val(),
	}, nil
}
