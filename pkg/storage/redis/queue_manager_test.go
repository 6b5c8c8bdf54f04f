package redis

import (
	"testing"
	"time"

	"taskforge/pkg/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyScore_FIFOWithinBand(t *testing.T) {
	t0 := time.UnixMilli(1_700_000_000_000)
	t1 := t0.Add(50 * time.Millisecond)

	a := ReadyScore(t0, models.PriorityNormal)
	b := ReadyScore(t1, models.PriorityNormal)

	assert.Less(t, a, b, "earlier enqueue must pop first within a band")
}

func TestReadyScore_PriorityDominance(t *testing.T) {
	t0 := time.UnixMilli(1_700_000_000_000)

	// LOW enqueued first, CRITICAL one millisecond later: CRITICAL wins.
	low := ReadyScore(t0, models.PriorityLow)
	critical := ReadyScore(t0.Add(time.Millisecond), models.PriorityCritical)

	assert.Less(t, critical, low)
}

func TestReadyScore_AdditiveOffsets(t *testing.T) {
	t0 := time.UnixMilli(1_700_000_000_000)

	// The offset is added, never subtracted: every band scores at or
	// above its raw enqueue timestamp.
	for _, p := range []models.JobPriority{
		models.PriorityCritical, models.PriorityHigh,
		models.PriorityNormal, models.PriorityLow,
	} {
		assert.GreaterOrEqual(t, ReadyScore(t0, p), float64(t0.UnixMilli()), string(p))
	}
}

func TestReadyScore_BandOrdering(t *testing.T) {
	t0 := time.UnixMilli(1_700_000_000_000)

	c := ReadyScore(t0, models.PriorityCritical)
	h := ReadyScore(t0, models.PriorityHigh)
	n := ReadyScore(t0, models.PriorityNormal)
	l := ReadyScore(t0, models.PriorityLow)

	assert.Less(t, c, h)
	assert.Less(t, h, n)
	assert.Less(t, n, l)
}

func TestDelayedMember_RoundTrip(t *testing.T) {
	id := uuid.New()
	member := delayedMember(id, models.PriorityHigh)

	gotID, gotPriority, err := parseDelayedMember(member)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, models.PriorityHigh, gotPriority)
}

func TestParseDelayedMember_Malformed(t *testing.T) {
	_, _, err := parseDelayedMember("not-a-member")
	assert.Error(t, err)

	_, _, err = parseDelayedMember("garbage:HIGH")
	assert.Error(t, err)
}
