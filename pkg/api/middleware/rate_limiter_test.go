package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLimiterConfig(burst int) RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 60,
		BurstSize:         burst,
		CleanupInterval:   time.Hour,
	}
}

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5))

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("client-a"), "request %d within burst should pass", i)
	}
	assert.False(t, rl.Allow("client-a"))
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1))

	assert.True(t, rl.Allow("client-a"))
	assert.False(t, rl.Allow("client-a"))
	// A different client has its own bucket.
	assert.True(t, rl.Allow("client-b"))
}

func TestRateLimiterRefills(t *testing.T) {
	// 60 req/min refills one token per second.
	rl := NewRateLimiter(testLimiterConfig(1))

	assert.True(t, rl.Allow("client-a"))
	assert.False(t, rl.Allow("client-a"))

	time.Sleep(1100 * time.Millisecond)
	assert.True(t, rl.Allow("client-a"))
}
