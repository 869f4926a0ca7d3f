package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestRateLimiterCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	rl := NewRateLimiter(15, 2*time.Second, clock.Now)

	require.NoError(t, rl.Allow(1))

	// Immediate second request hits the cooldown.
	err := rl.Allow(1)
	assert.ErrorIs(t, err, ErrCooldown)

	clock.Advance(2 * time.Second)
	assert.NoError(t, rl.Allow(1))
}

func TestRateLimiterPerMinuteBudget(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	rl := NewRateLimiter(3, 0, clock.Now)

	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Allow(1))
		clock.Advance(time.Millisecond)
	}

	err := rl.Allow(1)
	assert.ErrorIs(t, err, ErrRateLimited)

	// Budget refills as time passes.
	clock.Advance(time.Minute)
	assert.NoError(t, rl.Allow(1))
}

func TestRateLimiterIsPerUser(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	rl := NewRateLimiter(15, 2*time.Second, clock.Now)

	require.NoError(t, rl.Allow(1))
	// A different user is not affected by user 1's cooldown.
	assert.NoError(t, rl.Allow(2))
}
