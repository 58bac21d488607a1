package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterBurstThenDeny(t *testing.T) {
	rl := NewRateLimiter(3, 0.001) // effectively no refill inside the test
	assert.True(t, rl.TryAcquire())
	assert.True(t, rl.TryAcquire())
	assert.True(t, rl.TryAcquire())
	assert.False(t, rl.TryAcquire())
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(1, 1000)
	require.True(t, rl.TryAcquire())
	assert.Eventually(t, rl.TryAcquire, time.Second, time.Millisecond)
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(1, 0.001)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
