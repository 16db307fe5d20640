package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb, nil), mr
}

func TestTryLockIsExclusive(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	token, ok, err := c.TryLock(ctx, "lock:sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)
	assert.Equal(t, time.Minute, mr.TTL("lock:sweep"))

	_, ok, err = c.TryLock(ctx, "lock:sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Unlock(ctx, "lock:sweep", token))
	assert.False(t, mr.Exists("lock:sweep"))

	_, ok, err = c.TryLock(ctx, "lock:sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlockLeavesForeignLock(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	token, ok, err := c.TryLock(ctx, "lock:sweep", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// the lock expires and another process takes it
	mr.FastForward(2 * time.Second)
	other, ok, err := c.TryLock(ctx, "lock:sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Unlock(ctx, "lock:sweep", token))
	held, err := mr.Get("lock:sweep")
	require.NoError(t, err)
	assert.Equal(t, other, held)
}

func TestHealthy(t *testing.T) {
	c, mr := newTestClient(t)
	require.NoError(t, c.Healthy(context.Background()))
	mr.SetError("ERR simulated outage")
	assert.Error(t, c.Healthy(context.Background()))
}
