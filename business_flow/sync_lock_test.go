package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLock(t *testing.T) (SyncLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return NewRedisSyncLock(rc, "orgsync:"), mr
}

func TestRedisSyncLockContention(t *testing.T) {
	lock, mr := newRedisLock(t)
	ctx := context.Background()

	release, ok, err := lock.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("orgsync:k"))
	assert.NotEqual(t, "1", mustGet(t, mr, "orgsync:k"), "lock value is a per-acquire token")

	_, ok, err = lock.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = lock.TryLock(ctx, "other", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	release()
	release()
	assert.False(t, mr.Exists("orgsync:k"))

	_, ok, err = lock.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisSyncLockExpiredHolderCannotReleaseSuccessor(t *testing.T) {
	lock, mr := newRedisLock(t)
	ctx := context.Background()

	releaseA, ok, err := lock.TryLock(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)
	assert.False(t, mr.Exists("orgsync:k"))

	releaseB, ok, err := lock.TryLock(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "expired lock can be taken over")

	releaseA()
	assert.True(t, mr.Exists("orgsync:k"), "stale release leaves the new holder alone")

	_, ok, err = lock.TryLock(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	releaseB()
	_, ok, err = lock.TryLock(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisSyncLockRefreshesWhileHeld(t *testing.T) {
	lock, mr := newRedisLock(t)

	release, ok, err := lock.TryLock(context.Background(), "k", 300*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(250 * time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL("orgsync:k") > 200*time.Millisecond
	}, 2*time.Second, 20*time.Millisecond, "holder extends the ttl")

	release()
	assert.False(t, mr.Exists("orgsync:k"))
}

func TestRedisSyncLockUnavailable(t *testing.T) {
	lock, mr := newRedisLock(t)
	mr.Close()

	release, ok, err := lock.TryLock(context.Background(), "k", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Nil(t, release)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
