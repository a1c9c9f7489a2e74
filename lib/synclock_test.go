package lib

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisGuard_ExcludesSecondReplica(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	replicaA := NewRedisGuard(rdb, zaptest.NewLogger(t), time.Minute)
	replicaB := NewRedisGuard(rdb, zaptest.NewLogger(t), time.Minute)

	release, err := replicaA.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists(syncLockKey))
	assert.Equal(t, time.Minute, mr.TTL(syncLockKey))

	_, err = replicaB.Acquire(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	release()
	assert.False(t, mr.Exists(syncLockKey))

	releaseB, err := replicaB.Acquire(ctx)
	require.NoError(t, err)
	releaseB()
}

func TestRedisGuard_ReleaseDoesNotStealExpiredLock(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	guard := NewRedisGuard(rdb, zaptest.NewLogger(t), time.Second)

	release, err := guard.Acquire(ctx)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	assert.False(t, mr.Exists(syncLockKey))

	other, err := guard.Acquire(ctx)
	require.NoError(t, err)
	holder, err := mr.Get(syncLockKey)
	require.NoError(t, err)

	release()
	current, err := mr.Get(syncLockKey)
	require.NoError(t, err)
	assert.Equal(t, holder, current, "a stale release must not delete the new holder's lock")

	other()
	assert.False(t, mr.Exists(syncLockKey))
}

func TestRedisGuard_RedisDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mr.Close()

	_, err := NewRedisGuard(rdb, zaptest.NewLogger(t), time.Minute).Acquire(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSyncInProgress)
}

func TestLocalGuard(t *testing.T) {
	guard := &localGuard{}

	release, err := guard.Acquire(context.Background())
	require.NoError(t, err)

	_, err = guard.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	release()
	_, err = guard.Acquire(context.Background())
	assert.NoError(t, err)
}
