package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTryLock_Exclusive(t *testing.T) {
	mr := useMiniredis(t)
	ctx := context.Background()

	first, ok, err := TryLock(ctx, "job:poll", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "job:poll", first.Key())

	second, ok, err := TryLock(ctx, "job:poll", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, second)

	require.NoError(t, first.Release(ctx))
	require.False(t, mr.Exists("job:poll"))

	_, ok, err = TryLock(ctx, "job:poll", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLockRelease_DoesNotDropForeignHolder(t *testing.T) {
	mr := useMiniredis(t)
	ctx := context.Background()

	stale, ok, err := TryLock(ctx, "job:drain", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = TryLock(ctx, "job:drain", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, stale.Release(ctx))
	require.True(t, mr.Exists("job:drain"), "expired holder must not release the new owner's lock")
}

func TestTryLock_RedisGone(t *testing.T) {
	mr := useMiniredis(t)
	held, ok, err := TryLock(context.Background(), "job:expire", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	lock, ok, err := TryLock(ctx, "job:expire", time.Minute)
	require.Error(t, err)
	require.False(t, ok)
	require.Nil(t, lock)
	require.Error(t, held.Release(ctx))
	require.Error(t, pingClient(ctx, GetClient()))
}
