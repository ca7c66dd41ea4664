package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	mr, client := setupMiniredis(t)
	locker := NewRedisLocker(client)
	ctx := context.Background()

	lock, ok, err := locker.AcquireLock(ctx, "notification:lock:7", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "notification:lock:7", lock.Key)
	assert.True(t, mr.Exists("notification:lock:7"))

	_, ok, err = locker.AcquireLock(ctx, "notification:lock:7", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while the lock is held")

	require.NoError(t, locker.ReleaseLock(ctx, lock))
	assert.False(t, mr.Exists("notification:lock:7"))

	_, ok, err = locker.AcquireLock(ctx, "notification:lock:7", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_ReleaseIgnoresForeignToken(t *testing.T) {
	mr, client := setupMiniredis(t)
	locker := NewRedisLocker(client)
	ctx := context.Background()

	_, ok, err := locker.AcquireLock(ctx, "notification:lock:9", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locker.ReleaseLock(ctx, &Lock{Key: "notification:lock:9", Token: "someone-else"}))
	assert.True(t, mr.Exists("notification:lock:9"))
}

func TestRedisLocker_Expiry(t *testing.T) {
	mr, client := setupMiniredis(t)
	locker := NewRedisLocker(client)
	ctx := context.Background()

	_, ok, err := locker.AcquireLock(ctx, "notification:lock:3", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locker.AcquireLock(ctx, "notification:lock:3", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_AcquireError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	locker := NewRedisLocker(client)
	locker.token = func() string { return "tok" }

	mock.ExpectSetNX("notification:lock:1", "tok", time.Minute).SetErr(assert.AnError)

	_, ok, err := locker.AcquireLock(context.Background(), "notification:lock:1", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_ReleaseNil(t *testing.T) {
	_, client := setupMiniredis(t)
	assert.NoError(t, NewRedisLocker(client).ReleaseLock(context.Background(), nil))
}
