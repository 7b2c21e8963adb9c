package distlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T, ttl time.Duration) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "test:tick", ttl), mr
}

func TestTryLock_ExclusiveUntilReleased(t *testing.T) {
	l, mr := newLocker(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, l.Ping(ctx))

	first, err := l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:tick"))

	_, err = l.TryLock(ctx)
	assert.True(t, errors.Is(err, ErrHeld))

	require.NoError(t, first.Release(ctx))
	assert.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists("test:tick"))

	second, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestRelease_DoesNotDeleteForeignLock(t *testing.T) {
	l, mr := newLocker(t, time.Minute)
	ctx := context.Background()
	lock, err := l.TryLock(ctx)
	require.NoError(t, err)

	// expire and let another owner take the key
	mr.FastForward(2 * time.Minute)
	require.NoError(t, mr.Set("test:tick", "someone-else"))

	err = lock.Release(ctx)
	assert.Error(t, err)
	v, _ := mr.Get("test:tick")
	assert.Equal(t, "someone-else", v)
}

func TestTryLock_ExpiresWithTTL(t *testing.T) {
	l, mr := newLocker(t, time.Hour)
	ctx := context.Background()
	lock, err := l.TryLock(ctx)
	require.NoError(t, err)
	defer func() { _ = lock.Release(ctx) }()

	assert.Equal(t, time.Hour, mr.TTL("test:tick"))
	mr.FastForward(2 * time.Hour)
	assert.False(t, mr.Exists("test:tick"))
}
