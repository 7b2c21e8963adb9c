package engine

import (
	"context"
	"testing"
	"time"

	"papertrader/internal/pkg/distlock"
	"papertrader/internal/store/gormstore"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *gormstore.GormStore {
	t.Helper()
	st, err := gormstore.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestTraderEnabled(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	on, err := TraderEnabled(ctx, st)
	require.NoError(t, err)
	assert.True(t, on, "missing flag means enabled")

	require.NoError(t, SetTraderEnabled(ctx, st, false))
	on, err = TraderEnabled(ctx, st)
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, st.Settings().Set(ctx, KeyTraderEnabled, "maybe"))
	on, err = TraderEnabled(ctx, st)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestWatchedCoins(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	assert.Equal(t, FallbackCoins, WatchedCoins(ctx, st))

	require.NoError(t, SeedWatchedCoins(ctx, st, []string{"Bitcoin", "cardano", "bitcoin", " "}))
	assert.Equal(t, []string{"bitcoin", "cardano"}, WatchedCoins(ctx, st))

	// an existing list is never overwritten by seeding
	require.NoError(t, SeedWatchedCoins(ctx, st, []string{"solana"}))
	assert.Equal(t, []string{"bitcoin", "cardano"}, WatchedCoins(ctx, st))

	for _, raw := range []string{"not json", "[]", `{"a":1}`} {
		require.NoError(t, st.Settings().Set(ctx, KeyWatchedCoins, raw))
		assert.Equal(t, FallbackCoins, WatchedCoins(ctx, st), raw)
	}
}

func TestGuard_LocalOnly(t *testing.T) {
	g := NewGuard(nil)
	release, ok := g.TryEnter(context.Background())
	require.True(t, ok)
	assert.True(t, g.Running())

	_, again := g.TryEnter(context.Background())
	assert.False(t, again)

	release()
	assert.False(t, g.Running())
	release, ok = g.TryEnter(context.Background())
	require.True(t, ok)
	release()
}

func TestGuard_SharedLockAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	a := NewGuard(distlock.New(client, "papertrader:tick", time.Minute))
	b := NewGuard(distlock.New(client, "papertrader:tick", time.Minute))
	ctx := context.Background()

	release, ok := a.TryEnter(ctx)
	require.True(t, ok)
	_, ok = b.TryEnter(ctx)
	assert.False(t, ok)
	assert.False(t, b.Running(), "a failed shared lock leaves the local flag clear")

	release()
	assert.False(t, mr.Exists("papertrader:tick"))
	release, ok = b.TryEnter(ctx)
	require.True(t, ok)
	release()
}
