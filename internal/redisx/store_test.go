package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client), mr
}

func TestAcquireLock(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	t.Run("first acquire wins", func(t *testing.T) {
		ok, err := store.AcquireLock(ctx, LockKey("job-1"), 30*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("second acquire loses", func(t *testing.T) {
		ok, err := store.AcquireLock(ctx, LockKey("job-1"), 30*time.Second)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("release frees the key", func(t *testing.T) {
		require.NoError(t, store.ReleaseLock(ctx, LockKey("job-1")))

		ok, err := store.AcquireLock(ctx, LockKey("job-1"), 30*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestLockExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := store.AcquireLock(ctx, LockKey("job-2"), 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// A crashed holder never releases; the lease bounds the stall.
	mr.FastForward(31 * time.Second)

	ok, err = store.AcquireLock(ctx, LockKey("job-2"), 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCounters(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	key := WebhookRateKey("wh-1")

	t.Run("missing key reads zero", func(t *testing.T) {
		n, err := store.GetInt(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("increment round trip", func(t *testing.T) {
		n, err := store.Incr(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = store.Incr(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		got, err := store.GetInt(ctx, key)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, int64(2))
	})

	t.Run("expiry resets the counter", func(t *testing.T) {
		require.NoError(t, store.Expire(ctx, key, 24*time.Hour))
		mr.FastForward(24*time.Hour + time.Second)

		n, err := store.GetInt(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "scheduler:lock:abc", LockKey("abc"))
	assert.Equal(t, "rl:webhook:abc", WebhookRateKey("abc"))
	assert.Equal(t, "rl:url:abc", URLRateKey("abc"))
}
