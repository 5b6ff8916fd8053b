package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisFromClient(client)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

// exerciseStore runs the contract every Store must satisfy.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("set if absent", func(t *testing.T) {
		ok, err := s.SetIfAbsent(ctx, "k1", "a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.SetIfAbsent(ctx, "k1", "b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		v, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "a", v)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		ok, err := s.Exists(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("compare and delete", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k2", "owner-a", time.Minute))

		ok, err := s.CompareAndDelete(ctx, "k2", "owner-b")
		require.NoError(t, err)
		assert.False(t, ok)

		exists, err := s.Exists(ctx, "k2")
		require.NoError(t, err)
		assert.True(t, exists)

		ok, err = s.CompareAndDelete(ctx, "k2", "owner-a")
		require.NoError(t, err)
		assert.True(t, ok)

		exists, err = s.Exists(ctx, "k2")
		require.NoError(t, err)
		assert.False(t, exists)

		ok, err = s.CompareAndDelete(ctx, "k2", "owner-a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("compare and expire", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k3", "owner-a", time.Minute))

		ok, err := s.CompareAndExpire(ctx, "k3", "owner-b", time.Hour)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.CompareAndExpire(ctx, "k3", "owner-a", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.CompareAndExpire(ctx, "absent", "owner-a", time.Hour)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete many", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "d1", "x", 0))
		require.NoError(t, s.Set(ctx, "d2", "y", 0))
		require.NoError(t, s.Delete(ctx, "d1", "d2", "d3"))
		require.NoError(t, s.Delete(ctx))

		_, err := s.Get(ctx, "d1")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Get(ctx, "d2")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRedis_Contract(t *testing.T) {
	store, _ := newMiniredis(t)
	exerciseStore(t, store)
}

func TestMemory_Contract(t *testing.T) {
	exerciseStore(t, NewMemory(time.Minute))
}

func TestRedis_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newMiniredis(t)

	ok, err := store.SetIfAbsent(ctx, "lock", "a", 3*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	refreshed, err := store.CompareAndExpire(ctx, "lock", "a", 3*time.Minute)
	require.NoError(t, err)
	assert.True(t, refreshed)

	mr.FastForward(2 * time.Minute)
	exists, err := store.Exists(ctx, "lock")
	require.NoError(t, err)
	assert.True(t, exists, "refresh should have extended the ttl")

	mr.FastForward(2 * time.Minute)
	exists, err = store.Exists(ctx, "lock")
	require.NoError(t, err)
	assert.False(t, exists)

	ok, err = store.SetIfAbsent(ctx, "lock", "b", 3*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis_CompareAndExpireRejectsZeroTTL(t *testing.T) {
	store, _ := newMiniredis(t)
	_, err := store.CompareAndExpire(context.Background(), "k", "v", 0)
	assert.Error(t, err)
}

func TestRedis_StoreFailurePropagates(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	store := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	defer store.Close()
	mr.Close()

	_, err = store.SetIfAbsent(context.Background(), "k", "v", time.Minute)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedis(context.Background(), RedisConfig{Addr: mr.Addr(), PingTimeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "k", "v", 0))
	mr.CheckGet(t, "k", "v")
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = NewRedis(context.Background(), RedisConfig{})
	assert.Error(t, err)
}

func TestMemory_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	ok, err := m.SetIfAbsent(ctx, "k", "a", 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	exists, err := m.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	ok, err = m.SetIfAbsent(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemory(0).SetIfAbsent(ctx, "k", "v", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
