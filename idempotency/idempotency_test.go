package idempotency

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the shared contract against any Store.
func exerciseStore(t *testing.T, s Store, prefix string) {
	ctx := context.Background()

	t.Run("first reservation wins", func(t *testing.T) {
		key := prefix + "k1"
		ok, err := s.Reserve(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Reserve(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		value, found, err := s.Lookup(ctx, key)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Empty(t, value, "pending key has no value")
	})

	t.Run("completed key returns value", func(t *testing.T) {
		key := prefix + "k2"
		_, err := s.Reserve(ctx, key, time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.Complete(ctx, key, "receipt-42", time.Minute))

		value, found, err := s.Lookup(ctx, key)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "receipt-42", value)
	})

	t.Run("release allows retry", func(t *testing.T) {
		key := prefix + "k3"
		_, err := s.Reserve(ctx, key, time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.Release(ctx, key))

		_, found, err := s.Lookup(ctx, key)
		require.NoError(t, err)
		assert.False(t, found)

		ok, err := s.Reserve(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("concurrent reservations have one winner", func(t *testing.T) {
		key := prefix + "k4"
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.Reserve(ctx, key, time.Minute)
				assert.NoError(t, err)
				if ok {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})
}

func TestMemory_Contract(t *testing.T) {
	s := NewMemory(0)
	defer s.Close()
	exerciseStore(t, s, "")
}

func TestMemory_Expiry(t *testing.T) {
	// GIVEN: A completed key with a one-hour TTL
	// WHEN: The clock moves past the TTL
	// THEN: The key is forgotten and can be reserved again

	s := NewMemory(0)
	defer s.Close()
	now := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := s.Reserve(ctx, "k", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "k", "r-1", time.Hour))

	now = now.Add(time.Hour)
	_, found, err := s.Lookup(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	ok, err := s.Reserve(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_CleanupSweepsExpired(t *testing.T) {
	s := NewMemory(0)
	defer s.Close()
	now := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = s.Reserve(ctx, "old", time.Minute)
	_, _ = s.Reserve(ctx, "fresh", time.Hour)
	now = now.Add(2 * time.Minute)
	s.cleanup()

	assert.Len(t, s.entries, 1)
	_, ok := s.entries["fresh"]
	assert.True(t, ok)
}

func TestMemory_CloseIsIdempotent(t *testing.T) {
	s := NewMemory(time.Millisecond)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestScopedKey(t *testing.T) {
	assert.Equal(t, "bill-1:abc", ScopedKey("bill-1", "abc"))
	assert.NotEqual(t, ScopedKey("bill-1", "abc"), ScopedKey("bill-2", "abc"))
}

// TestRedis_Contract needs a live server: SB_TEST_REDIS_ADDR=localhost:6379.
func TestRedis_Contract(t *testing.T) {
	addr := os.Getenv("SB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SB_TEST_REDIS_ADDR not set")
	}
	s, err := NewRedis(context.Background(), RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s, uuid.NewString()+":")
}

func TestRedis_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	s := NewRedisWithClient(client, "")
	defer s.Close()

	_, err := s.Reserve(context.Background(), "k", time.Minute)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reserve idempotency key")
}
