package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotkeeper/internal/config"
)

func TestRedisRateLimitStore(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer client.Close()

	repo := NewRedisRateLimitStore(client, "")
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	window := 24 * time.Hour

	t.Run("RemainingDecreases", func(t *testing.T) {
		phone := "+15550000001"
		for i, want := range []int{2, 1, 0} {
			dec, err := repo.CheckAndIncrement(ctx, phone, 3, window, now.Add(time.Duration(i)*time.Minute))
			require.NoError(t, err)
			assert.True(t, dec.Allowed)
			assert.Equal(t, want, dec.Remaining)
			assert.Equal(t, now.Add(window).UnixMilli(), dec.ResetTime.UnixMilli(), "window anchored at first request")
		}

		dec, err := repo.CheckAndIncrement(ctx, phone, 3, window, now.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, dec.Allowed)
		assert.Equal(t, 0, dec.Remaining)
	})

	t.Run("DenialDoesNotMutate", func(t *testing.T) {
		phone := "+15550000002"
		for i := 0; i < 3; i++ {
			_, err := repo.CheckAndIncrement(ctx, phone, 3, window, now)
			require.NoError(t, err)
		}
		for i := 0; i < 5; i++ {
			dec, err := repo.CheckAndIncrement(ctx, phone, 3, window, now.Add(time.Minute))
			require.NoError(t, err)
			assert.False(t, dec.Allowed)
		}

		entry, err := repo.Entry(ctx, phone)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, 3, entry.Count)
		assert.Equal(t, now.UnixMilli(), entry.WindowStart.UnixMilli())
	})

	t.Run("ResetsAfterWindow", func(t *testing.T) {
		phone := "+15550000003"
		for i := 0; i < 4; i++ {
			_, err := repo.CheckAndIncrement(ctx, phone, 3, window, now)
			require.NoError(t, err)
		}

		// at window end the entry still applies
		dec, err := repo.CheckAndIncrement(ctx, phone, 3, window, now.Add(window))
		require.NoError(t, err)
		assert.False(t, dec.Allowed)

		later := now.Add(window + time.Millisecond)
		dec, err = repo.CheckAndIncrement(ctx, phone, 3, window, later)
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
		assert.Equal(t, 2, dec.Remaining)
		assert.Equal(t, later.Add(window).UnixMilli(), dec.ResetTime.UnixMilli())
	})

	t.Run("KeyExpiresInRedis", func(t *testing.T) {
		phone := "+15550000004"
		_, err := repo.CheckAndIncrement(ctx, phone, 3, time.Second, now)
		require.NoError(t, err)
		s.FastForward(2 * time.Minute)

		entry, err := repo.Entry(ctx, phone)
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("ConcurrentCallersRespectCap", func(t *testing.T) {
		phone := "+15550000005"
		var wg sync.WaitGroup
		var mu sync.Mutex
		allowed := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				dec, err := repo.CheckAndIncrement(ctx, phone, 3, window, now)
				if err == nil && dec.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 3, allowed)
	})

	t.Run("NilClient", func(t *testing.T) {
		repo := NewRedisRateLimitStore(nil, "")
		_, err := repo.CheckAndIncrement(ctx, "+1", 3, window, now)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})

	t.Run("ServerDown", func(t *testing.T) {
		s2, err := miniredis.Run()
		require.NoError(t, err)
		c2 := redis.NewClient(&redis.Options{Addr: s2.Addr(), MaxRetries: -1})
		defer c2.Close()
		s2.Close()

		_, err = NewRedisRateLimitStore(c2, "").CheckAndIncrement(ctx, "+1", 3, window, now)
		assert.Error(t, err)
	})

	t.Run("Close", func(t *testing.T) {
		assert.NoError(t, Close(client))
		assert.NoError(t, Close(nil))
	})
}

func TestRedisRateLimitStore_KeyLayout(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer client.Close()

	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for _, prefix := range []string{"ratelimit", "ratelimit:"} {
		_, err := NewRedisRateLimitStore(client, prefix).CheckAndIncrement(ctx, "+15550000009", 3, time.Hour, now)
		require.NoError(t, err)
	}

	assert.True(t, s.Exists("ratelimit:+15550000009"))
	assert.False(t, s.Exists("ratelimit::+15550000009"))

	entry, err := NewRedisRateLimitStore(client, "ratelimit").Entry(ctx, "+15550000009")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.Count, "both spellings share one counter")
}
