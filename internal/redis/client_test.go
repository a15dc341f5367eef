package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		client, err := NewClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("applies defaults", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		assert.Equal(t, 10, client.config.PoolSize)
		assert.NoError(t, client.Health())
		assert.NotNil(t, client.GetGoRedisClient())
	})

	t.Run("unreachable server", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		addr := mr.Addr()
		mr.Close()

		client, err := NewClient(&Config{Address: addr})
		assert.Error(t, err)
		assert.Nil(t, client)
	})
}

func TestClient_KeyValue(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "k1", "v1", 0))

		val, err := client.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "v1", val)

		exists, err := client.Exists(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("missing key", func(t *testing.T) {
		val, err := client.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Empty(t, val)
	})

	t.Run("expiration", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "ttl", "v", time.Minute))
		assert.Equal(t, time.Minute, mr.TTL("ttl"))

		mr.FastForward(2 * time.Minute)
		_, err := client.Get(ctx, "ttl")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "gone", "v", 0))
		require.NoError(t, client.Delete(ctx, "gone"))

		exists, err := client.Exists(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}
