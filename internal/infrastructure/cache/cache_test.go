package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/config"
)

func setupTestRedis(t *testing.T) (*redisStore, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := &config.RedisConfig{
		Address:      mr.Addr(),
		Password:     "",
		DB:           0,
		PoolSize:     5,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	logger := zaptest.NewLogger(t)

	store, err := NewRedisStore(cfg, logger)
	require.NoError(t, err)

	rs := store.(*redisStore)

	cleanup := func() {
		store.Close()
		mr.Close()
	}

	return rs, mr, cleanup
}

func TestNewRedisStore(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		store, _, cleanup := setupTestRedis(t)
		defer cleanup()

		assert.NotNil(t, store)
		assert.NotNil(t, store.client)
		assert.NotNil(t, store.logger)
	})

	t.Run("nil logger", func(t *testing.T) {
		cfg := &config.RedisConfig{Address: "localhost:6379"}
		_, err := NewRedisStore(cfg, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("nil config", func(t *testing.T) {
		logger := zaptest.NewLogger(t)
		_, err := NewRedisStore(nil, logger)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis config is required")
	})

	t.Run("connection failure", func(t *testing.T) {
		cfg := &config.RedisConfig{
			Address:     "localhost:9999", // Non-existent port
			DialTimeout: 100 * time.Millisecond,
		}
		logger := zaptest.NewLogger(t)

		_, err := NewRedisStore(cfg, logger)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis connection failed")
	})
}

func TestRedisStore_BasicOperations(t *testing.T) {
	store, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		key := "test:key"
		value := []byte("test_value")

		err := store.Set(ctx, key, value, time.Hour)
		require.NoError(t, err)

		result, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, value, result)
	})

	t.Run("Get non-existent key", func(t *testing.T) {
		_, err := store.Get(ctx, "non_existent_key")
		assert.Error(t, err)

		var notFoundErr ErrCacheKeyNotFound
		assert.ErrorAs(t, err, &notFoundErr)
		assert.Equal(t, "non_existent_key", notFoundErr.Key)
		assert.True(t, IsNotFound(err))
	})

	t.Run("Delete", func(t *testing.T) {
		key := "test:delete"

		err := store.Set(ctx, key, []byte("delete_me"), time.Hour)
		require.NoError(t, err)

		exists, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)

		err = store.Delete(ctx, key)
		require.NoError(t, err)

		exists, err = store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("Delete with no keys is a no-op", func(t *testing.T) {
		err := store.Delete(ctx)
		assert.NoError(t, err)
	})

	t.Run("Exists", func(t *testing.T) {
		key := "test:exists"

		exists, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)

		err = store.Set(ctx, key, []byte("value"), time.Hour)
		require.NoError(t, err)

		exists, err = store.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestRedisStore_Tags(t *testing.T) {
	store, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("DeleteByTag removes tagged entries only", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "us:1", []byte("a"), time.Hour, "country:US"))
		require.NoError(t, store.Set(ctx, "us:2", []byte("b"), time.Hour, "country:US"))
		require.NoError(t, store.Set(ctx, "in:1", []byte("c"), time.Hour, "country:IN"))

		deleted, err := store.DeleteByTag(ctx, "country:US")
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)

		exists, err := store.Exists(ctx, "us:1")
		require.NoError(t, err)
		assert.False(t, exists)

		exists, err = store.Exists(ctx, "in:1")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("DeleteByTag on unknown tag", func(t *testing.T) {
		deleted, err := store.DeleteByTag(ctx, "country:ZZ")
		require.NoError(t, err)
		assert.Equal(t, 0, deleted)
	})

	t.Run("expired member does not count", func(t *testing.T) {
		mrStore, mr, cleanup2 := setupTestRedis(t)
		defer cleanup2()

		require.NoError(t, mrStore.Set(ctx, "gone", []byte("x"), time.Second, "stale"))
		mr.FastForward(1100 * time.Millisecond)

		deleted, err := mrStore.DeleteByTag(ctx, "stale")
		require.NoError(t, err)
		assert.Equal(t, 0, deleted)
	})
}

func TestRedisStore_TTL(t *testing.T) {
	store, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("key expires after TTL", func(t *testing.T) {
		key := "test:ttl"
		value := []byte("expires_soon")

		err := store.Set(ctx, key, value, time.Second)
		require.NoError(t, err)

		result, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, value, result)

		mr.FastForward(1100 * time.Millisecond)

		_, err = store.Get(ctx, key)
		assert.Error(t, err)
		var notFoundErr ErrCacheKeyNotFound
		assert.ErrorAs(t, err, &notFoundErr)
	})

	t.Run("no TTL means no expiration", func(t *testing.T) {
		key := "test:no_ttl"
		value := []byte("never_expires")

		err := store.Set(ctx, key, value, 0)
		require.NoError(t, err)

		mr.FastForward(time.Hour)

		result, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, value, result)
	})
}

func TestRedisStore_Close(t *testing.T) {
	store, _, cleanup := setupTestRedis(t)
	defer cleanup()

	err := store.Close()
	assert.NoError(t, err)
}
