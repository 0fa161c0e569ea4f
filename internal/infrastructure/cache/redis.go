package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/config"
)

// redisStore implements the Store interface using Redis. Tag membership is
// tracked in sets under TagPrefix; tag sets are unbounded and only removed
// by DeleteByTag, so expired members may linger until then.
type redisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed store with the given configuration
func NewRedisStore(cfg *config.RedisConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	opts := &redis.Options{
		Addr:            cfg.Address,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		MaxRetries:      cfg.MaxRetries,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	client := redis.NewClient(opts)

	// Health check with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("redis store initialized",
		zap.String("addr", cfg.Address),
		zap.Int("db", cfg.DB),
		zap.Int("pool_size", cfg.PoolSize))

	return &redisStore{
		client: client,
		logger: logger,
	}, nil
}

// Get retrieves the value stored under key
func (r *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheKeyNotFound{Key: key}
		}
		r.logger.Error("redis get failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	return result, nil
}

// Set stores value under key for ttl and indexes it under each tag
func (r *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, value, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, TagPrefix+tag, key)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("redis set failed",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Delete removes the given keys; missing keys are not an error
func (r *redisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.logger.Error("redis delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("redis delete failed: %w", err)
	}

	return nil
}

// DeleteByTag removes every entry indexed under tag
func (r *redisStore) DeleteByTag(ctx context.Context, tag string) (int, error) {
	tagKey := TagPrefix + tag

	members, err := r.client.SMembers(ctx, tagKey).Result()
	if err != nil {
		r.logger.Error("redis tag lookup failed", zap.String("tag", tag), zap.Error(err))
		return 0, fmt.Errorf("redis tag lookup failed: %w", err)
	}

	var deleted int64
	if len(members) > 0 {
		deleted, err = r.client.Del(ctx, members...).Result()
		if err != nil {
			r.logger.Error("redis tag delete failed", zap.String("tag", tag), zap.Error(err))
			return 0, fmt.Errorf("redis tag delete failed: %w", err)
		}
	}

	if err := r.client.Del(ctx, tagKey).Err(); err != nil {
		r.logger.Error("redis tag set delete failed", zap.String("tag", tag), zap.Error(err))
		return int(deleted), fmt.Errorf("redis tag set delete failed: %w", err)
	}

	return int(deleted), nil
}

// Exists checks if a key holds an unexpired entry
func (r *redisStore) Exists(ctx context.Context, key string) (bool, error) {
	result, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		r.logger.Error("redis exists check failed", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("redis exists check failed: %w", err)
	}

	return result > 0, nil
}

// Close closes the connection to Redis
func (r *redisStore) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("redis close failed", zap.Error(err))
		return fmt.Errorf("redis close failed: %w", err)
	}

	r.logger.Info("redis store connection closed")
	return nil
}
