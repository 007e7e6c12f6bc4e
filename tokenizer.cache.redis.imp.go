// File: tokenizer.cache.redis.imp.go

package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCacheStore is a CacheStore on top of Redis string keys with TTL.
type RedisCacheStore struct {
	client redis.UniversalClient
}

// NewRedisCacheStore creates a Redis-based cache store
func NewRedisCacheStore(client redis.UniversalClient) (*RedisCacheStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisCacheStore{
		client: client,
	}, nil
}

// NewRedisCacheStoreFromConfig dials Redis with the cache configuration.
func NewRedisCacheStoreFromConfig(cfg RedisConfig) (*RedisCacheStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	store, err := NewRedisCacheStore(client)
	if err != nil {
		client.Close()
		return nil, err
	}
	return store, nil
}

func (r *RedisCacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis error: %w", err)
	}
	return value, nil
}

func (r *RedisCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCacheStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisCacheStore) Close() error {
	return r.client.Close()
}
