package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Cache over a shared Redis instance, grounded on
// nodestorage/v2/cache.RedisCache, letting multiple livedata processes
// share one document cache. Values are JSON rather than BSON since
// cached entries here are arbitrary publish-cursor documents, not
// always-BSON-shaped Mongo documents.
type Redis[T any] struct {
	client *redis.Client
	opts   *Options
	prefix string
}

// NewRedis dials addr and returns a ready Redis cache.
func NewRedis[T any](addr string, opts *Options) (*Redis[T], error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis[T]{client: client, opts: opts, prefix: "livedata:"}, nil
}

func (c *Redis[T]) key(k string) string { return c.prefix + k }

func (c *Redis[T]) Get(ctx context.Context, key string) (T, error) {
	var result T
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return result, ErrCacheMiss
		}
		return result, fmt.Errorf("failed to get from redis: %w", err)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return result, nil
}

func (c *Redis[T]) Set(ctx context.Context, key string, data T, ttl time.Duration) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	if err := c.client.Set(ctx, c.key(key), bytes, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *Redis[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

func (c *Redis[T]) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan redis keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Redis[T]) Close() error { return c.client.Close() }
