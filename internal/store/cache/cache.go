// Package cache provides a pluggable read-through cache for documents
// fetched by id, so repeated FindOne reads of an unchanged document skip
// the round-trip to MongoDB; cursor queries (Find) are not cached. Grounded on nodestorage/v2/cache: the same
// Cache[T] interface and the same three backends (memory, Redis, Badger),
// selected at startup by the CACHE_BACKEND config knob.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss is returned when a key is not present (or has expired).
	ErrCacheMiss = errors.New("cache miss")
	// ErrCacheClosed is returned by the Memory backend's operations after
	// Close; the Redis and Badger backends return their client's own error.
	ErrCacheClosed = errors.New("cache is closed")
)

// Cache is a generic read-through store keyed by document id.
type Cache[T any] interface {
	Get(ctx context.Context, key string) (T, error)
	Set(ctx context.Context, key string, data T, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// Options configures a cache backend.
type Options struct {
	// DefaultTTL is used when Set is called with ttl <= 0. Zero means no
	// expiration.
	DefaultTTL time.Duration
	// MaxItems bounds a memory cache's size; 0 means unbounded.
	MaxItems int
}

// DefaultOptions mirrors the teacher's defaults: a day-long TTL and a
// 10,000-item memory ceiling.
func DefaultOptions() *Options {
	return &Options{DefaultTTL: 24 * time.Hour, MaxItems: 10000}
}
