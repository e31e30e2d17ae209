package store

import (
	"context"

	"livedata/internal/store/cache"
)

// Cached wraps a Store with a read-through cache keyed by "collection/id",
// grounded on nodestorage/v2's StorageImpl combining a Storage with a
// Cache[T] to skip a round-trip to Mongo for documents it already holds.
// Only FindOne benefits: Find's cursor results vary with selector/sort/
// skip/limit and aren't worth keying on, so they pass straight through.
type Cached struct {
	Store
	cache cache.Cache[map[string]any]
}

// NewCached wraps store with backing, invalidating cache entries on every
// write so a subsequent FindOne always observes its own writes.
func NewCached(store Store, backing cache.Cache[map[string]any]) *Cached {
	return &Cached{Store: store, cache: backing}
}

func cacheKey(collection, id string) string { return collection + "/" + id }

func (c *Cached) FindOne(ctx context.Context, collection string, id string) (map[string]any, error) {
	key := cacheKey(collection, id)
	if doc, err := c.cache.Get(ctx, key); err == nil {
		return doc, nil
	}

	doc, err := c.Store.FindOne(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	_ = c.cache.Set(ctx, key, doc, 0)
	return doc, nil
}

func (c *Cached) InsertOne(ctx context.Context, collection string, doc map[string]any) error {
	if err := c.Store.InsertOne(ctx, collection, doc); err != nil {
		return err
	}
	if id, ok := doc["_id"].(string); ok {
		_ = c.cache.Delete(ctx, cacheKey(collection, id))
	}
	return nil
}

func (c *Cached) UpdateOne(ctx context.Context, collection string, id string, update map[string]any) error {
	if err := c.Store.UpdateOne(ctx, collection, id, update); err != nil {
		return err
	}
	_ = c.cache.Delete(ctx, cacheKey(collection, id))
	return nil
}

func (c *Cached) DeleteOne(ctx context.Context, collection string, id string) error {
	if err := c.Store.DeleteOne(ctx, collection, id); err != nil {
		return err
	}
	_ = c.cache.Delete(ctx, cacheKey(collection, id))
	return nil
}
