package store

import (
	"context"
	"testing"

	"livedata/internal/store/cache"
)

func TestCachedFindOneServesFromCache(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	if err := mem.InsertOne(ctx, "widgets", map[string]any{"_id": "w1", "qty": float64(1)}); err != nil {
		t.Fatal(err)
	}

	c := NewCached(mem, cache.NewMemory[map[string]any](nil))

	got, err := c.FindOne(ctx, "widgets", "w1")
	if err != nil {
		t.Fatal(err)
	}
	if got["qty"] != float64(1) {
		t.Fatalf("unexpected doc: %v", got)
	}

	// mutate the backing store directly; a cached read should still see
	// the stale cached value until invalidated.
	mem.data["widgets"]["w1"] = map[string]any{"_id": "w1", "qty": float64(99)}
	got, err = c.FindOne(ctx, "widgets", "w1")
	if err != nil {
		t.Fatal(err)
	}
	if got["qty"] != float64(1) {
		t.Fatalf("expected cached stale value, got %v", got)
	}
}

func TestCachedUpdateInvalidatesEntry(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	if err := mem.InsertOne(ctx, "widgets", map[string]any{"_id": "w1", "qty": float64(1)}); err != nil {
		t.Fatal(err)
	}

	c := NewCached(mem, cache.NewMemory[map[string]any](nil))
	if _, err := c.FindOne(ctx, "widgets", "w1"); err != nil {
		t.Fatal(err)
	}
	if err := c.UpdateOne(ctx, "widgets", "w1", map[string]any{"$set": map[string]any{"qty": float64(2)}}); err != nil {
		t.Fatal(err)
	}

	got, err := c.FindOne(ctx, "widgets", "w1")
	if err != nil {
		t.Fatal(err)
	}
	if got["qty"] != float64(2) {
		t.Fatalf("expected fresh value after invalidation, got %v", got)
	}
}
