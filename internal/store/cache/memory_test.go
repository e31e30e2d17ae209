package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemorySetGetDelete(t *testing.T) {
	c := NewMemory[map[string]any](nil)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "a", map[string]any{"qty": 1}, time.Minute); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got["qty"] != 1 {
		t.Fatalf("unexpected value: %v", got)
	}

	if err := c.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "a"); err != ErrCacheMiss {
		t.Fatalf("expected ErrCacheMiss after delete, got %v", err)
	}
}

func TestMemoryExpiresEntries(t *testing.T) {
	c := NewMemory[int](nil)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "x", 1, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.Get(ctx, "x"); err != ErrCacheMiss {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
}

func TestMemoryRejectsOpsAfterClose(t *testing.T) {
	c := NewMemory[int](nil)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(context.Background(), "x", 1, 0); err != ErrCacheClosed {
		t.Fatalf("expected ErrCacheClosed, got %v", err)
	}
}

func TestMemoryEvictsWhenMaxItemsReached(t *testing.T) {
	c := NewMemory[int](&Options{MaxItems: 1})
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "a", 1, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, "b", 2, time.Minute); err != nil {
		t.Fatal(err)
	}

	count := 0
	for _, k := range []string{"a", "b"} {
		if _, err := c.Get(ctx, k); err == nil {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one surviving entry after eviction, got %d", count)
	}
}
