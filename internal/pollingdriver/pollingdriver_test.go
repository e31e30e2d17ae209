package pollingdriver

import (
	"context"
	"testing"
	"time"

	"livedata/internal/crossbar"
	"livedata/internal/multiplex"
	"livedata/internal/observe"
	"livedata/internal/store"
)

func TestDriverDeliversInitialResultsAndBecomesReady(t *testing.T) {
	mem := store.NewMemory()
	_ = mem.InsertOne(context.Background(), "widgets", map[string]any{"_id": "a", "qty": 1})

	bar := crossbar.New()
	var stopped bool
	mux := multiplex.New(false, func() { stopped = true })
	d := New(Query{Collection: "widgets", Selector: map[string]any{}, PollingThrottleMs: 10}, mem, mux, bar)
	defer d.Stop()

	var got []observe.Document
	h := &multiplex.Handle{InitialAdds: func(docs []observe.Document) { got = docs }}
	if err := mux.AddHandle(h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0]["_id"] != "a" {
		t.Fatalf("expected initial snapshot with doc a, got %v", got)
	}

	mux.RemoveHandle(h.ID)
	if !stopped {
		t.Fatal("expected multiplexer onStop once handles empty")
	}
}

func TestDriverReactsToInvalidation(t *testing.T) {
	mem := store.NewMemory()
	_ = mem.InsertOne(context.Background(), "widgets", map[string]any{"_id": "a", "qty": 1})

	bar := crossbar.New()
	mux := multiplex.New(false, func() {})
	d := New(Query{Collection: "widgets", Selector: map[string]any{}, PollingThrottleMs: 5}, mem, mux, bar)
	defer d.Stop()

	added := make(chan string, 4)
	h := &multiplex.Handle{
		InitialAdds: func(docs []observe.Document) {},
		Added:       func(id string, fields observe.Document) { added <- id },
	}
	if err := mux.AddHandle(h); err != nil {
		t.Fatal(err)
	}

	_ = mem.InsertOne(context.Background(), "widgets", map[string]any{"_id": "b", "qty": 2})
	bar.Fire(crossbar.Notification{"collection": "widgets", "id": "b"})

	select {
	case id := <-added:
		if id != "b" {
			t.Fatalf("expected added(b), got %v", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for invalidation-triggered poll")
	}
}
