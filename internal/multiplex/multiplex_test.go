package multiplex

import (
	"testing"

	"livedata/internal/observe"
)

func TestAddHandleBeforeReadyWaitsForReady(t *testing.T) {
	stopped := false
	m := New(false, func() { stopped = true })

	m.InitialAdds([]observe.Document{{"_id": "a", "qty": 1}})

	var got []observe.Document
	done := make(chan error, 1)
	h := &Handle{InitialAdds: func(docs []observe.Document) { got = docs }}
	go func() { done <- m.AddHandle(h) }()

	m.Ready()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0]["_id"] != "a" {
		t.Fatalf("expected initial adds to contain a, got %v", got)
	}

	m.RemoveHandle(h.ID)
	if !stopped {
		t.Fatal("expected onStop to fire once handles empty")
	}
}

func TestAddHandleAfterReadyDeliversImmediately(t *testing.T) {
	m := New(false, func() {})
	m.InitialAdds([]observe.Document{{"_id": "a"}})
	m.Ready()

	var got []observe.Document
	h := &Handle{InitialAdds: func(docs []observe.Document) { got = docs }}
	if err := m.AddHandle(h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(got))
	}
}

func TestQueryErrorRejectsPendingHandles(t *testing.T) {
	m := New(false, func() {})
	done := make(chan error, 1)
	h := &Handle{}
	go func() { done <- m.AddHandle(h) }()

	m.QueryError(errBoom)
	if err := <-done; err != errBoom {
		t.Fatalf("expected errBoom, got %v", err)
	}
}

func TestFanOutClonesUnlessNonMutating(t *testing.T) {
	m := New(false, func() {})
	m.InitialAdds(nil)
	m.Ready()

	var received observe.Document
	h := &Handle{
		NonMutatingCallbacks: false,
		Added:                func(id string, fields observe.Document) { received = fields },
	}
	if err := m.AddHandle(h); err != nil {
		t.Fatal(err)
	}

	src := observe.Document{"qty": 1}
	m.Added("x", src)
	waitFlush(m)

	if received == nil {
		t.Fatal("expected Added to be delivered")
	}
	received["qty"] = 999
	if src["qty"] == 999 {
		t.Fatal("mutating the delivered doc must not alias the source")
	}
}

func waitFlush(m *Multiplexer) {
	done := make(chan struct{})
	m.OnFlush(func() { close(done) })
	<-done
}

var errBoom = boomErr{}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }
