package server

import (
	"context"
	"testing"

	"livedata/internal/crossbar"
	"livedata/internal/livesession"
	"livedata/internal/registry"
	"livedata/internal/store"
	"livedata/internal/subscription"
)

func newTestServer() *Server {
	mem := store.NewMemory()
	bar := crossbar.New()
	reg := registry.New(mem, bar)
	return New(reg, 0, 0, 0, 0)
}

func TestPublishAndLookup(t *testing.T) {
	s := newTestServer()
	handler := func(sub *subscription.Subscription, params []any) (any, error) {
		sub.Ready()
		return nil, nil
	}
	s.Publish("widgets", handler, livesession.ServerMerge)

	_, strategy, ok := s.Publication("widgets")
	if !ok || strategy != livesession.ServerMerge {
		t.Fatalf("expected registered publication to be found with ServerMerge strategy")
	}

	if _, _, ok := s.Publication("missing"); ok {
		t.Fatalf("expected unregistered publication to be absent")
	}
}

func TestHandleMethodAndLookup(t *testing.T) {
	s := newTestServer()
	s.HandleMethod("echo", func(ctx context.Context, sess *livesession.Session, params []any) (any, error) {
		return params, nil
	})

	h, ok := s.Method("echo")
	if !ok {
		t.Fatalf("expected registered method to be found")
	}
	result, err := h(context.Background(), nil, []any{"a"})
	if err != nil {
		t.Fatal(err)
	}
	params, ok := result.([]any)
	if !ok || len(params) != 1 || params[0] != "a" {
		t.Fatalf("unexpected echo result: %v", result)
	}

	if _, ok := s.Method("missing"); ok {
		t.Fatalf("expected unregistered method to be absent")
	}
}

func TestUniversalPublicationsSnapshot(t *testing.T) {
	s := newTestServer()
	s.PublishUniversal("rooms", func(sub *subscription.Subscription, params []any) (any, error) {
		sub.Ready()
		return nil, nil
	})

	pubs := s.UniversalPublications()
	if len(pubs) != 1 || pubs[0].Name != "rooms" {
		t.Fatalf("expected one universal publication named rooms, got %v", pubs)
	}
}

func TestSessionCountStartsAtZero(t *testing.T) {
	s := newTestServer()
	if s.SessionCount() != 0 {
		t.Fatalf("expected no sessions before any connection")
	}
	if s.SetUserID("nonexistent", nil) {
		t.Fatalf("expected SetUserID on unknown session to report false")
	}
}
