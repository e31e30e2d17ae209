package subscription

import (
	"errors"
	"testing"

	"livedata/internal/observe"
)

type recordingSink struct {
	added, changed, removed []string
}

func (s *recordingSink) Added(collection, id string, fields observe.Document) {
	s.added = append(s.added, id)
}
func (s *recordingSink) Changed(collection, id string, fields observe.Document) {
	s.changed = append(s.changed, id)
}
func (s *recordingSink) Removed(collection, id string) {
	s.removed = append(s.removed, id)
}

func TestRunHandlerNilLeavesSubscriptionOpen(t *testing.T) {
	sink := &recordingSink{}
	sub := New(sink, nil, func(sub *Subscription, params []any) (any, error) {
		sub.Added("widgets", "a", observe.Document{"qty": 1})
		sub.Ready()
		return nil, nil
	}, "1", "widgets", nil)

	sub.RunHandler()
	if !sub.IsReady() {
		t.Fatal("expected handler to mark ready")
	}
	if len(sink.added) != 1 || sink.added[0] != "a" {
		t.Fatalf("expected forwarded add, got %v", sink.added)
	}
}

func TestRunHandlerErrorCallsError(t *testing.T) {
	sink := &recordingSink{}
	sub := New(sink, nil, func(sub *Subscription, params []any) (any, error) {
		return nil, errors.New("boom")
	}, "1", "widgets", nil)

	sub.RunHandler()
	if sub.Err() == nil {
		t.Fatal("expected error to be recorded")
	}
	if !sub.IsDeactivated() {
		t.Fatal("expected subscription to deactivate on handler error")
	}
}

func TestRemoveAllDocumentsEmitsRemoved(t *testing.T) {
	sink := &recordingSink{}
	sub := New(sink, nil, func(sub *Subscription, params []any) (any, error) { return nil, nil }, "1", "widgets", nil)
	sub.Added("widgets", "a", observe.Document{"qty": 1})
	sub.Added("widgets", "b", observe.Document{"qty": 2})

	sub.RemoveAllDocuments()
	if len(sink.removed) != 2 {
		t.Fatalf("expected 2 removals, got %v", sink.removed)
	}
}

func TestNamedAndUniversalHandles(t *testing.T) {
	named := New(nil, nil, nil, "42", "widgets", nil)
	if named.Handle != "N42" {
		t.Fatalf("expected N42, got %s", named.Handle)
	}
	universal := New(nil, nil, nil, "", "", nil)
	if universal.Handle[0] != 'U' {
		t.Fatalf("expected universal handle to start with U, got %s", universal.Handle)
	}
}
