package mergebox

import (
	"testing"

	"livedata/internal/observe"
)

func TestAddedThenChangedFromSecondSub(t *testing.T) {
	c := NewCollectionView()
	var gotAdded, gotChanged observe.Document

	c.Added("subA", "doc1", observe.Document{"name": "widget", "qty": 1}, Callbacks{
		Added: func(id string, f observe.Document) { gotAdded = f },
	})
	if gotAdded["name"] != "widget" || gotAdded["qty"] != 1 {
		t.Fatalf("unexpected added payload: %v", gotAdded)
	}

	// A second sub contributing the same doc but a different qty should
	// not change the client-visible value (subA's entry is still head).
	c.Added("subB", "doc1", observe.Document{"qty": 99}, Callbacks{
		Changed: func(id string, f observe.Document) { gotChanged = f },
	})
	if gotChanged != nil {
		t.Fatalf("expected no visible change (subA still head), got %v", gotChanged)
	}
}

func TestRemovedHeadExposesNextContributor(t *testing.T) {
	c := NewCollectionView()
	c.Added("subA", "doc1", observe.Document{"qty": 1}, Callbacks{})
	c.Added("subB", "doc1", observe.Document{"qty": 2}, Callbacks{})

	var changed observe.Document
	c.Removed("subA", "doc1", Callbacks{
		Changed: func(id string, f observe.Document) { changed = f },
	})
	if changed["qty"] != 2 {
		t.Fatalf("expected qty to fall through to subB's value 2, got %v", changed)
	}
}

func TestRemovedLastExistsInDropsDocument(t *testing.T) {
	c := NewCollectionView()
	c.Added("subA", "doc1", observe.Document{"qty": 1}, Callbacks{})

	removedID := ""
	c.Removed("subA", "doc1", Callbacks{
		Removed: func(id string) { removedID = id },
	})
	if removedID != "doc1" {
		t.Fatalf("expected removed(doc1), got %q", removedID)
	}
}

func TestChangedWithNilClearsField(t *testing.T) {
	c := NewCollectionView()
	c.Added("subA", "doc1", observe.Document{"qty": 1, "name": "widget"}, Callbacks{})

	var changed observe.Document
	c.Changed("subA", "doc1", observe.Document{"qty": nil}, Callbacks{
		Changed: func(id string, f observe.Document) { changed = f },
	})
	if v, exists := changed["qty"]; !exists || v != nil {
		t.Fatalf("expected qty cleared (nil), got %v", changed)
	}
}

func TestDiffSnapshots(t *testing.T) {
	old := map[string]map[string]observe.Document{
		"widgets": {"a": {"qty": 1}},
	}
	cur := map[string]map[string]observe.Document{
		"widgets": {"a": {"qty": 2}, "b": {"qty": 5}},
	}
	events := DiffSnapshots(old, cur)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
}
