package observe

import (
	"testing"
)

func TestUnorderedBasicOps(t *testing.T) {
	c := NewUnordered()
	c.InitialAdds([]Document{{"_id": "a", "qty": 1}})
	c.Added("b", Document{"qty": 2})
	if c.Len() != 2 {
		t.Fatalf("expected 2 docs, got %d", c.Len())
	}
	c.Changed("a", Document{"qty": nil, "name": "apple"})
	doc, ok := c.Get("a")
	if !ok {
		t.Fatal("expected a to exist")
	}
	if _, exists := doc["qty"]; exists {
		t.Fatal("expected qty to be removed by nil patch")
	}
	if doc["name"] != "apple" {
		t.Fatalf("expected name to be set, got %v", doc["name"])
	}
	c.Removed("b")
	if c.Len() != 1 {
		t.Fatalf("expected 1 doc after removal, got %d", c.Len())
	}
}

func TestUnorderedChangedMissingIDPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on changed into missing id")
		}
	}()
	NewUnordered().Changed("missing", Document{"x": 1})
}

func TestOrderedMoveBefore(t *testing.T) {
	c := NewOrdered()
	c.InitialAdds([]Document{{"_id": "a"}, {"_id": "b"}, {"_id": "c"}})
	bID := "b"
	c.MovedBefore("c", &bID)
	ids := idsOf(c.Docs())
	want := []string{"a", "c", "b"}
	if !equalStrings(ids, want) {
		t.Fatalf("got %v want %v", ids, want)
	}
}

func TestOrderedAddedBefore(t *testing.T) {
	c := NewOrdered()
	c.InitialAdds([]Document{{"_id": "a"}, {"_id": "b"}})
	aID := "a"
	c.AddedBefore("x", Document{"n": 1}, &aID)
	ids := idsOf(c.Docs())
	want := []string{"x", "a", "b"}
	if !equalStrings(ids, want) {
		t.Fatalf("got %v want %v", ids, want)
	}
}

func TestOrderedRemovedMissingIDPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on removed missing id")
		}
	}()
	NewOrdered().Removed("missing")
}

func TestDiffUnordered(t *testing.T) {
	old := map[string]Document{
		"a": {"_id": "a", "qty": 1},
		"b": {"_id": "b", "qty": 2},
	}
	new := map[string]Document{
		"a": {"_id": "a", "qty": 5},
		"c": {"_id": "c", "qty": 3},
	}
	var added, changed, removed []string
	DiffUnordered(old, new, Callbacks{
		AddedBefore: func(id string, fields Document, before *string) { added = append(added, id) },
		Changed:     func(id string, fields Document) { changed = append(changed, id) },
		Removed:     func(id string) { removed = append(removed, id) },
	})
	if !equalStrings(added, []string{"c"}) {
		t.Fatalf("added = %v", added)
	}
	if !equalStrings(changed, []string{"a"}) {
		t.Fatalf("changed = %v", changed)
	}
	if !equalStrings(removed, []string{"b"}) {
		t.Fatalf("removed = %v", removed)
	}
}

func TestDiffOrderedAppliesCleanly(t *testing.T) {
	old := []Document{{"_id": "a"}, {"_id": "b"}, {"_id": "c"}}
	new := []Document{{"_id": "c"}, {"_id": "a"}, {"_id": "d"}}

	cache := NewOrdered()
	cache.InitialAdds(old)

	DiffOrdered(old, new, Callbacks{
		AddedBefore: func(id string, fields Document, before *string) { cache.AddedBefore(id, fields, before) },
		Changed:     func(id string, fields Document) { cache.Changed(id, fields) },
		MovedBefore: func(id string, before *string) { cache.MovedBefore(id, before) },
		Removed:     func(id string) { cache.Removed(id) },
	})

	got := idsOf(cache.Docs())
	want := []string{"c", "a", "d"}
	if !equalStrings(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func idsOf(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d["_id"].(string)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
