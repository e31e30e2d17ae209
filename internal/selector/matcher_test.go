package selector

import "testing"

func TestMatcherEquality(t *testing.T) {
	m := New(Document{"category": "apples"})
	if !m.DocumentMatches(Document{"_id": "a", "category": "apples", "qty": 3}).Result {
		t.Fatal("expected match")
	}
	if m.DocumentMatches(Document{"_id": "b", "category": "pears"}).Result {
		t.Fatal("expected no match")
	}
}

func TestMatcherOperators(t *testing.T) {
	m := New(Document{"qty": Document{"$gte": 3, "$lt": 10}})
	if !m.DocumentMatches(Document{"qty": 5}).Result {
		t.Fatal("expected match in range")
	}
	if m.DocumentMatches(Document{"qty": 11}).Result {
		t.Fatal("expected no match out of range")
	}
}

func TestMatcherAndOr(t *testing.T) {
	m := New(Document{"$or": []Document{
		{"category": "apples"},
		{"category": "pears"},
	}})
	if !m.DocumentMatches(Document{"category": "pears"}).Result {
		t.Fatal("expected $or match")
	}
	if m.DocumentMatches(Document{"category": "kiwi"}).Result {
		t.Fatal("expected no match")
	}
}

func TestSelectorRewriteUnmatchable(t *testing.T) {
	for _, sel := range []any{nil, Document{}, Document{"_id": nil}, Document{"_id": ""}} {
		doc, err := Rewrite(sel)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if doc["_id"] == nil {
			t.Fatal("expected rewritten unmatchable _id")
		}
		m := New(doc)
		if m.DocumentMatches(Document{"_id": "anything"}).Result {
			t.Fatal("rewritten selector must never match")
		}
	}
}

func TestSelectorRewriteRejectsArray(t *testing.T) {
	if _, err := Rewrite([]any{Document{"a": 1}}); err != ErrArraySelector {
		t.Fatalf("expected ErrArraySelector, got %v", err)
	}
}

func TestNearGivesNearerPointSmallerDistance(t *testing.T) {
	m := New(Document{"loc": Document{"$near": Document{
		"$geometry": Document{"type": "Point", "coordinates": []any{0.0, 0.0}},
	}}})

	far := m.DocumentMatches(Document{"loc": Document{"coordinates": []any{10.0, 0.0}}})
	near := m.DocumentMatches(Document{"loc": Document{"coordinates": []any{1.0, 0.0}}})
	if far.Distance == nil || near.Distance == nil {
		t.Fatal("expected distances for $near matches")
	}
	if !(*near.Distance < *far.Distance) {
		t.Fatal("expected nearer point to have smaller distance")
	}
}

func TestSorter(t *testing.T) {
	s := NewSorter([]SortField{{Path: "qty", Ascending: true}})
	cmp := s.GetComparator()
	if cmp(Document{"qty": 1}, Document{"qty": 2}) >= 0 {
		t.Fatal("expected a < b")
	}
}
