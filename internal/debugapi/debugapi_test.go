package debugapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"livedata/internal/crossbar"
	"livedata/internal/multiplex"
	"livedata/internal/observe"
	"livedata/internal/registry"
	"livedata/internal/store"
)

type fakeSessionCounter int

func (f fakeSessionCounter) SessionCount() int { return int(f) }

func TestHealthzReportsStatusAndSessionCount(t *testing.T) {
	reg := registry.New(store.NewMemory(), crossbar.New())
	h := New(reg, fakeSessionCounter(3))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["sessions"] != float64(3) {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestDebugzRendersCollectionSnapshotAsPatches(t *testing.T) {
	mem := store.NewMemory()
	_ = mem.InsertOne(context.Background(), "widgets", map[string]any{"_id": "a", "qty": float64(1)})

	bar := crossbar.New()
	reg := registry.New(mem, bar)
	desc := registry.CursorDescription{Collection: "widgets", Selector: map[string]any{}, PollingThrottleMs: 5}
	if err := reg.ObserveChanges(desc, &multiplex.Handle{InitialAdds: func(docs []observe.Document) {}}); err != nil {
		t.Fatal(err)
	}

	h := New(reg, fakeSessionCounter(0))
	req := httptest.NewRequest(http.MethodGet, "/debugz/widgets", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Collection string                     `json:"collection"`
		Count      int                        `json:"count"`
		Documents  map[string]json.RawMessage `json:"documents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Collection != "widgets" || body.Count != 1 || len(body.Documents) != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
	patch, ok := body.Documents["a"]
	if !ok {
		t.Fatalf("expected a patch keyed by document id, got %+v", body.Documents)
	}
	var full map[string]any
	if err := json.Unmarshal(patch, &full); err != nil {
		t.Fatal(err)
	}
	if full["qty"] != float64(1) {
		t.Fatalf("expected patch-from-empty to render the full document, got %v", full)
	}
}

// TestDebugzDiffsAgainstPostedPriorSnapshot confirms a POST with an earlier
// /debugz response narrows the patch down to what actually changed, rather
// than re-dumping the whole document.
func TestDebugzDiffsAgainstPostedPriorSnapshot(t *testing.T) {
	mem := store.NewMemory()
	_ = mem.InsertOne(context.Background(), "widgets", map[string]any{"_id": "a", "qty": float64(1), "name": "apple"})

	bar := crossbar.New()
	reg := registry.New(mem, bar)
	desc := registry.CursorDescription{Collection: "widgets", Selector: map[string]any{}, PollingThrottleMs: 5}
	if err := reg.ObserveChanges(desc, &multiplex.Handle{InitialAdds: func(docs []observe.Document) {}}); err != nil {
		t.Fatal(err)
	}

	h := New(reg, fakeSessionCounter(0))
	prior := map[string]json.RawMessage{"a": json.RawMessage(`{"_id":"a","qty":1,"name":"apple"}`)}
	priorBody, _ := json.Marshal(prior)

	req := httptest.NewRequest(http.MethodPost, "/debugz/widgets", bytes.NewReader(priorBody))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Documents map[string]json.RawMessage `json:"documents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	var diff map[string]any
	if err := json.Unmarshal(body.Documents["a"], &diff); err != nil {
		t.Fatal(err)
	}
	if len(diff) != 0 {
		t.Fatalf("expected an empty diff for an unchanged document, got %v", diff)
	}
}

func TestDebugzRequiresCollectionName(t *testing.T) {
	reg := registry.New(store.NewMemory(), crossbar.New())
	h := New(reg, fakeSessionCounter(0))

	req := httptest.NewRequest(http.MethodGet, "/debugz/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
