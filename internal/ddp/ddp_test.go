package ddp

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNegotiatePrefersHighestMutual(t *testing.T) {
	v, ok := Negotiate([]string{"pre1", "1", "pre2"})
	if !ok || v != "1" {
		t.Fatalf("expected 1, got %q ok=%v", v, ok)
	}
}

func TestNegotiateNoOverlap(t *testing.T) {
	if _, ok := Negotiate([]string{"bogus"}); ok {
		t.Fatal("expected no mutually supported version")
	}
}

func TestChangedSplitsClearedFromFields(t *testing.T) {
	msg, err := NewChanged("widgets", "a", map[string]any{"qty": 5, "name": nil})
	if err != nil {
		t.Fatal(err)
	}
	if len(msg.Cleared) != 1 || msg.Cleared[0] != "name" {
		t.Fatalf("expected name cleared, got %v", msg.Cleared)
	}
	var fields map[string]any
	if err := json.Unmarshal(msg.Fields, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["qty"].(float64) != 5 {
		t.Fatalf("expected qty 5, got %v", fields["qty"])
	}
	if _, present := fields["name"]; present {
		t.Fatal("cleared field must not also appear in fields")
	}
}

func TestFieldsRoundTripThroughDecode(t *testing.T) {
	msg, err := NewChanged("widgets", "a", map[string]any{"qty": 5, "old": nil})
	if err != nil {
		t.Fatal(err)
	}
	doc, err := DecodeFields(msg.Fields, msg.Cleared)
	if err != nil {
		t.Fatal(err)
	}
	if doc["qty"].(float64) != 5 {
		t.Fatalf("expected qty round-tripped, got %v", doc["qty"])
	}
	if v, exists := doc["old"]; !exists || v != nil {
		t.Fatalf("expected old to round-trip as nil, got %v exists=%v", v, exists)
	}
}

func TestEJSONDateRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	msg, err := NewAdded("widgets", "a", map[string]any{"createdAt": now})
	if err != nil {
		t.Fatal(err)
	}
	doc, err := DecodeFields(msg.Fields, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := doc["createdAt"].(time.Time)
	if !ok {
		t.Fatalf("expected time.Time, got %T", doc["createdAt"])
	}
	if !got.Equal(now) {
		t.Fatalf("expected %v, got %v", now, got)
	}
}

func TestPeekMsg(t *testing.T) {
	msg, err := PeekMsg([]byte(`{"msg":"sub","id":"1","name":"widgets"}`))
	if err != nil {
		t.Fatal(err)
	}
	if msg != "sub" {
		t.Fatalf("expected sub, got %q", msg)
	}
}
