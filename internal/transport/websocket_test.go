package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPFromHeaderTrustsConfiguredHopCount(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.1, 10.0.0.2, 10.0.0.1")

	if got := ClientIPFromHeader(r, 0, "10.0.0.1"); got != "10.0.0.1" {
		t.Fatalf("expected peer addr with 0 trusted hops, got %q", got)
	}
	if got := ClientIPFromHeader(r, 1, "10.0.0.1"); got != "10.0.0.1" {
		t.Fatalf("expected last hop, got %q", got)
	}
	if got := ClientIPFromHeader(r, 3, "10.0.0.1"); got != "203.0.113.1" {
		t.Fatalf("expected original client at depth 3, got %q", got)
	}
}

func TestClientIPFromHeaderMissingFallsBackToPeer(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := ClientIPFromHeader(r, 2, "peer"); got != "peer" {
		t.Fatalf("expected fallback to peer, got %q", got)
	}
}
