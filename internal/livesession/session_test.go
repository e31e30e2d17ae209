package livesession

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"livedata/internal/crossbar"
	"livedata/internal/registry"
	"livedata/internal/store"
	"livedata/internal/subscription"
	"livedata/internal/transport"
)

// testRegistry is the smallest Registry that lets a test wire up a single
// publication and method by name.
type testRegistry struct {
	pubs       map[string]testPub
	methods    map[string]MethodHandler
	universals []UniversalPublication
}

type testPub struct {
	handler  subscription.Handler
	strategy Strategy
}

func newTestRegistry() *testRegistry {
	return &testRegistry{pubs: make(map[string]testPub), methods: make(map[string]MethodHandler)}
}

func (r *testRegistry) Publication(name string) (subscription.Handler, Strategy, bool) {
	p, ok := r.pubs[name]
	return p.handler, p.strategy, ok
}

func (r *testRegistry) Method(name string) (MethodHandler, bool) {
	h, ok := r.methods[name]
	return h, ok
}

func (r *testRegistry) UniversalPublications() []UniversalPublication { return r.universals }

// newTestServer wires a fresh Session per upgraded connection, exactly the
// way server.Server.Handler does, and returns its websocket endpoint along
// with the in-memory store backing it so tests can seed documents directly.
func newTestServer(t *testing.T, reg *testRegistry) (*httptest.Server, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	bar := crossbar.New()
	observeReg := registry.New(mem, bar)

	handler := transport.NewHandler(func(conn *transport.Conn) transport.Receiver {
		return New(conn, reg, observeReg, 0, 0, 0, 0)
	}, 0)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts, mem
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	return conn
}

func connect(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"msg": "connect", "version": "1", "support": []string{"1"}}); err != nil {
		t.Fatal(err)
	}
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatal(err)
	}
	if reply["msg"] != "connected" {
		t.Fatalf("expected connected, got %v", reply)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, want func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed while waiting: %v", err)
		}
		if want(msg) {
			return msg
		}
	}
	t.Fatal("timed out waiting for expected message")
	return nil
}

func TestUnsubRemovesOwnedDocuments(t *testing.T) {
	reg := newTestRegistry()
	reg.pubs["widgets"] = testPub{
		handler: func(sub *subscription.Subscription, params []any) (any, error) {
			return sub.Find("widgets", map[string]any{"qty": 1}, subscription.FindOptions{}), nil
		},
		strategy: ServerMerge,
	}

	ts, mem := newTestServer(t, reg)

	// seed a document the publish's Find will pick up once watched. The
	// selector above must be non-empty and _id-free so the cursor-
	// construction rewrite rule doesn't turn it into an unmatchable one.
	_ = mem.InsertOne(context.Background(), "widgets", map[string]any{"_id": "a", "qty": 1})

	conn := dial(t, ts)
	defer conn.Close()
	connect(t, conn)

	if err := conn.WriteJSON(map[string]any{"msg": "sub", "id": "s1", "name": "widgets"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, func(m map[string]any) bool {
		return m["msg"] == "ready"
	})

	if err := conn.WriteJSON(map[string]any{"msg": "unsub", "id": "s1"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, func(m map[string]any) bool {
		return m["msg"] == "removed" && m["id"] == "a"
	})
	readUntil(t, conn, func(m map[string]any) bool {
		return m["msg"] == "nosub" && m["id"] == "s1"
	})
}

func TestUnknownMethodReturnsError(t *testing.T) {
	reg := newTestRegistry()
	ts, _ := newTestServer(t, reg)
	conn := dial(t, ts)
	defer conn.Close()
	connect(t, conn)

	if err := conn.WriteJSON(map[string]any{"msg": "method", "method": "nope", "id": "m1", "params": []any{}}); err != nil {
		t.Fatal(err)
	}
	reply := readUntil(t, conn, func(m map[string]any) bool { return m["msg"] == "result" })
	errField, _ := reply["error"].(map[string]any)
	if errField == nil {
		t.Fatalf("expected an error field for unknown method, got %v", reply)
	}
}

func TestUnknownSubReturnsNosub(t *testing.T) {
	reg := newTestRegistry()
	ts, _ := newTestServer(t, reg)
	conn := dial(t, ts)
	defer conn.Close()
	connect(t, conn)

	if err := conn.WriteJSON(map[string]any{"msg": "sub", "id": "s1", "name": "missing"}); err != nil {
		t.Fatal(err)
	}
	reply := readUntil(t, conn, func(m map[string]any) bool { return m["msg"] == "nosub" })
	if reply["id"] != "s1" {
		t.Fatalf("expected nosub for s1, got %v", reply)
	}
}
