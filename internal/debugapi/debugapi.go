// Package debugapi exposes process liveness and a one-shot snapshot of a
// collection's live query caches, grounded on the teacher's SSE debug
// affordances (idledungeon/pkg/server/sse.go's client-listing pattern)
// adapted to a single JSON dump rather than a live stream, since live
// streaming would duplicate the DDP subscription path this process
// already serves.
package debugapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	"go.uber.org/zap"

	"livedata/internal/corelog"
	"livedata/internal/registry"
)

// SessionCounter reports how many sessions are currently connected.
type SessionCounter interface {
	SessionCount() int
}

// Handler serves /healthz and /debugz/<collection>.
type Handler struct {
	reg       *registry.Registry
	sessions  SessionCounter
	startedAt time.Time
}

// New returns a Handler backed by reg for cache snapshots and sessions for
// the liveness report's connection count.
func New(reg *registry.Registry, sessions SessionCounter) *Handler {
	return &Handler{reg: reg, sessions: sessions, startedAt: time.Now()}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/healthz":
		h.serveHealthz(w, r)
	case strings.HasPrefix(r.URL.Path, "/debugz/"):
		h.serveDebugz(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) serveHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := map[string]any{
		"status":   "ok",
		"uptime":   time.Since(h.startedAt).String(),
		"sessions": h.sessions.SessionCount(),
	}
	writeJSON(w, http.StatusOK, body)
}

// serveDebugz dumps a collection's live multiplexer cache. A caller that
// POSTs a JSON object mapping document id to that document's earlier full
// JSON (such as the "documents" map of an earlier GET) gets back, per
// document, the JSON Merge Patch from that earlier snapshot to the current
// one — so repeatedly polling /debugz shows only what a
// collection's cache actually changed, the way a client would watch its own
// DDP stream, without standing up a second live-update transport. A GET
// with no prior snapshot just diffs every document against {}, i.e. dumps
// it whole.
func (h *Handler) serveDebugz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	collection := strings.TrimPrefix(r.URL.Path, "/debugz/")
	if collection == "" {
		http.Error(w, "collection name is required", http.StatusBadRequest)
		return
	}

	prior := make(map[string]json.RawMessage)
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&prior); err != nil {
			http.Error(w, "malformed prior snapshot body", http.StatusBadRequest)
			return
		}
	}

	docs := h.reg.Snapshot(collection)
	patches := make(map[string]json.RawMessage, len(docs))
	for _, d := range docs {
		id, _ := d["_id"].(string)
		docJSON, err := json.Marshal(d)
		if err != nil {
			corelog.Error("debugz: failed to marshal document", zap.Error(err))
			continue
		}
		before, ok := prior[id]
		if !ok {
			before = []byte("{}")
		}
		patch, err := jsonpatch.CreateMergePatch(before, docJSON)
		if err != nil {
			corelog.Error("debugz: failed to create merge patch", zap.Error(err))
			continue
		}
		patches[id] = json.RawMessage(patch)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"collection": collection,
		"count":      len(docs),
		"documents":  patches,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		corelog.Error("debugapi: failed to encode response", zap.Error(err))
	}
}
