// Package server wires the transport, registry, and session layers into a
// runnable DDP endpoint: it owns the publish/method name tables and mints
// one Session per upgraded WebSocket connection.
package server

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"livedata/internal/corelog"
	"livedata/internal/livesession"
	"livedata/internal/registry"
	"livedata/internal/subscription"
	"livedata/internal/transport"
)

// Server holds the process-wide publish/method tables and the shared
// observe registry, and mints sessions for inbound connections.
type Server struct {
	observeReg *registry.Registry

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	defaultPollingThrottleMs int64
	defaultPollingIntervalMs int64
	forwardedCount           int

	mu         sync.RWMutex
	publishers map[string]publisher
	methods    map[string]livesession.MethodHandler
	universal  []livesession.UniversalPublication

	sessionsMu sync.Mutex
	sessions   map[string]*livesession.Session
}

type publisher struct {
	handler  subscription.Handler
	strategy livesession.Strategy
}

// New returns a Server backed by observeReg for live queries. The polling
// throttle/interval defaults back-fill any publish whose Find call leaves
// its own FindOptions polling fields unset.
func New(observeReg *registry.Registry, heartbeatInterval, heartbeatTimeout time.Duration, defaultPollingThrottleMs, defaultPollingIntervalMs int64) *Server {
	return &Server{
		observeReg:               observeReg,
		heartbeatInterval:        heartbeatInterval,
		heartbeatTimeout:         heartbeatTimeout,
		defaultPollingThrottleMs: defaultPollingThrottleMs,
		defaultPollingIntervalMs: defaultPollingIntervalMs,
		publishers:               make(map[string]publisher),
		methods:                  make(map[string]livesession.MethodHandler),
		sessions:                 make(map[string]*livesession.Session),
	}
}

// SetForwardedCount configures how many trusted reverse-proxy hops the
// transport layer peels off X-Forwarded-For when logging a connecting
// client's address (HTTP_FORWARDED_COUNT). Zero (the default) trusts
// nothing and logs the raw socket peer.
func (s *Server) SetForwardedCount(n int) { s.forwardedCount = n }

// Publish registers a named publication with the given merge strategy.
func (s *Server) Publish(name string, handler subscription.Handler, strategy livesession.Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers[name] = publisher{handler: handler, strategy: strategy}
}

// PublishUniversal registers a publication that runs automatically for
// every connected session, with no client-visible sub id.
func (s *Server) PublishUniversal(name string, handler subscription.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.universal = append(s.universal, livesession.UniversalPublication{Name: name, Handler: handler})
}

// HandleMethod registers a named RPC handler.
func (s *Server) HandleMethod(name string, handler livesession.MethodHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[name] = handler
}

// Publication implements livesession.Registry.
func (s *Server) Publication(name string) (subscription.Handler, livesession.Strategy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.publishers[name]
	return p.handler, p.strategy, ok
}

// Method implements livesession.Registry.
func (s *Server) Method(name string) (livesession.MethodHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.methods[name]
	return h, ok
}

// UniversalPublications implements livesession.Registry.
func (s *Server) UniversalPublications() []livesession.UniversalPublication {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]livesession.UniversalPublication, len(s.universal))
	copy(out, s.universal)
	return out
}

// Handler returns an http.Handler that upgrades connections and drives each
// one with a fresh Session.
func (s *Server) Handler() http.Handler {
	return transport.NewHandler(func(conn *transport.Conn) transport.Receiver {
		sess := livesession.New(conn, s, s.observeReg, s.heartbeatInterval, s.heartbeatTimeout, s.defaultPollingThrottleMs, s.defaultPollingIntervalMs)

		s.sessionsMu.Lock()
		s.sessions[sess.ID] = sess
		s.sessionsMu.Unlock()

		sess.OnClose(func() {
			s.sessionsMu.Lock()
			delete(s.sessions, sess.ID)
			s.sessionsMu.Unlock()
		})

		corelog.Info("session connected", zap.String("session", sess.ID), zap.String("remote", conn.RemoteAddr()))
		return sess
	}, s.forwardedCount)
}

// SetUserID looks up an active session by id and rebinds its user. Intended
// for method handlers running outside the session's own inbox (e.g. a
// login method) that need to call back into session state.
func (s *Server) SetUserID(sessionID string, userID *string) bool {
	s.sessionsMu.Lock()
	sess, ok := s.sessions[sessionID]
	s.sessionsMu.Unlock()
	if !ok {
		return false
	}
	sess.SetUserID(userID)
	return true
}

// SessionCount reports the number of currently connected sessions.
func (s *Server) SessionCount() int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return len(s.sessions)
}
