// Package livesession implements the Session (spec §4.10): a per-client
// state machine with a FIFO inbox, subscription lifecycle, heartbeat, and
// user-id rebind, driving a merge-box view down to one WebSocket.
package livesession

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"livedata/internal/corelog"
	"livedata/internal/ddp"
	"livedata/internal/mergebox"
	"livedata/internal/observe"
	"livedata/internal/registry"
	"livedata/internal/subscription"
	"livedata/internal/transport"
)

// Strategy is a publication's merge policy (spec §6 "Publication strategies").
type Strategy int

const (
	// ServerMerge deduplicates added/changed/removed across overlapping
	// subscriptions via the merge-box. The default.
	ServerMerge Strategy = iota
	// NoMerge bypasses the merge-box but still tracks owned ids so removed
	// can be sent at stop.
	NoMerge
	// NoMergeNoHistory bypasses the merge-box and sends no removed at stop.
	NoMergeNoHistory
)

// MethodHandler runs a method invocation's body. ctx carries the method's
// write fence (fence.Current(ctx)) for the duration of the synchronous call.
type MethodHandler func(ctx context.Context, s *Session, params []any) (result any, err error)

// UniversalPublication is one auto-subscribed (unnamed) publication, run for
// every connected session without a client-initiated sub message.
type UniversalPublication struct {
	Name    string
	Handler subscription.Handler
}

// Registry resolves publish and method names to their handlers.
type Registry interface {
	Publication(name string) (handler subscription.Handler, strategy Strategy, ok bool)
	Method(name string) (MethodHandler, bool)
	UniversalPublications() []UniversalPublication
}

// Session is a cooperative single-task actor: its inbox worker drains one
// inbound frame at a time, exactly as the teacher's goroutine-per-
// connection receive loop does, but every frame it sees is individually
// queued so handlers can't interleave with each other.
type Session struct {
	ID             string
	conn           *transport.Conn
	registry       Registry
	observeReg     *registry.Registry
	version        string
	heartbeatIface heartbeatConfig

	// defaultPollingThrottleMs/defaultPollingIntervalMs back-fill a
	// publish's Find call when it leaves its FindOptions polling fields
	// at zero, so process-wide METEOR_POLLING_* config actually reaches
	// the polling driver instead of the driver's built-in 50ms throttle /
	// 10s interval fallbacks.
	defaultPollingThrottleMs int64
	defaultPollingIntervalMs int64

	inbox chan func()
	done  chan struct{}

	mu              sync.Mutex
	userID          *string
	namedSubs       map[string]*subscription.Subscription
	universalSubs   []*subscription.Subscription
	subStrategy     map[string]Strategy
	collectionViews map[string]*mergebox.CollectionView
	sendingAllowed  bool
	closeCallbacks  []func()
	closed          bool

	lastActivity time.Time
	pingTimer    *time.Timer
	timeoutTimer *time.Timer
}

type heartbeatConfig struct {
	interval time.Duration
	timeout  time.Duration
}

// New constructs a session bound to conn, not yet connected at the DDP
// level (the caller must still process the client's "connect" frame).
func New(conn *transport.Conn, reg Registry, observeReg *registry.Registry, heartbeatInterval, heartbeatTimeout time.Duration, defaultPollingThrottleMs, defaultPollingIntervalMs int64) *Session {
	s := &Session{
		ID:                       uuid.NewString(),
		conn:                     conn,
		registry:                 reg,
		observeReg:               observeReg,
		heartbeatIface:           heartbeatConfig{interval: heartbeatInterval, timeout: heartbeatTimeout},
		defaultPollingThrottleMs: defaultPollingThrottleMs,
		defaultPollingIntervalMs: defaultPollingIntervalMs,
		inbox:                    make(chan func(), 64),
		done:                     make(chan struct{}),
		namedSubs:                make(map[string]*subscription.Subscription),
		subStrategy:              make(map[string]Strategy),
		collectionViews:          make(map[string]*mergebox.CollectionView),
		sendingAllowed:           true,
		lastActivity:             time.Now(),
	}
	go s.runInbox()
	return s
}

func (s *Session) runInbox() {
	for {
		select {
		case task := <-s.inbox:
			task()
		case <-s.done:
			return
		}
	}
}

func (s *Session) enqueue(f func()) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.inbox <- f:
	case <-s.done:
	}
}

// HandleFrame satisfies transport.Receiver: every inbound frame is queued
// onto the session's own inbox so frames are processed strictly in order,
// one at a time, matching the cooperative actor model of spec §5.
func (s *Session) HandleFrame(frame []byte) {
	s.markAlive()
	s.enqueue(func() { s.dispatch(frame) })
}

// HandleClose satisfies transport.Receiver.
func (s *Session) HandleClose() {
	s.Close()
}

func (s *Session) markAlive() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) send(v any) {
	s.mu.Lock()
	allowed := s.sendingAllowed
	s.mu.Unlock()
	if !allowed {
		return
	}
	frame, err := ddp.Encode(v)
	if err != nil {
		corelog.Error("failed to encode outbound frame", zap.Error(err))
		return
	}
	if err := s.conn.Send(frame); err != nil {
		corelog.Warn("failed to send frame", zap.String("session", s.ID), zap.Error(err))
	}
}

func (s *Session) dispatch(frame []byte) {
	msg, err := ddp.PeekMsg(frame)
	if err != nil {
		s.send(ddp.Error{Msg: "error", Reason: "malformed JSON"})
		return
	}

	switch msg {
	case "connect":
		s.handleConnect(frame)
	case "sub":
		s.handleSub(frame)
	case "unsub":
		s.handleUnsub(frame)
	case "method":
		s.handleMethod(frame)
	case "ping":
		s.handlePing(frame)
	case "pong":
		s.handlePongReceived()
	default:
		s.send(ddp.Error{Msg: "error", Reason: "unknown message type: " + msg, OffendingMessage: frame})
	}
}

// Send exposes the raw send path for server-level code (e.g. the registry
// wiring universal subs) that needs to push a frame outside dispatch.
func (s *Session) Send(v any) { s.send(v) }

// UserID returns the session's current user id, if set.
func (s *Session) UserID() *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// OnClose registers cb to run once, when the session closes.
func (s *Session) OnClose(cb func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cb()
		return
	}
	s.closeCallbacks = append(s.closeCallbacks, cb)
	s.mu.Unlock()
}

// Close drops the inbox, stops the heartbeat, closes the socket, and
// schedules close callbacks and subscription deactivation on a deferred
// tick so the caller isn't blocked.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	callbacks := s.closeCallbacks
	s.closeCallbacks = nil
	named := s.namedSubs
	universal := s.universalSubs
	s.namedSubs = nil
	s.universalSubs = nil
	s.mu.Unlock()

	s.stopHeartbeat()
	close(s.done)
	_ = s.conn.Close()

	go func() {
		for _, sub := range named {
			sub.Stop()
		}
		for _, sub := range universal {
			sub.Stop()
		}
		for _, cb := range callbacks {
			cb()
		}
	}()
}

func (s *Session) cloneMergeSnapshot() map[string]map[string]observe.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]observe.Document, len(s.collectionViews))
	for coll, cv := range s.collectionViews {
		out[coll] = cv.Snapshot()
	}
	return out
}

func (s *Session) collectionView(name string) *mergebox.CollectionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	cv, ok := s.collectionViews[name]
	if !ok {
		cv = mergebox.NewCollectionView()
		s.collectionViews[name] = cv
	}
	return cv
}
