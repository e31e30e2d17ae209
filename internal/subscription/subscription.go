// Package subscription implements the Subscription (spec §4.9): the
// per-(session, sub-id) object that bridges a publish handler to one or
// more cursor observations, tracking the documents it owns so they can be
// cleanly retracted on stop or setUserId-driven recreation.
package subscription

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"livedata/internal/observe"
	"livedata/internal/selector"
)

// Sink is the session-side receiver a Subscription forwards its
// added/changed/removed calls to (ordinarily the session's merge-box).
type Sink interface {
	Added(collection, id string, fields observe.Document)
	Changed(collection, id string, fields observe.Document)
	Removed(collection, id string)
}

// Cursor is the duck-typed return value a publish Handler may produce: any
// value implementing PublishCursor is treated as a live query to observe
// and stream into the subscription (spec §4.9's "_publishCursor").
type Cursor interface {
	CollectionName() string
	PublishCursor(sub *Subscription) error
}

// Handler is a publish function. this-binding is emulated by passing sub
// explicitly; user code calls sub.Added/Changed/Removed/Ready/Stop/Error,
// and sub.Find to build a live query over the owning session's registry.
type Handler func(sub *Subscription, params []any) (any, error)

// FindOptions narrows a published query the way a Meteor publish
// function's find(selector, options) call does.
type FindOptions struct {
	Sort              []selector.SortField
	Limit             int64
	Skip              int64
	Ordered           bool
	PollingThrottleMs int64
	PollingIntervalMs int64
}

// Finder is implemented by whatever owns a Subscription (ordinarily the
// session) so a publish Handler can build a live query without reaching
// back into session internals itself.
type Finder interface {
	Find(collection string, sel map[string]any, opts FindOptions) Cursor
}

// Subscription is the per-(session, sub id) bridge between a publish
// handler and its cursor observations.
type Subscription struct {
	Sink    Sink
	Handler Handler
	Finder  Finder
	ID      string // "" for a universal (unnamed) subscription
	Name    string
	Params  []any
	Handle  string // "N<id>" for named, "U<uuid>" for universal

	mu            sync.Mutex
	deactivated   bool
	ready         bool
	documents     map[string]map[string]struct{} // collection -> owned ids
	stopCallbacks []func()
	onStopHooks   []func()
	onReadyHooks  []func()
	err           error
}

// New constructs a Subscription and assigns its wire handle.
func New(sink Sink, finder Finder, handler Handler, id, name string, params []any) *Subscription {
	handle := "N" + id
	if id == "" {
		handle = "U" + uuid.NewString()
	}
	return &Subscription{
		Sink:      sink,
		Finder:    finder,
		Handler:   handler,
		ID:        id,
		Name:      name,
		Params:    params,
		Handle:    handle,
		documents: make(map[string]map[string]struct{}),
	}
}

// Find builds a live query over collection, the way this.find(selector,
// options) does in a Meteor publish function.
func (s *Subscription) Find(collection string, sel map[string]any, opts FindOptions) Cursor {
	return s.Finder.Find(collection, sel, opts)
}

// RunHandler invokes the handler and dispatches its return value per
// spec §4.9: a Cursor is published, a slice of Cursors are published in
// sequence (rejecting duplicate collection names), nil/error is handled
// directly, anything else is an error.
func (s *Subscription) RunHandler() {
	result, err := s.Handler(s, s.Params)
	if err != nil {
		s.Error(err)
		return
	}
	switch v := result.(type) {
	case nil:
		// Handler is responsible for calling Ready itself.
	case Cursor:
		if err := v.PublishCursor(s); err != nil {
			s.Error(err)
			return
		}
		s.Ready()
	case []Cursor:
		seen := make(map[string]bool, len(v))
		for _, c := range v {
			name := c.CollectionName()
			if seen[name] {
				s.Error(fmt.Errorf("subscription publishes collection %q more than once", name))
				return
			}
			seen[name] = true
		}
		for _, c := range v {
			if err := c.PublishCursor(s); err != nil {
				s.Error(err)
				return
			}
		}
		s.Ready()
	default:
		s.Error(fmt.Errorf("publish handler returned unsupported type %T", v))
	}
}

func (s *Subscription) own(collection, id string) {
	ids, ok := s.documents[collection]
	if !ok {
		ids = make(map[string]struct{})
		s.documents[collection] = ids
	}
	ids[id] = struct{}{}
}

func (s *Subscription) disown(collection, id string) {
	if ids, ok := s.documents[collection]; ok {
		delete(ids, id)
	}
}

// Added forwards a newly observed document to the session sink.
func (s *Subscription) Added(collection, id string, fields observe.Document) {
	s.mu.Lock()
	if s.deactivated {
		s.mu.Unlock()
		return
	}
	s.own(collection, id)
	s.mu.Unlock()
	s.Sink.Added(collection, id, fields)
}

// Changed forwards a field-level update to the session sink.
func (s *Subscription) Changed(collection, id string, fields observe.Document) {
	s.mu.Lock()
	if s.deactivated {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.Sink.Changed(collection, id, fields)
}

// Removed forwards a removal and drops the id from the owned set.
func (s *Subscription) Removed(collection, id string) {
	s.mu.Lock()
	if s.deactivated {
		s.mu.Unlock()
		return
	}
	s.disown(collection, id)
	s.mu.Unlock()
	s.Sink.Removed(collection, id)
}

// Ready marks the subscription ready and fires any OnReady hooks. Calling it
// more than once is a no-op.
func (s *Subscription) Ready() {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return
	}
	s.ready = true
	hooks := s.onReadyHooks
	s.onReadyHooks = nil
	s.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

func (s *Subscription) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// OnReady registers cb to run once, when Ready is called. If the
// subscription is already ready, cb runs immediately.
func (s *Subscription) OnReady(cb func()) {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		cb()
		return
	}
	s.onReadyHooks = append(s.onReadyHooks, cb)
	s.mu.Unlock()
}

// OnStop registers a cleanup callback run once, on Stop/Error/Deactivate.
func (s *Subscription) OnStop(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStopHooks = append(s.onStopHooks, cb)
}

// Stop tears the subscription down without a client-visible error.
func (s *Subscription) Stop() {
	s.deactivate()
}

// Error tears the subscription down and records err for the caller (the
// session) to report to the client via nosub.
func (s *Subscription) Error(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.deactivate()
}

// Err returns the error passed to Error, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) deactivate() {
	s.mu.Lock()
	if s.deactivated {
		s.mu.Unlock()
		return
	}
	s.deactivated = true
	hooks := s.onStopHooks
	s.onStopHooks = nil
	s.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

// IsDeactivated reports whether Stop/Error has already run.
func (s *Subscription) IsDeactivated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivated
}

// RemoveAllDocuments emits removed for every (collection, id) this
// subscription still owns. Used on unsubscribe unless the negotiated
// protocol version opts into client-side cleanup ("1a").
func (s *Subscription) RemoveAllDocuments() {
	s.mu.Lock()
	owned := s.documents
	s.documents = make(map[string]map[string]struct{})
	s.mu.Unlock()

	for collection, ids := range owned {
		for id := range ids {
			s.Sink.Removed(collection, id)
		}
	}
}

// Recreate returns a fresh Subscription with the same session, handler,
// id, name and params but empty state — used when reactively re-running a
// publication after setUserId.
func (s *Subscription) Recreate() *Subscription {
	return New(s.Sink, s.Finder, s.Handler, s.ID, s.Name, s.Params)
}
