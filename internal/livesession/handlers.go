package livesession

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"livedata/internal/corelog"
	"livedata/internal/ddp"
	"livedata/internal/fence"
	"livedata/internal/mergebox"
	"livedata/internal/observe"
	"livedata/internal/subscription"
)

func (s *Session) handleConnect(frame []byte) {
	var msg ddp.Connect
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.send(ddp.Error{Msg: "error", Reason: "malformed connect"})
		return
	}
	support := msg.Support
	if len(support) == 0 && msg.Version != "" {
		support = []string{msg.Version}
	}
	version, ok := ddp.Negotiate(support)
	if !ok {
		s.send(ddp.Failed{Msg: "failed", Version: ddp.SupportedVersions[0]})
		return
	}
	s.mu.Lock()
	s.version = version
	s.mu.Unlock()
	s.send(ddp.Connected{Msg: "connected", Session: s.ID})
	// pre1 clients never send pong, so heartbeating one would just time it
	// out (spec §4.10).
	if version != "pre1" {
		s.startHeartbeat()
	}

	for _, pub := range s.registry.UniversalPublications() {
		s.startSubscription("", pub.Name, nil, pub.Handler, ServerMerge, false)
	}
}

func (s *Session) handlePing(frame []byte) {
	var msg ddp.Ping
	_ = json.Unmarshal(frame, &msg)
	s.send(ddp.Pong{Msg: "pong", ID: msg.ID})
}

// sessionSink bridges one subscription's added/changed/removed calls onto
// the wire, either deduplicated through the session's per-collection
// merge-box view (ServerMerge) or sent straight through (NoMerge/
// NoMergeNoHistory), per spec's publication strategies.
type sessionSink struct {
	s        *Session
	handle   string // subscription.Handle, used as the merge-box SubHandle
	strategy Strategy
}

func (sk *sessionSink) Added(collection, id string, fields observe.Document) {
	if sk.strategy != ServerMerge {
		sk.s.sendAdded(collection, id, fields)
		return
	}
	cv := sk.s.collectionView(collection)
	cv.Added(sk.handle, id, fields, sk.s.mergeCallbacks(collection))
}

func (sk *sessionSink) Changed(collection, id string, fields observe.Document) {
	if sk.strategy != ServerMerge {
		sk.s.sendChanged(collection, id, fields)
		return
	}
	cv := sk.s.collectionView(collection)
	cv.Changed(sk.handle, id, fields, sk.s.mergeCallbacks(collection))
}

func (sk *sessionSink) Removed(collection, id string) {
	if sk.strategy != ServerMerge {
		sk.s.sendRemoved(collection, id)
		return
	}
	cv := sk.s.collectionView(collection)
	cv.Removed(sk.handle, id, sk.s.mergeCallbacks(collection))
}

func (s *Session) sendAdded(collection, id string, fields observe.Document) {
	msg, err := ddp.NewAdded(collection, id, fields)
	if err != nil {
		corelog.Error("failed to encode added", zap.Error(err))
		return
	}
	s.send(msg)
}

func (s *Session) sendChanged(collection, id string, fields observe.Document) {
	msg, err := ddp.NewChanged(collection, id, fields)
	if err != nil {
		corelog.Error("failed to encode changed", zap.Error(err))
		return
	}
	s.send(msg)
}

func (s *Session) sendRemoved(collection, id string) {
	s.send(ddp.NewRemoved(collection, id))
}

func (s *Session) mergeCallbacks(collection string) mergebox.Callbacks {
	return mergebox.Callbacks{
		Added:   func(id string, fields observe.Document) { s.sendAdded(collection, id, fields) },
		Changed: func(id string, fields observe.Document) { s.sendChanged(collection, id, fields) },
		Removed: func(id string) { s.sendRemoved(collection, id) },
	}
}

// initBatchSink wraps a subscription's Sink for a 1a-negotiated client: it
// buffers the added calls that arrive before the subscription's first ready
// into one "init" message per collection (spec.md:265's 1a initial-burst
// extension), then passes everything through unbatched afterward. A
// changed/removed arriving before ready flushes whatever is buffered first
// so ordering on the wire still matches arrival order.
type initBatchSink struct {
	next subscription.Sink
	send func(ddp.Init)

	mu      sync.Mutex
	flushed bool
	order   []string
	batches map[string][]ddp.InitItem
}

func newInitBatchSink(next subscription.Sink, send func(ddp.Init)) *initBatchSink {
	return &initBatchSink{next: next, send: send, batches: make(map[string][]ddp.InitItem)}
}

func (b *initBatchSink) Added(collection, id string, fields observe.Document) {
	b.mu.Lock()
	if b.flushed {
		b.mu.Unlock()
		b.next.Added(collection, id, fields)
		return
	}
	item, err := ddp.NewInitItem(id, fields)
	if err != nil {
		b.mu.Unlock()
		b.next.Added(collection, id, fields)
		return
	}
	if _, ok := b.batches[collection]; !ok {
		b.order = append(b.order, collection)
	}
	b.batches[collection] = append(b.batches[collection], item)
	b.mu.Unlock()
}

func (b *initBatchSink) Changed(collection, id string, fields observe.Document) {
	b.flush()
	b.next.Changed(collection, id, fields)
}

func (b *initBatchSink) Removed(collection, id string) {
	b.flush()
	b.next.Removed(collection, id)
}

// flush sends any buffered batches as init messages and switches the sink to
// pass-through mode. Safe to call more than once; only the first call does
// anything.
func (b *initBatchSink) flush() {
	b.mu.Lock()
	if b.flushed {
		b.mu.Unlock()
		return
	}
	b.flushed = true
	order, batches := b.order, b.batches
	b.order, b.batches = nil, nil
	b.mu.Unlock()

	for _, collection := range order {
		b.send(ddp.Init{Msg: "init", Collection: collection, Items: batches[collection]})
	}
}

func (s *Session) handleSub(frame []byte) {
	var msg ddp.Sub
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.send(ddp.Error{Msg: "error", Reason: "malformed sub"})
		return
	}

	s.mu.Lock()
	if _, exists := s.namedSubs[msg.ID]; exists {
		s.mu.Unlock()
		return // re-subscribing with the same id is a no-op
	}
	s.mu.Unlock()

	handler, strategy, ok := s.registry.Publication(msg.Name)
	if !ok {
		s.send(ddp.Nosub{Msg: "nosub", ID: msg.ID, Error: &ddp.ErrorField{Error: 404, Reason: "subscription not found"}})
		return
	}

	params := decodeParams(msg.Params)
	s.startSubscription(msg.ID, msg.Name, params, handler, strategy, false)
}

// startSubscription registers and starts a subscription. When runSync is
// true the handler runs on the caller's goroutine (used by SetUserID, which
// must observe the fully re-run state before computing its snapshot diff);
// otherwise it runs on a fresh goroutine so handleSub doesn't block the
// session's inbox on a slow publish handler.
func (s *Session) startSubscription(id, name string, params []any, handler subscription.Handler, strategy Strategy, runSync bool) *subscription.Subscription {
	ss := &sessionSink{s: s, strategy: strategy}
	var sink subscription.Sink = ss

	s.mu.Lock()
	version := s.version
	s.mu.Unlock()

	var ib *initBatchSink
	if id != "" && version == "1a" {
		ib = newInitBatchSink(ss, func(m ddp.Init) { s.send(m) })
		sink = ib
	}

	sub := subscription.New(sink, s, handler, id, name, params)
	ss.handle = sub.Handle

	sub.OnStop(func() {
		if ib != nil {
			ib.flush() // stopped before ready: don't lose already-buffered adds
		}
		err := sub.Err()
		if id == "" {
			return // universal subs never get a client-visible nosub
		}
		if err != nil {
			s.send(ddp.Nosub{Msg: "nosub", ID: id, Error: &ddp.ErrorField{Error: "500", Reason: err.Error()}})
			return
		}
		s.send(ddp.Nosub{Msg: "nosub", ID: id})
	})

	s.mu.Lock()
	if id != "" {
		s.namedSubs[id] = sub
		s.subStrategy[id] = strategy
	} else {
		s.universalSubs = append(s.universalSubs, sub)
	}
	s.mu.Unlock()

	if id != "" {
		sub.OnReady(func() {
			if ib != nil {
				ib.flush()
			}
			s.send(ddp.Ready{Msg: "ready", Subs: []string{id}})
		})
	}

	if runSync {
		sub.RunHandler()
	} else {
		go sub.RunHandler()
	}
	return sub
}

func (s *Session) handleUnsub(frame []byte) {
	var msg ddp.Unsub
	if err := json.Unmarshal(frame, &msg); err != nil {
		return
	}
	s.mu.Lock()
	sub, ok := s.namedSubs[msg.ID]
	strategy := s.subStrategy[msg.ID]
	if ok {
		delete(s.namedSubs, msg.ID)
		delete(s.subStrategy, msg.ID)
	}
	version := s.version
	s.mu.Unlock()
	if !ok {
		return
	}
	// NoMergeNoHistory never replays removed at stop (spec §4.9); a 1a
	// client opts into handling its own subscription teardown, so the
	// server skips the redundant removed replay for it too.
	if strategy != NoMergeNoHistory && version != "1a" {
		sub.RemoveAllDocuments()
	}
	sub.Stop()
}

func (s *Session) handleMethod(frame []byte) {
	var msg ddp.Method
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.send(ddp.Error{Msg: "error", Reason: "malformed method"})
		return
	}
	handler, ok := s.registry.Method(msg.Method)
	if !ok {
		s.send(ddp.Result{Msg: "result", ID: msg.ID, Error: &ddp.ErrorField{Error: 404, Reason: "method not found"}})
		return
	}
	params := decodeParams(msg.Params)

	f := fence.New()
	ctx := fence.WithCurrent(context.Background(), f)

	result, err := handler(ctx, s, params)

	reply := ddp.Result{Msg: "result", ID: msg.ID}
	if err != nil {
		reply.Error = &ddp.ErrorField{Error: 500, Reason: err.Error()}
	} else if result != nil {
		raw, encErr := json.Marshal(result)
		if encErr != nil {
			reply.Error = &ddp.ErrorField{Error: 500, Reason: "failed to encode result"}
		} else {
			reply.Result = raw
		}
	}
	s.send(reply)

	f.OnAllCommitted(func() {
		s.send(ddp.Updated{Msg: "updated", Methods: []string{msg.ID}})
		f.Retire()
	})
	f.Arm()
}

func (s *Session) subStrategyFor(id string) Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subStrategy[id]
}

func decodeParams(raw []json.RawMessage) []any {
	out := make([]any, len(raw))
	for i, r := range raw {
		var v any
		_ = json.Unmarshal(r, &v)
		out[i] = v
	}
	return out
}

// SetUserID rebinds the session to a new user, per spec §4.10: every
// publication is re-run from scratch against the new user id, and the
// client sees only the delta between its old merge-box image and the new
// one, rather than a full added/removed replay.
func (s *Session) SetUserID(userID *string) {
	before := s.cloneMergeSnapshot()

	s.mu.Lock()
	s.userID = userID
	s.sendingAllowed = false
	s.collectionViews = make(map[string]*mergebox.CollectionView)
	named := s.namedSubs
	universal := s.universalSubs
	s.namedSubs = make(map[string]*subscription.Subscription)
	s.universalSubs = nil
	s.mu.Unlock()

	for id, sub := range named {
		strategy := s.subStrategyFor(id)
		sub.Stop()
		s.startSubscription(id, sub.Name, sub.Params, sub.Handler, strategy, true)
	}
	for _, sub := range universal {
		sub.Stop()
		s.startSubscription("", sub.Name, sub.Params, sub.Handler, ServerMerge, true)
	}

	after := s.cloneMergeSnapshot()

	s.mu.Lock()
	s.sendingAllowed = true
	s.mu.Unlock()

	for _, ev := range mergebox.DiffSnapshots(before, after) {
		switch {
		case ev.Added:
			msg, err := ddp.NewAdded(ev.Collection, ev.ID, ev.Changed)
			if err == nil {
				s.send(msg)
			}
		case ev.Removed:
			s.send(ddp.NewRemoved(ev.Collection, ev.ID))
		default:
			msg, err := ddp.NewChanged(ev.Collection, ev.ID, ev.Changed)
			if err == nil {
				s.send(msg)
			}
		}
	}
}
