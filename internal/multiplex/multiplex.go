// Package multiplex implements the observe multiplexer (spec §4.5): a
// consistent fan-out from one observe driver to N observe handles sharing
// an identical cursor description.
package multiplex

import (
	"fmt"

	"github.com/jinzhu/copier"

	"livedata/internal/observe"
	"livedata/internal/taskqueue"
)

// Handle is a subscriber's capability to receive change events from a
// Multiplexer. Multiplexer.AddHandle attaches it and Multiplexer.RemoveHandle
// detaches it. Stop only sets a flag that fan-out does not check, so a
// stopped handle keeps receiving events until RemoveHandle is called.
type Handle struct {
	ID                   int64
	NonMutatingCallbacks bool

	InitialAdds func(docs []observe.Document)
	Added       func(id string, fields observe.Document)
	AddedBefore func(id string, fields observe.Document, beforeID *string)
	Changed     func(id string, fields observe.Document)
	MovedBefore func(id string, beforeID *string)
	Removed     func(id string)

	stopped bool
}

func (h *Handle) Stop() { h.stopped = true }

// Multiplexer fans driver callbacks out to every attached handle, keeping
// an authoritative cache and enforcing the readiness barrier.
type Multiplexer struct {
	Ordered bool
	queue   *taskqueue.Queue
	cache   observe.Cache

	ready         bool
	readyWaiters  []func(error)
	queryErr      error
	stopped       bool
	nextHandleID  int64
	handles       map[int64]*Handle
	pendingAdds   int
	onStop        func()
}

// New returns an unstarted multiplexer. onStop is invoked exactly once,
// the first time the handle set empties with no outstanding addHandle
// tasks pending (spec §4.5 invariant iv).
func New(ordered bool, onStop func()) *Multiplexer {
	var cache observe.Cache
	if ordered {
		cache = observe.NewOrdered()
	} else {
		cache = observe.NewUnordered()
	}
	return &Multiplexer{
		Ordered: ordered,
		queue:   taskqueue.New(),
		cache:   cache,
		handles: make(map[int64]*Handle),
		onStop:  onStop,
	}
}

// --- driver-facing API: all must be called from the multiplexer's queue
// (via QueueTask/RunTask), never directly, to preserve single-writer.

func (m *Multiplexer) requireNotReady(op string) {
	if m.ready {
		panic(fmt.Sprintf("multiplexer: %s received after ready (driver bug)", op))
	}
}

func (m *Multiplexer) requireReady(op string) {
	if !m.ready {
		panic(fmt.Sprintf("multiplexer: %s received before ready (driver bug)", op))
	}
}

func (m *Multiplexer) InitialAdds(docs []observe.Document) {
	m.queue.QueueTask(func() {
		if m.stopped {
			return
		}
		m.cache.InitialAdds(docs)
		for _, h := range m.handles {
			m.deliverInitialAdds(h)
		}
	})
}

func (m *Multiplexer) Added(id string, fields observe.Document) {
	m.queue.QueueTask(func() {
		if m.stopped {
			return
		}
		m.cache.Added(id, fields)
		for _, h := range m.handles {
			if h.Added != nil {
				h.Added(id, m.cloneFor(h, fields))
			}
		}
	})
}

func (m *Multiplexer) AddedBefore(id string, fields observe.Document, beforeID *string) {
	m.queue.QueueTask(func() {
		if m.stopped {
			return
		}
		m.cache.AddedBefore(id, fields, beforeID)
		for _, h := range m.handles {
			if h.AddedBefore != nil {
				h.AddedBefore(id, m.cloneFor(h, fields), beforeID)
			}
		}
	})
}

func (m *Multiplexer) Changed(id string, fields observe.Document) {
	m.queue.QueueTask(func() {
		if m.stopped {
			return
		}
		m.requireReady("changed")
		m.cache.Changed(id, fields)
		for _, h := range m.handles {
			if h.Changed != nil {
				h.Changed(id, m.cloneFor(h, fields))
			}
		}
	})
}

func (m *Multiplexer) MovedBefore(id string, beforeID *string) {
	m.queue.QueueTask(func() {
		if m.stopped {
			return
		}
		m.requireReady("movedBefore")
		m.cache.MovedBefore(id, beforeID)
		for _, h := range m.handles {
			if h.MovedBefore != nil {
				h.MovedBefore(id, beforeID)
			}
		}
	})
}

func (m *Multiplexer) Removed(id string) {
	m.queue.QueueTask(func() {
		if m.stopped {
			return
		}
		m.requireReady("removed")
		m.cache.Removed(id)
		for _, h := range m.handles {
			if h.Removed != nil {
				h.Removed(id)
			}
		}
	})
}

// Ready resolves the readiness barrier. Queued like any other driver event
// so it takes effect strictly after every already-queued add.
func (m *Multiplexer) Ready() {
	m.queue.QueueTask(func() {
		if m.stopped {
			return
		}
		m.requireNotReady("ready")
		m.ready = true
		waiters := m.readyWaiters
		m.readyWaiters = nil
		for _, w := range waiters {
			w(nil)
		}
	})
}

// QueryError stops the multiplexer and rejects all pending addHandle
// waiters. Illegal to call after readiness (driver bug).
func (m *Multiplexer) QueryError(err error) {
	m.queue.QueueTask(func() {
		if m.stopped {
			return
		}
		m.requireNotReady("queryError")
		m.queryErr = err
		m.stopped = true
		waiters := m.readyWaiters
		m.readyWaiters = nil
		for _, w := range waiters {
			w(err)
		}
	})
}

// --- handle management, subscriber-facing.

// AddHandle attaches h and blocks the caller until either the multiplexer
// is ready (delivering h's initial adds first) or a queryError arrives.
// Registration itself is queued so it serializes with other driver events,
// but the wait for readiness happens on the caller's goroutine, not the
// queue's worker, so later Ready()/QueryError() tasks can still run.
func (m *Multiplexer) AddHandle(h *Handle) error {
	done := make(chan error, 1)
	m.queue.QueueTask(func() {
		if m.stopped && m.queryErr != nil {
			done <- m.queryErr
			return
		}
		m.nextHandleID++
		h.ID = m.nextHandleID
		m.handles[h.ID] = h
		if m.ready {
			m.deliverInitialAdds(h)
			done <- nil
			return
		}
		m.pendingAdds++
		m.readyWaiters = append(m.readyWaiters, func(err error) {
			if err == nil {
				m.deliverInitialAdds(h)
			}
			m.pendingAdds--
			m.maybeStop()
			done <- err
		})
	})
	return <-done
}

func (m *Multiplexer) deliverInitialAdds(h *Handle) {
	if h.InitialAdds != nil {
		h.InitialAdds(cloneDocsFor(h, m.cache.Docs()))
	}
}

// RemoveHandle is synchronous per spec §4.5.
func (m *Multiplexer) RemoveHandle(id int64) {
	taskqueue.RunTaskVoid(m.queue, func() error {
		delete(m.handles, id)
		m.maybeStop()
		return nil
	})
}

func (m *Multiplexer) maybeStop() {
	if len(m.handles) == 0 && m.pendingAdds == 0 && !m.stopped {
		m.stopped = true
		if m.onStop != nil {
			m.onStop()
		}
	}
}

// OnFlush guarantees cb runs only after every event enqueued so far has
// been delivered to all handles.
func (m *Multiplexer) OnFlush(cb func()) {
	m.queue.QueueTask(cb)
}

// Cache exposes the authoritative cache for diagnostics/tests only; driver
// code must route all mutation through the queued methods above.
func (m *Multiplexer) Cache() observe.Cache { return m.cache }

func (m *Multiplexer) cloneFor(h *Handle, fields observe.Document) observe.Document {
	if h.NonMutatingCallbacks || fields == nil {
		return fields
	}
	return deepCloneDoc(fields)
}

func cloneDocsFor(h *Handle, docs []observe.Document) []observe.Document {
	if h.NonMutatingCallbacks {
		return docs
	}
	out := make([]observe.Document, len(docs))
	for i, d := range docs {
		out[i] = deepCloneDoc(d)
	}
	return out
}

func deepCloneDoc(d observe.Document) observe.Document {
	out := make(observe.Document, len(d))
	if err := copier.CopyWithOption(&out, d, copier.Option{DeepCopy: true}); err != nil {
		// if copy failed, hand back the original: better an aliased doc
		// than a dropped event.
		return d
	}
	return out
}
