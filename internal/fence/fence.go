// Package fence implements the write fence (spec §4.2): a barrier that
// accumulates pending commit promises for a set of writes and fires once
// all of them have committed, delaying a method's "updated" acknowledgement
// until every observer cycle triggered by the method's writes has flushed.
package fence

import "sync"

// Fence is a single-use barrier. Zero value is not usable; use New.
type Fence struct {
	mu          sync.Mutex
	armed       bool
	firing      bool // before-fire phase has started
	fired       bool // the fire event itself has happened (single-shot)
	retired     bool
	outstanding int

	beforeFire []func()
	completion []func()
}

// New returns an unarmed fence with no outstanding writes.
func New() *Fence {
	return &Fence{}
}

// Write is a one-shot commit capability returned by BeginWrite.
type Write struct {
	fence     *Fence
	mu        sync.Mutex
	committed bool
}

// BeginWrite registers one outstanding write against the fence and returns a
// capability the caller must eventually call Committed() on exactly once.
// Calling BeginWrite after the fence has fired panics; after the fence has
// retired it is a silent no-op returning an already-committed shim.
func (f *Fence) BeginWrite() *Write {
	f.mu.Lock()
	if f.retired {
		f.mu.Unlock()
		return &Write{committed: true}
	}
	if f.fired {
		f.mu.Unlock()
		panic("fence: beginWrite after fire")
	}
	f.outstanding++
	f.mu.Unlock()
	return &Write{fence: f}
}

// Committed marks the write as done. Calling it twice panics.
func (w *Write) Committed() {
	w.mu.Lock()
	if w.committed {
		w.mu.Unlock()
		panic("fence: write committed twice")
	}
	w.committed = true
	f := w.fence
	w.mu.Unlock()

	if f == nil {
		return // retired no-op shim, nothing to decrement
	}
	f.mu.Lock()
	f.outstanding--
	f.mu.Unlock()
	f.tryAdvance()
}

// OnBeforeFire registers a callback run once, immediately before the fence
// actually fires, under a +1 outstanding shim — the callback may call
// BeginWrite itself to extend the fence's lifetime.
func (f *Fence) OnBeforeFire(cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeFire = append(f.beforeFire, cb)
}

// OnAllCommitted registers a callback run once, after the fence has fired
// and every write outstanding at fire time (including those added by
// before-fire callbacks) has committed.
func (f *Fence) OnAllCommitted(cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completion = append(f.completion, cb)
}

// Arm marks the fence armed. If no writes are outstanding, it fires
// immediately (synchronously, on the calling goroutine).
func (f *Fence) Arm() {
	f.mu.Lock()
	if f.armed {
		f.mu.Unlock()
		return
	}
	f.armed = true
	f.mu.Unlock()
	f.tryAdvance()
}

// Retire converts all subsequent BeginWrite calls into no-ops. Legal only
// after the fence has fired.
func (f *Fence) Retire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.fired {
		panic("fence: retire before fire")
	}
	f.retired = true
}

// tryAdvance is called whenever outstanding may have reached zero, or when
// the fence is armed. It drives the fence through the before-fire phase and
// then the fire/completion phase, each exactly once.
func (f *Fence) tryAdvance() {
	f.mu.Lock()
	if !f.armed || f.fired || f.outstanding != 0 {
		f.mu.Unlock()
		return
	}

	if !f.firing {
		f.firing = true
		f.outstanding++ // +1 shim so before-fire callbacks can beginWrite safely
		callbacks := append([]func(){}, f.beforeFire...)
		f.mu.Unlock()

		for _, cb := range callbacks {
			cb()
		}

		f.mu.Lock()
		f.outstanding--
		n := f.outstanding
		f.mu.Unlock()
		if n == 0 {
			f.tryAdvance()
		}
		return
	}

	// Before-fire phase is complete and outstanding is back to zero: fire.
	f.fired = true
	callbacks := append([]func(){}, f.completion...)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// Fired reports whether the fence has fired.
func (f *Fence) Fired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fired
}
