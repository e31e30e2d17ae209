// Package registry implements the live connection / observe registry
// (spec §4.7): a process-wide map from canonicalized cursor description to
// the multiplexer serving it, so that subscribers of an identical query
// share one polling driver instead of each re-executing it.
package registry

import (
	"encoding/json"
	"sync"

	"livedata/internal/crossbar"
	"livedata/internal/multiplex"
	"livedata/internal/observe"
	"livedata/internal/pollingdriver"
	"livedata/internal/selector"
	"livedata/internal/store"
)

// CursorDescription is the immutable (collection, selector, options)
// triple the spec's Cursor Description entity describes. Two descriptions
// are equivalent iff their canonical serialization is byte-equal.
type CursorDescription struct {
	Collection        string
	Selector          map[string]any
	Sort              []selector.SortField
	Limit             int64
	Skip              int64
	Ordered           bool
	PollingThrottleMs int64
	PollingIntervalMs int64
}

func (d CursorDescription) key() string {
	b, _ := json.Marshal(struct {
		Ordered    bool
		Collection string
		Selector   map[string]any
		Sort       []selector.SortField
		Limit      int64
		Skip       int64
	}{d.Ordered, d.Collection, d.Selector, d.Sort, d.Limit, d.Skip})
	return string(b)
}

// Registry maps cursor descriptions to their shared multiplexer.
type Registry struct {
	store store.Store
	bar   *crossbar.Crossbar

	mu          sync.Mutex
	muxes       map[string]*multiplex.Multiplexer
	drivers     map[string]*pollingdriver.Driver
	collections map[string]string // key -> collection, for debugz lookups
}

// New returns a registry backed by st for query execution and bar for
// invalidation signals.
func New(st store.Store, bar *crossbar.Crossbar) *Registry {
	return &Registry{
		store:       st,
		bar:         bar,
		muxes:       make(map[string]*multiplex.Multiplexer),
		drivers:     make(map[string]*pollingdriver.Driver),
		collections: make(map[string]string),
	}
}

// ObserveChanges attaches handle to the multiplexer for desc, creating it
// (and its polling driver) on first use, and blocks until either the
// multiplexer is ready or a queryError rejects the handle.
func (r *Registry) ObserveChanges(desc CursorDescription, handle *multiplex.Handle) error {
	key := desc.key()

	r.mu.Lock()
	mux, exists := r.muxes[key]
	if !exists {
		var driver *pollingdriver.Driver
		mux = multiplex.New(desc.Ordered, func() {
			r.mu.Lock()
			delete(r.muxes, key)
			delete(r.drivers, key)
			delete(r.collections, key)
			r.mu.Unlock()
			if driver != nil {
				driver.Stop()
			}
		})
		driver = pollingdriver.New(pollingdriver.Query{
			Collection:        desc.Collection,
			Selector:          desc.Selector,
			Sort:              desc.Sort,
			Limit:             desc.Limit,
			Skip:              desc.Skip,
			Ordered:           desc.Ordered,
			PollingThrottleMs: desc.PollingThrottleMs,
			PollingIntervalMs: desc.PollingIntervalMs,
		}, r.store, mux, r.bar)
		r.muxes[key] = mux
		r.drivers[key] = driver
		r.collections[key] = desc.Collection
	}
	r.mu.Unlock()

	return mux.AddHandle(handle)
}

// Snapshot returns the merged cache contents of every multiplexer
// currently observing collection, for the /debugz HTTP endpoint. A
// document id observed by more than one multiplexer for that collection
// (distinct selectors over the same data) appears once, keyed by
// whichever multiplexer's cache is visited first.
func (r *Registry) Snapshot(collection string) []observe.Document {
	r.mu.Lock()
	var muxes []*multiplex.Multiplexer
	for key, coll := range r.collections {
		if coll == collection {
			muxes = append(muxes, r.muxes[key])
		}
	}
	r.mu.Unlock()

	seen := make(map[string]bool)
	var docs []observe.Document
	for _, mux := range muxes {
		for _, d := range mux.Cache().Docs() {
			id, _ := d["_id"].(string)
			if seen[id] {
				continue
			}
			seen[id] = true
			docs = append(docs, d)
		}
	}
	return docs
}

// StopObserving detaches handle from the multiplexer serving desc. A no-op
// if desc's multiplexer has already torn itself down.
func (r *Registry) StopObserving(desc CursorDescription, handle *multiplex.Handle) {
	r.mu.Lock()
	mux, exists := r.muxes[desc.key()]
	r.mu.Unlock()
	if !exists {
		return
	}
	mux.RemoveHandle(handle.ID)
}
