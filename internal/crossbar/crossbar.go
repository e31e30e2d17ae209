// Package crossbar implements the invalidation crossbar (spec §4.3): a
// pattern-based notification bus that routes per-collection change
// notifications from write sites to interested observe drivers.
package crossbar

import (
	"reflect"
	"sync"
)

// Trigger is a pattern whose keys are a subset of a Notification's keys,
// compared by deep value equality.
type Trigger map[string]any

// Notification is a fired change-notification document.
type Notification map[string]any

// collectionOf extracts the bucket a trigger belongs to: its "collection"
// key if present and a string, else "" meaning "any collection".
func collectionOf(t Trigger) string {
	if v, ok := t["collection"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

type listener struct {
	id      int64
	trigger Trigger
	cb      func(Notification)
}

// Crossbar is indexed by collection name, with "" meaning "any collection".
type Crossbar struct {
	mu     sync.RWMutex
	nextID int64
	byColl map[string][]*listener
}

// New returns an empty Crossbar.
func New() *Crossbar {
	return &Crossbar{byColl: make(map[string][]*listener)}
}

// Listen registers cb to be invoked for every fired notification matching
// trigger and returns an idempotent stop handle. Registering or
// deregistering from inside another callback on the same bar is safe.
func (c *Crossbar) Listen(trigger Trigger, cb func(Notification)) (stop func()) {
	c.mu.Lock()
	c.nextID++
	l := &listener{id: c.nextID, trigger: trigger, cb: cb}
	coll := collectionOf(trigger)
	c.byColl[coll] = append(c.byColl[coll], l)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			bucket := c.byColl[coll]
			for i, cur := range bucket {
				if cur.id == l.id {
					c.byColl[coll] = append(bucket[:i:i], bucket[i+1:]...)
					break
				}
			}
		})
	}
}

// Fire enumerates listeners matching the notification's collection bucket
// (and the "any collection" bucket) and invokes every one whose trigger
// matches by the subset rule. Matching listener ids are snapshotted before
// dispatch so that a callback which stops a listener, or registers a new
// one, does not corrupt the iteration.
func (c *Crossbar) Fire(n Notification) {
	coll, _ := n["collection"].(string)

	c.mu.RLock()
	candidates := make([]*listener, 0, len(c.byColl[coll])+len(c.byColl[""]))
	candidates = append(candidates, c.byColl[coll]...)
	if coll != "" {
		candidates = append(candidates, c.byColl[""]...)
	}
	matched := make([]*listener, 0, len(candidates))
	for _, l := range candidates {
		if matches(l.trigger, n) {
			matched = append(matched, l)
		}
	}
	c.mu.RUnlock()

	for _, l := range matched {
		l.cb(n)
	}
}

// matches reports whether every key present in trigger exists in n with an
// equal value. A fast-path string comparison on "id" short-circuits the
// common case before falling through to the general subset check.
func matches(trigger Trigger, n Notification) bool {
	if tid, ok := trigger["id"].(string); ok {
		if nid, ok := n["id"].(string); ok && tid != nid {
			return false
		}
	}
	for k, v := range trigger {
		nv, exists := n[k]
		if !exists || !reflect.DeepEqual(nv, v) {
			return false
		}
	}
	return true
}
