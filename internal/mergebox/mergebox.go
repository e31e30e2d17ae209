// Package mergebox implements the session document view and collection
// view (spec §4.8): the per-session, per-collection merge of documents
// contributed by multiple subscriptions, using per-field precedence lists
// so that client-visible added/changed/removed events are never corrupted
// when two subscriptions disagree about a field's value.
package mergebox

import "livedata/internal/observe"

// SubHandle identifies the contributing subscription in precedence lists.
// Any comparable value works; sessions use the subscription's handle
// string.
type SubHandle = string

type entry struct {
	sh    SubHandle
	value any
}

// DocumentView is the per-(collection,id) merge across every subscription
// currently reporting that document.
type DocumentView struct {
	existsIn map[SubHandle]struct{}
	dataByKey map[string][]entry
}

func newDocumentView() *DocumentView {
	return &DocumentView{
		existsIn:  make(map[SubHandle]struct{}),
		dataByKey: make(map[string][]entry),
	}
}

// changeField applies one field contribution from sh, recording the
// client-visible delta (if any) into collector.
func (v *DocumentView) changeField(sh SubHandle, key string, value any, collector observe.Document) {
	if key == "_id" {
		return
	}
	value = cloneValue(value)
	list := v.dataByKey[key]
	if list == nil {
		v.dataByKey[key] = []entry{{sh: sh, value: value}}
		collector[key] = value
		return
	}
	for i, e := range list {
		if e.sh == sh {
			list[i].value = value
			if i == 0 && !deepEqual(e.value, value) {
				collector[key] = value
			}
			v.dataByKey[key] = list
			return
		}
	}
	v.dataByKey[key] = append(list, entry{sh: sh, value: value})
}

// clearField removes sh's contribution to key, recording the client-visible
// delta (if any) into collector. A nil value in collector signals removal.
func (v *DocumentView) clearField(sh SubHandle, key string, collector observe.Document) {
	if key == "_id" {
		return
	}
	list := v.dataByKey[key]
	idx := -1
	for i, e := range list {
		if e.sh == sh {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	wasHead := idx == 0
	removedValue := list[idx].value
	list = append(list[:idx:idx], list[idx+1:]...)
	if len(list) == 0 {
		delete(v.dataByKey, key)
		if wasHead {
			collector[key] = nil
		}
		return
	}
	v.dataByKey[key] = list
	if wasHead && !deepEqual(list[0].value, removedValue) {
		collector[key] = list[0].value
	}
}

// snapshot returns the client-visible field image (head of every list).
func (v *DocumentView) snapshot() observe.Document {
	doc := observe.Document{}
	for k, list := range v.dataByKey {
		if len(list) > 0 {
			doc[k] = list[0].value
		}
	}
	return doc
}

// CollectionView maintains one DocumentView per id for a single collection
// within one session.
type CollectionView struct {
	documents map[string]*DocumentView
}

// NewCollectionView returns an empty collection view.
func NewCollectionView() *CollectionView {
	return &CollectionView{documents: make(map[string]*DocumentView)}
}

// Callbacks delivers the client-visible events a CollectionView produces.
type Callbacks struct {
	Added   func(id string, fields observe.Document)
	Changed func(id string, fields observe.Document)
	Removed func(id string)
}

// Added records sh's contribution of id with fields, delivering added (new
// document) or changed (existing) to cb.
func (c *CollectionView) Added(sh SubHandle, id string, fields observe.Document, cb Callbacks) {
	v, exists := c.documents[id]
	isNew := !exists
	if isNew {
		v = newDocumentView()
		c.documents[id] = v
	}
	v.existsIn[sh] = struct{}{}

	collector := observe.Document{}
	for k, val := range fields {
		v.changeField(sh, k, val, collector)
	}

	if isNew {
		if cb.Added != nil {
			cb.Added(id, collector)
		}
	} else if len(collector) > 0 {
		if cb.Changed != nil {
			cb.Changed(id, collector)
		}
	}
}

// Changed applies sh's field updates to id; a nil value clears that field.
func (c *CollectionView) Changed(sh SubHandle, id string, fields observe.Document, cb Callbacks) {
	v, exists := c.documents[id]
	if !exists {
		return
	}
	collector := observe.Document{}
	for k, val := range fields {
		if val == nil {
			v.clearField(sh, k, collector)
		} else {
			v.changeField(sh, k, val, collector)
		}
	}
	if len(collector) > 0 && cb.Changed != nil {
		cb.Changed(id, collector)
	}
}

// Removed drops sh's contribution to id; if no subscription still reports
// it, the document is dropped and removed is delivered, else the fields sh
// alone contributed are cleared and changed is delivered.
func (c *CollectionView) Removed(sh SubHandle, id string, cb Callbacks) {
	v, exists := c.documents[id]
	if !exists {
		return
	}
	delete(v.existsIn, sh)
	if len(v.existsIn) == 0 {
		delete(c.documents, id)
		if cb.Removed != nil {
			cb.Removed(id)
		}
		return
	}
	collector := observe.Document{}
	for key := range v.dataByKey {
		v.clearField(sh, key, collector)
	}
	if len(collector) > 0 && cb.Changed != nil {
		cb.Changed(id, collector)
	}
}

// Snapshot returns a deep-ish copy of the current client-visible image,
// keyed by id, for use by setUserId's before/after diff.
func (c *CollectionView) Snapshot() map[string]observe.Document {
	out := make(map[string]observe.Document, len(c.documents))
	for id, v := range c.documents {
		out[id] = v.snapshot()
	}
	return out
}

func cloneValue(v any) any {
	if m, ok := v.(observe.Document); ok {
		out := make(observe.Document, len(m))
		for k, val := range m {
			out[k] = cloneValue(val)
		}
		return out
	}
	if s, ok := v.([]any); ok {
		out := make([]any, len(s))
		for i, val := range s {
			out[i] = cloneValue(val)
		}
		return out
	}
	return v
}

func deepEqual(a, b any) bool {
	am, aok := a.(observe.Document)
	bm, bok := b.(observe.Document)
	if aok != bok {
		return false
	}
	if aok {
		if len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			bv, ok := bm[k]
			if !ok || !deepEqual(v, bv) {
				return false
			}
		}
		return true
	}
	return a == b
}
