// Package observe implements the caching change observer (spec §4.4): an
// authoritative snapshot of a query's documents, kept current by applying
// added/changed/removed-style events from an observe driver.
package observe

import "fmt"

// Document is a loosely typed document; _id is always a string.
type Document = map[string]any

// Cache is the common surface both the ordered and unordered caches
// implement. The driver never needs to know which one it's talking to.
type Cache interface {
	InitialAdds(docs []Document)
	Added(id string, fields Document)
	AddedBefore(id string, fields Document, beforeID *string)
	Changed(id string, fields Document)
	MovedBefore(id string, beforeID *string)
	Removed(id string)
	// Docs returns a snapshot of the cache contents in cache order.
	Docs() []Document
	Get(id string) (Document, bool)
	Len() int
}

func cloneDoc(d Document) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func withID(id string, fields Document) Document {
	doc := cloneDoc(fields)
	doc["_id"] = id
	return doc
}

// applyPatch mutates doc in place with patch, deleting any key whose patch
// value is nil (the diff contract's "undefined means remove" convention).
func applyPatch(doc Document, patch Document) {
	for k, v := range patch {
		if k == "_id" {
			continue
		}
		if v == nil {
			delete(doc, k)
		} else {
			doc[k] = v
		}
	}
}

// errMissingID panics, mirroring spec §4.4: "changed into a missing id is
// an error" the driver must never trigger in practice.
func errMissingID(op, id string) {
	panic(fmt.Sprintf("observe cache: %s into missing id %q", op, id))
}
