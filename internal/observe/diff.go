package observe

// Callbacks receives the events produced by Diff{Unordered,Ordered} (spec
// §4.11). BeforeID is nil to mean "at the end" / "no move needed".
type Callbacks struct {
	AddedBefore func(id string, fields Document, beforeID *string)
	Changed     func(id string, fields Document)
	MovedBefore func(id string, beforeID *string)
	Removed     func(id string)
}

// FieldPatch computes the minimal per-field patch from oldDoc to newDoc per
// the §4.11 contract: absent-in-new emits nil (removal), absent-in-old or
// changed emits the new value, unchanged fields are omitted.
func FieldPatch(oldDoc, newDoc Document) Document {
	patch := Document{}
	for k, v := range newDoc {
		if k == "_id" {
			continue
		}
		if ov, ok := oldDoc[k]; !ok || !deepEqual(ov, v) {
			patch[k] = v
		}
	}
	for k := range oldDoc {
		if k == "_id" {
			continue
		}
		if _, ok := newDoc[k]; !ok {
			patch[k] = nil
		}
	}
	return patch
}

func deepEqual(a, b any) bool {
	am, aok := a.(Document)
	bm, bok := b.(Document)
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

// DiffUnordered compares two id-keyed snapshots and emits added (as
// AddedBefore with a nil beforeID), changed, and removed events.
func DiffUnordered(old, new map[string]Document, cb Callbacks) {
	for id, newDoc := range new {
		if oldDoc, ok := old[id]; ok {
			if patch := FieldPatch(oldDoc, newDoc); len(patch) > 0 {
				cb.Changed(id, patch)
			}
		} else {
			cb.AddedBefore(id, withoutID(newDoc), nil)
		}
	}
	for id := range old {
		if _, ok := new[id]; !ok {
			cb.Removed(id)
		}
	}
}

func withoutID(d Document) Document {
	out := cloneDoc(d)
	delete(out, "_id")
	return out
}

// DiffOrdered compares two ordered sequences by _id identity and emits
// addedBefore/removedBefore(removed)/movedBefore/changed so that applying
// the events in order transforms old into new.
func DiffOrdered(old, new []Document, cb Callbacks) {
	oldByID := make(map[string]Document, len(old))
	oldOrder := make([]string, len(old))
	for i, d := range old {
		id, _ := d["_id"].(string)
		oldByID[id] = d
		oldOrder[i] = id
	}
	newSet := make(map[string]bool, len(new))
	for _, d := range new {
		id, _ := d["_id"].(string)
		newSet[id] = true
	}

	// Removed: ids in old not present in new.
	var remaining []string
	for _, id := range oldOrder {
		if newSet[id] {
			remaining = append(remaining, id)
		} else {
			cb.Removed(id)
		}
	}

	// Walk new order, keeping `remaining` as the current known suffix of
	// already-positioned old ids; advance j when the next id already
	// matches, else insert/move it before the next known anchor.
	j := 0
	for _, newDoc := range new {
		id, _ := newDoc["_id"].(string)
		if oldDoc, existed := oldByID[id]; existed {
			if j < len(remaining) && remaining[j] == id {
				j++
			} else {
				before := nextAnchor(remaining, j)
				cb.MovedBefore(id, before)
				removeFrom(&remaining, j, id)
			}
			if patch := FieldPatch(oldDoc, newDoc); len(patch) > 0 {
				cb.Changed(id, patch)
			}
		} else {
			before := nextAnchor(remaining, j)
			cb.AddedBefore(id, withoutID(newDoc), before)
		}
	}
}

func nextAnchor(remaining []string, j int) *string {
	if j >= len(remaining) {
		return nil
	}
	id := remaining[j]
	return &id
}

// removeFrom deletes the first occurrence of id found at or after from in
// remaining, shifting nothing else about the scan position.
func removeFrom(remaining *[]string, from int, id string) {
	s := *remaining
	for i := from; i < len(s); i++ {
		if s[i] == id {
			*remaining = append(s[:i:i], s[i+1:]...)
			return
		}
	}
}
