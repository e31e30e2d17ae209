package mergebox

import "livedata/internal/observe"

// SnapshotEvent is one emitted delta from DiffSnapshots.
type SnapshotEvent struct {
	Collection string
	ID         string
	Added      bool
	Removed    bool
	Changed    observe.Document // non-nil only when neither Added nor Removed
}

// DiffSnapshots compares a session's merge-box state before and after a
// setUserId rebind (spec §4.10) and returns the events needed to bring the
// client from the old image to the new one.
func DiffSnapshots(old, current map[string]map[string]observe.Document) []SnapshotEvent {
	var events []SnapshotEvent
	seenColl := make(map[string]bool)

	for coll, oldDocs := range old {
		seenColl[coll] = true
		curDocs := current[coll]
		for id, oldDoc := range oldDocs {
			curDoc, exists := curDocs[id]
			if !exists {
				events = append(events, SnapshotEvent{Collection: coll, ID: id, Removed: true})
				continue
			}
			if patch := observe.FieldPatch(oldDoc, curDoc); len(patch) > 0 {
				events = append(events, SnapshotEvent{Collection: coll, ID: id, Changed: patch})
			}
		}
	}
	for coll, curDocs := range current {
		oldDocs := old[coll]
		for id, curDoc := range curDocs {
			if oldDocs != nil {
				if _, exists := oldDocs[id]; exists {
					continue
				}
			}
			events = append(events, SnapshotEvent{Collection: coll, ID: id, Added: true, Changed: curDoc})
		}
	}
	return events
}
