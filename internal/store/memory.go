package store

import (
	"context"
	"sort"
	"sync"

	"livedata/internal/selector"
)

// Memory is an in-process Store, grounded on nodestorage/v2/cache's
// mutex-guarded map pattern. Used by tests; the CLI always connects to
// Mongo. Never an oplog source, so collections served from it always fall
// back to the polling driver.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]map[string]any // collection -> id -> doc
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]map[string]any)}
}

func (m *Memory) collection(name string) map[string]map[string]any {
	c, ok := m.data[name]
	if !ok {
		c = make(map[string]map[string]any)
		m.data[name] = c
	}
	return c
}

func (m *Memory) Find(ctx context.Context, collection string, sel map[string]any, opts FindOptions) (Cursor, error) {
	matcher := selector.New(sel)

	m.mu.RLock()
	var docs []map[string]any
	for _, d := range m.collection(collection) {
		if matcher.DocumentMatches(d).Result {
			docs = append(docs, cloneMap(d))
		}
	}
	m.mu.RUnlock()

	if len(opts.Sort) > 0 {
		fields := make([]selector.SortField, 0, len(opts.Sort))
		for _, e := range opts.Sort {
			asc := true
			switch v := e.Value.(type) {
			case int:
				asc = v >= 0
			case int32:
				asc = v >= 0
			}
			fields = append(fields, selector.SortField{Path: e.Key, Ascending: asc})
		}
		cmp := selector.NewSorter(fields).GetComparator()
		sort.SliceStable(docs, func(i, j int) bool { return cmp(docs[i], docs[j]) < 0 })
	}

	if opts.Skip > 0 {
		if int(opts.Skip) >= len(docs) {
			docs = nil
		} else {
			docs = docs[opts.Skip:]
		}
	}
	if opts.Limit > 0 && int64(len(docs)) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return &memCursor{docs: docs, pos: -1}, nil
}

func (m *Memory) FindOne(ctx context.Context, collection string, id string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.collection(collection)[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMap(d), nil
}

func (m *Memory) InsertOne(ctx context.Context, collection string, doc map[string]any) error {
	id, _ := doc["_id"].(string)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(collection)[id] = cloneMap(doc)
	return nil
}

func (m *Memory) UpdateOne(ctx context.Context, collection string, id string, update map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.collection(collection)
	existing, ok := coll[id]
	if !ok {
		return ErrNotFound
	}
	patch, ok := update["$set"].(map[string]any)
	if !ok {
		patch = update
	}
	merged := cloneMap(existing)
	for k, v := range patch {
		merged[k] = v
	}
	if unset, ok := update["$unset"].(map[string]any); ok {
		for k := range unset {
			delete(merged, k)
		}
	}
	coll[id] = merged
	return nil
}

func (m *Memory) DeleteOne(ctx context.Context, collection string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.collection(collection)
	if _, ok := coll[id]; !ok {
		return ErrNotFound
	}
	delete(coll, id)
	return nil
}

func cloneMap(d map[string]any) map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

type memCursor struct {
	docs []map[string]any
	pos  int
}

func (c *memCursor) Next(ctx context.Context) bool {
	c.pos++
	return c.pos < len(c.docs)
}

func (c *memCursor) Decode() (map[string]any, error) { return c.docs[c.pos], nil }
func (c *memCursor) Err() error                       { return nil }
func (c *memCursor) Close(ctx context.Context) error   { return nil }
