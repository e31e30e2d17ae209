package observe

// Unordered is the map-backed cache for queries with no sort spec.
type Unordered struct {
	docs map[string]Document
	// order preserves insertion order only for deterministic Docs() output;
	// it carries no semantic weight (unordered queries promise no order).
	order []string
}

// NewUnordered returns an empty unordered cache.
func NewUnordered() *Unordered {
	return &Unordered{docs: make(map[string]Document)}
}

func (c *Unordered) InitialAdds(docs []Document) {
	c.docs = make(map[string]Document, len(docs))
	c.order = c.order[:0]
	for _, d := range docs {
		id, _ := d["_id"].(string)
		c.docs[id] = cloneDoc(d)
		c.order = append(c.order, id)
	}
}

func (c *Unordered) Added(id string, fields Document) {
	if _, exists := c.docs[id]; exists {
		return
	}
	c.docs[id] = withID(id, fields)
	c.order = append(c.order, id)
}

func (c *Unordered) AddedBefore(id string, fields Document, beforeID *string) {
	// Unordered queries never receive addedBefore from a well-behaved driver.
	c.Added(id, fields)
}

func (c *Unordered) Changed(id string, fields Document) {
	doc, exists := c.docs[id]
	if !exists {
		errMissingID("changed", id)
	}
	applyPatch(doc, fields)
}

func (c *Unordered) MovedBefore(id string, beforeID *string) {
	// No-op: unordered caches have no order to preserve.
}

func (c *Unordered) Removed(id string) {
	if _, exists := c.docs[id]; !exists {
		errMissingID("removed", id)
	}
	delete(c.docs, id)
	for i, cur := range c.order {
		if cur == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Unordered) Docs() []Document {
	out := make([]Document, 0, len(c.order))
	for _, id := range c.order {
		if d, ok := c.docs[id]; ok {
			out = append(out, cloneDoc(d))
		}
	}
	return out
}

func (c *Unordered) Get(id string) (Document, bool) {
	d, ok := c.docs[id]
	if !ok {
		return nil, false
	}
	return cloneDoc(d), true
}

func (c *Unordered) Len() int { return len(c.docs) }
