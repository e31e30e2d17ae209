package observe

// node is one entry in the ordered cache's doubly linked list.
type node struct {
	id         string
	doc        Document
	prev, next *node
}

// Ordered is the doubly-linked-list-backed cache for sorted queries,
// supporting O(1) move-before given the target node (spec §9 design note).
type Ordered struct {
	head, tail *node
	byID       map[string]*node
}

// NewOrdered returns an empty ordered cache.
func NewOrdered() *Ordered {
	return &Ordered{byID: make(map[string]*node)}
}

func (c *Ordered) InitialAdds(docs []Document) {
	c.head, c.tail = nil, nil
	c.byID = make(map[string]*node, len(docs))
	for _, d := range docs {
		id, _ := d["_id"].(string)
		c.insertAtTail(id, cloneDoc(d))
	}
}

func (c *Ordered) insertAtTail(id string, doc Document) *node {
	n := &node{id: id, doc: doc}
	if c.tail == nil {
		c.head, c.tail = n, n
	} else {
		n.prev = c.tail
		c.tail.next = n
		c.tail = n
	}
	c.byID[id] = n
	return n
}

func (c *Ordered) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *Ordered) insertBefore(n *node, beforeID *string) {
	if beforeID == nil {
		// append at end
		if c.tail == nil {
			c.head, c.tail = n, n
		} else {
			n.prev = c.tail
			c.tail.next = n
			c.tail = n
		}
		return
	}
	before, ok := c.byID[*beforeID]
	if !ok {
		errMissingID("addedBefore/movedBefore beforeId", *beforeID)
	}
	n.next = before
	n.prev = before.prev
	if before.prev != nil {
		before.prev.next = n
	} else {
		c.head = n
	}
	before.prev = n
}

func (c *Ordered) Added(id string, fields Document) {
	c.AddedBefore(id, fields, nil)
}

func (c *Ordered) AddedBefore(id string, fields Document, beforeID *string) {
	if _, exists := c.byID[id]; exists {
		return
	}
	n := &node{id: id, doc: withID(id, fields)}
	c.insertBefore(n, beforeID)
	c.byID[id] = n
}

func (c *Ordered) Changed(id string, fields Document) {
	n, exists := c.byID[id]
	if !exists {
		errMissingID("changed", id)
	}
	applyPatch(n.doc, fields)
}

func (c *Ordered) MovedBefore(id string, beforeID *string) {
	n, exists := c.byID[id]
	if !exists {
		errMissingID("movedBefore", id)
	}
	if beforeID != nil && *beforeID == id {
		return
	}
	c.unlink(n)
	c.insertBefore(n, beforeID)
}

func (c *Ordered) Removed(id string) {
	n, exists := c.byID[id]
	if !exists {
		errMissingID("removed", id)
	}
	c.unlink(n)
	delete(c.byID, id)
}

func (c *Ordered) Docs() []Document {
	out := make([]Document, 0, len(c.byID))
	for n := c.head; n != nil; n = n.next {
		out = append(out, cloneDoc(n.doc))
	}
	return out
}

func (c *Ordered) Get(id string) (Document, bool) {
	n, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return cloneDoc(n.doc), true
}

func (c *Ordered) Len() int { return len(c.byID) }
