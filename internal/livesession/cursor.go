package livesession

import (
	"livedata/internal/multiplex"
	"livedata/internal/observe"
	"livedata/internal/registry"
	"livedata/internal/selector"
	"livedata/internal/subscription"
)

// FindOptions narrows a published query the way a Meteor publish function's
// find(selector, options) call does.
type FindOptions = subscription.FindOptions

// findCursor adapts a registry-backed live query to subscription.Cursor,
// translating multiplexer callbacks into Sub.Added/Changed/Removed calls.
type findCursor struct {
	reg        *registry.Registry
	collection string
	selector   map[string]any
	opts       FindOptions
	handle     *multiplex.Handle
	desc       registry.CursorDescription
}

// Find returns a publishable live query over collection. Publish handlers
// call this and return the result (or a []subscription.Cursor of several)
// from their Handler.
func (s *Session) Find(collection string, sel map[string]any, opts FindOptions) subscription.Cursor {
	if opts.PollingThrottleMs == 0 {
		opts.PollingThrottleMs = s.defaultPollingThrottleMs
	}
	if opts.PollingIntervalMs == 0 {
		opts.PollingIntervalMs = s.defaultPollingIntervalMs
	}
	return &findCursor{
		reg:        s.observeReg,
		collection: collection,
		selector:   sel,
		opts:       opts,
	}
}

func (c *findCursor) CollectionName() string { return c.collection }

func (c *findCursor) PublishCursor(sub *subscription.Subscription) error {
	rewritten, err := selector.Rewrite(c.selector)
	if err != nil {
		return err
	}

	c.desc = registry.CursorDescription{
		Collection:        c.collection,
		Selector:          rewritten,
		Sort:              c.opts.Sort,
		Limit:             c.opts.Limit,
		Skip:              c.opts.Skip,
		Ordered:           c.opts.Ordered,
		PollingThrottleMs: c.opts.PollingThrottleMs,
		PollingIntervalMs: c.opts.PollingIntervalMs,
	}

	c.handle = &multiplex.Handle{
		InitialAdds: func(docs []observe.Document) {
			for _, d := range docs {
				id, _ := d["_id"].(string)
				sub.Added(c.collection, id, withoutID(d))
			}
		},
		Added: func(id string, fields observe.Document) {
			sub.Added(c.collection, id, withoutID(fields))
		},
		AddedBefore: func(id string, fields observe.Document, _ *string) {
			sub.Added(c.collection, id, withoutID(fields))
		},
		Changed: func(id string, fields observe.Document) {
			sub.Changed(c.collection, id, withoutID(fields))
		},
		Removed: func(id string) {
			sub.Removed(c.collection, id)
		},
	}

	sub.OnStop(func() {
		c.reg.StopObserving(c.desc, c.handle)
	})

	return c.reg.ObserveChanges(c.desc, c.handle)
}

func withoutID(d observe.Document) observe.Document {
	if _, ok := d["_id"]; !ok {
		return d
	}
	out := make(observe.Document, len(d)-1)
	for k, v := range d {
		if k != "_id" {
			out[k] = v
		}
	}
	return out
}
