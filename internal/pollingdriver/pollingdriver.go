// Package pollingdriver implements the polling observe driver (spec §4.6):
// re-executes a cursor's query on each invalidation or periodic timer tick,
// diffs against the previous snapshot, and feeds the result into a
// multiplexer, integrating with write fences so a method's "updated" ack
// waits for the resulting fan-out to flush.
package pollingdriver

import (
	"context"
	"sort"
	"sync"
	"time"

	"livedata/internal/crossbar"
	"livedata/internal/fence"
	"livedata/internal/multiplex"
	"livedata/internal/observe"
	"livedata/internal/selector"
	"livedata/internal/store"
)

// Query describes the cursor this driver polls, per the spec's Cursor
// Description entity.
type Query struct {
	Collection        string
	Selector          map[string]any
	Sort              []selector.SortField
	Limit             int64
	Skip              int64
	Ordered           bool
	PollingThrottleMs int64
	PollingIntervalMs int64
}

// Driver owns one Multiplexer and re-polls the store on invalidation or a
// periodic timer.
type Driver struct {
	query Query
	store store.Store
	mux   *multiplex.Multiplexer
	bar   *crossbar.Crossbar

	mu                         sync.Mutex
	previousOrdered            []observe.Document
	previousUnordered          map[string]observe.Document
	pendingWrites              []*fence.Write
	pollsScheduledButNotStarted int
	firstPollDone              bool
	stopped                    bool
	lastFireAt                 time.Time
	trailingScheduled          bool

	stopListen func()
	timer      *time.Timer
}

// New starts a driver polling query against st, feeding mux, woken by
// invalidations on bar matching query.Collection and by its own periodic
// timer. The caller owns mux's lifecycle; New registers onStop-adjacent
// cleanup via Stop, which the multiplexer's onStop should call.
func New(query Query, st store.Store, mux *multiplex.Multiplexer, bar *crossbar.Crossbar) *Driver {
	d := &Driver{
		query:             query,
		store:             st,
		mux:               mux,
		bar:               bar,
		previousUnordered: map[string]observe.Document{},
	}

	d.stopListen = bar.Listen(crossbar.Trigger{"collection": query.Collection}, d.onInvalidate)

	intervalMs := query.PollingIntervalMs
	if intervalMs <= 0 {
		intervalMs = 10000
	}
	d.timer = time.AfterFunc(time.Duration(intervalMs)*time.Millisecond, d.onTimer)

	d.schedulePoll()
	return d
}

func (d *Driver) onInvalidate(n crossbar.Notification) {
	// The write site stamps its active fence (if any) onto the
	// notification it fires, rather than relying on ambient/thread-local
	// state; see fence.WithCurrent for where callers derive this value.
	if cur, ok := n["fence"].(*fence.Fence); ok && cur != nil {
		d.mu.Lock()
		d.pendingWrites = append(d.pendingWrites, cur.BeginWrite())
		d.mu.Unlock()
	}
	d.mu.Lock()
	shouldSchedule := d.pollsScheduledButNotStarted == 0
	d.mu.Unlock()
	if shouldSchedule {
		d.throttledSchedule()
	}
}

func (d *Driver) onTimer() {
	intervalMs := d.query.PollingIntervalMs
	if intervalMs <= 0 {
		intervalMs = 10000
	}
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return
	}
	d.timer.Reset(time.Duration(intervalMs) * time.Millisecond)
	d.throttledSchedule()
}

// throttledSchedule implements the leading+trailing throttle of §4.6: fire
// immediately if the last fire was far enough in the past, else schedule a
// single trailing fire at the end of the window.
func (d *Driver) throttledSchedule() {
	throttleMs := d.query.PollingThrottleMs
	if throttleMs <= 0 {
		throttleMs = 50
	}
	window := time.Duration(throttleMs) * time.Millisecond

	d.mu.Lock()
	since := time.Since(d.lastFireAt)
	if d.lastFireAt.IsZero() || since >= window {
		d.lastFireAt = time.Now()
		d.mu.Unlock()
		d.schedulePoll()
		return
	}
	if d.trailingScheduled {
		d.mu.Unlock()
		return
	}
	d.trailingScheduled = true
	remaining := window - since
	d.mu.Unlock()

	time.AfterFunc(remaining, func() {
		d.mu.Lock()
		d.trailingScheduled = false
		d.lastFireAt = time.Now()
		d.mu.Unlock()
		d.schedulePoll()
	})
}

func (d *Driver) schedulePoll() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.pollsScheduledButNotStarted++
	d.mu.Unlock()
	go d.poll()
}

// poll runs one cycle. The multiplexer's single-writer queue is where the
// resulting cache mutation and fan-out happen (via the mux.* calls, which
// are themselves queued), but the query execution against the store runs
// here, off that queue, so a slow store doesn't block other multiplexers.
func (d *Driver) poll() {
	d.mu.Lock()
	d.pollsScheduledButNotStarted--
	if d.stopped {
		d.mu.Unlock()
		return
	}
	writesForCycle := d.pendingWrites
	d.pendingWrites = nil
	firstPoll := !d.firstPollDone
	d.mu.Unlock()

	ctx := context.Background()
	results, err := d.runQuery(ctx)
	if err != nil {
		if firstPoll {
			if qerr, ok := err.(*store.QueryError); ok {
				d.mux.QueryError(qerr)
				return
			}
		}
		d.mu.Lock()
		d.pendingWrites = append(writesForCycle, d.pendingWrites...)
		d.mu.Unlock()
		return
	}

	d.diffAndEmit(results)

	d.mu.Lock()
	if !d.firstPollDone {
		d.firstPollDone = true
		d.mu.Unlock()
		d.mux.Ready()
	} else {
		d.mu.Unlock()
	}

	d.mux.OnFlush(func() {
		for _, w := range writesForCycle {
			w.Committed()
		}
	})
}

func (d *Driver) runQuery(ctx context.Context) ([]observe.Document, error) {
	opts := store.FindOptions{Limit: d.query.Limit, Skip: d.query.Skip}
	cur, err := d.store.Find(ctx, d.query.Collection, d.query.Selector, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []observe.Document
	for cur.Next(ctx) {
		doc, err := cur.Decode()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	if len(d.query.Sort) > 0 {
		cmp := selector.NewSorter(d.query.Sort).GetComparator()
		sort.SliceStable(docs, func(i, j int) bool { return cmp(docs[i], docs[j]) < 0 })
	}
	return docs, nil
}

func (d *Driver) diffAndEmit(results []observe.Document) {
	cb := observe.Callbacks{
		AddedBefore: func(id string, fields observe.Document, before *string) {
			if d.query.Ordered {
				d.mux.AddedBefore(id, fields, before)
			} else {
				d.mux.Added(id, fields)
			}
		},
		Changed: func(id string, fields observe.Document) { d.mux.Changed(id, fields) },
		MovedBefore: func(id string, before *string) {
			if d.query.Ordered {
				d.mux.MovedBefore(id, before)
			}
		},
		Removed: func(id string) { d.mux.Removed(id) },
	}

	d.mu.Lock()
	ordered := d.query.Ordered
	prevOrdered := d.previousOrdered
	prevUnordered := d.previousUnordered
	d.mu.Unlock()

	newUnordered := map[string]observe.Document{}
	for _, doc := range results {
		id, _ := doc["_id"].(string)
		newUnordered[id] = doc
	}

	if ordered {
		observe.DiffOrdered(prevOrdered, results, cb)
	} else {
		observe.DiffUnordered(prevUnordered, newUnordered, cb)
	}

	d.mu.Lock()
	d.previousOrdered = results
	d.previousUnordered = newUnordered
	d.mu.Unlock()
}

// Stop cancels the timer and crossbar listener, and commits every captured
// pending write immediately so fences don't block forever.
func (d *Driver) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	writes := d.pendingWrites
	d.pendingWrites = nil
	d.mu.Unlock()

	d.timer.Stop()
	d.stopListen()
	for _, w := range writes {
		w.Committed()
	}
}

