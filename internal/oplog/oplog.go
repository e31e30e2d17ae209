// Package oplog tails MongoDB change streams to push invalidation
// notifications onto the crossbar the instant a write commits, rather than
// waiting for a polling driver's next scheduled poll. Grounded on
// nodestorage/v2's StorageImpl.startWatching/broadcastEvent, adapted from a
// per-collection subscriber fan-out into a crossbar Fire call per change.
package oplog

import (
	"context"
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"livedata/internal/corelog"
	"livedata/internal/crossbar"
)

// Tailer watches one or more collections' change streams and fires a
// crossbar notification for every insert/update/replace/delete.
type Tailer struct {
	db  *mongo.Database
	bar *crossbar.Crossbar

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	watched map[string]func()
}

// NewTailer returns a Tailer bound to db, firing notifications onto bar.
func NewTailer(db *mongo.Database, bar *crossbar.Crossbar) *Tailer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tailer{db: db, bar: bar, ctx: ctx, cancel: cancel, watched: make(map[string]func())}
}

// Watch starts tailing collection's change stream. Calling Watch twice for
// the same collection is a no-op.
func (t *Tailer) Watch(collection string) error {
	t.mu.Lock()
	if _, ok := t.watched[collection]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace", "delete"}}}},
		}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := t.db.Collection(collection).Watch(t.ctx, pipeline, opts)
	if err != nil {
		return err
	}

	streamCtx, stop := context.WithCancel(t.ctx)
	t.mu.Lock()
	t.watched[collection] = stop
	t.mu.Unlock()

	go t.consume(streamCtx, collection, stream)
	return nil
}

func (t *Tailer) consume(ctx context.Context, collection string, stream *mongo.ChangeStream) {
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var raw bson.M
		if err := stream.Decode(&raw); err != nil {
			corelog.Error("failed to decode change stream event", zap.Error(err), zap.String("collection", collection))
			continue
		}
		id := documentID(raw)
		if id == "" {
			continue
		}
		t.bar.Fire(crossbar.Notification{"collection": collection, "id": id})
	}

	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		corelog.Error("change stream error", zap.Error(err), zap.String("collection", collection))
	}
}

func documentID(raw bson.M) string {
	docKey, ok := raw["documentKey"].(bson.M)
	if !ok {
		return ""
	}
	switch id := docKey["_id"].(type) {
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	default:
		return ""
	}
}

// StopWatch stops tailing collection, if it was being watched.
func (t *Tailer) StopWatch(collection string) {
	t.mu.Lock()
	stop, ok := t.watched[collection]
	delete(t.watched, collection)
	t.mu.Unlock()
	if ok {
		stop()
	}
}

// Stop tears down every change stream this tailer started.
func (t *Tailer) Stop() {
	t.cancel()
}
