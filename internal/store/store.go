// Package store wraps MongoDB access behind a narrow interface the
// polling driver and method handlers depend on, distinguishing permanent
// query errors from transient ones the way nodestorage's Storage does.
package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func durationMs(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

// ErrNotFound mirrors nodestorage's sentinel for a missing document.
var ErrNotFound = errors.New("document not found")

// FindOptions narrows a query the way the spec's cursor description does.
type FindOptions struct {
	Sort       bson.D
	Projection bson.D
	Limit      int64
	Skip       int64
	MaxTimeMs  int64
}

// Cursor iterates matching documents one at a time.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode() (map[string]any, error)
	Err() error
	Close(ctx context.Context) error
}

// Store is the document-store collaborator the polling driver and method
// handlers depend on.
type Store interface {
	Find(ctx context.Context, collection string, selector map[string]any, opts FindOptions) (Cursor, error)
	FindOne(ctx context.Context, collection string, id string) (map[string]any, error)
	InsertOne(ctx context.Context, collection string, doc map[string]any) error
	UpdateOne(ctx context.Context, collection string, id string, update map[string]any) error
	DeleteOne(ctx context.Context, collection string, id string) error
}

// QueryError is a permanent, coded query failure (a bad selector, an
// invalid sort spec) as opposed to a transient network blip. The polling
// driver signals this up to the multiplexer as queryError rather than
// retrying (spec §4.6 step 3).
type QueryError struct {
	Code    int32
	Message string
}

func (e *QueryError) Error() string { return e.Message }

// classify turns a raw Mongo error into either a *QueryError (permanent,
// coded) or the original error (treated as transient and retried).
func classify(err error) error {
	if err == nil {
		return nil
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return &QueryError{Code: cmdErr.Code, Message: cmdErr.Message}
	}
	return err
}

// Mongo is the Store implementation backing production deployments,
// grounded on nodestorage/v2's StorageImpl (storage_impl.go): a thin
// *mongo.Database wrapper, errors.Is(mongo.ErrNoDocuments) translated to
// ErrNotFound, and mongo.CommandError translated to a permanent QueryError.
type Mongo struct {
	db *mongo.Database
}

// NewMongo wraps an already-connected database handle.
func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{db: db}
}

func (m *Mongo) coll(name string) *mongo.Collection { return m.db.Collection(name) }

func (m *Mongo) Find(ctx context.Context, collection string, selector map[string]any, opts FindOptions) (Cursor, error) {
	findOpts := options.Find()
	if len(opts.Sort) > 0 {
		findOpts.SetSort(opts.Sort)
	}
	if len(opts.Projection) > 0 {
		findOpts.SetProjection(opts.Projection)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if opts.MaxTimeMs > 0 {
		findOpts.SetMaxTime(durationMs(opts.MaxTimeMs))
	}
	cur, err := m.coll(collection).Find(ctx, bson.M(selector), findOpts)
	if err != nil {
		return nil, classify(err)
	}
	return &mongoCursor{cur: cur}, nil
}

func (m *Mongo) FindOne(ctx context.Context, collection string, id string) (map[string]any, error) {
	var doc bson.M
	err := m.coll(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return map[string]any(doc), nil
}

func (m *Mongo) InsertOne(ctx context.Context, collection string, doc map[string]any) error {
	_, err := m.coll(collection).InsertOne(ctx, bson.M(doc))
	return classify(err)
}

func (m *Mongo) UpdateOne(ctx context.Context, collection string, id string, update map[string]any) error {
	res, err := m.coll(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M(update))
	if err != nil {
		return classify(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) DeleteOne(ctx context.Context, collection string, id string) error {
	res, err := m.coll(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return classify(err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type mongoCursor struct {
	cur *mongo.Cursor
}

func (c *mongoCursor) Next(ctx context.Context) bool { return c.cur.Next(ctx) }

func (c *mongoCursor) Decode() (map[string]any, error) {
	var doc bson.M
	if err := c.cur.Decode(&doc); err != nil {
		return nil, err
	}
	return map[string]any(doc), nil
}

func (c *mongoCursor) Err() error { return c.cur.Err() }

func (c *mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
