package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Badger implements Cache with an embedded BadgerDB store, grounded on
// nodestorage/v2/cache.BadgerCache, for a single-process deployment that
// wants a cache to survive process restarts without a Redis dependency.
type Badger[T any] struct {
	db      *badger.DB
	opts    *Options
	closeCh chan struct{}
}

// NewBadger opens (or creates) the BadgerDB store rooted at dbPath.
func NewBadger[T any](dbPath string, opts *Options) (*Badger[T], error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	bopts := badger.DefaultOptions(dbPath)
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	c := &Badger[T]{db: db, opts: opts, closeCh: make(chan struct{})}
	go c.runGC()
	return c, nil
}

func (c *Badger[T]) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		again:
			if err := c.db.RunValueLogGC(0.5); err == nil {
				goto again
			}
		case <-c.closeCh:
			return
		}
	}
}

func (c *Badger[T]) Get(ctx context.Context, key string) (T, error) {
	var result T
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return result, ErrCacheMiss
		}
		return result, fmt.Errorf("failed to get from badger: %w", err)
	}
	return result, nil
}

func (c *Badger[T]) Set(ctx context.Context, key string, data T, ttl time.Duration) error {
	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to set in badger: %w", err)
	}
	return nil
}

func (c *Badger[T]) Delete(ctx context.Context, key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete from badger: %w", err)
	}
	return nil
}

func (c *Badger[T]) Clear(ctx context.Context) error {
	return c.db.DropAll()
}

func (c *Badger[T]) Close() error {
	close(c.closeCh)
	return c.db.Close()
}
