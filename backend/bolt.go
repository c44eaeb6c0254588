package backend

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/weiihann/kvbench/stream"
)

var boltBucket = []byte("kv")

// Bolt is a single-file B+tree engine storing every pair in one bucket.
type Bolt struct {
	path string

	mu    sync.RWMutex
	db    *bbolt.DB
	scans scanner
}

// NewBolt returns an engine whose database file lives in dir.
func NewBolt(dir string) *Bolt {
	return &Bolt{path: filepath.Join(dir, "kv.db")}
}

// Kind implements Backend.
func (b *Bolt) Kind() Kind {
	return KindBolt
}

// Open implements Backend. Opening an open engine is a no-op that does not
// wait for in-flight scans.
func (b *Bolt) Open(_ context.Context) error {
	b.mu.RLock()
	open := b.db != nil
	b.mu.RUnlock()

	if open {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return nil
	}

	db, err := bbolt.Open(b.path, 0o600, &bbolt.Options{
		Timeout: time.Second,
		NoSync:  true,
	})
	if err != nil {
		return fmt.Errorf("open bolt %s: %w", b.path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("create bolt bucket: %w", err)
	}

	b.db = db

	return nil
}

// Close implements Backend.
func (b *Bolt) Close() error {
	b.scans.stopAll()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}

	err := b.db.Close()
	b.db = nil

	if err != nil {
		return fmt.Errorf("close bolt: %w", err)
	}

	return nil
}

// Put implements Backend.
func (b *Bolt) Put(_ context.Context, key, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return ErrClosed
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, value)
	})
}

// Get implements Backend.
func (b *Bolt) Get(_ context.Context, key []byte) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, ErrClosed
	}

	var value []byte

	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(boltBucket).Get(key)
		if v == nil {
			return ErrNotFound
		}

		// Bolt values are only valid for the life of the transaction.
		value = bytes.Clone(v)

		return nil
	})

	return value, err
}

// Delete implements Backend.
func (b *Bolt) Delete(_ context.Context, key []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return ErrClosed
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
}

// PutBatch implements Backend.
func (b *Bolt) PutBatch(_ context.Context, kvs []KV) error {
	for _, kv := range kvs {
		if err := checkKey(kv.Key); err != nil {
			return err
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return ErrClosed
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for _, kv := range kvs {
			if err := bucket.Put(kv.Key, kv.Value); err != nil {
				return err
			}
		}

		return nil
	})
}

// Scan implements Backend. The scan holds a read transaction until it is
// drained or stopped.
func (b *Bolt) Scan(ctx context.Context, prefix []byte) stream.Source[KV] {
	b.mu.RLock()
	open := b.db != nil
	b.mu.RUnlock()

	if !open {
		return failedScan(ErrClosed)
	}

	return b.scans.start(ctx,
		func(_ context.Context, send func(KV) error) error {
			b.mu.RLock()
			defer b.mu.RUnlock()

			if b.db == nil {
				return ErrClosed
			}

			return b.db.View(func(tx *bbolt.Tx) error {
				c := tx.Bucket(boltBucket).Cursor()

				for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
					kv := KV{Key: bytes.Clone(k), Value: bytes.Clone(v)}
					if err := send(kv); err != nil {
						return err
					}
				}

				return nil
			})
		})
}

// Count implements Backend.
func (b *Bolt) Count(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return 0, ErrClosed
	}

	var n int

	err := b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(boltBucket).Stats().KeyN
		return nil
	})

	return n, err
}
