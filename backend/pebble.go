package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/weiihann/kvbench/stream"
)

// Pebble is an LSM engine. With an in-memory filesystem it doubles as the
// memory engine.
type Pebble struct {
	kind Kind
	dir  string
	fs   vfs.FS

	mu    sync.RWMutex
	db    *pebble.DB
	scans scanner
}

// NewPebble returns a disk-backed engine rooted at dir.
func NewPebble(dir string) *Pebble {
	return &Pebble{kind: KindPebble, dir: dir}
}

// NewMemory returns an engine that never touches the disk. Data survives a
// Close/Open cycle for the lifetime of the value.
func NewMemory() *Pebble {
	return &Pebble{kind: KindMemory, dir: "kvbench", fs: vfs.NewMem()}
}

// Kind implements Backend.
func (p *Pebble) Kind() Kind {
	return p.kind
}

// Open implements Backend. Opening an open engine is a no-op that does not
// wait for in-flight scans.
func (p *Pebble) Open(_ context.Context) error {
	p.mu.RLock()
	open := p.db != nil
	p.mu.RUnlock()

	if open {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return nil
	}

	opts := &pebble.Options{}
	if p.fs != nil {
		opts.FS = p.fs
	}

	db, err := pebble.Open(p.dir, opts)
	if err != nil {
		return fmt.Errorf("open pebble %s: %w", p.dir, err)
	}

	p.db = db

	return nil
}

// Close implements Backend.
func (p *Pebble) Close() error {
	p.scans.stopAll()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}

	err := p.db.Close()
	p.db = nil

	if err != nil {
		return fmt.Errorf("close pebble: %w", err)
	}

	return nil
}

// Put implements Backend.
func (p *Pebble) Put(_ context.Context, key, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return ErrClosed
	}

	return p.db.Set(key, value, pebble.NoSync)
}

// Get implements Backend.
func (p *Pebble) Get(_ context.Context, key []byte) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return nil, ErrClosed
	}

	value, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return bytes.Clone(value), nil
}

// Delete implements Backend.
func (p *Pebble) Delete(_ context.Context, key []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return ErrClosed
	}

	return p.db.Delete(key, pebble.NoSync)
}

// PutBatch implements Backend.
func (p *Pebble) PutBatch(_ context.Context, kvs []KV) error {
	for _, kv := range kvs {
		if err := checkKey(kv.Key); err != nil {
			return err
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return ErrClosed
	}

	batch := p.db.NewBatch()
	defer batch.Close()

	for _, kv := range kvs {
		if err := batch.Set(kv.Key, kv.Value, nil); err != nil {
			return fmt.Errorf("batch set: %w", err)
		}
	}

	return batch.Commit(pebble.NoSync)
}

// Scan implements Backend.
func (p *Pebble) Scan(ctx context.Context, prefix []byte) stream.Source[KV] {
	p.mu.RLock()
	open := p.db != nil
	p.mu.RUnlock()

	if !open {
		return failedScan(ErrClosed)
	}

	return p.scans.start(ctx,
		func(_ context.Context, send func(KV) error) error {
			p.mu.RLock()
			defer p.mu.RUnlock()

			if p.db == nil {
				return ErrClosed
			}

			iter, err := p.db.NewIter(&pebble.IterOptions{
				LowerBound: prefix,
				UpperBound: prefixEnd(prefix),
			})
			if err != nil {
				return fmt.Errorf("pebble iterator: %w", err)
			}

			for iter.First(); iter.Valid(); iter.Next() {
				kv := KV{
					Key:   bytes.Clone(iter.Key()),
					Value: bytes.Clone(iter.Value()),
				}
				if err := send(kv); err != nil {
					iter.Close()
					return err
				}
			}

			if err := iter.Error(); err != nil {
				iter.Close()
				return err
			}

			return iter.Close()
		})
}

// Count implements Backend.
func (p *Pebble) Count(_ context.Context) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return 0, ErrClosed
	}

	iter, err := p.db.NewIter(nil)
	if err != nil {
		return 0, fmt.Errorf("pebble iterator: %w", err)
	}

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}

	if err := iter.Error(); err != nil {
		iter.Close()
		return 0, err
	}

	return n, iter.Close()
}
