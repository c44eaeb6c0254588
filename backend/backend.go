// Package backend provides the key-value storage engines that benchmark
// workloads run against. Every engine satisfies the same Backend interface,
// so a workload can only tell them apart by behavior.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/weiihann/kvbench/stream"
)

// Kind selects a storage engine.
type Kind string

const (
	// KindPebble is the default disk-backed engine (LSM tree).
	KindPebble Kind = "pebble"
	// KindBolt is a disk-backed B+tree engine.
	KindBolt Kind = "bolt"
	// KindSQLite is a disk-backed SQL engine used as a key-value table.
	KindSQLite Kind = "sqlite"
	// KindMemory keeps everything in process memory.
	KindMemory Kind = "memory"
)

// Kinds returns every supported engine, default first.
func Kinds() []Kind {
	return []Kind{KindPebble, KindBolt, KindSQLite, KindMemory}
}

// DefaultKind is used when no engine was selected.
func DefaultKind() Kind {
	return KindPebble
}

// ParseKind resolves a selector. The empty string selects DefaultKind;
// any other value must name a known engine.
func ParseKind(s string) (Kind, bool) {
	if s == "" {
		return DefaultKind(), true
	}

	k := Kind(s)

	return k, k.Valid()
}

// Valid reports whether k names a known engine.
func (k Kind) Valid() bool {
	switch k {
	case KindPebble, KindBolt, KindSQLite, KindMemory:
		return true
	default:
		return false
	}
}

// OnDisk reports whether the engine needs a directory.
func (k Kind) OnDisk() bool {
	return k.Valid() && k != KindMemory
}

// Common errors for engine operations.
var (
	ErrNotFound = errors.New("key not found")
	ErrClosed   = errors.New("backend is not open")
	ErrEmptyKey = errors.New("empty key")
)

// KV is a single key-value pair.
type KV struct {
	Key   []byte
	Value []byte
}

// Backend is the set of operations a workload may use on an engine.
type Backend interface {
	// Kind reports which engine this is.
	Kind() Kind

	// Open makes the engine ready for use. Opening an open engine is a no-op.
	Open(ctx context.Context) error

	// Close releases the engine. In-flight scans are stopped first.
	// Closing a closed engine is a no-op.
	Close() error

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key, value []byte) error

	// Get returns a copy of the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key []byte) error

	// PutBatch stores all pairs atomically.
	PutBatch(ctx context.Context, kvs []KV) error

	// Scan streams every pair whose key starts with prefix, in ascending
	// byte order of keys.
	Scan(ctx context.Context, prefix []byte) stream.Source[KV]

	// Count returns the number of stored keys.
	Count(ctx context.Context) (int, error)
}

// New constructs an unopened engine of the given kind bound to dir.
// dir is ignored for KindMemory.
func New(kind Kind, dir string) (Backend, error) {
	switch kind {
	case KindPebble:
		return NewPebble(dir), nil
	case KindBolt:
		return NewBolt(dir), nil
	case KindSQLite:
		return NewSQLite(dir), nil
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

func checkKey(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	return nil
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)

	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}

	return nil
}
