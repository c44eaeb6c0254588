package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	// Pure Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/weiihann/kvbench/stream"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	k BLOB PRIMARY KEY,
	v BLOB NOT NULL
) WITHOUT ROWID`

// SQLite stores pairs in a single WITHOUT ROWID table. Keys compare as
// BLOBs (memcmp), which gives the same ordering as the other engines.
type SQLite struct {
	path string

	mu     sync.RWMutex
	db     *sql.DB
	insert *sql.Stmt
	scans  scanner
}

// NewSQLite returns an engine whose database file lives in dir.
func NewSQLite(dir string) *SQLite {
	return &SQLite{path: filepath.Join(dir, "kv.sqlite")}
}

// Kind implements Backend.
func (s *SQLite) Kind() Kind {
	return KindSQLite
}

// Open implements Backend. Opening an open engine is a no-op that does not
// wait for in-flight scans.
func (s *SQLite) Open(ctx context.Context) error {
	s.mu.RLock()
	open := s.db != nil
	s.mu.RUnlock()

	if open {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	dsn := s.path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", s.path, err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("create sqlite schema: %w", err)
	}

	insert, err := db.PrepareContext(ctx,
		"INSERT OR REPLACE INTO kv (k, v) VALUES (?, ?)")
	if err != nil {
		db.Close()
		return fmt.Errorf("prepare insert: %w", err)
	}

	s.db = db
	s.insert = insert

	return nil
}

// Close implements Backend.
func (s *SQLite) Close() error {
	s.scans.stopAll()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	err := errors.Join(s.insert.Close(), s.db.Close())
	s.db = nil
	s.insert = nil

	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}

	return nil
}

// Put implements Backend.
func (s *SQLite) Put(ctx context.Context, key, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return ErrClosed
	}

	_, err := s.insert.ExecContext(ctx, key, nonNil(value))

	return err
}

// Get implements Backend.
func (s *SQLite) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrClosed
	}

	var value []byte

	err := s.db.QueryRowContext(ctx,
		"SELECT v FROM kv WHERE k = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	return value, err
}

// Delete implements Backend.
func (s *SQLite) Delete(ctx context.Context, key []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE k = ?", key)

	return err
}

// PutBatch implements Backend.
func (s *SQLite) PutBatch(ctx context.Context, kvs []KV) error {
	for _, kv := range kvs {
		if err := checkKey(kv.Key); err != nil {
			return err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}

	stmt := tx.StmtContext(ctx, s.insert)

	for _, kv := range kvs {
		if _, err := stmt.ExecContext(ctx, kv.Key, nonNil(kv.Value)); err != nil {
			tx.Rollback()
			return fmt.Errorf("batch insert: %w", err)
		}
	}

	return tx.Commit()
}

// Scan implements Backend.
func (s *SQLite) Scan(ctx context.Context, prefix []byte) stream.Source[KV] {
	s.mu.RLock()
	open := s.db != nil
	s.mu.RUnlock()

	if !open {
		return failedScan(ErrClosed)
	}

	return s.scans.start(ctx,
		func(ctx context.Context, send func(KV) error) error {
			s.mu.RLock()
			defer s.mu.RUnlock()

			if s.db == nil {
				return ErrClosed
			}

			query, args := scanQuery(prefix)

			rows, err := s.db.QueryContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("sqlite scan: %w", err)
			}
			defer rows.Close()

			for rows.Next() {
				var kv KV
				if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
					return err
				}

				if err := send(kv); err != nil {
					return err
				}
			}

			return rows.Err()
		})
}

// Count implements Backend.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return 0, ErrClosed
	}

	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv").Scan(&n)

	return n, err
}

func scanQuery(prefix []byte) (string, []any) {
	if len(prefix) == 0 {
		return "SELECT k, v FROM kv ORDER BY k", nil
	}

	end := prefixEnd(prefix)
	if end == nil {
		return "SELECT k, v FROM kv WHERE k >= ? ORDER BY k", []any{prefix}
	}

	return "SELECT k, v FROM kv WHERE k >= ? AND k < ? ORDER BY k",
		[]any{prefix, end}
}

// nonNil keeps empty values from being stored as NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}

	return b
}
