// Package store provides SQLite persistence for waitwiki.
//
// The engine persists a handful of opaque JSON blobs (cache snapshot,
// counters, failure ledger) under fixed keys, so the schema is a single
// key/value table.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/abelbrown/waitwiki/internal/model"
)

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex // Protects all database operations
}

// Open creates a new Store with the given database path.
// Creates the parent directory and tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Shared cache so every pooled connection sees the same database.
		connStr = "file::memory:?cache=shared"
	} else if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Thread-safe: acquires write lock to prevent closing during in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Get returns the values stored under keys. Missing keys are absent from
// the result rather than mapped to nil.
// Thread-safe: acquires read lock.
func (s *Store) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args, err := sq.Select("key", "value").
		From("kv").
		Where(sq.Eq{"key": keys}).
		ToSql()
	if err != nil {
		return nil, model.PersistenceUnavailable("get", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.PersistenceUnavailable("get", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, model.PersistenceUnavailable("get", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, model.PersistenceUnavailable("get", err)
	}
	return out, nil
}

// Set upserts every pair in one transaction.
// Thread-safe: acquires write lock.
func (s *Store) Set(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.PersistenceUnavailable("set", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	ins := sq.Insert("kv").Columns("key", "value", "updated_at")
	for _, k := range sortedKeys(values) {
		ins = ins.Values(k, values[k], now)
	}
	query, args, err := ins.
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return model.PersistenceUnavailable("set", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return model.PersistenceUnavailable("set", err)
	}
	if err := tx.Commit(); err != nil {
		return model.PersistenceUnavailable("set", err)
	}
	return nil
}

// Delete removes keys. Missing keys are ignored.
// Thread-safe: acquires write lock.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query, args, err := sq.Delete("kv").Where(sq.Eq{"key": keys}).ToSql()
	if err != nil {
		return model.PersistenceUnavailable("delete", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return model.PersistenceUnavailable("delete", err)
	}
	return nil
}

// Keys lists every stored key with its last write time, oldest first.
// Thread-safe: acquires read lock.
func (s *Store) Keys(ctx context.Context) ([]KeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args, err := sq.Select("key", "length(value)", "updated_at").
		From("kv").
		OrderBy("updated_at ASC", "key ASC").
		ToSql()
	if err != nil {
		return nil, model.PersistenceUnavailable("keys", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.PersistenceUnavailable("keys", err)
	}
	defer rows.Close()

	var out []KeyInfo
	for rows.Next() {
		var ki KeyInfo
		if err := rows.Scan(&ki.Key, &ki.Size, &ki.Updated); err != nil {
			return nil, model.PersistenceUnavailable("keys", err)
		}
		out = append(out, ki)
	}
	if err := rows.Err(); err != nil {
		return nil, model.PersistenceUnavailable("keys", err)
	}
	return out, nil
}

// KeyInfo describes one stored value.
type KeyInfo struct {
	Key     string    `json:"key"`
	Size    int       `json:"size"`
	Updated time.Time `json:"updated"`
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
