package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable cache tier, one row per key with its TTL.
// Expired rows are deleted on read and by the background sweep.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the cache database under dir.
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "cache.db"))
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		ttl        INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Get returns the stored value, or false on miss. Expired rows are deleted
// during the read.
func (s *SQLiteStore) Get(key string) ([]byte, bool) {
	var value []byte
	var createdAt, ttl int64
	err := s.db.QueryRow(
		`SELECT value, created_at, ttl FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &createdAt, &ttl)
	if err != nil {
		return nil, false
	}
	if s.now().Unix() > createdAt+ttl {
		s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, false
	}
	return value, true
}

// Set upserts a value with its TTL in seconds.
func (s *SQLiteStore) Set(key string, value []byte, ttl time.Duration) error {
	_, err := s.db.Exec(
		`INSERT INTO cache_entries (key, value, created_at, ttl) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			created_at = excluded.created_at, ttl = excluded.ttl`,
		key, value, s.now().Unix(), int64(ttl.Seconds()),
	)
	return err
}

// Delete removes a key.
func (s *SQLiteStore) Delete(key string) {
	s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
}

// SweepExpired deletes all expired rows and returns how many were removed.
func (s *SQLiteStore) SweepExpired() int {
	res, err := s.db.Exec(
		`DELETE FROM cache_entries WHERE created_at + ttl < ?`, s.now().Unix())
	if err != nil {
		return 0
	}
	n, _ := res.RowsAffected()
	return int(n)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
