package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store backed by a single-table SQLite database.
// The ttl column holds the absolute unix expiration timestamp, so a reader
// needs nothing beyond one clock comparison to decide liveness.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the cache database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS cache_entries (
		cache_key  TEXT PRIMARY KEY,
		cache_data TEXT NOT NULL,
		ttl        INTEGER NOT NULL
	)`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the live value for key. Rows at or past their expiration are
// treated as absent and reaped on the way out.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cache_data, ttl FROM cache_entries WHERE cache_key = ?`, key,
	).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if s.now().Unix() >= expires {
		// Lazy expiration: the row is already dead, delete it opportunistically.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
		return "", false, nil
	}
	return value, true, nil
}

// Put stores value under key with an absolute expiration of now + ttl,
// replacing any existing row.
func (s *SQLiteStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache: ttl must be positive, got %v", ttl)
	}
	expires := s.now().Add(ttl).Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (cache_key, cache_data, ttl) VALUES (?, ?, ?)`,
		key, value, expires)
	return err
}

// Delete removes key if present.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
	return err
}
