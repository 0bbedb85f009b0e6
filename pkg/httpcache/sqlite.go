package httpcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultFilename is the SQLite database name inside the cache root.
const DefaultFilename = "http_cache.sqlite"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS responses (
    cache_key TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    status_code INTEGER NOT NULL,
    entry_json BLOB NOT NULL,
    cached_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS responses_expires_at ON responses (expires_at);
CREATE TABLE IF NOT EXISTS redirects (
    from_key TEXT PRIMARY KEY,
    to_key TEXT NOT NULL
);
`

// SQLiteStore is a Store backed by a single SQLite file.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLite opens (creating if needed) the SQLite cache database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get loads an entry by key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	if s == nil || s.sqlDB == nil {
		return nil, false, ErrStoreClosed
	}

	var raw []byte
	row := s.sqlDB.QueryRowContext(ctx, `SELECT entry_json FROM responses WHERE cache_key = ?`, key)
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, true, nil
}

// Put upserts an entry by key.
func (s *SQLiteStore) Put(ctx context.Context, key string, entry *Entry) error {
	if s == nil || s.sqlDB == nil {
		return ErrStoreClosed
	}
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO responses (cache_key, url, status_code, entry_json, cached_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
		    url = excluded.url,
		    status_code = excluded.status_code,
		    entry_json = excluded.entry_json,
		    cached_at = excluded.cached_at,
		    expires_at = excluded.expires_at`,
		key,
		entry.URL,
		entry.StatusCode,
		raw,
		toMillis(entry.CachedAt),
		toMillis(entry.Expires),
	)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// Delete removes an entry and any redirect pointing at it.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.sqlDB == nil {
		return ErrStoreClosed
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM responses WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM redirects WHERE to_key = ?`, key); err != nil {
		return fmt.Errorf("delete redirects: %w", err)
	}
	return nil
}

// PutRedirect records an alias from one key to another.
func (s *SQLiteStore) PutRedirect(ctx context.Context, from, to string) error {
	if s == nil || s.sqlDB == nil {
		return ErrStoreClosed
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO redirects (from_key, to_key) VALUES (?, ?)
		 ON CONFLICT(from_key) DO UPDATE SET to_key = excluded.to_key`,
		from, to,
	)
	if err != nil {
		return fmt.Errorf("put redirect: %w", err)
	}
	return nil
}

// Redirect resolves an alias.
func (s *SQLiteStore) Redirect(ctx context.Context, from string) (string, bool, error) {
	if s == nil || s.sqlDB == nil {
		return "", false, ErrStoreClosed
	}
	var to string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT to_key FROM redirects WHERE from_key = ?`, from).Scan(&to)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get redirect: %w", err)
	}
	return to, true, nil
}

// Clear removes all responses and redirects.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return ErrStoreClosed
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	for _, table := range []string{"responses", "redirects"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}

// Counts returns the number of stored responses and redirects.
func (s *SQLiteStore) Counts(ctx context.Context) (int, int, error) {
	if s == nil || s.sqlDB == nil {
		return 0, 0, ErrStoreClosed
	}
	var responses, redirects int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM responses), (SELECT COUNT(*) FROM redirects)`,
	).Scan(&responses, &redirects)
	if err != nil {
		return 0, 0, fmt.Errorf("count cache entries: %w", err)
	}
	return responses, redirects, nil
}

// DeleteExpiredBefore removes responses whose retention ended before cutoff.
func (s *SQLiteStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.sqlDB == nil {
		return 0, ErrStoreClosed
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM responses WHERE expires_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete expired entries: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM redirects WHERE to_key NOT IN (SELECT cache_key FROM responses)`); err != nil {
		return n, fmt.Errorf("delete dangling redirects: %w", err)
	}
	return n, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}
