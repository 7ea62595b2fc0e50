// Package sqlite provides a SQLite-backed cache storage, so caches survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashpect/cachefirst/pkg/cache"
	"github.com/ashpect/cachefirst/pkg/cache/sqlite/migrations"
)

const migrationTable = "schema_migrations"

// Store persists caches in SQLite. It implements cache.Storage.
type Store struct {
	sqlDB *sql.DB
}

var _ cache.Storage = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite cache store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// applyMigrations executes every embedded .sql file at most once.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`, migrationTable)
	if _, err := sqlDB.Exec(createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var applied int
		err := sqlDB.QueryRow(`SELECT COUNT(1) FROM `+migrationTable+` WHERE name = ?`, file).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied > 0 {
			continue
		}
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := sqlDB.BeginTx(context.Background(), nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`, file, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

func (s *Store) Open(ctx context.Context, name string) (cache.Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO caches (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, toMillis(time.Now()),
	); err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	var seq int64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT seq FROM caches WHERE name = ?`, name).Scan(&seq); err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	return &sqliteCache{store: s, seq: seq, name: name}, nil
}

func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	var seq int64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT seq FROM caches WHERE name = ?`, name).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup cache %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM caches ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan cache name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	return names, nil
}

func (s *Store) Match(ctx context.Context, req *http.Request, opts ...cache.MatchOption) (*cache.Response, bool, error) {
	return s.match(ctx, req, 0, cache.NewMatchOptions(opts...))
}

const entryColumns = `e.request_key, e.vary, e.status, e.status_text, e.header, e.body, e.url, e.cached_at`

// match finds the first entry for req, across every cache when cacheSeq is 0.
func (s *Store) match(ctx context.Context, req *http.Request, cacheSeq int64, o cache.MatchOptions) (*cache.Response, bool, error) {
	if !cache.Matchable(req) {
		return nil, false, nil
	}
	key := cache.RequestKey(req)
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+entryColumns+`
		   FROM cache_entries e
		   JOIN caches c ON c.seq = e.cache_seq
		  WHERE e.request_key = ? AND (? = 0 OR e.cache_seq = ?)
		  ORDER BY c.seq`,
		key, cacheSeq, cacheSeq,
	)
	if err != nil {
		return nil, false, fmt.Errorf("match %s: %w", key, err)
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, false, err
		}
		if entry.Matches(req, o) {
			return entry.Response, true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("match %s: %w", key, err)
	}
	return nil, false, nil
}

func scanEntry(rows *sql.Rows) (*cache.Entry, error) {
	var (
		entry             cache.Entry
		resp              cache.Response
		varyJSON, hdrJSON string
		cachedAt          int64
	)
	if err := rows.Scan(&entry.Key, &varyJSON, &resp.Status, &resp.StatusText, &hdrJSON, &resp.Body, &resp.URL, &cachedAt); err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	if err := json.Unmarshal([]byte(varyJSON), &entry.Vary); err != nil {
		return nil, fmt.Errorf("decode vary of %s: %w", entry.Key, err)
	}
	if err := json.Unmarshal([]byte(hdrJSON), &resp.Header); err != nil {
		return nil, fmt.Errorf("decode header of %s: %w", entry.Key, err)
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	if resp.Body == nil {
		resp.Body = []byte{}
	}
	resp.CachedAt = fromMillis(cachedAt)
	entry.Response = &resp
	return &entry, nil
}

type sqliteCache struct {
	store *Store
	seq   int64
	name  string
}

func (c *sqliteCache) Match(ctx context.Context, req *http.Request, opts ...cache.MatchOption) (*cache.Response, bool, error) {
	return c.store.match(ctx, req, c.seq, cache.NewMatchOptions(opts...))
}

func (c *sqliteCache) Put(ctx context.Context, req *http.Request, resp *cache.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cache.CheckCacheable(req); err != nil {
		return err
	}
	entry := cache.NewEntry(req, resp)
	varyJSON, err := json.Marshal(entry.Vary)
	if err != nil {
		return fmt.Errorf("encode vary: %w", err)
	}
	hdrJSON, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	cachedAt := resp.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now()
	}

	_, err = c.store.sqlDB.ExecContext(ctx,
		`INSERT INTO cache_entries (
		   cache_seq, request_key, vary, status, status_text, header, body, url, cached_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cache_seq, request_key) DO UPDATE SET
		   vary = excluded.vary,
		   status = excluded.status,
		   status_text = excluded.status_text,
		   header = excluded.header,
		   body = excluded.body,
		   url = excluded.url,
		   cached_at = excluded.cached_at`,
		c.seq, entry.Key, string(varyJSON), resp.Status, resp.StatusText, string(hdrJSON), body, resp.URL, toMillis(cachedAt),
	)
	if err != nil {
		return fmt.Errorf("put %s in %s: %w", entry.Key, c.name, err)
	}
	return nil
}

func (c *sqliteCache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.store.sqlDB.QueryContext(ctx,
		`SELECT request_key FROM cache_entries WHERE cache_seq = ? ORDER BY seq`, c.seq)
	if err != nil {
		return nil, fmt.Errorf("list entries of %s: %w", c.name, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan entry key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entries of %s: %w", c.name, err)
	}
	return keys, nil
}
