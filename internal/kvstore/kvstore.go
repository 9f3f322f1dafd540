// Package kvstore is the persistent key-value store shared by the
// annotation pipeline and external settings panels. Keys live in
// namespaces ("sync" for preferences, "local" for cached tier results);
// every write is stamped with a monotonically increasing version so
// subscribers can poll for changes incrementally, including changes made
// by other processes sharing the database file.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	ns      TEXT NOT NULL,
	key     TEXT NOT NULL,
	value   TEXT NOT NULL,
	version INTEGER NOT NULL,
	PRIMARY KEY (ns, key)
);
CREATE INDEX IF NOT EXISTS idx_kv_version ON kv(version);

CREATE TABLE IF NOT EXISTS kv_meta (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL
);
INSERT OR IGNORE INTO kv_meta (id, version) VALUES (1, 0);
`

// Options tunes the store.
type Options struct {
	// PollInterval is how often the subscription loop checks for new
	// versions. Default: 200ms.
	PollInterval time.Duration
	// BusyTimeout is PRAGMA busy_timeout in milliseconds. Default: 10000.
	BusyTimeout int
	// MkdirAll creates parent directories of the database path.
	MkdirAll bool
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 10_000
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Store is a namespaced KV store over a single SQLite database.
type Store struct {
	db     *sql.DB
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string][]func(Change)
}

// Change is one observed write, delivered to namespace subscribers.
type Change struct {
	Key   string
	Value []byte
}

// Open opens (creating if needed) the store at path with the production
// pragmas applied. Import a sqlite driver (modernc.org/sqlite) for side
// effects before calling.
func Open(path string, opts Options) (*Store, error) {
	opts.defaults()

	if opts.MkdirAll {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("kvstore: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("kvstore: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: apply schema: %w", err)
	}

	return &Store{
		db:     db,
		opts:   opts,
		logger: opts.Logger,
		subs:   make(map[string][]func(Change)),
	}, nil
}

// OpenMemory opens a throwaway store under t.TempDir with a fast poll
// interval, closed via t.Cleanup.
func OpenMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kv.db"), Options{PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("kvstore: open memory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Namespace returns a handle scoped to ns.
func (s *Store) Namespace(ns string) *Namespace {
	return &Namespace{store: s, ns: ns}
}

// Version returns the current global write version.
func (s *Store) Version(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM kv_meta WHERE id = 1`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("kvstore: read version: %w", err)
	}
	return v, nil
}

// Watch polls for writes beyond the version observed at call time and
// dispatches them to subscribers. Blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) {
	last, err := s.Version(ctx)
	seeded := err == nil
	if err != nil {
		s.logger.Warn("kvstore: initial version check failed", "error", err)
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Without a baseline version, dispatching would replay every
			// existing row as a change. Retry the seed read until it lands.
			if !seeded {
				v, err := s.Version(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.Warn("kvstore: version seed retry failed", "error", err)
					continue
				}
				last, seeded = v, true
				continue
			}
			next, err := s.dispatchSince(ctx, last)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("kvstore: change poll failed", "error", err)
				continue
			}
			last = next
		}
	}
}

func (s *Store) dispatchSince(ctx context.Context, last int64) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ns, key, value, version FROM kv
		WHERE version > ? ORDER BY version`, last)
	if err != nil {
		return last, err
	}
	defer rows.Close()

	type pending struct {
		ns string
		ch Change
	}
	var changes []pending
	for rows.Next() {
		var p pending
		var val string
		var version int64
		if err := rows.Scan(&p.ns, &p.ch.Key, &val, &version); err != nil {
			return last, err
		}
		p.ch.Value = []byte(val)
		changes = append(changes, p)
		if version > last {
			last = version
		}
	}
	if err := rows.Err(); err != nil {
		return last, err
	}

	for _, p := range changes {
		s.mu.Lock()
		handlers := make([]func(Change), len(s.subs[p.ns]))
		copy(handlers, s.subs[p.ns])
		s.mu.Unlock()
		for _, fn := range handlers {
			fn(p.ch)
		}
	}
	return last, nil
}

// Namespace scopes Get/Set/Delete/Subscribe to one namespace.
type Namespace struct {
	store *Store
	ns    string
}

// Get returns the value for key, ok=false when absent.
func (n *Namespace) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val string
	err := n.store.db.QueryRowContext(ctx, `
		SELECT value FROM kv WHERE ns = ? AND key = ?`, n.ns, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kvstore: get %s/%s: %w", n.ns, key, err)
	}
	return []byte(val), true, nil
}

// Set writes key=value, stamping the next global version.
func (n *Namespace) Set(ctx context.Context, key string, value []byte) error {
	tx, err := n.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kvstore: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE kv_meta SET version = version + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("kvstore: bump version: %w", err)
	}
	var version int64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM kv_meta WHERE id = 1`).Scan(&version); err != nil {
		return fmt.Errorf("kvstore: read version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kv (ns, key, value, version) VALUES (?,?,?,?)
		ON CONFLICT(ns, key) DO UPDATE SET value = excluded.value, version = excluded.version`,
		n.ns, key, string(value), version); err != nil {
		return fmt.Errorf("kvstore: set %s/%s: %w", n.ns, key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kvstore: commit: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (n *Namespace) Delete(ctx context.Context, key string) error {
	_, err := n.store.db.ExecContext(ctx, `DELETE FROM kv WHERE ns = ? AND key = ?`, n.ns, key)
	if err != nil {
		return fmt.Errorf("kvstore: delete %s/%s: %w", n.ns, key, err)
	}
	return nil
}

// Subscribe registers fn for writes in this namespace. Delivery starts once
// the store's Watch loop is running and covers only writes made after the
// loop observed its starting version.
func (n *Namespace) Subscribe(fn func(Change)) {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	n.store.subs[n.ns] = append(n.store.subs[n.ns], fn)
}
