// Package graphstore is the only component that speaks to the property
// graph (spec §4.3). It is built from the teacher's
// internal/persistence.Store: database/sql over a single-writer WAL-mode
// SQLite file, a retry-on-busy helper for transient lock errors, and an
// explicit allow-listed state-transition table in place of the teacher's
// TaskStatus machine (this package's Task vocabulary is the spec's own:
// pending/in_progress/completed/failed, not the teacher's
// queued/claimed/running/...).
//
// The property graph shape of spec §3 (nodes, typed relationships) is
// expressed here as ordinary relational tables with foreign keys; the
// public API speaks in the graph's vocabulary (ClaimTask, MergeInto,
// HAS_KEY) so callers never see the tables underneath.
package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/go-claw/internal/bus"
)

// Store is a handle on the embedded graph database. It is safe for
// concurrent use; SQLite's single-writer discipline is enforced by
// capping the connection pool at one connection, matching the teacher's
// persistence.Store.
type Store struct {
	db  *sql.DB
	bus *bus.Bus

	journalMu sync.Mutex
	journal   *journal
	degraded  bool
	fails     []time.Time // recent failure timestamps, for the 5-in-60s trip
	probeStop chan struct{}
	probeDone chan struct{}
}

// DefaultDBPath returns the conventional graph database location under a
// heartbeat master home directory.
func DefaultDBPath(homeDir string) string {
	return filepath.Join(homeDir, "graph.db")
}

// Open creates or opens the graph database at path, configures pragmas,
// runs migrations, and seeds the six fixed agents (spec §3: "seeded at
// schema migration time; never deleted").
func Open(ctx context.Context, path string, eventBus *bus.Bus) (*Store, error) {
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create graph db directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open graph db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, bus: eventBus, journal: newJournal()}
	if err := s.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.seedAgents(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying *sql.DB, matching the teacher's
// persistence.Store.DB accessor — used by admin tooling and tests that
// need to inspect rows the typed API has no getter for.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the underlying database handle and stops the degraded
// mode probe goroutine, if running.
func (s *Store) Close() error {
	s.stopProbe()
	return s.db.Close()
}

// Ping reports whether the graph database is reachable, for the
// /health/graph endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

// retryOnBusy retries f with bounded exponential backoff and jitter on a
// transient SQLite BUSY/LOCKED error, matching the teacher's
// persistence.retryOnBusy.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay/2) + 1))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}
