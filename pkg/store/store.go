// Package store is the embedded relational store for the assistant: a
// single-file SQLite database (via the pure-Go modernc.org/sqlite driver,
// so the binary stays CGo-free) accessed through the goqu query builder,
// with schema managed by a small embedded migration runner instead of an
// external tool.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection and a goqu query builder bound to it.
type Store struct {
	db  *sql.DB
	g   *goqu.Database
	log *slog.Logger
}

// Options configures how the store opens its underlying database file.
type Options struct {
	Path        string
	BusyTimeout time.Duration
	CacheSizeKB int
}

// Open opens (creating if absent) the SQLite database at opts.Path,
// applies pending migrations, and returns a ready Store.
func Open(ctx context.Context, opts Options, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		opts.Path, opts.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers internally; a single connection avoids
	// SQLITE_BUSY races between the goroutines that share this Store.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if opts.CacheSizeKB > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA cache_size = -%d", opts.CacheSizeKB)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set cache_size: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}

	if err := runMigrations(db, log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{
		db:  db,
		g:   goqu.New("sqlite3", db),
		log: log.With("component", "store"),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw *sql.DB for health checks and FTS queries that fall
// outside what goqu expresses cleanly.
func (s *Store) DB() *sql.DB {
	return s.db
}
