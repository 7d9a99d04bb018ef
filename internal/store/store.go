// Package store implements the SQLite-backed persistence layer: schema
// migrations and typed row access for sessions, observations, summaries,
// prompts, the pending-message queue, and plan associations.
//
// Concurrency model: one *sql.DB with a single connection serialises all
// writes; WAL mode plus a busy timeout keep concurrent readers unblocked.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Store wraps a sql.DB connection to the SQLite database.
type Store struct {
	conn *sql.DB
}

// Open creates a new Store connection and runs all pending migrations.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single logical writer: serialises all statements through one
	// connection so migrations, writes, and the N+1 pagination probes
	// never interleave mid-transaction.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	migrationsFS, err := fs.Sub(MigrationFS, "migrations")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations sub-fs: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, migrationsFS)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create migration provider: %w", err)
	}

	if _, err := provider.Up(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{conn: conn}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn returns the underlying *sql.DB for components that need to run
// their own statements (e.g. internal/queue shares this connection).
func (s *Store) Conn() *sql.DB {
	return s.conn
}
