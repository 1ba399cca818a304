// Package database provides SQLite persistence for the Lattice compliance core.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DB represents a database handle with a bounded connection pool.
type DB struct {
	conn        *sql.DB
	pool        *Pool
	path        string
	poolSize    int
	acquireWait time.Duration
	busyTimeout time.Duration
}

// Option represents a functional option for configuring the database.
type Option func(*DB)

// WithPoolSize sets the number of pooled connections.
func WithPoolSize(n int) Option {
	return func(db *DB) {
		if n > 0 {
			db.poolSize = n
		}
	}
}

// WithAcquireTimeout sets how long an acquire waits before reporting exhaustion.
func WithAcquireTimeout(timeout time.Duration) Option {
	return func(db *DB) {
		db.acquireWait = timeout
	}
}

// WithBusyTimeout sets the busy timeout for SQLite.
func WithBusyTimeout(timeout time.Duration) Option {
	return func(db *DB) {
		db.busyTimeout = timeout
	}
}

// DefaultPoolSize returns the default pool sizing target.
func DefaultPoolSize() int {
	return runtime.NumCPU() * 2
}

// New creates a new database handle with automatic initialization.
func New(path string, opts ...Option) (*DB, error) {
	db := &DB{
		path:        path,
		poolSize:    DefaultPoolSize(),
		acquireWait: 5 * time.Second,
		busyTimeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(db)
	}

	var connStr string
	if strings.Contains(path, "?") {
		connStr = fmt.Sprintf("%s&_busy_timeout=%d", path, db.busyTimeout.Milliseconds())
	} else {
		connStr = fmt.Sprintf("%s?_busy_timeout=%d", path, db.busyTimeout.Milliseconds())
	}

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	conn.SetMaxOpenConns(db.poolSize)
	conn.SetMaxIdleConns(db.poolSize)
	conn.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 10000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("setting %s: %w", pragma, err)
		}
	}

	db.conn = conn
	db.pool = newPool(conn, db.poolSize, db.acquireWait)

	if err := db.Migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database and its pool.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Pool returns the connection pool for observability.
func (db *DB) Pool() *Pool {
	return db.pool
}

// ExecContext executes a statement on a pooled connection.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := db.pool.WithConn(ctx, func(conn *sql.Conn) error {
		var execErr error
		result, execErr = conn.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

// withConn runs fn on a pooled connection. Multi-row reads must consume
// their rows inside fn; the connection is reclaimed when fn returns.
func (db *DB) withConn(ctx context.Context, fn func(*sql.Conn) error) error {
	return db.pool.WithConn(ctx, fn)
}

// InTransaction executes a function within a database transaction on a
// pooled connection.
func (db *DB) InTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	return db.pool.WithConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}

		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rolling back transaction: %w (original error: %v)", rbErr, err)
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}

		return nil
	})
}

// NewMemoryDB creates an in-memory database for testing.
func NewMemoryDB() (*DB, error) {
	// Shared cache mode so every pooled connection sees the same
	// in-memory database.
	return New("file::memory:?cache=shared")
}
