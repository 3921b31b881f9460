// Package sqlite implements the repository interfaces on SQLite.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary needs
// no C toolchain. The schema lives in migrations/*.sql, embedded into the
// binary and applied by golang-migrate on startup.
//
// SINGLE CONNECTION:
// SQLite allows one writer at a time. The pool is capped at one connection,
// which also serialises quota transactions: a second Admit for the same key
// waits for the first to commit instead of failing with SQLITE_BUSY. It also
// keeps ":memory:" databases coherent, since every new connection to
// ":memory:" would otherwise open a separate, empty database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the sql.DB pool and hands out the per-table stores.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and migrates it to the
// latest schema.
//
// dbPath examples:
//   - "data/reviewer.db" → file-based database (persistent)
//   - ":memory:"         → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	// busy_timeout covers a second process opening the same file.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable. Used by GET /healthz.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Users returns the Credential Store backed by this database.
func (db *DB) Users() *UserStore {
	return &UserStore{conn: db.conn}
}

// Quotas returns the quota counter store backed by this database.
func (db *DB) Quotas() *QuotaStore {
	return &QuotaStore{conn: db.conn}
}

// migrate applies every pending migration in migrations/.
//
// Only the source driver is closed afterwards: closing the migrate instance
// would also close the shared *sql.DB.
func (db *DB) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	defer source.Close()

	driver, err := migratesqlite.WithInstance(db.conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
