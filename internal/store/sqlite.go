// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/key/request persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// The containing directory must already exist and be writable; the
// deployment owns its creation. A missing or read-only directory yields
// ErrStorageUnavailable.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := checkDataDir(filepath.Dir(path)); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Pragmas apply per connection, so keep the pool at one connection
	// to make them hold for every query. The store serializes access
	// anyway.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Full sync so acknowledged writes survive power loss
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting synchronous mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// checkDataDir verifies the data directory exists and is writable
func checkDataDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: data directory %s: %v", ErrStorageUnavailable, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrStorageUnavailable, dir)
	}

	probe, err := os.CreateTemp(dir, ".write-probe-*")
	if err != nil {
		return fmt.Errorf("%w: data directory %s is not writable: %v", ErrStorageUnavailable, dir, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS users (
			id            INTEGER PRIMARY KEY,
			username      TEXT NOT NULL DEFAULT '',
			first_name    TEXT NOT NULL DEFAULT '',
			blocked_until TEXT,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_keys (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    INTEGER NOT NULL,
			email      TEXT NOT NULL,
			inbound_id INTEGER NOT NULL,
			comment    TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id),
			UNIQUE (user_id, email)
		);

		CREATE INDEX IF NOT EXISTS idx_user_keys_email ON user_keys(email);

		CREATE TABLE IF NOT EXISTS pending_requests (
			id         TEXT PRIMARY KEY,
			user_id    INTEGER NOT NULL,
			username   TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name  TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_pending_requests_user ON pending_requests(user_id);

		CREATE TABLE IF NOT EXISTS traffic_history (
			email TEXT NOT NULL,
			up    INTEGER NOT NULL DEFAULT 0,
			down  INTEGER NOT NULL DEFAULT 0,
			date  TEXT NOT NULL,
			PRIMARY KEY (email, date)
		);

		CREATE TABLE IF NOT EXISTS usage_snapshots (
			email    TEXT NOT NULL,
			up       INTEGER NOT NULL DEFAULT 0,
			down     INTEGER NOT NULL DEFAULT 0,
			all_time INTEGER NOT NULL DEFAULT 0,
			date     TEXT NOT NULL,
			PRIMARY KEY (email, date)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema changes to existing databases
func (s *SQLiteStore) runMigrations() error {
	// Migration: add last_name to users (earlier schemas only stored
	// username and first_name)
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info('users')
		WHERE name = 'last_name'
	`).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking users.last_name column: %w", err)
	}

	if count == 0 {
		_, err := s.db.Exec(`ALTER TABLE users ADD COLUMN last_name TEXT NOT NULL DEFAULT ''`)
		if err != nil && !strings.Contains(err.Error(), "duplicate column") {
			return fmt.Errorf("adding users.last_name column: %w", err)
		}
		s.logger.Info("migrated users table", "added", "last_name")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
