// Package store provides the embedded SQLite cache database for presslocal.
//
// The store is the locally editable copy of the remote site's content:
// terms, resources, per-field metadata, term assignments, plugin-scoped
// side-channel data, an append-only change log, and a versioned schema
// with an ordered migration chain.
//
// The database runs embedded (ncruces/go-sqlite3) with WAL mode so reads
// stay cheap while a sync run writes. One process owns one handle; the
// sync and push engines share it through injection, never a global.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// legacyFilename is the pre-1.0 database filename. Open renames it to the
// requested path once, so old installs keep their data.
const legacyFilename = "presslocal-cache.db"

// DB wraps the SQLite connection with presslocal-specific functionality.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The containing directory is created if missing, a legacy database file
// next to the target is renamed into place, and the schema is created or
// migrated to the current version. Migration failure is fatal: the
// returned error wraps a *MigrationError and the handle is closed.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// One-time adoption of the legacy filename.
	legacy := filepath.Join(dir, legacyFilename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if _, err := os.Stat(legacy); err == nil {
			if err := os.Rename(legacy, path); err != nil {
				return nil, fmt.Errorf("failed to adopt legacy database %s: %w", legacy, err)
			}
		}
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	// WAL keeps readers live during sync writes.
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Cascading deletes for meta/terms/plugin data rely on this.
	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// GetSyncMeta reads a value from the generic sync_meta key/value table.
// Returns "" with no error when the key is absent.
func (db *DB) GetSyncMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read sync meta %s: %w", key, err)
	}
	return value, nil
}

// SetSyncMeta writes a value into the sync_meta key/value table.
func (db *DB) SetSyncMeta(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write sync meta %s: %w", key, err)
	}
	return nil
}

// LastSync returns the recorded end time of the last fully clean sync run,
// or the zero time if none is recorded.
func (db *DB) LastSync(ctx context.Context) (time.Time, error) {
	raw, err := db.GetSyncMeta(ctx, "last_sync")
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last_sync: %w", err)
	}
	return t, nil
}

// SetLastSync records the end time of a clean sync run.
func (db *DB) SetLastSync(ctx context.Context, t time.Time) error {
	return db.SetSyncMeta(ctx, "last_sync", t.UTC().Format(time.RFC3339))
}

// timeToNullString converts a time to a nullable string for SQL.
// The zero time maps to NULL.
func timeToNullString(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time.
// NULL or unparseable values map to the zero time.
func nullStringToTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
