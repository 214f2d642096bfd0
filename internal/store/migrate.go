package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// schemaVersion is the version fresh databases are created at and existing
// databases are migrated to.
const schemaVersion = 4

// MigrationError reports a failed schema upgrade. Migration failure is
// fatal: the store refuses to open rather than run against a half-migrated
// schema.
type MigrationError struct {
	From int
	To   int
	Err  error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("schema migration v%d -> v%d failed: %v", e.From, e.To, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// migration is one step in the ordered upgrade chain. Steps must be
// idempotent: they check for existing tables/columns before acting, so a
// database that crashed mid-version-bump can be re-run safely.
type migration struct {
	from int
	to   int
	fn   func(ctx context.Context, tx *sql.Tx) error
}

// migrations is the ordered upgrade chain. Append only; never reorder.
var migrations = []migration{
	{from: 1, to: 2, fn: migrateAddExcerptAndMediaURL},
	{from: 2, to: 3, fn: migrateSplitSEOIntoPluginData},
	{from: 3, to: 4, fn: migrateAddAuditTables},
}

// Migrate brings the database schema to the current version.
//
// A database with no tables is created directly at the current version.
// Otherwise the stored version is compared and every step between it and
// the current version is applied, each wrapped in its own transaction
// that rolls back entirely on failure.
func (db *DB) Migrate(ctx context.Context) error {
	fresh, err := db.isFresh(ctx)
	if err != nil {
		return err
	}
	if fresh {
		return db.createCurrentSchema(ctx)
	}

	version, err := db.currentVersion(ctx)
	if err != nil {
		return err
	}
	if version > schemaVersion {
		return &MigrationError{From: version, To: schemaVersion,
			Err: fmt.Errorf("database is newer than this build")}
	}

	for _, m := range migrations {
		if m.from < version {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return err
		}
		version = m.to
	}

	return nil
}

// applyMigration runs one step and the version bump in a single
// transaction.
func (db *DB) applyMigration(ctx context.Context, m migration) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return &MigrationError{From: m.from, To: m.to, Err: err}
	}
	defer tx.Rollback()

	if err := m.fn(ctx, tx); err != nil {
		return &MigrationError{From: m.from, To: m.to, Err: err}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(m.to)); err != nil {
		return &MigrationError{From: m.from, To: m.to, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &MigrationError{From: m.from, To: m.to, Err: err}
	}
	return nil
}

// isFresh reports whether the database has no application tables at all.
func (db *DB) isFresh(ctx context.Context) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to inspect schema: %w", err)
	}
	return count == 0, nil
}

// currentVersion reads the stored schema version. Databases created before
// the sync_meta table existed are treated as version 1.
func (db *DB) currentVersion(ctx context.Context) (int, error) {
	exists, err := tableExistsConn(ctx, db.conn, "sync_meta")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 1, nil
	}

	raw, err := db.GetSyncMeta(ctx, "schema_version")
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 1, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse schema_version %q: %w", raw, err)
	}
	return v, nil
}

// createCurrentSchema creates all tables at the current version in one
// transaction.
func (db *DB) createCurrentSchema(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return &MigrationError{From: 0, To: schemaVersion, Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, currentSchema); err != nil {
		return &MigrationError{From: 0, To: schemaVersion, Err: err}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_meta (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(schemaVersion)); err != nil {
		return &MigrationError{From: 0, To: schemaVersion, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &MigrationError{From: 0, To: schemaVersion, Err: err}
	}
	return nil
}

// ---- migration steps ----

// migrateAddExcerptAndMediaURL (v1 -> v2) adds the excerpt and
// featured_media_url columns to resources.
func migrateAddExcerptAndMediaURL(ctx context.Context, tx *sql.Tx) error {
	for _, col := range []struct{ name, ddl string }{
		{"excerpt", `ALTER TABLE resources ADD COLUMN excerpt TEXT NOT NULL DEFAULT ''`},
		{"featured_media_url", `ALTER TABLE resources ADD COLUMN featured_media_url TEXT NOT NULL DEFAULT ''`},
	} {
		has, err := columnExists(ctx, tx, "resources", col.name)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := tx.ExecContext(ctx, col.ddl); err != nil {
			return fmt.Errorf("failed to add resources.%s: %w", col.name, err)
		}
	}
	return nil
}

// migrateSplitSEOIntoPluginData (v2 -> v3) moves the seo_title and
// seo_description columns out of resources into the generic plugin_data
// side channel, preserving every row, and leaves a backward-compatible
// read view under the old resource_seo name.
func migrateSplitSEOIntoPluginData(ctx context.Context, tx *sql.Tx) error {
	has, err := tableExists(ctx, tx, "plugin_data")
	if err != nil {
		return err
	}
	if !has {
		if _, err := tx.ExecContext(ctx, `
			CREATE TABLE plugin_data (
				resource_id INTEGER NOT NULL,
				plugin_id   TEXT NOT NULL,
				data_key    TEXT NOT NULL,
				value       TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (resource_id, plugin_id, data_key),
				FOREIGN KEY (resource_id) REFERENCES resources(id) ON DELETE CASCADE
			)`); err != nil {
			return fmt.Errorf("failed to create plugin_data: %w", err)
		}
	}

	for _, col := range []struct{ name, key string }{
		{"seo_title", "title"},
		{"seo_description", "description"},
	} {
		hasCol, err := columnExists(ctx, tx, "resources", col.name)
		if err != nil {
			return err
		}
		if !hasCol {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO plugin_data (resource_id, plugin_id, data_key, value)
			SELECT id, 'seo', '%s', %s FROM resources WHERE %s != ''
			ON CONFLICT(resource_id, plugin_id, data_key) DO NOTHING`,
			col.key, col.name, col.name)); err != nil {
			return fmt.Errorf("failed to copy %s into plugin_data: %w", col.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`ALTER TABLE resources DROP COLUMN %s`, col.name)); err != nil {
			return fmt.Errorf("failed to drop resources.%s: %w", col.name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, seoViewDDL); err != nil {
		return fmt.Errorf("failed to create resource_seo view: %w", err)
	}
	return nil
}

// migrateAddAuditTables (v3 -> v4) adds the run_id column to change_log
// and creates the field_audit table.
func migrateAddAuditTables(ctx context.Context, tx *sql.Tx) error {
	has, err := columnExists(ctx, tx, "change_log", "run_id")
	if err != nil {
		return err
	}
	if !has {
		if _, err := tx.ExecContext(ctx,
			`ALTER TABLE change_log ADD COLUMN run_id TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add change_log.run_id: %w", err)
		}
	}

	hasAudit, err := tableExists(ctx, tx, "field_audit")
	if err != nil {
		return err
	}
	if !hasAudit {
		if _, err := tx.ExecContext(ctx, fieldAuditDDL); err != nil {
			return fmt.Errorf("failed to create field_audit: %w", err)
		}
	}
	return nil
}

// ---- schema inspection helpers ----

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func tableExists(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	return tableExistsConn(ctx, tx, name)
}

func tableExistsConn(ctx context.Context, q queryRower, name string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type IN ('table', 'view') AND name = ?`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check for table %s: %w", name, err)
	}
	return count > 0, nil
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check for column %s.%s: %w", table, column, err)
	}
	return count > 0, nil
}
