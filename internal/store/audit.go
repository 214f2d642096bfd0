package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ChangeEntry is one row of the append-only field-level audit trail.
type ChangeEntry struct {
	ResourceID int64
	FieldID    string
	OldValue   string
	NewValue   string
	ChangedAt  time.Time
	RunID      string
}

// AppendChange records one before/after field change. The change log is
// append-only; nothing in presslocal ever rewrites it.
func (db *DB) AppendChange(ctx context.Context, e *ChangeEntry) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO change_log (resource_id, field_id, old_value, new_value, changed_at, run_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ResourceID, e.FieldID, e.OldValue, e.NewValue,
		e.ChangedAt.UTC().Format(time.RFC3339), e.RunID)
	if err != nil {
		return fmt.Errorf("failed to append change log entry: %w", err)
	}
	return nil
}

// ListChanges returns the change log entries for a resource, newest first.
func (db *DB) ListChanges(ctx context.Context, resourceID int64, limit int) ([]*ChangeEntry, error) {
	query := `
		SELECT resource_id, field_id, old_value, new_value, changed_at, run_id
		FROM change_log WHERE resource_id = ? ORDER BY id DESC`
	args := []any{resourceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query change log: %w", err)
	}
	defer rows.Close()

	var entries []*ChangeEntry
	for rows.Next() {
		var e ChangeEntry
		var changedAt string
		if err := rows.Scan(&e.ResourceID, &e.FieldID, &e.OldValue,
			&e.NewValue, &changedAt, &e.RunID); err != nil {
			return nil, fmt.Errorf("failed to scan change log entry: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, changedAt); err == nil {
			e.ChangedAt = t
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change log: %w", err)
	}
	return entries, nil
}

// fieldAuditKeepRuns is how many audit runs are retained.
const fieldAuditKeepRuns = 5

// RecordFieldAudit stores a comparison of locally-known vs remote-observed
// field names for one content type, then prunes the table down to the
// last fieldAuditKeepRuns runs.
func (db *DB) RecordFieldAudit(ctx context.Context, runID, resourceType string, localFields, remoteFields []string) error {
	localJSON, err := json.Marshal(localFields)
	if err != nil {
		return fmt.Errorf("failed to marshal local fields: %w", err)
	}
	remoteJSON, err := json.Marshal(remoteFields)
	if err != nil {
		return fmt.Errorf("failed to marshal remote fields: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO field_audit (run_id, resource_type, local_fields, remote_fields, audited_at)
		VALUES (?, ?, ?, ?, ?)`,
		runID, resourceType, string(localJSON), string(remoteJSON),
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to insert field audit: %w", err)
	}

	// Keep the newest N distinct runs.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM field_audit WHERE run_id NOT IN (
			SELECT run_id FROM (
				SELECT run_id, MAX(id) AS max_id FROM field_audit
				GROUP BY run_id ORDER BY max_id DESC LIMIT ?
			)
		)`, fieldAuditKeepRuns); err != nil {
		return fmt.Errorf("failed to prune field audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit field audit: %w", err)
	}
	return nil
}

// FieldAuditEntry is one stored field-name comparison.
type FieldAuditEntry struct {
	RunID        string
	ResourceType string
	LocalFields  []string
	RemoteFields []string
	AuditedAt    time.Time
}

// ListFieldAudits returns the retained field audit entries, newest first.
func (db *DB) ListFieldAudits(ctx context.Context) ([]*FieldAuditEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT run_id, resource_type, local_fields, remote_fields, audited_at
		FROM field_audit ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query field audit: %w", err)
	}
	defer rows.Close()

	var entries []*FieldAuditEntry
	for rows.Next() {
		var e FieldAuditEntry
		var localJSON, remoteJSON, auditedAt string
		if err := rows.Scan(&e.RunID, &e.ResourceType, &localJSON,
			&remoteJSON, &auditedAt); err != nil {
			return nil, fmt.Errorf("failed to scan field audit entry: %w", err)
		}
		_ = json.Unmarshal([]byte(localJSON), &e.LocalFields)
		_ = json.Unmarshal([]byte(remoteJSON), &e.RemoteFields)
		if t, err := time.Parse(time.RFC3339, auditedAt); err == nil {
			e.AuditedAt = t
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating field audit: %w", err)
	}
	return entries, nil
}
