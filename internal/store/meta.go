package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetResourceMeta returns the raw per-field metadata of a resource, keyed
// by field id. Values are stored as JSON text; use DecodeValue to get a
// dynamic Go value.
func (db *DB) GetResourceMeta(ctx context.Context, id int64) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT field_id, value FROM resource_meta WHERE resource_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata for %d: %w", id, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		out[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metadata: %w", err)
	}
	return out, nil
}

// SetMetaValue writes one metadata field and marks the record dirty.
// This is the local-edit path; sync replaces metadata wholesale through
// SaveSynced instead.
func (db *DB) SetMetaValue(ctx context.Context, id int64, field, value string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO resource_meta (resource_id, field_id, value) VALUES (?, ?, ?)
		ON CONFLICT(resource_id, field_id) DO UPDATE SET value = excluded.value`,
		id, field, value); err != nil {
		return fmt.Errorf("failed to set metadata %s for %d: %w", field, id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE resources SET dirty = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark resource %d dirty: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit metadata for %d: %w", id, err)
	}
	return nil
}

// ListMetaFields returns the distinct metadata field ids currently stored
// for resources of one type. Used by the field audit phase.
func (db *DB) ListMetaFields(ctx context.Context, resourceType string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT DISTINCT m.field_id
		FROM resource_meta m
		JOIN resources r ON r.id = m.resource_id
		WHERE r.resource_type = ?
		ORDER BY m.field_id`, resourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to list meta fields for %s: %w", resourceType, err)
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("failed to scan meta field: %w", err)
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating meta fields: %w", err)
	}
	return fields, nil
}

// GetPluginData returns the side-channel values a plugin stored for a
// resource, keyed by data key.
func (db *DB) GetPluginData(ctx context.Context, id int64, pluginID string) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT data_key, value FROM plugin_data
		WHERE resource_id = ? AND plugin_id = ?`, id, pluginID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plugin data for %d: %w", id, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan plugin data row: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plugin data: %w", err)
	}
	return out, nil
}

// ReplacePluginData rewrites a plugin's side-channel values for a resource
// without touching the dirty flag. This is the sync path.
func (db *DB) ReplacePluginData(ctx context.Context, id int64, pluginID string, data map[string]string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM plugin_data WHERE resource_id = ? AND plugin_id = ?`,
		id, pluginID); err != nil {
		return fmt.Errorf("failed to clear plugin data for %d: %w", id, err)
	}
	for key, value := range data {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plugin_data (resource_id, plugin_id, data_key, value)
			VALUES (?, ?, ?, ?)`,
			id, pluginID, key, value); err != nil {
			return fmt.Errorf("failed to insert plugin data %s for %d: %w", key, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plugin data for %d: %w", id, err)
	}
	return nil
}

// SetPluginValue writes one side-channel value and marks the record dirty.
// This is the local-edit path.
func (db *DB) SetPluginValue(ctx context.Context, id int64, pluginID, key, value string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO plugin_data (resource_id, plugin_id, data_key, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(resource_id, plugin_id, data_key) DO UPDATE SET value = excluded.value`,
		id, pluginID, key, value); err != nil {
		return fmt.Errorf("failed to set plugin data %s for %d: %w", key, id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE resources SET dirty = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark resource %d dirty: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plugin data for %d: %w", id, err)
	}
	return nil
}

// DecodeValue parses a persisted JSON value into a dynamic Go value.
// Malformed JSON is swallowed and the raw string returned instead, so one
// corrupt field never blocks reading the rest of a record.
func DecodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// EncodeValue serializes a dynamic value for persistence. Strings that are
// not themselves JSON are stored as JSON strings.
func EncodeValue(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}
	return string(data), nil
}
