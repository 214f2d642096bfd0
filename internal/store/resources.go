package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Resource is one locally cached content record. IDs are assigned by the
// remote side; the local store never invents them.
type Resource struct {
	ID               int64
	Type             string
	Title            string
	Slug             string
	Status           string
	Content          string
	Excerpt          string
	FeaturedMedia    int64
	FeaturedMediaURL string

	RemoteCreated  time.Time
	RemoteModified time.Time
	SyncedAt       time.Time

	// Dirty marks unpushed local edits. While set, sync updates only the
	// snapshot so local edits are never overwritten.
	Dirty bool

	// EditedTaxonomies lists taxonomies the user changed since the last
	// push. Only these are included in outbound payloads, so taxonomies
	// the cache never loaded are not wiped remotely.
	EditedTaxonomies []string

	// Snapshot is the last-known-good remote state, used purely for
	// diffing. Nil until the first sync stores one.
	Snapshot *Snapshot
}

// Snapshot is the serialized last-known remote state of a record.
type Snapshot struct {
	Title      string                     `json:"title"`
	Slug       string                     `json:"slug"`
	Status     string                     `json:"status"`
	Meta       map[string]json.RawMessage `json:"meta,omitempty"`
	Taxonomies map[string][]int64         `json:"taxonomies,omitempty"`
}

const resourceColumns = `id, resource_type, title, slug, status, content,
	excerpt, featured_media, featured_media_url, remote_created,
	remote_modified, synced_at, dirty, edited_taxonomies, synced_snapshot`

// GetResource retrieves a single resource by id.
// Returns sql.ErrNoRows if the resource is not found.
func (db *DB) GetResource(ctx context.Context, id int64) (*Resource, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id)
	return scanResource(row)
}

// ListDirty returns every resource with unpushed local edits, optionally
// filtered by resource type.
func (db *DB) ListDirty(ctx context.Context, resourceType string) ([]*Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE dirty = 1`
	var args []any
	if resourceType != "" {
		query += ` AND resource_type = ?`
		args = append(args, resourceType)
	}
	query += ` ORDER BY id ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty resources: %w", err)
	}
	defer rows.Close()

	var out []*Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dirty resources: %w", err)
	}
	return out, nil
}

// ListIDs returns every locally stored resource id of the given type.
// Used for deletion diffing against the remote id listing.
func (db *DB) ListIDs(ctx context.Context, resourceType string) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id FROM resources WHERE resource_type = ? ORDER BY id ASC`,
		resourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan resource id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource ids: %w", err)
	}
	return ids, nil
}

// deleteChunkSize stays well under SQLite's host parameter limit.
const deleteChunkSize = 500

// DeleteResources removes the given resources in parameter-count-limited
// chunks. Metadata, term assignments and plugin data cascade.
func (db *DB) DeleteResources(ctx context.Context, ids []int64) (int64, error) {
	var deleted int64
	for start := 0; start < len(ids); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		res, err := db.conn.ExecContext(ctx,
			`DELETE FROM resources WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete resources: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	return deleted, nil
}

// SaveSynced fully replaces a clean resource with freshly fetched remote
// state: core fields, metadata (delete-then-insert), term assignments
// (delete-then-insert) and the snapshot, all in one transaction.
//
// The dirty flag is cleared; callers must only use this for records whose
// local copy carries no unpushed edits.
func (db *DB) SaveSynced(ctx context.Context, r *Resource, meta map[string]string, terms map[string][]int64) error {
	snapJSON, err := encodeSnapshot(r.Snapshot)
	if err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO resources (
			id, resource_type, title, slug, status, content, excerpt,
			featured_media, featured_media_url, remote_created,
			remote_modified, synced_at, dirty, edited_taxonomies,
			synced_snapshot
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '[]', ?)
		ON CONFLICT(id) DO UPDATE SET
			resource_type = excluded.resource_type,
			title = excluded.title,
			slug = excluded.slug,
			status = excluded.status,
			content = excluded.content,
			excerpt = excluded.excerpt,
			featured_media = excluded.featured_media,
			featured_media_url = excluded.featured_media_url,
			remote_created = excluded.remote_created,
			remote_modified = excluded.remote_modified,
			synced_at = excluded.synced_at,
			dirty = 0,
			edited_taxonomies = '[]',
			synced_snapshot = excluded.synced_snapshot`,
		r.ID, r.Type, r.Title, r.Slug, r.Status, r.Content, r.Excerpt,
		r.FeaturedMedia, r.FeaturedMediaURL,
		timeToNullString(r.RemoteCreated),
		timeToNullString(r.RemoteModified),
		timeToNullString(r.SyncedAt),
		snapJSON,
	); err != nil {
		return fmt.Errorf("failed to upsert resource %d: %w", r.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM resource_meta WHERE resource_id = ?`, r.ID); err != nil {
		return fmt.Errorf("failed to clear metadata for %d: %w", r.ID, err)
	}
	for field, value := range meta {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO resource_meta (resource_id, field_id, value) VALUES (?, ?, ?)`,
			r.ID, field, value); err != nil {
			return fmt.Errorf("failed to insert metadata %s for %d: %w", field, r.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM resource_terms WHERE resource_id = ?`, r.ID); err != nil {
		return fmt.Errorf("failed to clear term assignments for %d: %w", r.ID, err)
	}
	for taxonomy, termIDs := range terms {
		for _, termID := range termIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO resource_terms (resource_id, term_id, taxonomy)
				VALUES (?, ?, ?)
				ON CONFLICT(resource_id, term_id, taxonomy) DO NOTHING`,
				r.ID, termID, taxonomy); err != nil {
				return fmt.Errorf("failed to insert term assignment for %d: %w", r.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resource %d: %w", r.ID, err)
	}
	return nil
}

// UpdateSnapshot stores freshly fetched remote state for a dirty record
// without touching its locally edited fields. Only the snapshot, sync
// timestamp and remote-modified timestamp change.
func (db *DB) UpdateSnapshot(ctx context.Context, id int64, snap *Snapshot, remoteModified, syncedAt time.Time) error {
	snapJSON, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, `
		UPDATE resources
		SET synced_snapshot = ?, remote_modified = ?, synced_at = ?
		WHERE id = ?`,
		snapJSON, timeToNullString(remoteModified), timeToNullString(syncedAt), id)
	if err != nil {
		return fmt.Errorf("failed to update snapshot for %d: %w", id, err)
	}
	return nil
}

// SaveLocalEdit writes locally edited core fields and marks the record
// dirty. Sync will preserve these values until they are pushed.
func (db *DB) SaveLocalEdit(ctx context.Context, r *Resource) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE resources
		SET title = ?, slug = ?, status = ?, content = ?, excerpt = ?,
		    featured_media = ?, featured_media_url = ?, dirty = 1
		WHERE id = ?`,
		r.Title, r.Slug, r.Status, r.Content, r.Excerpt,
		r.FeaturedMedia, r.FeaturedMediaURL, r.ID)
	if err != nil {
		return fmt.Errorf("failed to save local edit for %d: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkClean clears the dirty flag and the edited-taxonomies marker, and
// refreshes the remote-modified timestamp. Called after a successful push.
func (db *DB) MarkClean(ctx context.Context, id int64, remoteModified time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE resources
		SET dirty = 0, edited_taxonomies = '[]', remote_modified = ?
		WHERE id = ?`,
		timeToNullString(remoteModified), id)
	if err != nil {
		return fmt.Errorf("failed to mark resource %d clean: %w", id, err)
	}
	return nil
}

// ClearDirty clears the dirty flag and edited-taxonomies marker without
// touching timestamps. Used by orphan dirty-flag clearing.
func (db *DB) ClearDirty(ctx context.Context, id int64) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE resources SET dirty = 0, edited_taxonomies = '[]' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to clear dirty flag for %d: %w", id, err)
	}
	return nil
}

// MarkTaxonomyEdited records a locally edited taxonomy on the resource and
// sets the dirty flag. The marker gates which taxonomies a push writes.
func (db *DB) MarkTaxonomyEdited(ctx context.Context, id int64, taxonomy string) error {
	r, err := db.GetResource(ctx, id)
	if err != nil {
		return err
	}
	for _, t := range r.EditedTaxonomies {
		if t == taxonomy {
			taxonomy = ""
			break
		}
	}
	edited := r.EditedTaxonomies
	if taxonomy != "" {
		edited = append(edited, taxonomy)
	}
	editedJSON, err := json.Marshal(edited)
	if err != nil {
		return fmt.Errorf("failed to marshal edited taxonomies: %w", err)
	}
	_, err = db.conn.ExecContext(ctx,
		`UPDATE resources SET edited_taxonomies = ?, dirty = 1 WHERE id = ?`,
		string(editedJSON), id)
	if err != nil {
		return fmt.Errorf("failed to mark taxonomy edited for %d: %w", id, err)
	}
	return nil
}

// ReplaceTaxonomyAssignments rewrites the local term assignments of one
// taxonomy for a resource. Used by local edits, not by sync.
func (db *DB) ReplaceTaxonomyAssignments(ctx context.Context, id int64, taxonomy string, termIDs []int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM resource_terms WHERE resource_id = ? AND taxonomy = ?`,
		id, taxonomy); err != nil {
		return fmt.Errorf("failed to clear %s assignments for %d: %w", taxonomy, id, err)
	}
	for _, termID := range termIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO resource_terms (resource_id, term_id, taxonomy)
			VALUES (?, ?, ?)
			ON CONFLICT(resource_id, term_id, taxonomy) DO NOTHING`,
			id, termID, taxonomy); err != nil {
			return fmt.Errorf("failed to insert %s assignment for %d: %w", taxonomy, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit assignments for %d: %w", id, err)
	}
	return nil
}

// GetResourceTerms returns the term assignments of a resource grouped by
// taxonomy.
func (db *DB) GetResourceTerms(ctx context.Context, id int64) (map[string][]int64, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT term_id, taxonomy FROM resource_terms
		WHERE resource_id = ? ORDER BY taxonomy, term_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query term assignments for %d: %w", id, err)
	}
	defer rows.Close()

	out := make(map[string][]int64)
	for rows.Next() {
		var termID int64
		var taxonomy string
		if err := rows.Scan(&termID, &taxonomy); err != nil {
			return nil, fmt.Errorf("failed to scan term assignment: %w", err)
		}
		out[taxonomy] = append(out[taxonomy], termID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating term assignments: %w", err)
	}
	return out, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanResource.
type scanner interface {
	Scan(dest ...any) error
}

func scanResource(row scanner) (*Resource, error) {
	var r Resource
	var remoteCreated, remoteModified, syncedAt, snapJSON sql.NullString
	var dirty int
	var editedJSON string

	err := row.Scan(
		&r.ID, &r.Type, &r.Title, &r.Slug, &r.Status, &r.Content,
		&r.Excerpt, &r.FeaturedMedia, &r.FeaturedMediaURL,
		&remoteCreated, &remoteModified, &syncedAt,
		&dirty, &editedJSON, &snapJSON,
	)
	if err != nil {
		return nil, err
	}

	r.RemoteCreated = nullStringToTime(remoteCreated)
	r.RemoteModified = nullStringToTime(remoteModified)
	r.SyncedAt = nullStringToTime(syncedAt)
	r.Dirty = dirty != 0

	// Malformed markers/snapshots are swallowed: one corrupt field must
	// never block reading the rest of the record.
	if editedJSON != "" && editedJSON != "null" {
		_ = json.Unmarshal([]byte(editedJSON), &r.EditedTaxonomies)
	}
	if snapJSON.Valid && snapJSON.String != "" {
		var snap Snapshot
		if err := json.Unmarshal([]byte(snapJSON.String), &snap); err == nil {
			r.Snapshot = &snap
		}
	}

	return &r, nil
}

func encodeSnapshot(snap *Snapshot) (sql.NullString, error) {
	if snap == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
