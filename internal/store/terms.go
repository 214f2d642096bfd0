package store

import (
	"context"
	"fmt"
)

// Term is one taxonomy term as known remotely. Terms are unique per
// (id, taxonomy); the same numeric id can exist in two taxonomies.
type Term struct {
	ID       int64
	Taxonomy string
	Name     string
	Slug     string
	ParentID int64
}

// UpsertTerm inserts or updates a term.
func (db *DB) UpsertTerm(ctx context.Context, t *Term) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO terms (id, taxonomy, name, slug, parent_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id, taxonomy) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			parent_id = excluded.parent_id`,
		t.ID, t.Taxonomy, t.Name, t.Slug, t.ParentID)
	if err != nil {
		return fmt.Errorf("failed to upsert term %d (%s): %w", t.ID, t.Taxonomy, err)
	}
	return nil
}

// ListTerms returns all locally known terms of a taxonomy.
func (db *DB) ListTerms(ctx context.Context, taxonomy string) ([]*Term, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, taxonomy, name, slug, parent_id
		FROM terms WHERE taxonomy = ? ORDER BY id ASC`, taxonomy)
	if err != nil {
		return nil, fmt.Errorf("failed to list terms for %s: %w", taxonomy, err)
	}
	defer rows.Close()

	var terms []*Term
	for rows.Next() {
		var t Term
		if err := rows.Scan(&t.ID, &t.Taxonomy, &t.Name, &t.Slug, &t.ParentID); err != nil {
			return nil, fmt.Errorf("failed to scan term: %w", err)
		}
		terms = append(terms, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating terms: %w", err)
	}
	return terms, nil
}

// CountTerms returns the number of locally known terms across all
// taxonomies.
func (db *DB) CountTerms(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM terms`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count terms: %w", err)
	}
	return count, nil
}

// CountResources returns the number of locally cached resources of a type,
// or of all types when resourceType is empty.
func (db *DB) CountResources(ctx context.Context, resourceType string) (int, error) {
	query := `SELECT COUNT(*) FROM resources`
	var args []any
	if resourceType != "" {
		query += ` WHERE resource_type = ?`
		args = append(args, resourceType)
	}
	var count int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count resources: %w", err)
	}
	return count, nil
}
