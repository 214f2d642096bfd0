package store

// currentSchema is the full schema at schemaVersion. Fresh databases are
// created from this directly; existing databases reach the same shape
// through the migration chain.
const currentSchema = `
	CREATE TABLE terms (
		id        INTEGER NOT NULL,
		taxonomy  TEXT NOT NULL,
		name      TEXT NOT NULL,
		slug      TEXT NOT NULL,
		parent_id INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (id, taxonomy)
	);

	CREATE TABLE resources (
		id                 INTEGER PRIMARY KEY,
		resource_type      TEXT NOT NULL,
		title              TEXT NOT NULL DEFAULT '',
		slug               TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL DEFAULT '',
		content            TEXT NOT NULL DEFAULT '',
		excerpt            TEXT NOT NULL DEFAULT '',
		featured_media     INTEGER NOT NULL DEFAULT 0,
		featured_media_url TEXT NOT NULL DEFAULT '',
		remote_created     TEXT,
		remote_modified    TEXT,
		synced_at          TEXT,
		dirty              INTEGER NOT NULL DEFAULT 0,
		edited_taxonomies  TEXT NOT NULL DEFAULT '[]',
		synced_snapshot    TEXT
	);

	CREATE TABLE resource_meta (
		resource_id INTEGER NOT NULL,
		field_id    TEXT NOT NULL,
		value       TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (resource_id, field_id),
		FOREIGN KEY (resource_id) REFERENCES resources(id) ON DELETE CASCADE
	);

	CREATE TABLE resource_terms (
		resource_id INTEGER NOT NULL,
		term_id     INTEGER NOT NULL,
		taxonomy    TEXT NOT NULL,
		PRIMARY KEY (resource_id, term_id, taxonomy),
		FOREIGN KEY (resource_id) REFERENCES resources(id) ON DELETE CASCADE
	);

	CREATE TABLE plugin_data (
		resource_id INTEGER NOT NULL,
		plugin_id   TEXT NOT NULL,
		data_key    TEXT NOT NULL,
		value       TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (resource_id, plugin_id, data_key),
		FOREIGN KEY (resource_id) REFERENCES resources(id) ON DELETE CASCADE
	);

	CREATE TABLE change_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		resource_id INTEGER NOT NULL,
		field_id    TEXT NOT NULL,
		old_value   TEXT NOT NULL DEFAULT '',
		new_value   TEXT NOT NULL DEFAULT '',
		changed_at  TEXT NOT NULL,
		run_id      TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE sync_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX idx_resources_type ON resources(resource_type);
	CREATE INDEX idx_resources_dirty ON resources(dirty);
	CREATE INDEX idx_resources_status ON resources(status);
	CREATE INDEX idx_resource_terms_term ON resource_terms(term_id, taxonomy);
	CREATE INDEX idx_change_log_resource ON change_log(resource_id);
` + fieldAuditDDL + seoViewDDL

// seoViewDDL exposes the SEO rows of plugin_data under the pre-v3 table
// name so external readers keep working.
const seoViewDDL = `
	CREATE VIEW IF NOT EXISTS resource_seo AS
	SELECT t.resource_id AS resource_id,
	       t.value AS title,
	       d.value AS description
	FROM (SELECT resource_id, value FROM plugin_data
	      WHERE plugin_id = 'seo' AND data_key = 'title') t
	LEFT JOIN (SELECT resource_id, value FROM plugin_data
	           WHERE plugin_id = 'seo' AND data_key = 'description') d
	ON d.resource_id = t.resource_id;
`

// fieldAuditDDL is shared between the fresh-create path and the v3 -> v4
// migration step.
const fieldAuditDDL = `
	CREATE TABLE field_audit (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id        TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		local_fields  TEXT NOT NULL DEFAULT '[]',
		remote_fields TEXT NOT NULL DEFAULT '[]',
		audited_at    TEXT NOT NULL
	);
	CREATE INDEX idx_field_audit_run ON field_audit(run_id);
`
