package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	tmpDir := t.TempDir()
	return filepath.Join(tmpDir, "test.db")
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesSchema(t *testing.T) {
	db := openTestDB(t)

	tables := []string{
		"terms", "resources", "resource_meta", "resource_terms",
		"plugin_data", "change_log", "field_audit", "sync_meta",
	}
	for _, table := range tables {
		var count int
		err := db.conn.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
			table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}

	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='view' AND name='resource_seo'`).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query view: %v", err)
	}
	if count != 1 {
		t.Error("View resource_seo does not exist")
	}
}

func TestOpen_FreshSchemaVersion(t *testing.T) {
	db := openTestDB(t)

	version, err := db.GetSyncMeta(context.Background(), "schema_version")
	if err != nil {
		t.Fatalf("GetSyncMeta() failed: %v", err)
	}
	if version != "4" {
		t.Errorf("schema_version = %q, want %q", version, "4")
	}
}

func TestOpen_AdoptsLegacyFilename(t *testing.T) {
	tmpDir := t.TempDir()
	legacyPath := filepath.Join(tmpDir, legacyFilename)
	newPath := filepath.Join(tmpDir, "presslocal.db")

	// Create a database under the legacy name with a recognizable row.
	legacy, err := Open(legacyPath)
	if err != nil {
		t.Fatalf("Open(legacy) failed: %v", err)
	}
	if err := legacy.SetSyncMeta(context.Background(), "marker", "from-legacy"); err != nil {
		t.Fatalf("SetSyncMeta() failed: %v", err)
	}
	if err := legacy.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	db, err := Open(newPath)
	if err != nil {
		t.Fatalf("Open(new) failed: %v", err)
	}
	defer db.Close()

	marker, err := db.GetSyncMeta(context.Background(), "marker")
	if err != nil {
		t.Fatalf("GetSyncMeta() failed: %v", err)
	}
	if marker != "from-legacy" {
		t.Errorf("marker = %q, want %q", marker, "from-legacy")
	}

	if _, err := os.Stat(legacyPath); !os.IsNotExist(err) {
		t.Error("legacy file still present after adoption")
	}
}

func TestSyncMeta_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	got, err := db.GetSyncMeta(ctx, "missing")
	if err != nil {
		t.Fatalf("GetSyncMeta(missing) failed: %v", err)
	}
	if got != "" {
		t.Errorf("missing key = %q, want empty", got)
	}

	if err := db.SetSyncMeta(ctx, "k", "v1"); err != nil {
		t.Fatalf("SetSyncMeta() failed: %v", err)
	}
	if err := db.SetSyncMeta(ctx, "k", "v2"); err != nil {
		t.Fatalf("SetSyncMeta() overwrite failed: %v", err)
	}

	got, err = db.GetSyncMeta(ctx, "k")
	if err != nil {
		t.Fatalf("GetSyncMeta() failed: %v", err)
	}
	if got != "v2" {
		t.Errorf("value = %q, want %q", got, "v2")
	}
}

func TestLastSync_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	got, err := db.LastSync(ctx)
	if err != nil {
		t.Fatalf("LastSync() failed: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("initial last sync = %v, want zero", got)
	}

	want := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := db.SetLastSync(ctx, want); err != nil {
		t.Fatalf("SetLastSync() failed: %v", err)
	}

	got, err = db.LastSync(ctx)
	if err != nil {
		t.Fatalf("LastSync() failed: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("last sync = %v, want %v", got, want)
	}
}

func TestDecodeValue_MalformedJSONReturnsRawString(t *testing.T) {
	raw := `{not valid json`
	got := DecodeValue(raw)
	if got != raw {
		t.Errorf("DecodeValue() = %v, want raw string back", got)
	}

	decoded := DecodeValue(`{"a": 1}`)
	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("DecodeValue() = %T, want map", decoded)
	}
	if m["a"] != float64(1) {
		t.Errorf("decoded a = %v, want 1", m["a"])
	}
}

func TestNullStringTime_RoundTrip(t *testing.T) {
	if !nullStringToTime(sql.NullString{}).IsZero() {
		t.Error("NULL should map to zero time")
	}

	now := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	ns := timeToNullString(now)
	if !ns.Valid {
		t.Fatal("non-zero time should be valid")
	}
	if got := nullStringToTime(ns); !got.Equal(now) {
		t.Errorf("round trip = %v, want %v", got, now)
	}

	if timeToNullString(time.Time{}).Valid {
		t.Error("zero time should map to NULL")
	}
}
