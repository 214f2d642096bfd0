package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presslocal/presslocal/internal/config"
	"github.com/presslocal/presslocal/internal/remote"
	"github.com/presslocal/presslocal/internal/store"
)

// fakeAPI is an in-memory RemoteAPI for push tests.
type fakeAPI struct {
	remoteModified map[int64]string
	mediaResults   []*remote.Media

	updates     []map[string]any
	updatedIDs  []int64
	updateErr   error
	seoTitles   map[int64]string
	seoKeywords map[int64][]string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		remoteModified: make(map[int64]string),
		seoTitles:      make(map[int64]string),
		seoKeywords:    make(map[int64][]string),
	}
}

func (f *fakeAPI) GetResource(ctx context.Context, restBase string, id int64) (*remote.Resource, error) {
	modified, ok := f.remoteModified[id]
	if !ok {
		return nil, fmt.Errorf("resource %d not found", id)
	}
	return &remote.Resource{ID: id, ModifiedGMT: modified}, nil
}

func (f *fakeAPI) UpdateResource(ctx context.Context, restBase string, id int64, payload map[string]any) (*remote.Resource, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updates = append(f.updates, payload)
	f.updatedIDs = append(f.updatedIDs, id)
	now := "2024-09-01T00:00:00"
	f.remoteModified[id] = now
	return &remote.Resource{ID: id, ModifiedGMT: now}, nil
}

func (f *fakeAPI) SearchMedia(ctx context.Context, search string) ([]*remote.Media, error) {
	return f.mediaResults, nil
}

func (f *fakeAPI) UpdateSEOTitleDescription(ctx context.Context, restBase string, id int64, title, description string) (bool, error) {
	f.seoTitles[id] = title
	return true, nil
}

func (f *fakeAPI) UpdateSEOKeywords(ctx context.Context, restBase string, id int64, keywords []string) (bool, error) {
	f.seoKeywords[id] = keywords
	return true, nil
}

func (f *fakeAPI) UpdateSEOSocial(ctx context.Context, restBase string, id int64, fields map[string]string) (bool, error) {
	return true, nil
}

func (f *fakeAPI) UpdateSEORobots(ctx context.Context, restBase string, id int64, directives map[string]bool) (bool, error) {
	return true, nil
}

func testConfig() *config.Config {
	return &config.Config{
		SiteURL:     "https://example.com",
		Username:    "u",
		AppPassword: "p",
		ContentTypes: []config.ContentType{
			{Name: "post", RestBase: "posts", Taxonomies: []string{"category"}},
		},
		Taxonomies: []config.Taxonomy{
			{Name: "category", RestBase: "categories", StructuredField: "post_categories"},
		},
		SEOPlugin: "seo",
		Workers:   2,
	}
}

func newTestEngine(t *testing.T, api RemoteAPI) (*Engine, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := New(db, api, testConfig(), log.New(io.Discard, "", 0))
	e.delay = 0
	return e, db
}

// seedSynced stores one clean record whose cached remote-modified matches
// the fake remote.
func seedSynced(t *testing.T, db *store.DB, api *fakeAPI, id int64) {
	t.Helper()
	modified := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &store.Resource{
		ID:             id,
		Type:           "post",
		Title:          "Hello",
		Slug:           "hello",
		Status:         "publish",
		Content:        "<p>body</p>",
		RemoteModified: modified,
		Snapshot:       &store.Snapshot{Title: "Hello", Slug: "hello", Status: "publish"},
	}
	require.NoError(t, db.SaveSynced(context.Background(), r, nil, nil))
	api.remoteModified[id] = "2024-01-01T00:00:00"
}

func editTitle(t *testing.T, db *store.DB, id int64, title string) {
	t.Helper()
	ctx := context.Background()
	r, err := db.GetResource(ctx, id)
	require.NoError(t, err)
	r.Title = title
	require.NoError(t, db.SaveLocalEdit(ctx, r))
}

func TestPushResource_Success(t *testing.T) {
	api := newFakeAPI()
	e, db := newTestEngine(t, api)
	ctx := context.Background()

	seedSynced(t, db, api, 1)
	editTitle(t, db, 1, "Edited")

	require.NoError(t, e.PushResource(ctx, 1, false))

	require.Len(t, api.updates, 1)
	assert.Equal(t, "Edited", api.updates[0]["title"])

	got, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, got.Dirty, "record should be clean after push")
	assert.Equal(t, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), got.RemoteModified,
		"remote-modified must refresh from the update response")

	// The title change landed in the change log.
	changes, err := db.ListChanges(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "title", changes[0].FieldID)
	assert.Equal(t, "Hello", changes[0].OldValue)
	assert.Equal(t, "Edited", changes[0].NewValue)
}

func TestPushResource_ConflictGate(t *testing.T) {
	api := newFakeAPI()
	e, db := newTestEngine(t, api)
	ctx := context.Background()

	seedSynced(t, db, api, 1)
	editTitle(t, db, 1, "Edited")

	// Someone else edited the record remotely.
	api.remoteModified[1] = "2024-01-02T00:00:00"

	err := e.PushResource(ctx, 1, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict), "error = %v", err)
	assert.Empty(t, api.updates, "no write may happen on conflict")

	got, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Dirty, "record stays dirty after a blocked push")
}

func TestPushResource_SkipConflictCheck(t *testing.T) {
	api := newFakeAPI()
	e, db := newTestEngine(t, api)
	ctx := context.Background()

	seedSynced(t, db, api, 1)
	editTitle(t, db, 1, "Edited")
	api.remoteModified[1] = "2024-01-02T00:00:00"

	require.NoError(t, e.PushResource(ctx, 1, true))
	require.Len(t, api.updates, 1)

	got, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, got.Dirty)
}

func TestPushResource_FailureKeepsDirty(t *testing.T) {
	api := newFakeAPI()
	e, db := newTestEngine(t, api)
	ctx := context.Background()

	seedSynced(t, db, api, 1)
	editTitle(t, db, 1, "Edited")
	api.updateErr = fmt.Errorf("server exploded")

	err := e.PushResource(ctx, 1, true)
	require.Error(t, err)

	got, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Dirty, "record must stay dirty for retry")
}

func TestPushResource_SideDataBestEffort(t *testing.T) {
	api := newFakeAPI()
	e, db := newTestEngine(t, api)
	ctx := context.Background()

	seedSynced(t, db, api, 1)
	editTitle(t, db, 1, "Edited")
	require.NoError(t, db.ReplacePluginData(ctx, 1, "seo", map[string]string{
		"title":    `"SEO Title"`,
		"keywords": `["pasta","dinner"]`,
	}))

	require.NoError(t, e.PushResource(ctx, 1, true))

	assert.Equal(t, "SEO Title", api.seoTitles[1])
	assert.Equal(t, []string{"pasta", "dinner"}, api.seoKeywords[1])
}

func TestPushAllDirty_ConflictsLoggedNotBlocking(t *testing.T) {
	api := newFakeAPI()
	e, db := newTestEngine(t, api)
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		seedSynced(t, db, api, id)
		editTitle(t, db, id, fmt.Sprintf("Edited %d", id))
	}
	// Record 2 has a remote-side conflict.
	api.remoteModified[2] = "2024-01-02T00:00:00"

	report, err := e.PushAllDirty(ctx, false, "")
	require.NoError(t, err)

	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, int64(2), report.Conflicts[0].ID)

	// All three were pushed anyway.
	require.Len(t, report.Results, 3)
	for _, res := range report.Results {
		assert.Empty(t, res.Err, "push of %d failed: %s", res.ID, res.Err)
	}
	assert.Len(t, api.updatedIDs, 3)

	dirty, err := db.ListDirty(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, dirty)
}

func TestPushAllDirty_FailuresReportedPerRecord(t *testing.T) {
	api := newFakeAPI()
	e, db := newTestEngine(t, api)
	ctx := context.Background()

	seedSynced(t, db, api, 1)
	editTitle(t, db, 1, "Edited")
	api.updateErr = fmt.Errorf("server exploded")

	report, err := e.PushAllDirty(ctx, true, "")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Contains(t, report.Results[0].Err, "server exploded")

	got, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Dirty)
}

func TestPushAllDirty_Empty(t *testing.T) {
	api := newFakeAPI()
	e, _ := newTestEngine(t, api)

	report, err := e.PushAllDirty(context.Background(), false, "")
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Empty(t, report.Conflicts)
}

func TestCheckForConflicts_EqualTimestampsClean(t *testing.T) {
	api := newFakeAPI()
	e, db := newTestEngine(t, api)

	seedSynced(t, db, api, 1)

	conflicts, err := e.CheckForConflicts(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestBuildUpdatePayload_CoreFieldsAndMeta(t *testing.T) {
	api := newFakeAPI()
	e, db := newTestEngine(t, api)
	ctx := context.Background()

	seedSynced(t, db, api, 1)
	require.NoError(t, db.SetMetaValue(ctx, 1, "prep_time", `"30"`))
	require.NoError(t, db.SetMetaValue(ctx, 1, "_internal", `"skip me"`))

	payload, err := e.BuildUpdatePayload(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, "Hello", payload["title"])
	assert.Equal(t, "hello", payload["slug"])
	assert.Equal(t, "publish", payload["status"])

	meta, ok := payload["meta"].(map[string]any)
	require.True(t, ok, "payload has no meta map")
	// Numeric-looking strings are coerced to real numbers.
	assert.Equal(t, int64(30), meta["prep_time"])
	// Synthetic underscore fields never leave the cache.
	assert.NotContains(t, meta, "_internal")
}

func TestBuildUpdatePayload_CoercesNestedNumbers(t *testing.T) {
	api := newFakeAPI()
	e, db := newTestEngine(t, api)
	ctx := context.Background()

	seedSynced(t, db, api, 1)
	require.NoError(t, db.SetMetaValue(ctx, 1, "related",
		`[{"post_id":"12"},{"post_id":"34"}]`))

	payload, err := e.BuildUpdatePayload(ctx, 1)
	require.NoError(t, err)

	meta := payload["meta"].(map[string]any)
	related, ok := meta["related"].([]any)
	require.True(t, ok)
	first := related[0].(map[string]any)
	assert.Equal(t, int64(12), first["post_id"])
}

func TestBuildUpdatePayload_OnlyEditedTaxonomies(t *testing.T) {
	api := newFakeAPI()
	e, db := newTestEngine(t, api)
	ctx := context.Background()

	seedSynced(t, db, api, 1)
	require.NoError(t, db.ReplaceTaxonomyAssignments(ctx, 1, "category", []int64{3, 7}))

	// Taxonomy untouched: nothing taxonomy-shaped in the payload.
	payload, err := e.BuildUpdatePayload(ctx, 1)
	require.NoError(t, err)
	assert.NotContains(t, payload, "categories")

	// Mark it edited: both representations appear.
	require.NoError(t, db.MarkTaxonomyEdited(ctx, 1, "category"))
	payload, err = e.BuildUpdatePayload(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7}, payload["categories"])
	meta := payload["meta"].(map[string]any)
	assert.Equal(t, []int64{3, 7}, meta["post_categories"])
}

func TestBuildUpdatePayload_EmptyEditedTaxonomyClearsRemote(t *testing.T) {
	api := newFakeAPI()
	e, db := newTestEngine(t, api)
	ctx := context.Background()

	seedSynced(t, db, api, 1)
	require.NoError(t, db.MarkTaxonomyEdited(ctx, 1, "category"))

	payload, err := e.BuildUpdatePayload(ctx, 1)
	require.NoError(t, err)
	// Explicitly edited to nothing: an empty list is sent, not omitted.
	assert.Equal(t, []int64{}, payload["categories"])
}

func TestBuildUpdatePayload_UnknownEditedTaxonomy(t *testing.T) {
	api := newFakeAPI()
	e, db := newTestEngine(t, api)
	ctx := context.Background()

	seedSynced(t, db, api, 1)
	require.NoError(t, db.MarkTaxonomyEdited(ctx, 1, "mystery"))

	_, err := e.BuildUpdatePayload(ctx, 1)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "mystery")
}

func TestResolveFeaturedMedia_ConfirmedIDWins(t *testing.T) {
	api := newFakeAPI()
	e, _ := newTestEngine(t, api)

	r := &store.Resource{FeaturedMedia: 42, FeaturedMediaURL: "https://example.com/a.jpg"}
	assert.Equal(t, int64(42), e.resolveFeaturedMedia(context.Background(), r))
}

func TestResolveFeaturedMedia_ExactFilenameMatch(t *testing.T) {
	api := newFakeAPI()
	api.mediaResults = []*remote.Media{
		{ID: 7, SourceURL: "https://example.com/uploads/photo.jpg"},
		{ID: 8, SourceURL: "https://example.com/uploads/other.jpg"},
	}
	e, _ := newTestEngine(t, api)

	r := &store.Resource{FeaturedMediaURL: "https://example.com/uploads/photo.jpg"}
	assert.Equal(t, int64(7), e.resolveFeaturedMedia(context.Background(), r))
}

func TestResolveFeaturedMedia_SizeSuffixStripped(t *testing.T) {
	api := newFakeAPI()
	api.mediaResults = []*remote.Media{
		{ID: 7, SourceURL: "https://example.com/uploads/photo.jpg"},
		{ID: 8, SourceURL: "https://example.com/uploads/other.jpg"},
	}
	e, _ := newTestEngine(t, api)

	// A thumbnail URL resolves to the original attachment.
	r := &store.Resource{FeaturedMediaURL: "https://example.com/uploads/photo-300x200.jpg"}
	assert.Equal(t, int64(7), e.resolveFeaturedMedia(context.Background(), r))
}

func TestResolveFeaturedMedia_UniqueResultFallback(t *testing.T) {
	api := newFakeAPI()
	api.mediaResults = []*remote.Media{
		{ID: 9, SourceURL: "https://example.com/uploads/renamed-by-server.jpg"},
	}
	e, _ := newTestEngine(t, api)

	r := &store.Resource{FeaturedMediaURL: "https://example.com/uploads/photo.jpg"}
	assert.Equal(t, int64(9), e.resolveFeaturedMedia(context.Background(), r))
}

func TestResolveFeaturedMedia_AmbiguousKeepsStored(t *testing.T) {
	api := newFakeAPI()
	api.mediaResults = []*remote.Media{
		{ID: 9, SourceURL: "https://example.com/uploads/a.jpg"},
		{ID: 10, SourceURL: "https://example.com/uploads/b.jpg"},
	}
	e, _ := newTestEngine(t, api)

	r := &store.Resource{FeaturedMediaURL: "https://example.com/uploads/photo.jpg"}
	assert.Equal(t, int64(0), e.resolveFeaturedMedia(context.Background(), r))
}

func TestCoerceNumbers(t *testing.T) {
	assert.Equal(t, int64(42), coerceNumbers("42"))
	assert.Equal(t, "4.5", coerceNumbers("4.5"), "floats stay strings")
	assert.Equal(t, "banana", coerceNumbers("banana"))
	assert.Equal(t, true, coerceNumbers(true))
	assert.Equal(t,
		map[string]any{"id": int64(3), "name": "x"},
		coerceNumbers(map[string]any{"id": "3", "name": "x"}))
}
