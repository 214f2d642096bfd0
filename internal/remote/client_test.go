package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "user", "pass", log.New(io.Discard, "", 0))
}

func TestListTerms_Pagination(t *testing.T) {
	pages := map[string][]map[string]any{
		"1": {{"id": 1, "name": "Mains", "slug": "mains", "taxonomy": "category"}},
		"2": {{"id": 2, "name": "Sides", "slug": "sides", "taxonomy": "category"}},
		"3": {{"id": 3, "name": "Drinks", "slug": "drinks", "taxonomy": "category"}},
	}
	var requested []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/wp-json/wp/v2/categories", r.URL.Path)
		page := r.URL.Query().Get("page")
		requested = append(requested, page)
		w.Header().Set(headerTotalPages, "3")
		json.NewEncoder(w).Encode(pages[page])
	}))

	terms, err := c.ListTerms(context.Background(), "categories")
	require.NoError(t, err)
	require.Len(t, terms, 3)
	assert.Equal(t, []string{"1", "2", "3"}, requested)
	assert.Equal(t, "Drinks", terms[2].Name)
}

func TestListResources_QueryAndAuth(t *testing.T) {
	var gotQuery map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok, "request missing basic auth")
		assert.Equal(t, "user", user)
		assert.Equal(t, "pass", pass)

		q := r.URL.Query()
		gotQuery = map[string]string{
			"context":        q.Get("context"),
			"status":         q.Get("status"),
			"modified_after": q.Get("modified_after"),
			"per_page":       q.Get("per_page"),
		}
		w.Header().Set(headerTotalPages, "1")
		fmt.Fprint(w, `[{"id": 5, "slug": "hello", "title": {"raw": "Hello"}}]`)
	}))

	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	resources, err := c.ListResources(context.Background(), "posts", ListOptions{
		Status:        "publish,draft",
		ModifiedAfter: since,
	})
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "Hello", resources[0].Title.Text())

	assert.Equal(t, "edit", gotQuery["context"])
	assert.Equal(t, "publish,draft", gotQuery["status"])
	assert.Equal(t, "2024-06-01T00:00:00Z", gotQuery["modified_after"])
	assert.Equal(t, "100", gotQuery["per_page"])
}

func TestListResources_OnPageProgress(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerTotalPages, "2")
		fmt.Fprint(w, `[{"id": 1}]`)
	}))

	var calls [][2]int
	_, err := c.ListResources(context.Background(), "posts", ListOptions{
		OnPage: func(page, totalPages int) {
			calls = append(calls, [2]int{page, totalPages})
		},
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, calls)
}

func TestListResourceIDs(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "id", q.Get("_fields"))
		assert.Equal(t, "any", q.Get("status"))
		w.Header().Set(headerTotalPages, "1")
		fmt.Fprint(w, `[{"id": 1}, {"id": 2}, {"id": 3}]`)
	}))

	ids, err := c.ListResourceIDs(context.Background(), "posts")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestDo_StatusError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"rest_forbidden"}`, http.StatusForbidden)
	}))

	_, err := c.GetResource(context.Background(), "posts", 1)
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Contains(t, se.Body, "rest_forbidden")
	assert.False(t, IsNotFound(err))
}

func TestUpdateResource_PostsPayload(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"id": 7, "modified_gmt": "2024-09-01T00:00:00", "title": {"raw": "Edited"}}`)
	}))

	updated, err := c.UpdateResource(context.Background(), "posts", 7,
		map[string]any{"title": "Edited"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/wp-json/wp/v2/posts/7", gotPath)
	assert.Equal(t, "Edited", gotBody["title"])
	assert.Equal(t, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), updated.Modified())
}

func TestResource_ExtraCapturesUnknownKeys(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id": 5,
			"title": {"raw": "Hello"},
			"categories": [3, 7],
			"terms": [{"term_id": 3}]
		}`)
	}))

	r, err := c.GetResource(context.Background(), "posts", 5)
	require.NoError(t, err)
	require.NotNil(t, r.Extra)
	assert.JSONEq(t, `[3, 7]`, string(r.Extra["categories"]))
	assert.JSONEq(t, `[{"term_id": 3}]`, string(r.Extra["terms"]))
}

func TestRenderedText_BothEncodings(t *testing.T) {
	var viaString RenderedText
	require.NoError(t, json.Unmarshal([]byte(`"plain"`), &viaString))
	assert.Equal(t, "plain", viaString.Text())

	var viaObject RenderedText
	require.NoError(t, json.Unmarshal([]byte(`{"raw":"r","rendered":"<p>r</p>"}`), &viaObject))
	assert.Equal(t, "r", viaObject.Text(), "raw wins over rendered")
}

func TestBatch_ArrayResponse(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/wp-json/batch/v1", r.URL.Path)
		fmt.Fprint(w, `{"responses": [
			{"status": 200, "body": {"id": 1}},
			{"status": 404, "body": {"code": "not_found"}}
		]}`)
	}))

	responses, err := c.Batch(context.Background(), []BatchRequest{
		{Method: "GET", Path: "/wp/v2/posts/1"},
		{Method: "GET", Path: "/wp/v2/posts/2"},
	})
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.Equal(t, 200, responses[0].Status)
	assert.Equal(t, 404, responses[1].Status)
}

func TestBatch_ObjectKeyedResponse(t *testing.T) {
	// Some deployments key the responses by index instead of using an
	// array.
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"responses": {
			"0": {"status": 200, "body": {"id": 1}},
			"1": {"status": 200, "body": {"id": 2}}
		}}`)
	}))

	responses, err := c.Batch(context.Background(), []BatchRequest{
		{Method: "GET", Path: "/wp/v2/posts/1"},
		{Method: "GET", Path: "/wp/v2/posts/2"},
	})
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.JSONEq(t, `{"id": 2}`, string(responses[1].Body))
}

func TestGetSEO_NotFoundMeansEmpty(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	data, err := c.GetSEO(context.Background(), "posts", 5)
	require.NoError(t, err)
	assert.NotNil(t, data)
	assert.Empty(t, data)
}

func TestGetSEO_ReadsPayload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/wp-json/presslocal-seo/v1/posts/5", r.URL.Path)
		fmt.Fprint(w, `{"title": "SEO Title", "keywords": ["a", "b"]}`)
	}))

	data, err := c.GetSEO(context.Background(), "posts", 5)
	require.NoError(t, err)
	assert.JSONEq(t, `"SEO Title"`, string(data["title"]))
}

func TestWriteSEO_MissingEndpointIsUnsupported(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	supported, err := c.UpdateSEOKeywords(context.Background(), "posts", 5, []string{"a"})
	require.NoError(t, err)
	assert.False(t, supported)
}

func TestWriteSEO_OtherErrorsSurface(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))

	supported, err := c.UpdateSEOTitleDescription(context.Background(), "posts", 5, "t", "d")
	require.Error(t, err)
	assert.True(t, supported)
}

func TestSearchMedia(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/wp-json/wp/v2/media", r.URL.Path)
		assert.Equal(t, "photo", r.URL.Query().Get("search"))
		w.Header().Set(headerTotalPages, "1")
		fmt.Fprint(w, `[{"id": 7, "source_url": "https://example.com/photo.jpg"}]`)
	}))

	media, err := c.SearchMedia(context.Background(), "photo")
	require.NoError(t, err)
	require.Len(t, media, 1)
	assert.Equal(t, int64(7), media[0].ID)
}
