// Package remote is the REST client for the remote content-management API.
//
// All list operations page through results using the API's total-count
// headers; every call takes a context and authentication is HTTP basic
// with an application password. Non-2xx responses surface as *StatusError.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// defaultPerPage is the page size for list requests. 100 is the API's
// documented maximum.
const defaultPerPage = 100

// headerTotalPages is the response header carrying the page count.
const headerTotalPages = "X-WP-TotalPages"

// StatusError reports a non-2xx response from the remote API.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("remote returned %d for %s: %s", e.StatusCode, e.URL, body)
}

// IsNotFound reports whether err is a 404 from the remote API.
func IsNotFound(err error) bool {
	var se *StatusError
	return asStatusError(err, &se) && se.StatusCode == http.StatusNotFound
}

func asStatusError(err error, target **StatusError) bool {
	for err != nil {
		if se, ok := err.(*StatusError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Client talks to one remote site.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *log.Logger
}

// New creates a client for the given site root (without the /wp-json
// suffix). If logger is nil, a default logger writing to stderr is used.
func New(siteURL, username, appPassword string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		baseURL:    strings.TrimRight(siteURL, "/"),
		username:   username,
		password:   appPassword,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// endpoint builds a full URL under /wp-json/wp/v2/.
func (c *Client) endpoint(path string) string {
	return c.baseURL + "/wp-json/wp/v2/" + strings.TrimLeft(path, "/")
}

// do issues one request and decodes the JSON response body into out
// (unless out is nil). The response headers are returned for pagination.
func (c *Client) do(ctx context.Context, method, rawURL string, body, out any) (http.Header, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", rawURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: rawURL, Body: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
		}
	}
	return resp.Header, nil
}

// listPages pages through a collection endpoint, appending each page's
// decoded body via collect. onPage, when non-nil, is told about progress
// after each page.
func (c *Client) listPages(ctx context.Context, rawURL string, query url.Values, collect func(data json.RawMessage) error, onPage func(page, totalPages int)) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("per_page", strconv.Itoa(defaultPerPage))

	totalPages := 1
	for page := 1; page <= totalPages; page++ {
		query.Set("page", strconv.Itoa(page))

		var raw json.RawMessage
		headers, err := c.do(ctx, http.MethodGet, rawURL+"?"+query.Encode(), nil, &raw)
		if err != nil {
			return err
		}

		if tp := headers.Get(headerTotalPages); tp != "" {
			if n, err := strconv.Atoi(tp); err == nil && n > 0 {
				totalPages = n
			}
		}

		if err := collect(raw); err != nil {
			return err
		}
		if onPage != nil {
			onPage(page, totalPages)
		}
	}
	return nil
}

// ListTerms fetches every page of one taxonomy.
func (c *Client) ListTerms(ctx context.Context, restBase string) ([]*Term, error) {
	var terms []*Term
	err := c.listPages(ctx, c.endpoint(restBase), nil, func(data json.RawMessage) error {
		var page []*Term
		if err := json.Unmarshal(data, &page); err != nil {
			return fmt.Errorf("failed to decode %s page: %w", restBase, err)
		}
		terms = append(terms, page...)
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return terms, nil
}

// ListOptions filters a resource listing.
type ListOptions struct {
	// Status filters server-side, e.g. "publish,draft". Empty means the
	// API default.
	Status string

	// ModifiedAfter filters to records modified since the given time
	// (incremental sync). Zero means no filter.
	ModifiedAfter time.Time

	// OnPage reports pagination progress.
	OnPage func(page, totalPages int)
}

// ListResources fetches every page of one content type in edit context,
// so raw field values are available for round-tripping.
func (c *Client) ListResources(ctx context.Context, restBase string, opts ListOptions) ([]*Resource, error) {
	query := url.Values{}
	query.Set("context", "edit")
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if !opts.ModifiedAfter.IsZero() {
		query.Set("modified_after", opts.ModifiedAfter.UTC().Format(time.RFC3339))
	}

	var resources []*Resource
	err := c.listPages(ctx, c.endpoint(restBase), query, func(data json.RawMessage) error {
		var page []*Resource
		if err := json.Unmarshal(data, &page); err != nil {
			return fmt.Errorf("failed to decode %s page: %w", restBase, err)
		}
		resources = append(resources, page...)
		return nil
	}, opts.OnPage)
	if err != nil {
		return nil, err
	}
	return resources, nil
}

// ListResourceIDs fetches only the ids of every remote record of one
// content type. Used for deletion diffing: an id absent here no longer
// exists remotely.
func (c *Client) ListResourceIDs(ctx context.Context, restBase string) ([]int64, error) {
	query := url.Values{}
	query.Set("_fields", "id")
	query.Set("status", "any")

	var ids []int64
	err := c.listPages(ctx, c.endpoint(restBase), query, func(data json.RawMessage) error {
		var page []struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return fmt.Errorf("failed to decode %s id page: %w", restBase, err)
		}
		for _, item := range page {
			ids = append(ids, item.ID)
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetResource fetches one record by id in edit context.
func (c *Client) GetResource(ctx context.Context, restBase string, id int64) (*Resource, error) {
	var r Resource
	u := fmt.Sprintf("%s/%d?context=edit", c.endpoint(restBase), id)
	if _, err := c.do(ctx, http.MethodGet, u, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateResource sends an update payload for one record. The API accepts
// POST for updates.
func (c *Client) UpdateResource(ctx context.Context, restBase string, id int64, payload map[string]any) (*Resource, error) {
	var r Resource
	u := fmt.Sprintf("%s/%d", c.endpoint(restBase), id)
	if _, err := c.do(ctx, http.MethodPost, u, payload, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateResource creates a new record.
func (c *Client) CreateResource(ctx context.Context, restBase string, payload map[string]any) (*Resource, error) {
	var r Resource
	if _, err := c.do(ctx, http.MethodPost, c.endpoint(restBase), payload, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
