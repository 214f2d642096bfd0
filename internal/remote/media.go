package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// GetMedia fetches one media item by id.
func (c *Client) GetMedia(ctx context.Context, id int64) (*Media, error) {
	var m Media
	u := fmt.Sprintf("%s/%d", c.endpoint("media"), id)
	if _, err := c.do(ctx, http.MethodGet, u, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMedia fetches the full media index. For sites with large libraries
// this pages through everything once; callers cache the result per run.
func (c *Client) ListMedia(ctx context.Context) ([]*Media, error) {
	var media []*Media
	err := c.listPages(ctx, c.endpoint("media"), nil, func(data json.RawMessage) error {
		var page []*Media
		if err := json.Unmarshal(data, &page); err != nil {
			return fmt.Errorf("failed to decode media page: %w", err)
		}
		media = append(media, page...)
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return media, nil
}

// SearchMedia runs a server-side media search, typically by filename.
func (c *Client) SearchMedia(ctx context.Context, search string) ([]*Media, error) {
	query := url.Values{}
	query.Set("search", search)

	var media []*Media
	err := c.listPages(ctx, c.endpoint("media"), query, func(data json.RawMessage) error {
		var page []*Media
		if err := json.Unmarshal(data, &page); err != nil {
			return fmt.Errorf("failed to decode media search page: %w", err)
		}
		media = append(media, page...)
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return media, nil
}

// BatchRequest is one sub-request of the best-effort batch endpoint.
type BatchRequest struct {
	Method string         `json:"method"`
	Path   string         `json:"path"`
	Body   map[string]any `json:"body,omitempty"`
}

// BatchResponse is one normalized sub-response.
type BatchResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Batch sends sub-requests through the /batch/v1 endpoint and normalizes
// the response, which deployments return either as an array or as an
// object keyed by index.
//
// The endpoint's taxonomy-write fidelity is not trusted; content pushes go
// through UpdateResource one record at a time. Batch remains available for
// read-side aggregation only.
func (c *Client) Batch(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error) {
	payload := map[string]any{"requests": requests}

	var envelope struct {
		Responses json.RawMessage `json:"responses"`
	}
	u := c.baseURL + "/wp-json/batch/v1"
	if _, err := c.do(ctx, http.MethodPost, u, payload, &envelope); err != nil {
		return nil, err
	}
	return normalizeBatchResponses(envelope.Responses, len(requests))
}

// normalizeBatchResponses accepts both observed response shapes.
func normalizeBatchResponses(raw json.RawMessage, n int) ([]BatchResponse, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var asArray []BatchResponse
	if err := json.Unmarshal(raw, &asArray); err == nil {
		return asArray, nil
	}

	var asMap map[string]BatchResponse
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("failed to decode batch responses: %w", err)
	}

	out := make([]BatchResponse, 0, n)
	for i := 0; i < n; i++ {
		if resp, ok := asMap[fmt.Sprintf("%d", i)]; ok {
			out = append(out, resp)
		}
	}
	return out, nil
}
