package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
)

// The SEO side channel is a separate plugin-provided surface: one read
// endpoint returning everything, plus several independently-optional
// write endpoints. Deployments routinely lack some of the write
// endpoints, so a 404 on write is tolerated and reported as supported=false
// rather than an error.

// seoEndpoint builds a URL under the side-channel namespace.
func (c *Client) seoEndpoint(restBase string, id int64, suffix string) string {
	u := c.baseURL + "/wp-json/presslocal-seo/v1/" + restBase
	if id > 0 {
		u += "/" + strconv.FormatInt(id, 10)
	}
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}

// GetSEO reads the full side-channel payload for one record. A 404 means
// the record has no SEO data yet; that returns an empty map, not an error.
func (c *Client) GetSEO(ctx context.Context, restBase string, id int64) (map[string]json.RawMessage, error) {
	var data map[string]json.RawMessage
	_, err := c.do(ctx, http.MethodGet, c.seoEndpoint(restBase, id, ""), nil, &data)
	if err != nil {
		if IsNotFound(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, err
	}
	if data == nil {
		data = map[string]json.RawMessage{}
	}
	return data, nil
}

// UpdateSEOTitleDescription writes the title/description pair. Returns
// supported=false when the deployment lacks the endpoint.
func (c *Client) UpdateSEOTitleDescription(ctx context.Context, restBase string, id int64, title, description string) (supported bool, err error) {
	return c.writeSEO(ctx, restBase, id, "meta", map[string]any{
		"title":       title,
		"description": description,
	})
}

// UpdateSEOKeywords writes the focus keywords list.
func (c *Client) UpdateSEOKeywords(ctx context.Context, restBase string, id int64, keywords []string) (supported bool, err error) {
	return c.writeSEO(ctx, restBase, id, "keywords", map[string]any{
		"keywords": keywords,
	})
}

// UpdateSEOSocial writes the social preview fields.
func (c *Client) UpdateSEOSocial(ctx context.Context, restBase string, id int64, fields map[string]string) (supported bool, err error) {
	payload := make(map[string]any, len(fields))
	for k, v := range fields {
		payload[k] = v
	}
	return c.writeSEO(ctx, restBase, id, "social", payload)
}

// UpdateSEORobots writes the robots directives.
func (c *Client) UpdateSEORobots(ctx context.Context, restBase string, id int64, directives map[string]bool) (supported bool, err error) {
	payload := make(map[string]any, len(directives))
	for k, v := range directives {
		payload[k] = v
	}
	return c.writeSEO(ctx, restBase, id, "robots", payload)
}

func (c *Client) writeSEO(ctx context.Context, restBase string, id int64, suffix string, payload map[string]any) (bool, error) {
	_, err := c.do(ctx, http.MethodPost, c.seoEndpoint(restBase, id, suffix), payload, nil)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return true, err
	}
	return true, nil
}
