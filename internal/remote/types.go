package remote

import (
	"encoding/json"
	"time"
)

// RenderedText is a text field as the remote API ships it: either a plain
// string or an object carrying "rendered" and, with edit context, "raw".
// Raw is preferred when present since it round-trips through updates.
type RenderedText struct {
	Raw      string
	Rendered string
}

// Text returns the best available representation.
func (r RenderedText) Text() string {
	if r.Raw != "" {
		return r.Raw
	}
	return r.Rendered
}

// UnmarshalJSON accepts both the string and the object encoding.
func (r *RenderedText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.Rendered = s
		return nil
	}
	var obj struct {
		Raw      string `json:"raw"`
		Rendered string `json:"rendered"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.Raw = obj.Raw
	r.Rendered = obj.Rendered
	return nil
}

// MarshalJSON writes the object encoding.
func (r RenderedText) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Raw      string `json:"raw,omitempty"`
		Rendered string `json:"rendered,omitempty"`
	}{Raw: r.Raw, Rendered: r.Rendered})
}

// Resource is one remote content record.
//
// Beyond the typed core fields, Extra retains the full decoded object so
// callers can read deployment-specific keys: native per-taxonomy arrays
// live at the taxonomy's rest base ("categories": [3,7]) and the legacy
// combined terms array at "terms".
type Resource struct {
	ID            int64                      `json:"id"`
	DateGMT       string                     `json:"date_gmt"`
	ModifiedGMT   string                     `json:"modified_gmt"`
	Slug          string                     `json:"slug"`
	Status        string                     `json:"status"`
	Title         RenderedText               `json:"title"`
	Content       RenderedText               `json:"content"`
	Excerpt       RenderedText               `json:"excerpt"`
	FeaturedMedia int64                      `json:"featured_media"`
	Meta          map[string]json.RawMessage `json:"meta"`

	Extra map[string]json.RawMessage `json:"-"`
}

// resourceAlias avoids recursing into Resource.UnmarshalJSON.
type resourceAlias Resource

// UnmarshalJSON decodes the typed fields and captures the raw object.
func (r *Resource) UnmarshalJSON(data []byte) error {
	var alias resourceAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var extra map[string]json.RawMessage
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	*r = Resource(alias)
	r.Extra = extra
	return nil
}

// Created parses the remote creation timestamp.
func (r *Resource) Created() time.Time {
	return parseRemoteTime(r.DateGMT)
}

// Modified parses the remote modification timestamp.
func (r *Resource) Modified() time.Time {
	return parseRemoteTime(r.ModifiedGMT)
}

// parseRemoteTime handles the API's timestamp formats: RFC3339 with or
// without the zone suffix. Unparseable values map to the zero time.
func parseRemoteTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Term is one remote taxonomy term.
type Term struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Taxonomy string `json:"taxonomy"`
	Parent   int64  `json:"parent"`
}

// Media is one remote media library item.
type Media struct {
	ID        int64        `json:"id"`
	SourceURL string       `json:"source_url"`
	Slug      string       `json:"slug"`
	Title     RenderedText `json:"title"`
}
