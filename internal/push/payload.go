package push

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/presslocal/presslocal/internal/store"
)

// ValidationError reports a payload that cannot be pushed as built:
// malformed cached JSON or an edited taxonomy the profile does not know.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid push payload: " + e.Reason
}

// BuildUpdatePayload assembles the outbound update for one local record.
//
// The payload carries the core fields, non-synthetic metadata with
// numeric-looking string sub-fields coerced to real numbers (the remote
// API requires numeric references), a resolved featured-media reference,
// and taxonomy assignments for explicitly edited taxonomies only. Writing
// untouched taxonomies would wipe assignments the local cache never
// loaded.
func (e *Engine) BuildUpdatePayload(ctx context.Context, id int64) (map[string]any, error) {
	r, err := e.db.GetResource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load resource %d: %w", id, err)
	}

	payload := map[string]any{
		"title":   r.Title,
		"slug":    r.Slug,
		"status":  r.Status,
		"content": r.Content,
		"excerpt": r.Excerpt,
	}

	if mediaID := e.resolveFeaturedMedia(ctx, r); mediaID > 0 {
		payload["featured_media"] = mediaID
	}

	meta, err := e.db.GetResourceMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	outMeta := make(map[string]any)
	for field, raw := range meta {
		if isSyntheticField(field) {
			continue
		}
		outMeta[field] = coerceNumbers(store.DecodeValue(raw))
	}

	if len(r.EditedTaxonomies) > 0 {
		assignments, err := e.db.GetResourceTerms(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, taxName := range r.EditedTaxonomies {
			tax := e.cfg.TaxonomyByName(taxName)
			if tax == nil {
				return nil, &ValidationError{
					Reason: fmt.Sprintf("edited taxonomy %q is not in the profile", taxName),
				}
			}
			ids := assignments[taxName]
			if ids == nil {
				ids = []int64{}
			}
			// Both representations: the native assignment list and the
			// structured per-taxonomy field, so either consumer sees the
			// same terms.
			payload[tax.RestBase] = ids
			if tax.StructuredField != "" {
				outMeta[tax.StructuredField] = ids
			}
		}
	}

	if len(outMeta) > 0 {
		payload["meta"] = outMeta
	}

	return payload, nil
}

// isSyntheticField reports internal bookkeeping keys that must not be
// pushed. The remote convention marks them with a leading underscore.
func isSyntheticField(field string) bool {
	return strings.HasPrefix(field, "_")
}

// coerceNumbers walks a decoded metadata value and converts numeric-
// looking strings to real numbers. The remote API rejects string-typed
// references inside structured fields.
func coerceNumbers(v any) any {
	switch val := v.(type) {
	case string:
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
		return val
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = coerceNumbers(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = coerceNumbers(item)
		}
		return out
	default:
		return v
	}
}

// sizeSuffixRe matches generated thumbnail suffixes like "-300x200.jpg".
var sizeSuffixRe = regexp.MustCompile(`-\d+x\d+(\.[A-Za-z0-9]+)$`)

// resolveFeaturedMedia resolves the outbound featured-media reference.
//
// A confirmed id is used as-is. When only a raw URL is cached, the remote
// media index is searched by filename: exact match first, then a match on
// the size-suffix-stripped base, then a unique single search result.
// Anything else keeps the previously stored id.
func (e *Engine) resolveFeaturedMedia(ctx context.Context, r *store.Resource) int64 {
	if r.FeaturedMedia > 0 || r.FeaturedMediaURL == "" {
		return r.FeaturedMedia
	}

	filename := filenameFromURL(r.FeaturedMediaURL)
	if filename == "" {
		return r.FeaturedMedia
	}
	base := sizeSuffixRe.ReplaceAllString(filename, "$1")

	results, err := e.api.SearchMedia(ctx, strippedName(base))
	if err != nil {
		e.logger.Printf("WARNING: media search for %q failed: %v", base, err)
		return r.FeaturedMedia
	}

	for _, m := range results {
		if filenameFromURL(m.SourceURL) == filename {
			return m.ID
		}
	}
	for _, m := range results {
		if filenameFromURL(m.SourceURL) == base {
			return m.ID
		}
	}
	if len(results) == 1 {
		return results[0].ID
	}
	return r.FeaturedMedia
}

// filenameFromURL extracts the last path segment of a URL.
func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return path.Base(raw)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// strippedName drops the extension for the server-side search term, which
// matches attachment slugs rather than full filenames.
func strippedName(filename string) string {
	return strings.TrimSuffix(filename, path.Ext(filename))
}
