// Package terms normalizes the heterogeneous taxonomy-value shapes seen in
// remote record metadata into canonical term-id lists.
//
// Custom-fields plugins, the native REST arrays, and hand-edited imports
// all encode "which terms is this record assigned" differently. Everything
// funnels through one parser here instead of shape-sniffing at call sites.
package terms

import (
	"encoding/json"
	"strconv"
)

// ResolveValue parses a raw taxonomy value into a canonical term-id list.
//
// Accepted shapes:
//   - array of objects carrying "id" or "term_id"
//   - array of numbers or numeric strings
//   - a bare number or numeric string
//   - a single object carrying "id" or "term_id"
//
// Unresolvable array entries are silently dropped; any other shape yields
// an empty list. The result is never nil.
func ResolveValue(raw json.RawMessage) []int64 {
	ids := []int64{}
	if len(raw) == 0 {
		return ids
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ids
	}

	switch val := v.(type) {
	case []any:
		for _, item := range val {
			if id, ok := resolveScalar(item); ok {
				ids = append(ids, id)
			}
		}
	case map[string]any:
		if id, ok := resolveObject(val); ok {
			ids = append(ids, id)
		}
	default:
		if id, ok := resolveScalar(v); ok {
			ids = append(ids, id)
		}
	}

	return ids
}

// ResolveAssignment resolves the term assignment of one taxonomy from
// record metadata.
//
// If the structured per-taxonomy field is present in meta at all, it wins,
// even when its value is empty: an explicit empty value means "no terms
// assigned" and overrides the legacy combined array. The legacy value is
// only consulted when the structured field is entirely absent. This
// asymmetry is deliberate.
func ResolveAssignment(meta map[string]json.RawMessage, structuredField string, legacy json.RawMessage) []int64 {
	if structuredField != "" {
		if raw, ok := meta[structuredField]; ok {
			return ResolveValue(raw)
		}
	}
	return ResolveValue(legacy)
}

// resolveScalar maps a single decoded JSON value to a term id.
// Objects are delegated to resolveObject.
func resolveScalar(v any) (int64, bool) {
	switch val := v.(type) {
	case float64:
		return int64(val), true
	case string:
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n, true
		}
	case map[string]any:
		return resolveObject(val)
	}
	return 0, false
}

// resolveObject extracts the id from an object shape. "term_id" is the
// custom-fields spelling and is preferred over plain "id".
func resolveObject(obj map[string]any) (int64, bool) {
	for _, key := range []string{"term_id", "id"} {
		if raw, ok := obj[key]; ok {
			switch val := raw.(type) {
			case float64:
				return int64(val), true
			case string:
				if n, err := strconv.ParseInt(val, 10, 64); err == nil {
					return n, true
				}
			}
		}
	}
	return 0, false
}
