// Package service composes the arcgis client into the user-facing
// operations: folio resolution with source fallback, area zoning and
// sales queries, the municipality directory, and bulk lookups.
package service

import (
	"strconv"
	"strings"
)

// attrString reads an attribute as display text. ArcGIS attributes are
// untyped JSON, so numbers occasionally show up where text is expected
// (zip codes, years) and vice versa.
func attrString(attrs map[string]any, key string) string {
	switch v := attrs[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// attrFloat reads a numeric attribute, returning nil when the value is
// missing or not coercible. Unparseable values stay nil rather than
// becoming zero.
func attrFloat(attrs map[string]any, key string) *float64 {
	switch v := attrs[key].(type) {
	case float64:
		return &v
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
		if s == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	}
	return nil
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// escapeQuotes doubles single quotes for embedding in a where clause.
// Malformed input must not break the query; this is not a security
// boundary, the services are public and read-only.
func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
