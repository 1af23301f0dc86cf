// Package store implements the metadata registries (users, tables, buckets,
// files, functions, webhooks, system config) over the per-request database
// connection. Sort columns are always taken from per-entity allowlists and
// never interpolated from raw caller input.
package store

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/selfdb-io/selfdb/internal/httpx"
)

// searchTermRE limits search input to printable ASCII so ILIKE patterns stay
// sane and logs stay readable.
var searchTermRE = regexp.MustCompile(`^[\x20-\x7E]*$`)

// ValidateSearchTerm rejects non-printable-ASCII search input.
func ValidateSearchTerm(term string) error {
	if !searchTermRE.MatchString(term) {
		return httpx.BadRequest("Search term contains invalid characters")
	}
	return nil
}

// ListOptions is the shared pagination/search/sort shape.
type ListOptions struct {
	Skip      int
	Limit     int
	Search    string
	SortBy    string
	SortOrder string
}

// Normalize validates options against an entity's sortable-column allowlist
// and clamps the limit. defaultSort must be a key of sortable.
func (o *ListOptions) Normalize(maxLimit int, sortable map[string]bool, defaultSort string) error {
	if err := ValidateSearchTerm(o.Search); err != nil {
		return err
	}
	if o.Skip < 0 {
		return httpx.Validation("skip must be >= 0")
	}
	if o.Limit <= 0 {
		o.Limit = maxLimit
	}
	if o.Limit > maxLimit {
		return httpx.Validation(fmt.Sprintf("limit must be <= %d", maxLimit))
	}
	if o.SortBy == "" {
		o.SortBy = defaultSort
	}
	if !sortable[o.SortBy] {
		return httpx.Validation(fmt.Sprintf("sort_by must be one of: %s", joinKeys(sortable)))
	}
	switch strings.ToLower(o.SortOrder) {
	case "":
		o.SortOrder = "desc"
	case "asc", "desc":
		o.SortOrder = strings.ToLower(o.SortOrder)
	default:
		return httpx.Validation("sort_order must be asc or desc")
	}
	return nil
}

// OrderClause renders "ORDER BY col dir NULLS LAST" for a normalized option
// set. NULLS LAST keeps nullable sort columns from front-loading empty rows.
func (o *ListOptions) OrderClause() string {
	dir := "ASC"
	if o.SortOrder == "desc" {
		dir = "DESC"
	}
	return fmt.Sprintf(`ORDER BY %q %s NULLS LAST`, o.SortBy, dir)
}

// LikePattern wraps the search term for ILIKE matching.
func (o *ListOptions) LikePattern() string {
	return "%" + o.Search + "%"
}

func joinKeys(m map[string]bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Order is stable enough for an error message; sort for determinism.
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return strings.Join(keys, ", ")
}
