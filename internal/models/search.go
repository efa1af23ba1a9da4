package models

import (
	"slices"
	"strings"
	"time"
)

// ViewMode selects which catalog source a query runs against
type ViewMode string

const (
	ViewSingles ViewMode = "singles"
	ViewSealed  ViewMode = "sealed"
)

// Kind returns the item kind a view mode is allowed to return
func (m ViewMode) Kind() ItemKind {
	if m == ViewSealed {
		return KindSealed
	}
	return KindSingle
}

// Facet names a filterable attribute dimension
type Facet string

const (
	FacetSupertype   Facet = "supertype"
	FacetTypes       Facet = "types"
	FacetSubtypes    Facet = "subtypes"
	FacetRarity      Facet = "rarity"
	FacetArtist      Facet = "artist"
	FacetWeaknesses  Facet = "weaknesses"
	FacetResistances Facet = "resistances"
)

// AllFacets returns every supported facet in display order
func AllFacets() []Facet {
	return []Facet{
		FacetSupertype,
		FacetTypes,
		FacetSubtypes,
		FacetRarity,
		FacetArtist,
		FacetWeaknesses,
		FacetResistances,
	}
}

// IsValid reports whether f is a known facet
func (f Facet) IsValid() bool {
	return slices.Contains(AllFacets(), f)
}

// Values returns the item's values for the facet. Single-valued facets
// return a one-element slice, or nil when empty.
func (f Facet) Values(facets *Facets) []string {
	single := func(v string) []string {
		if v == "" {
			return nil
		}
		return []string{v}
	}
	switch f {
	case FacetSupertype:
		return single(facets.Supertype)
	case FacetTypes:
		return facets.Types
	case FacetSubtypes:
		return facets.Subtypes
	case FacetRarity:
		return single(facets.Rarity)
	case FacetArtist:
		return single(facets.Artist)
	case FacetWeaknesses:
		return facets.Weaknesses
	case FacetResistances:
		return facets.Resistances
	default:
		return nil
	}
}

type SortField string

const (
	SortName    SortField = "name"
	SortPrice   SortField = "price"
	SortNumber  SortField = "number"
	SortRelease SortField = "release"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

const (
	DefaultPageSize = 30
	MaxPageSize     = 250
)

// FilterSet maps a facet to its selected values. Values behave as a set.
type FilterSet map[Facet][]string

// Clone returns a deep copy
func (fs FilterSet) Clone() FilterSet {
	out := make(FilterSet, len(fs))
	for k, v := range fs {
		out[k] = slices.Clone(v)
	}
	return out
}

// Without returns a copy with the given facet removed
func (fs FilterSet) Without(facet Facet) FilterSet {
	out := fs.Clone()
	delete(out, facet)
	return out
}

// Active reports whether any facet has a selected value
func (fs FilterSet) Active() bool {
	for _, v := range fs {
		if len(v) > 0 {
			return true
		}
	}
	return false
}

// Normalized sorts and dedupes values and drops empty facets, so equal
// selections always serialize identically.
func (fs FilterSet) Normalized() FilterSet {
	out := make(FilterSet, len(fs))
	for k, v := range fs {
		if len(v) == 0 {
			continue
		}
		vals := slices.Clone(v)
		slices.Sort(vals)
		out[k] = slices.Compact(vals)
	}
	return out
}

// Toggle adds value if absent and removes it if present
func (fs FilterSet) Toggle(facet Facet, value string) {
	vals := fs[facet]
	if i := slices.Index(vals, value); i >= 0 {
		vals = slices.Delete(vals, i, i+1)
	} else {
		vals = append(vals, value)
	}
	if len(vals) == 0 {
		delete(fs, facet)
		return
	}
	fs[facet] = vals
}

// Matches reports whether an item satisfies every facet in the set.
// Within a facet any selected value matches; facets combine with AND.
func (fs FilterSet) Matches(facets *Facets) bool {
	for facet, selected := range fs {
		if len(selected) == 0 {
			continue
		}
		values := facet.Values(facets)
		hit := false
		for _, v := range values {
			if slices.Contains(selected, v) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// SearchQuery fully determines a result page
type SearchQuery struct {
	FreeText    string    `json:"q" form:"q"`
	ExpansionID string    `json:"expansion_id,omitempty" form:"expansion_id"`
	ViewMode    ViewMode  `json:"view_mode" form:"mode"`
	Filters     FilterSet `json:"filters,omitempty" form:"-"`
	SortBy      SortField `json:"sort_by" form:"sort"`
	SortOrder   SortOrder `json:"sort_order" form:"order"`
	Page        int       `json:"page" form:"page"`
	PageSize    int       `json:"page_size" form:"page_size"`
}

// Sanitize clamps paging and fills defaults in place
func (q *SearchQuery) Sanitize() {
	q.FreeText = strings.TrimSpace(q.FreeText)
	q.ExpansionID = strings.TrimSpace(q.ExpansionID)
	if q.ViewMode != ViewSealed {
		q.ViewMode = ViewSingles
	}
	switch q.SortBy {
	case SortName, SortPrice, SortNumber, SortRelease:
	default:
		q.SortBy = SortName
		q.SortOrder = SortAsc
	}
	if q.SortOrder != SortDesc {
		q.SortOrder = SortAsc
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	if q.Filters != nil {
		valid := make(FilterSet, len(q.Filters))
		for k, v := range q.Filters {
			if k.IsValid() {
				valid[k] = v
			}
		}
		q.Filters = valid.Normalized()
	}
}

// FullExpansionSort reports whether the query asks for an entire expansion in
// card-number order. That ordering needs every row, not a single page.
func (q *SearchQuery) FullExpansionSort() bool {
	return q.SortBy == SortNumber && q.ExpansionID != ""
}

// SearchResult is one page of unified catalog results
type SearchResult struct {
	Items       []CatalogItem `json:"items"`
	Total       int           `json:"total"`
	Page        int           `json:"page"`
	PageSize    int           `json:"page_size"`
	HasMore     bool          `json:"has_more"`
	Partial     bool          `json:"partial"`
	Unavailable []string      `json:"unavailable,omitempty"`
	FromCache   bool          `json:"from_cache"`
}

// HasMorePages is the single definition of "another page exists"
func HasMorePages(page, pageSize, total int) bool {
	return page*pageSize < total
}

// CacheEntry is a cached result set for one query fingerprint
type CacheEntry struct {
	Key         string        `json:"key"`
	Items       []CatalogItem `json:"items"`
	Total       int           `json:"total"`
	Partial     bool          `json:"partial"`
	Unavailable []string      `json:"unavailable,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
