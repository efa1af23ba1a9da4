package services

import (
	"encoding/json"
	"fmt"
	"maps"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"

	"github.com/codyseavey/tcg-portfolio/internal/metrics"
	"github.com/codyseavey/tcg-portfolio/internal/models"
)

const DefaultFacetMemoSize = 64

// FacetEngine counts facet values over a result window. Counts for a facet
// ignore that facet's own selections so sibling values stay visible.
type FacetEngine struct {
	// Only Peek and Add are used, so eviction is oldest-inserted first
	memo *lru.Cache[string, map[string]int]
}

func NewFacetEngine(memoSize int) (*FacetEngine, error) {
	if memoSize <= 0 {
		memoSize = DefaultFacetMemoSize
	}
	memo, err := lru.New[string, map[string]int](memoSize)
	if err != nil {
		return nil, fmt.Errorf("facet memo: %w", err)
	}
	return &FacetEngine{memo: memo}, nil
}

func facetMemoKey(facet models.Facet, windowVersion uint64, others models.FilterSet) string {
	data, _ := json.Marshal(others.Normalized())
	return fmt.Sprintf("%s|%d|%s", facet, windowVersion, data)
}

// Counts returns value -> item count for facet over window, narrowed by every
// active filter except facet itself. windowVersion must change whenever the
// window's contents do.
func (e *FacetEngine) Counts(window []models.CatalogItem, windowVersion uint64, filters models.FilterSet, facet models.Facet) map[string]int {
	others := filters.Without(facet)
	key := facetMemoKey(facet, windowVersion, others)
	if cached, ok := e.memo.Peek(key); ok {
		metrics.FacetMemoHits.Inc()
		return maps.Clone(cached)
	}

	counts := make(map[string]int)
	for i := range window {
		item := &window[i]
		if !others.Matches(&item.Facets) {
			continue
		}
		for _, v := range lo.Uniq(facet.Values(&item.Facets)) {
			counts[v]++
		}
	}

	e.memo.Add(key, counts)
	return maps.Clone(counts)
}

// AllCounts computes Counts for every supported facet
func (e *FacetEngine) AllCounts(window []models.CatalogItem, windowVersion uint64, filters models.FilterSet) map[models.Facet]map[string]int {
	out := make(map[models.Facet]map[string]int, len(models.AllFacets()))
	for _, facet := range models.AllFacets() {
		out[facet] = e.Counts(window, windowVersion, filters, facet)
	}
	return out
}

// ApplyFilters returns the window items matching every active filter
func ApplyFilters(window []models.CatalogItem, filters models.FilterSet) []models.CatalogItem {
	return lo.Filter(window, func(item models.CatalogItem, _ int) bool {
		return filters.Matches(&item.Facets)
	})
}
