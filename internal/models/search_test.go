package models

import (
	"reflect"
	"testing"
)

func TestSearchQuerySanitize(t *testing.T) {
	tests := []struct {
		name  string
		in    SearchQuery
		check func(t *testing.T, q SearchQuery)
	}{
		{
			name: "defaults",
			in:   SearchQuery{},
			check: func(t *testing.T, q SearchQuery) {
				if q.Page != 1 || q.PageSize != DefaultPageSize {
					t.Errorf("paging = %d/%d, want 1/%d", q.Page, q.PageSize, DefaultPageSize)
				}
				if q.ViewMode != ViewSingles || q.SortBy != SortName || q.SortOrder != SortAsc {
					t.Errorf("mode/sort = %s/%s/%s, want singles/name/asc", q.ViewMode, q.SortBy, q.SortOrder)
				}
			},
		},
		{
			name: "clamps page size",
			in:   SearchQuery{Page: -4, PageSize: 10000},
			check: func(t *testing.T, q SearchQuery) {
				if q.Page != 1 {
					t.Errorf("Page = %d, want 1", q.Page)
				}
				if q.PageSize != MaxPageSize {
					t.Errorf("PageSize = %d, want %d", q.PageSize, MaxPageSize)
				}
			},
		},
		{
			name: "unknown sort falls back to name asc",
			in:   SearchQuery{SortBy: "popularity", SortOrder: SortDesc},
			check: func(t *testing.T, q SearchQuery) {
				if q.SortBy != SortName || q.SortOrder != SortAsc {
					t.Errorf("sort = %s/%s, want name/asc", q.SortBy, q.SortOrder)
				}
			},
		},
		{
			name: "keeps valid sort",
			in:   SearchQuery{SortBy: SortPrice, SortOrder: SortDesc, ViewMode: ViewSealed},
			check: func(t *testing.T, q SearchQuery) {
				if q.SortBy != SortPrice || q.SortOrder != SortDesc || q.ViewMode != ViewSealed {
					t.Errorf("got %s/%s/%s", q.SortBy, q.SortOrder, q.ViewMode)
				}
			},
		},
		{
			name: "drops unknown facets and normalizes values",
			in: SearchQuery{Filters: FilterSet{
				FacetTypes:  {"Water", "Fire", "Water"},
				"color":     {"blue"},
				FacetArtist: {},
			}},
			check: func(t *testing.T, q SearchQuery) {
				want := FilterSet{FacetTypes: {"Fire", "Water"}}
				if !reflect.DeepEqual(q.Filters, want) {
					t.Errorf("Filters = %v, want %v", q.Filters, want)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.in
			q.Sanitize()
			tt.check(t, q)
		})
	}
}

func TestFilterSetMatches(t *testing.T) {
	charizard := &Facets{Supertype: "Pokémon", Types: []string{"Fire"}, Rarity: "Rare Holo", Weaknesses: []string{"Water"}}
	blastoise := &Facets{Supertype: "Pokémon", Types: []string{"Water"}, Rarity: "Rare Holo", Weaknesses: []string{"Lightning"}}

	tests := []struct {
		name    string
		filters FilterSet
		item    *Facets
		want    bool
	}{
		{"empty set matches", FilterSet{}, charizard, true},
		{"single facet hit", FilterSet{FacetTypes: {"Fire"}}, charizard, true},
		{"single facet miss", FilterSet{FacetTypes: {"Fire"}}, blastoise, false},
		{"values OR within facet", FilterSet{FacetTypes: {"Fire", "Water"}}, blastoise, true},
		{"facets AND together", FilterSet{FacetTypes: {"Water"}, FacetWeaknesses: {"Water"}}, blastoise, false},
		{"single valued facet", FilterSet{FacetRarity: {"Rare Holo"}}, charizard, true},
		{"facet missing on item", FilterSet{FacetArtist: {"Mitsuhiro Arita"}}, charizard, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filters.Matches(tt.item); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterSetToggle(t *testing.T) {
	fs := FilterSet{}
	fs.Toggle(FacetTypes, "Fire")
	fs.Toggle(FacetTypes, "Water")
	if got := fs[FacetTypes]; !reflect.DeepEqual(got, []string{"Fire", "Water"}) {
		t.Errorf("after two toggles = %v", got)
	}

	fs.Toggle(FacetTypes, "Fire")
	fs.Toggle(FacetTypes, "Water")
	if _, ok := fs[FacetTypes]; ok {
		t.Error("facet should be removed once its last value is toggled off")
	}
	if fs.Active() {
		t.Error("empty set should not be active")
	}
}

func TestFilterSetWithoutDoesNotMutate(t *testing.T) {
	fs := FilterSet{FacetTypes: {"Fire"}, FacetRarity: {"Common"}}
	other := fs.Without(FacetTypes)
	if _, ok := other[FacetTypes]; ok {
		t.Error("Without should drop the facet")
	}
	if _, ok := fs[FacetTypes]; !ok {
		t.Error("Without should not modify the receiver")
	}
}

func TestHasMorePages(t *testing.T) {
	tests := []struct {
		page, pageSize, total int
		want                  bool
	}{
		{1, 30, 0, false},
		{1, 30, 30, false},
		{1, 30, 31, true},
		{2, 30, 60, false},
		{2, 30, 61, true},
	}
	for _, tt := range tests {
		if got := HasMorePages(tt.page, tt.pageSize, tt.total); got != tt.want {
			t.Errorf("HasMorePages(%d, %d, %d) = %v, want %v", tt.page, tt.pageSize, tt.total, got, tt.want)
		}
	}
}
