package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/codyseavey/tcg-portfolio/internal/models"
)

type memoryRemote struct {
	mu      sync.Mutex
	entries map[string]models.CacheEntry
	purges  int
	failGet bool
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{entries: make(map[string]models.CacheEntry)}
}

func (m *memoryRemote) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, errors.New("redis: connection refused")
	}
	entry, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *memoryRemote) Set(_ context.Context, key string, entry *models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = *entry
	return nil
}

func (m *memoryRemote) Purge(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]models.CacheEntry)
	m.purges++
	return nil
}

func TestQueryFingerprint(t *testing.T) {
	base := models.SearchQuery{
		FreeText: "Charizard",
		Filters:  models.FilterSet{models.FacetTypes: {"Fire", "Dragon"}, models.FacetRarity: {"Rare Holo"}},
	}

	tests := []struct {
		name  string
		other models.SearchQuery
		same  bool
	}{
		{
			name: "filter value order and duplicates",
			other: models.SearchQuery{
				FreeText: "  charizard ",
				Filters:  models.FilterSet{models.FacetRarity: {"Rare Holo"}, models.FacetTypes: {"Dragon", "Fire", "Fire"}},
			},
			same: true,
		},
		{
			name: "explicit defaults",
			other: models.SearchQuery{
				FreeText:  "charizard",
				ViewMode:  models.ViewSingles,
				SortBy:    models.SortName,
				SortOrder: models.SortAsc,
				Page:      1,
				PageSize:  models.DefaultPageSize,
				Filters:   models.FilterSet{models.FacetTypes: {"Fire", "Dragon"}, models.FacetRarity: {"Rare Holo"}},
			},
			same: true,
		},
		{
			name:  "different page",
			other: models.SearchQuery{FreeText: "charizard", Page: 2, Filters: base.Filters},
			same:  false,
		},
		{
			name:  "different view mode",
			other: models.SearchQuery{FreeText: "charizard", ViewMode: models.ViewSealed, Filters: base.Filters},
			same:  false,
		},
		{
			name:  "different filters",
			other: models.SearchQuery{FreeText: "charizard", Filters: models.FilterSet{models.FacetTypes: {"Fire"}}},
			same:  false,
		},
	}

	want := QueryFingerprint(base)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QueryFingerprint(tt.other)
			if (got == want) != tt.same {
				t.Errorf("fingerprints equal = %v, want %v", got == want, tt.same)
			}
		})
	}
}

func TestResultCache_RemoteTier(t *testing.T) {
	remote := newMemoryRemote()
	cache, err := NewResultCache(8, remote)
	if err != nil {
		t.Fatalf("NewResultCache() error = %v", err)
	}
	ctx := context.Background()

	cache.Set(ctx, "k", models.CacheEntry{Total: 3})
	if _, ok := remote.entries["k"]; !ok {
		t.Fatal("Set() did not write through to the remote tier")
	}

	// A fresh local tier picks entries up from the remote one
	other, _ := NewResultCache(8, remote)
	entry, ok := other.Get(ctx, "k")
	if !ok || entry.Total != 3 || entry.Key != "k" {
		t.Fatalf("Get() = %+v, %v; want Total 3 from remote", entry, ok)
	}
	if other.Len() != 1 {
		t.Errorf("Len() = %d after remote hit, want 1", other.Len())
	}

	cache.InvalidateAll(ctx)
	if cache.Len() != 0 || remote.purges != 1 {
		t.Errorf("after InvalidateAll: Len() = %d, purges = %d; want 0, 1", cache.Len(), remote.purges)
	}
	if _, ok := cache.Get(ctx, "k"); ok {
		t.Error("Get() hit after InvalidateAll")
	}
}

func TestResultCache_RemoteFailureIsMiss(t *testing.T) {
	remote := newMemoryRemote()
	remote.failGet = true
	cache, _ := NewResultCache(8, remote)

	if _, ok := cache.Get(context.Background(), "missing"); ok {
		t.Error("Get() = hit, want miss when the remote tier fails")
	}
}

func TestResultCache_Bounded(t *testing.T) {
	cache, _ := NewResultCache(2, nil)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		cache.Set(ctx, k, models.CacheEntry{})
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}
	if _, ok := cache.Get(ctx, "a"); ok {
		t.Error("oldest entry survived eviction")
	}
}

func TestResultCache_SetAtSkipsAfterPurge(t *testing.T) {
	cache, _ := NewResultCache(4, nil)
	ctx := context.Background()

	gen := cache.Generation()
	cache.InvalidateAll(ctx)
	if cache.SetAt(ctx, gen, "a", models.CacheEntry{}) {
		t.Error("SetAt() with a generation from before the purge stored the entry")
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d, want 0", cache.Len())
	}

	if !cache.SetAt(ctx, cache.Generation(), "a", models.CacheEntry{}) {
		t.Error("SetAt() with the current generation was rejected")
	}
	if _, ok := cache.Get(ctx, "a"); !ok {
		t.Error("entry stored at the current generation is missing")
	}
}
