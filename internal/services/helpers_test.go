package services

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/codyseavey/tcg-portfolio/internal/database"
	"github.com/codyseavey/tcg-portfolio/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), false)
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// fakeSingles serves cards from memory, applying text, expansion and facet
// filters the way the dataset catalog does
type fakeSingles struct {
	cards []SingleCard
	sets  []models.Expansion
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeSingles) QuerySingles(ctx context.Context, q SourceQuery) (*SinglesPage, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	var matches []SingleCard
	for _, c := range f.cards {
		if q.ExpansionID != "" && c.Card.SetID != q.ExpansionID {
			continue
		}
		if q.FreeText != "" && !strings.Contains(strings.ToLower(c.Card.Name), strings.ToLower(q.FreeText)) {
			continue
		}
		facets := c.Card.Facets()
		if !q.Filters.Matches(&facets) {
			continue
		}
		matches = append(matches, c)
	}
	start, end := pageBounds(q.Page, q.PageSize, len(matches))
	return &SinglesPage{Cards: matches[start:end], Total: len(matches)}, nil
}

func (f *fakeSingles) Expansions(context.Context) ([]models.Expansion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sets, nil
}

type fakeSealed struct {
	products []SealedProduct
	sets     []models.Expansion
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeSealed) QuerySealed(ctx context.Context, q SourceQuery) (*SealedPage, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	var matches []SealedProduct
	for _, p := range f.products {
		if q.ExpansionID != "" && p.SetID != q.ExpansionID {
			continue
		}
		if q.FreeText != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(q.FreeText)) {
			continue
		}
		matches = append(matches, p)
	}
	start, end := pageBounds(q.Page, q.PageSize, len(matches))
	return &SealedPage{Products: matches[start:end], Total: len(matches)}, nil
}

func (f *fakeSealed) Expansions(context.Context) ([]models.Expansion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sets, nil
}

func testCard(id, name, setID, number string) SingleCard {
	return SingleCard{
		Card: LocalPokemonCard{
			ID:        id,
			Name:      name,
			SetID:     setID,
			Number:    number,
			Supertype: "Pokémon",
			Rarity:    "Common",
		},
		ExpansionName: setID,
	}
}

func pricedCard(id, name string, marketCents int64) SingleCard {
	c := testCard(id, name, "sv1", "1")
	c.Price = &models.SinglePriceRow{CardID: id, RawMarketCents: marketCents}
	return c
}

func newTestSearch(t *testing.T, singles SinglesSource, sealed SealedSource, opts SearchOptions) *SearchService {
	t.Helper()
	cache, err := NewResultCache(64, nil)
	if err != nil {
		t.Fatalf("NewResultCache() error = %v", err)
	}
	return NewSearchService(singles, sealed, cache, opts)
}

func itemIDs(items []models.CatalogItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}
