package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/codyseavey/tcg-portfolio/internal/metrics"
	"github.com/codyseavey/tcg-portfolio/internal/models"
)

const (
	SourceSingles = "singles"
	SourceSealed  = "sealed"

	DefaultSourceTimeout = 8 * time.Second
)

// Name fragments of known mislabeled variant records
var excludedNameFragments = []string{"Code Card", "Error", "Oversized"}

var hundred = decimal.NewFromInt(100)

// SearchOptions tunes the orchestrator
type SearchOptions struct {
	SourceTimeout time.Duration
	// ConversionRate converts sealed quotes in a foreign currency to USD
	ConversionRate     decimal.Decimal
	ExcludedExpansions []string
}

// SearchService fans a query out to the catalog sources for its view mode,
// normalizes everything into CatalogItems and caches the resulting page.
type SearchService struct {
	singles  SinglesSource
	sealed   SealedSource
	cache    *ResultCache
	flight   singleflight.Group
	timeout  time.Duration
	rate     decimal.Decimal
	excluded map[string]struct{}
}

func NewSearchService(singles SinglesSource, sealed SealedSource, cache *ResultCache, opts SearchOptions) *SearchService {
	timeout := opts.SourceTimeout
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}
	rate := opts.ConversionRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	return &SearchService{
		singles:  singles,
		sealed:   sealed,
		cache:    cache,
		timeout:  timeout,
		rate:     rate,
		excluded: lo.SliceToMap(opts.ExcludedExpansions, func(id string) (string, struct{}) { return strings.ToLower(id), struct{}{} }),
	}
}

// InvalidateCache drops every cached result page
func (s *SearchService) InvalidateCache(ctx context.Context) {
	if s.cache != nil {
		s.cache.InvalidateAll(ctx)
	}
}

// SearchAll returns one page of results for q. Source failures degrade the
// result to Partial instead of failing; only a still-loading singles dataset
// is reported as an error.
func (s *SearchService) SearchAll(ctx context.Context, q models.SearchQuery) (*models.SearchResult, error) {
	q.Sanitize()

	// A whole expansion in number order has to be sorted across every row,
	// so it never comes from or goes to the page cache.
	if q.FullExpansionSort() {
		return s.searchFullExpansion(ctx, q)
	}

	key := QueryFingerprint(q)
	var gen uint64
	if s.cache != nil {
		gen = s.cache.Generation()
		if entry, ok := s.cache.Get(ctx, key); ok {
			return resultFromEntry(q, entry, true), nil
		}
	}

	// Concurrent misses on one fingerprint share a single fetch. The fetch is
	// detached from the first caller's cancellation; per-source timeouts bound it.
	// Callers arriving after a purge never join a fetch started before it.
	flightKey := fmt.Sprintf("%s:%d", key, gen)
	v, err, _ := s.flight.Do(flightKey, func() (any, error) {
		entry, err := s.fetchPage(context.WithoutCancel(ctx), q)
		if err != nil {
			return nil, err
		}
		// Partial pages are not cached so the next identical query retries the failed source
		if s.cache != nil && !entry.Partial {
			s.cache.SetAt(ctx, gen, key, *entry)
		}
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return resultFromEntry(q, *v.(*models.CacheEntry), false), nil
}

func resultFromEntry(q models.SearchQuery, entry models.CacheEntry, fromCache bool) *models.SearchResult {
	return &models.SearchResult{
		Items:       slices.Clone(entry.Items),
		Total:       entry.Total,
		Page:        q.Page,
		PageSize:    q.PageSize,
		HasMore:     models.HasMorePages(q.Page, q.PageSize, entry.Total),
		Partial:     entry.Partial,
		Unavailable: slices.Clone(entry.Unavailable),
		FromCache:   fromCache,
	}
}

func (s *SearchService) fetchPage(ctx context.Context, q models.SearchQuery) (*models.CacheEntry, error) {
	outcomes, err := s.fanOut(ctx, s.callsFor(q, sourceQueryFrom(q)))
	if err != nil {
		return nil, err
	}

	entry := &models.CacheEntry{CreatedAt: time.Now()}
	var raw []models.CatalogItem
	for _, o := range outcomes {
		if o.err != nil {
			entry.Partial = true
			entry.Unavailable = append(entry.Unavailable, o.name)
			continue
		}
		raw = append(raw, o.items...)
		entry.Total += o.total
	}

	items := s.clean(q.ViewMode.Kind(), raw)
	entry.Total -= len(raw) - len(items)
	if entry.Total < len(items) {
		entry.Total = len(items)
	}
	sortCatalogItems(items, q.SortBy, q.SortOrder)
	entry.Items = items
	return entry, nil
}

func (s *SearchService) searchFullExpansion(ctx context.Context, q models.SearchQuery) (*models.SearchResult, error) {
	sq := sourceQueryFrom(q)
	sq.Page = 1
	sq.PageSize = 0

	outcomes, err := s.fanOut(ctx, s.callsFor(q, sq))
	if err != nil {
		return nil, err
	}

	result := &models.SearchResult{Page: q.Page, PageSize: q.PageSize}
	var raw []models.CatalogItem
	for _, o := range outcomes {
		if o.err != nil {
			result.Partial = true
			result.Unavailable = append(result.Unavailable, o.name)
			continue
		}
		raw = append(raw, o.items...)
	}

	items := s.clean(q.ViewMode.Kind(), raw)
	sortCatalogItems(items, q.SortBy, q.SortOrder)

	start, end := pageBounds(q.Page, q.PageSize, len(items))
	result.Items = items[start:end]
	result.Total = len(items)
	result.HasMore = models.HasMorePages(q.Page, q.PageSize, result.Total)
	return result, nil
}

// clean drops items of the wrong kind, malformed unions and known mislabeled
// variants, then dedupes by ID keeping the first occurrence.
func (s *SearchService) clean(kind models.ItemKind, items []models.CatalogItem) []models.CatalogItem {
	kept := lo.Filter(items, func(item models.CatalogItem, _ int) bool {
		return item.Kind == kind && item.Valid() && !s.isExcluded(&item)
	})
	return lo.UniqBy(kept, func(item models.CatalogItem) string { return item.ID })
}

func (s *SearchService) isExcluded(item *models.CatalogItem) bool {
	if strings.HasSuffix(item.Name, " (Jumbo)") {
		return true
	}
	for _, frag := range excludedNameFragments {
		if strings.Contains(item.Name, frag) {
			return true
		}
	}
	_, ok := s.excluded[strings.ToLower(item.ExpansionRef)]
	return ok
}

type sourceCall struct {
	name string
	run  func(ctx context.Context) ([]models.CatalogItem, int, error)
}

type sourceOutcome struct {
	name  string
	items []models.CatalogItem
	total int
	err   error
}

// callsFor picks the sources a view mode is allowed to query
func (s *SearchService) callsFor(q models.SearchQuery, sq SourceQuery) []sourceCall {
	if q.ViewMode == models.ViewSealed {
		if s.sealed == nil {
			return nil
		}
		// Sealed products carry no facets
		sq.Filters = nil
		return []sourceCall{{name: SourceSealed, run: func(ctx context.Context) ([]models.CatalogItem, int, error) {
			page, err := s.sealed.QuerySealed(ctx, sq)
			if err != nil {
				return nil, 0, err
			}
			return lo.Map(page.Products, func(p SealedProduct, _ int) models.CatalogItem { return s.sealedItem(p) }), page.Total, nil
		}}}
	}
	if s.singles == nil {
		return nil
	}
	return []sourceCall{{name: SourceSingles, run: func(ctx context.Context) ([]models.CatalogItem, int, error) {
		page, err := s.singles.QuerySingles(ctx, sq)
		if err != nil {
			return nil, 0, err
		}
		return lo.Map(page.Cards, func(c SingleCard, _ int) models.CatalogItem { return singleItem(c) }), page.Total, nil
	}}}
}

// fanOut runs every call concurrently under its own timeout and waits for all
// of them. Failures are recorded per outcome; only ErrNotInitialized and
// cancellation of ctx itself are returned.
func (s *SearchService) fanOut(ctx context.Context, calls []sourceCall) ([]sourceOutcome, error) {
	results := make(chan sourceOutcome, len(calls))
	for _, call := range calls {
		go func() {
			callCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			start := time.Now()
			items, total, err := call.run(callCtx)
			metrics.SourceQueryDuration.WithLabelValues(call.name).Observe(time.Since(start).Seconds())

			if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				err = fmt.Errorf("%s: %w", call.name, ErrQueryTimeout)
			}
			results <- sourceOutcome{name: call.name, items: items, total: total, err: err}
		}()
	}

	outcomes := make([]sourceOutcome, 0, len(calls))
	for range calls {
		outcomes = append(outcomes, <-results)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Keep source order stable regardless of completion order
	slices.SortFunc(outcomes, func(a, b sourceOutcome) int { return cmp.Compare(a.name, b.name) })

	for i, o := range outcomes {
		if o.err == nil {
			continue
		}
		switch {
		case errors.Is(o.err, ErrNotInitialized):
			metrics.SourceFailuresTotal.WithLabelValues(o.name, "loading").Inc()
			return nil, o.err
		case errors.Is(o.err, ErrQueryTimeout):
			metrics.SourceFailuresTotal.WithLabelValues(o.name, "timeout").Inc()
			log.Printf("Warning: Search: source %s timed out after %s", o.name, s.timeout)
		default:
			metrics.SourceFailuresTotal.WithLabelValues(o.name, "unavailable").Inc()
			outcomes[i].err = fmt.Errorf("%s: %w: %v", o.name, ErrSourceUnavailable, o.err)
			log.Printf("Warning: Search: source %s unavailable: %v", o.name, o.err)
		}
	}
	return outcomes, nil
}

func singleItem(c SingleCard) models.CatalogItem {
	var pricing models.SinglePricing
	if c.Price != nil {
		pricing = c.Price.Pricing()
	}
	item := models.NewSingleItem(c.Card.ID, c.Card.Name, c.Card.SetID, c.Card.Facets(), pricing)
	item.ExpansionName = c.ExpansionName
	item.Number = c.Card.Number
	item.ReleaseDate = c.ReleaseDate
	item.ImageRef = c.Card.Images.Small
	return item
}

func (s *SearchService) sealedItem(p SealedProduct) models.CatalogItem {
	item := models.NewSealedItem(p.ID, p.Name, p.SetID, models.SealedPricing{
		MarketCents:    s.sealedCents(p.Price, p.Currency),
		SourceAmount:   p.Price,
		SourceCurrency: p.Currency,
	})
	item.ExpansionName = p.SetName
	item.ReleaseDate = p.ReleaseDate
	item.ImageRef = p.ImageURL
	return item
}

// sealedCents converts a sealed quote to USD cents, rounding half-up
func (s *SearchService) sealedCents(amount float64, currency string) int64 {
	if amount <= 0 {
		return 0
	}
	value := decimal.NewFromFloat(amount)
	if currency != "" && !strings.EqualFold(currency, "USD") {
		value = value.Mul(s.rate)
	}
	return value.Mul(hundred).Round(0).IntPart()
}

func sortCatalogItems(items []models.CatalogItem, by models.SortField, order models.SortOrder) {
	compare := func(a, b *models.CatalogItem) int {
		switch by {
		case models.SortPrice:
			return cmp.Compare(a.DisplayPrice().Cents, b.DisplayPrice().Cents)
		case models.SortNumber:
			if c := cmp.Compare(a.ExpansionRef, b.ExpansionRef); c != 0 {
				return c
			}
			return compareCardNumbers(a.Number, b.Number)
		case models.SortRelease:
			return cmp.Compare(a.ReleaseDate, b.ReleaseDate)
		default:
			return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
	}
	slices.SortStableFunc(items, func(a, b models.CatalogItem) int {
		c := compare(&a, &b)
		if order == models.SortDesc {
			c = -c
		}
		return c
	})
}

// ListExpansions returns the expansions for a view mode, newest first. An
// empty mode lists both sources.
func (s *SearchService) ListExpansions(ctx context.Context, mode models.ViewMode) ([]models.Expansion, error) {
	type expansionOutcome struct {
		name string
		sets []models.Expansion
		err  error
	}

	var calls []func(context.Context) expansionOutcome
	if mode != models.ViewSealed && s.singles != nil {
		calls = append(calls, func(ctx context.Context) expansionOutcome {
			sets, err := s.singles.Expansions(ctx)
			return expansionOutcome{SourceSingles, sets, err}
		})
	}
	if mode != models.ViewSingles && s.sealed != nil {
		calls = append(calls, func(ctx context.Context) expansionOutcome {
			sets, err := s.sealed.Expansions(ctx)
			return expansionOutcome{SourceSealed, sets, err}
		})
	}

	results := make(chan expansionOutcome, len(calls))
	for _, call := range calls {
		go func() {
			callCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			results <- call(callCtx)
		}()
	}

	byName := make(map[string]expansionOutcome, len(calls))
	for range calls {
		o := <-results
		byName[o.name] = o
	}

	// Singles first so their metadata wins on shared IDs
	var merged []models.Expansion
	var firstErr error
	failed := 0
	for _, name := range []string{SourceSingles, SourceSealed} {
		o, ok := byName[name]
		if !ok {
			continue
		}
		if o.err != nil {
			failed++
			log.Printf("Warning: Search: expansions from %s failed: %v", o.name, o.err)
			if firstErr == nil || errors.Is(o.err, ErrNotInitialized) {
				firstErr = o.err
			}
			continue
		}
		merged = append(merged, o.sets...)
	}
	if len(calls) > 0 && failed == len(calls) {
		if errors.Is(firstErr, ErrNotInitialized) {
			return nil, firstErr
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, firstErr)
	}

	merged = lo.UniqBy(merged, func(e models.Expansion) string { return e.ID })
	slices.SortFunc(merged, func(a, b models.Expansion) int {
		if c := cmp.Compare(b.ReleaseDate, a.ReleaseDate); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return merged, nil
}
