package services

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/codyseavey/tcg-portfolio/internal/metrics"
	"github.com/codyseavey/tcg-portfolio/internal/models"
)

// DefaultHistoryDays is the time series window when none is requested
const DefaultHistoryDays = 30

// MaxHistoryDays bounds the time series window
const MaxHistoryDays = 3660

// PriceLookup returns the live per-item value for a ledger row, if known
type PriceLookup func(record *models.OrderRecord) (int64, bool)

var (
	gradedKeywords = []string{"graded", "psa", "bgs", "cgc"}
	sealedKeywords = []string{"booster", "box", "tin", "collection", "bundle", "pack"}
)

// ClassifyStatus picks the first matching rule: manual entries are custom,
// then graded, then sealed, else ungraded.
func ClassifyStatus(source string, itemType models.ItemType, name string) models.RollupStatus {
	// Keywords match whole words (plurals included), so "Tinkatink" is not a tin
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	containsAny := func(keywords []string) bool {
		return lo.ContainsBy(words, func(w string) bool {
			return lo.ContainsBy(keywords, func(k string) bool {
				return w == k || w == k+"s" || w == k+"es"
			})
		})
	}

	switch {
	case source == models.SourceManual:
		return models.StatusCustom
	case itemType == models.ItemTypeGraded || containsAny(gradedKeywords):
		return models.StatusGraded
	case itemType == models.ItemTypeSealed || containsAny(sealedKeywords):
		return models.StatusSealed
	default:
		return models.StatusUngraded
	}
}

type rollupKey struct {
	catalogItemID string
	itemType      models.ItemType
	source        string
}

// BuildAggregate folds ledger rows into per-item rollups. Held quantity is
// valued at the live price when lookup knows one, else at the market value
// recorded on purchase. Sold quantity contributes realized profit only.
func BuildAggregate(orders []models.OrderRecord, lookup PriceLookup) models.Aggregate {
	type acc struct {
		rollup   models.ItemRollup
		costHeld int64
	}

	groups := make(map[rollupKey]*acc)
	var order []rollupKey
	for i := range orders {
		o := &orders[i]
		key := rollupKey{catalogItemID: o.CatalogItemID, itemType: o.ItemType, source: o.Source}
		a, ok := groups[key]
		if !ok {
			a = &acc{rollup: models.ItemRollup{
				CatalogItemID: o.CatalogItemID,
				Name:          o.ItemName,
				ExpansionRef:  o.ExpansionRef,
				Status:        ClassifyStatus(o.Source, o.ItemType, o.ItemName),
			}}
			groups[key] = a
			order = append(order, key)
		}

		held := o.UnsoldQuantity()
		unitValue := o.MarketValueCents
		if lookup != nil {
			if live, ok := lookup(o); ok {
				unitValue = live
			}
		}
		paid := o.TotalCostCents
		if paid == 0 {
			paid = o.PricePerItemCents * int64(o.Quantity)
		}

		a.rollup.QuantityHeld += held
		a.rollup.TotalPaidCents += paid
		a.rollup.CurrentValueCents += unitValue * int64(held)
		a.costHeld += o.PricePerItemCents * int64(held)
		if o.Sold {
			soldQty := int64(o.Quantity - held)
			a.rollup.QuantitySold += int(soldQty)
			a.rollup.RealizedProfitCents += o.SellPriceCents*soldQty - o.SellFeesCents - o.PricePerItemCents*soldQty
		}
	}

	agg := models.Aggregate{
		Items:  make([]models.ItemRollup, 0, len(order)),
		Totals: models.CollectionTotals{ByStatus: make(map[models.RollupStatus]int)},
	}
	var costHeld int64
	for _, key := range order {
		a := groups[key]
		r := a.rollup
		r.ProfitCents = r.CurrentValueCents - a.costHeld + r.RealizedProfitCents
		r.ProfitPct = profitPct(r.ProfitCents, r.TotalPaidCents)
		agg.Items = append(agg.Items, r)

		costHeld += a.costHeld
		agg.Totals.QuantityHeld += r.QuantityHeld
		agg.Totals.TotalPaidCents += r.TotalPaidCents
		agg.Totals.CurrentValueCents += r.CurrentValueCents
		agg.Totals.RealizedProfitCents += r.RealizedProfitCents
		agg.Totals.ByStatus[r.Status]++
	}
	agg.Totals.Items = len(agg.Items)
	agg.Totals.ProfitCents = agg.Totals.CurrentValueCents - costHeld + agg.Totals.RealizedProfitCents
	agg.Totals.ProfitPct = profitPct(agg.Totals.ProfitCents, agg.Totals.TotalPaidCents)

	slices.SortStableFunc(agg.Items, func(a, b models.ItemRollup) int {
		if c := cmp.Compare(b.CurrentValueCents, a.CurrentValueCents); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return agg
}

// profitPct is profit as a percentage of paid, to two decimal places
func profitPct(profit, paid int64) float64 {
	if paid <= 0 {
		return 0
	}
	return decimal.NewFromInt(profit).Mul(hundred).DivRound(decimal.NewFromInt(paid), 2).InexactFloat64()
}

// BuildTimeSeries returns one point per day in [today-rangeDays+1, today].
// Each unsold purchase adds its cost basis on its purchase day and stays in
// every later point; purchases before the window count from the first day.
func BuildTimeSeries(orders []models.OrderRecord, rangeDays int, today time.Time) []models.ValueTimeSeriesPoint {
	if rangeDays < 1 {
		rangeDays = DefaultHistoryDays
	}
	rangeDays = min(rangeDays, MaxHistoryDays)

	end := truncateDay(today)
	start := end.AddDate(0, 0, -(rangeDays - 1))
	buckets := make([]int64, rangeDays)
	for i := range orders {
		o := &orders[i]
		held := o.UnsoldQuantity()
		if held == 0 {
			continue
		}
		day := truncateDay(o.PurchaseDate)
		if day.After(end) {
			continue
		}
		idx := 0
		if day.After(start) {
			idx = int(day.Sub(start).Hours() / 24)
		}
		buckets[idx] += o.PricePerItemCents * int64(held)
	}

	points := make([]models.ValueTimeSeriesPoint, rangeDays)
	var running int64
	for i := range buckets {
		running += buckets[i]
		points[i] = models.ValueTimeSeriesPoint{
			Date:                 start.AddDate(0, 0, i).Format("2006-01-02"),
			CumulativeValueCents: running,
		}
	}
	return points
}

// PriceSource resolves live prices for ledger rows
type PriceSource interface {
	Lookup(ctx context.Context, records []models.OrderRecord) (PriceLookup, error)
}

// AggregateService keeps the latest aggregate per user
type AggregateService struct {
	store  LedgerStore
	prices PriceSource
	now    func() time.Time

	mu     sync.RWMutex
	latest map[string]*models.Aggregate
}

func NewAggregateService(store LedgerStore, prices PriceSource) *AggregateService {
	return &AggregateService{
		store:  store,
		prices: prices,
		now:    time.Now,
		latest: make(map[string]*models.Aggregate),
	}
}

// Rebuild recomputes userID's aggregate from the ledger
func (s *AggregateService) Rebuild(ctx context.Context, userID string) (*models.Aggregate, error) {
	orders, err := s.store.List(ctx, models.OrderFilter{UserID: userID, IncludeSold: true})
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger for aggregate: %w", err)
	}

	var lookup PriceLookup
	if s.prices != nil {
		lookup, err = s.prices.Lookup(ctx, orders)
		if err != nil {
			log.Printf("Warning: Aggregate: live prices unavailable, using recorded values: %v", err)
			lookup = nil
		}
	}

	agg := BuildAggregate(orders, lookup)
	s.mu.Lock()
	s.latest[userID] = &agg
	totals := s.ledgerTotalsLocked()
	s.mu.Unlock()

	metrics.LedgerItemsHeld.Set(float64(totals.QuantityHeld))
	metrics.LedgerValueUSD.Set(float64(totals.CurrentValueCents) / 100)
	metrics.LedgerCostBasisUSD.Set(float64(totals.TotalPaidCents) / 100)
	return &agg, nil
}

// ledgerTotalsLocked sums the latest aggregate of every user seen so far.
// TotalPaidCents is the cost basis of held items only.
func (s *AggregateService) ledgerTotalsLocked() models.CollectionTotals {
	var t models.CollectionTotals
	for _, agg := range s.latest {
		t.QuantityHeld += agg.Totals.QuantityHeld
		t.CurrentValueCents += agg.Totals.CurrentValueCents
		t.TotalPaidCents += agg.Totals.CurrentValueCents - agg.Totals.ProfitCents + agg.Totals.RealizedProfitCents
	}
	return t
}

// Current returns the last built aggregate, building it on first use
func (s *AggregateService) Current(ctx context.Context, userID string) (*models.Aggregate, error) {
	s.mu.RLock()
	agg, ok := s.latest[userID]
	s.mu.RUnlock()
	if ok {
		return agg, nil
	}
	return s.Rebuild(ctx, userID)
}

// TimeSeries builds the cumulative value series ending today
func (s *AggregateService) TimeSeries(ctx context.Context, userID string, rangeDays int) ([]models.ValueTimeSeriesPoint, error) {
	orders, err := s.store.List(ctx, models.OrderFilter{UserID: userID, IncludeSold: true})
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger for history: %w", err)
	}
	return BuildTimeSeries(orders, rangeDays, s.now()), nil
}
