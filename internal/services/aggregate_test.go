package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codyseavey/tcg-portfolio/internal/models"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		source   string
		itemType models.ItemType
		name     string
		want     models.RollupStatus
	}{
		{models.SourceManual, models.ItemTypeSingle, "Charizard graded PSA 10", models.StatusCustom},
		{models.SourceManual, models.ItemTypeSealed, "Booster Box", models.StatusCustom},
		{models.SourceCatalog, models.ItemTypeGraded, "Charizard", models.StatusGraded},
		{models.SourceCatalog, models.ItemTypeSingle, "Pikachu BGS 9.5", models.StatusGraded},
		{models.SourceCatalog, models.ItemTypeSingle, "Graded Booster Box", models.StatusGraded},
		{models.SourceCatalog, models.ItemTypeSealed, "Elite Trainer Set", models.StatusSealed},
		{models.SourceCatalog, models.ItemTypeSingle, "Paldea Evolved Booster Bundle", models.StatusSealed},
		{models.SourceCatalog, models.ItemTypeSingle, "Mew ex", models.StatusUngraded},
		{models.SourceCatalog, models.ItemTypeSingle, "Fighting Energy", models.StatusUngraded},
		{models.SourceCatalog, models.ItemTypeSingle, "Stinky", models.StatusUngraded},
		{models.SourceCatalog, models.ItemTypeSingle, "Tinkatink", models.StatusUngraded},
		{models.SourceCatalog, models.ItemTypeSingle, "Boxing Pikachu", models.StatusUngraded},
		{models.SourceCatalog, models.ItemTypeSingle, "Collector's Pack-Sealed", models.StatusSealed},
		{models.SourceCatalog, models.ItemTypeSingle, "Crown Zenith Tins", models.StatusSealed},
		{models.SourceCatalog, models.ItemTypeSingle, "Psyduck", models.StatusUngraded},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.source, tt.itemType, tt.name); got != tt.want {
			t.Errorf("ClassifyStatus(%q, %q, %q) = %s, want %s", tt.source, tt.itemType, tt.name, got, tt.want)
		}
	}
}

func TestBuildAggregate(t *testing.T) {
	sellDate := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	orders := []models.OrderRecord{
		{ID: 1, CatalogItemID: "base1-4", ItemName: "Charizard", ItemType: models.ItemTypeSingle, Source: models.SourceCatalog,
			Quantity: 2, PricePerItemCents: 10000, TotalCostCents: 20000, MarketValueCents: 12000},
		{ID: 2, CatalogItemID: "base1-4", ItemName: "Charizard", ItemType: models.ItemTypeSingle, Source: models.SourceCatalog,
			Quantity: 1, PricePerItemCents: 14000, MarketValueCents: 12000,
			Sold: true, SellQuantity: 1, SellPriceCents: 20000, SellFeesCents: 1000, SellDate: &sellDate},
		{ID: 3, CatalogItemID: "base1-4", ItemName: "Charizard PSA 9", ItemType: models.ItemTypeGraded, Source: models.SourceCatalog,
			Quantity: 1, PricePerItemCents: 50000, TotalCostCents: 50000, MarketValueCents: 45000},
		{ID: 4, CatalogItemID: "custom-lot", ItemName: "Binder lot", ItemType: models.ItemTypeSingle, Source: models.SourceManual,
			Quantity: 1, PricePerItemCents: 3000, TotalCostCents: 3000, MarketValueCents: 3000},
	}

	live := func(o *models.OrderRecord) (int64, bool) {
		if o.CatalogItemID == "base1-4" && o.ItemType == models.ItemTypeSingle {
			return 15000, true
		}
		return 0, false
	}
	agg := BuildAggregate(orders, live)

	if len(agg.Items) != 3 {
		t.Fatalf("len(Items) = %d, want 3 (raw, graded and custom kept apart)", len(agg.Items))
	}

	graded, raw, custom := agg.Items[0], agg.Items[1], agg.Items[2]
	if graded.Status != models.StatusGraded || graded.CurrentValueCents != 45000 || graded.ProfitCents != -5000 {
		t.Errorf("graded rollup = %+v", graded)
	}
	if graded.ProfitPct != -10 {
		t.Errorf("graded ProfitPct = %v, want -10", graded.ProfitPct)
	}

	if raw.QuantityHeld != 2 || raw.QuantitySold != 1 {
		t.Errorf("raw held/sold = %d/%d, want 2/1", raw.QuantityHeld, raw.QuantitySold)
	}
	// Paid falls back to price x quantity when total cost is missing
	if raw.TotalPaidCents != 34000 {
		t.Errorf("raw TotalPaidCents = %d, want 34000", raw.TotalPaidCents)
	}
	if raw.CurrentValueCents != 30000 {
		t.Errorf("raw CurrentValueCents = %d, want 30000 (live price)", raw.CurrentValueCents)
	}
	// 20000 - 1000 fees - 14000 cost
	if raw.RealizedProfitCents != 5000 {
		t.Errorf("raw RealizedProfitCents = %d, want 5000", raw.RealizedProfitCents)
	}
	// 30000 - 20000 held cost + 5000 realized
	if raw.ProfitCents != 15000 {
		t.Errorf("raw ProfitCents = %d, want 15000", raw.ProfitCents)
	}
	if raw.ProfitPct != 44.12 {
		t.Errorf("raw ProfitPct = %v, want 44.12", raw.ProfitPct)
	}

	if custom.Status != models.StatusCustom || custom.CurrentValueCents != 3000 {
		t.Errorf("custom rollup = %+v", custom)
	}

	totals := agg.Totals
	if totals.Items != 3 || totals.QuantityHeld != 4 {
		t.Errorf("totals items/held = %d/%d, want 3/4", totals.Items, totals.QuantityHeld)
	}
	if totals.TotalPaidCents != 87000 || totals.CurrentValueCents != 78000 {
		t.Errorf("totals paid/value = %d/%d, want 87000/78000", totals.TotalPaidCents, totals.CurrentValueCents)
	}
	if totals.ProfitCents != 10000 {
		t.Errorf("totals ProfitCents = %d, want 10000", totals.ProfitCents)
	}
	wantStatus := map[models.RollupStatus]int{models.StatusGraded: 1, models.StatusUngraded: 1, models.StatusCustom: 1}
	for status, n := range wantStatus {
		if totals.ByStatus[status] != n {
			t.Errorf("ByStatus[%s] = %d, want %d", status, totals.ByStatus[status], n)
		}
	}
}

func TestBuildAggregate_Empty(t *testing.T) {
	agg := BuildAggregate(nil, nil)
	if len(agg.Items) != 0 || agg.Totals.TotalPaidCents != 0 || agg.Totals.ProfitPct != 0 {
		t.Errorf("BuildAggregate(nil) = %+v", agg)
	}
}

func TestBuildTimeSeries(t *testing.T) {
	today := time.Date(2024, 6, 7, 18, 0, 0, 0, time.UTC)
	day := func(d int) time.Time { return time.Date(2024, 6, d, 9, 0, 0, 0, time.UTC) }

	tests := []struct {
		name   string
		orders []models.OrderRecord
		days   int
		want   []int64
	}{
		{
			name:   "purchase on day three",
			orders: []models.OrderRecord{{Quantity: 1, PricePerItemCents: 2000, PurchaseDate: day(3)}},
			days:   7,
			want:   []int64{0, 0, 2000, 2000, 2000, 2000, 2000},
		},
		{
			name: "older purchases count from the first day",
			orders: []models.OrderRecord{
				{Quantity: 2, PricePerItemCents: 500, PurchaseDate: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
				{Quantity: 1, PricePerItemCents: 100, PurchaseDate: day(7)},
			},
			days: 3,
			want: []int64{1000, 1000, 1100},
		},
		{
			name: "sold and future rows are skipped",
			orders: []models.OrderRecord{
				{Quantity: 1, PricePerItemCents: 700, PurchaseDate: day(2), Sold: true, SellQuantity: 1},
				{Quantity: 3, PricePerItemCents: 100, PurchaseDate: day(2), Sold: true, SellQuantity: 1},
				{Quantity: 1, PricePerItemCents: 900, PurchaseDate: day(9)},
			},
			days: 2,
			want: []int64{200, 200},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := BuildTimeSeries(tt.orders, tt.days, today)
			if len(points) != len(tt.want) {
				t.Fatalf("len(points) = %d, want %d", len(points), len(tt.want))
			}
			for i, p := range points {
				if p.CumulativeValueCents != tt.want[i] {
					t.Errorf("points[%d] = %d, want %d", i, p.CumulativeValueCents, tt.want[i])
				}
			}
			if last := points[len(points)-1].Date; last != "2024-06-07" {
				t.Errorf("last date = %s, want 2024-06-07", last)
			}
		})
	}
}

func TestBuildTimeSeries_RangeBounds(t *testing.T) {
	today := time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC)
	if got := len(BuildTimeSeries(nil, 0, today)); got != DefaultHistoryDays {
		t.Errorf("default range = %d points, want %d", got, DefaultHistoryDays)
	}
	if got := len(BuildTimeSeries(nil, MaxHistoryDays+100, today)); got != MaxHistoryDays {
		t.Errorf("capped range = %d points, want %d", got, MaxHistoryDays)
	}
	points := BuildTimeSeries(nil, 7, today)
	if points[0].Date != "2024-06-01" {
		t.Errorf("first date = %s, want 2024-06-01", points[0].Date)
	}
}

type stubPrices struct {
	lookup PriceLookup
	err    error
}

func (s stubPrices) Lookup(context.Context, []models.OrderRecord) (PriceLookup, error) {
	return s.lookup, s.err
}

func TestAggregateService_FallsBackWhenPricesFail(t *testing.T) {
	store := NewGormLedgerStore(newTestDB(t))
	ctx := context.Background()
	_, err := store.InsertBatch(ctx, []models.OrderRecord{
		{UserID: "u1", OrderGroupID: "g1", CatalogItemID: "a", ItemName: "Mew", ItemType: models.ItemTypeSingle,
			Source: models.SourceCatalog, Quantity: 2, PricePerItemCents: 100, TotalCostCents: 200, MarketValueCents: 150},
	})
	if err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	svc := NewAggregateService(store, stubPrices{err: errors.New("price table locked")})
	agg, err := svc.Rebuild(ctx, "u1")
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if agg.Totals.CurrentValueCents != 300 {
		t.Errorf("CurrentValueCents = %d, want 300 from recorded values", agg.Totals.CurrentValueCents)
	}

	svc = NewAggregateService(store, stubPrices{lookup: func(*models.OrderRecord) (int64, bool) { return 400, true }})
	agg, _ = svc.Current(ctx, "u1")
	if agg.Totals.CurrentValueCents != 800 {
		t.Errorf("CurrentValueCents = %d, want 800 from live prices", agg.Totals.CurrentValueCents)
	}

	// Other users see nothing
	other, _ := svc.Current(ctx, "u2")
	if other.Totals.Items != 0 {
		t.Errorf("u2 Items = %d, want 0", other.Totals.Items)
	}
}

func TestAggregateService_TimeSeries(t *testing.T) {
	store := NewGormLedgerStore(newTestDB(t))
	ctx := context.Background()
	today := time.Date(2024, 6, 7, 12, 0, 0, 0, time.UTC)
	_, err := store.InsertBatch(ctx, []models.OrderRecord{
		{UserID: "u1", OrderGroupID: "g1", CatalogItemID: "a", Quantity: 1, PricePerItemCents: 2000, PurchaseDate: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)},
	})
	if err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	svc := NewAggregateService(store, nil)
	svc.now = func() time.Time { return today }
	points, err := svc.TimeSeries(ctx, "u1", 7)
	if err != nil {
		t.Fatalf("TimeSeries() error = %v", err)
	}
	want := []int64{0, 0, 2000, 2000, 2000, 2000, 2000}
	for i, p := range points {
		if p.CumulativeValueCents != want[i] {
			t.Errorf("points[%d] = %d, want %d", i, p.CumulativeValueCents, want[i])
		}
	}
}

func TestAggregateService_LedgerTotalsSpanUsers(t *testing.T) {
	store := NewGormLedgerStore(newTestDB(t))
	ctx := context.Background()
	_, err := store.InsertBatch(ctx, []models.OrderRecord{
		{UserID: "u1", OrderGroupID: "g1", CatalogItemID: "a", ItemName: "Mew", Source: models.SourceCatalog,
			Quantity: 2, PricePerItemCents: 100, TotalCostCents: 200, MarketValueCents: 150},
		{UserID: "u2", OrderGroupID: "g2", CatalogItemID: "b", ItemName: "Eevee", Source: models.SourceCatalog,
			Quantity: 1, PricePerItemCents: 400, TotalCostCents: 400, MarketValueCents: 500},
	})
	if err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	svc := NewAggregateService(store, nil)
	for _, user := range []string{"u1", "u2", "u1"} {
		if _, err := svc.Rebuild(ctx, user); err != nil {
			t.Fatalf("Rebuild(%s) error = %v", user, err)
		}
	}

	svc.mu.RLock()
	totals := svc.ledgerTotalsLocked()
	svc.mu.RUnlock()
	if totals.QuantityHeld != 3 || totals.CurrentValueCents != 800 {
		t.Errorf("ledger totals = held %d, value %d; want 3, 800", totals.QuantityHeld, totals.CurrentValueCents)
	}
}
