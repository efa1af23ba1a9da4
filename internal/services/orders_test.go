package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/codyseavey/tcg-portfolio/internal/events"
	"github.com/codyseavey/tcg-portfolio/internal/models"
)

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) InvalidateCache(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}

type orderFixture struct {
	orders     *OrderService
	store      *GormLedgerStore
	aggregates *AggregateService
	cache      *countingInvalidator
	recorder   *events.Recorder
}

func newOrderFixture(t *testing.T) orderFixture {
	t.Helper()
	store := NewGormLedgerStore(newTestDB(t))
	aggregates := NewAggregateService(store, nil)
	cache := &countingInvalidator{}
	recorder := &events.Recorder{}
	return orderFixture{
		orders:     NewOrderService(store, cache, aggregates, recorder),
		store:      store,
		aggregates: aggregates,
		cache:      cache,
		recorder:   recorder,
	}
}

func cents(v int64) *int64 { return &v }

func TestOrderService_CommitBatch(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	date := time.Date(2024, 1, 5, 15, 30, 0, 0, time.UTC)

	result, err := f.orders.Commit(ctx, StaticIdentity("user-1"), models.OrderBatch{
		Date:     date,
		Location: " Target ",
		Lines: []models.CartLine{
			{CatalogItemID: "sv1-booster-box", Name: "Booster Box", Quantity: 2, UnitPriceCents: cents(8999), ItemType: models.ItemTypeSealed},
			{CatalogItemID: "sv1-etb", Name: "Elite Trainer Box", Quantity: 1, UnitPriceCents: cents(4999), ItemType: models.ItemTypeSealed},
		},
	})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if len(result.Records) != 2 {
		t.Fatalf("len(Records) = %d, want 2", len(result.Records))
	}
	if result.TotalCostCents != 22997 {
		t.Errorf("TotalCostCents = %d, want 22997", result.TotalCostCents)
	}
	for i, r := range result.Records {
		if r.OrderGroupID != result.OrderGroupID {
			t.Errorf("record %d group = %s, want %s", i, r.OrderGroupID, result.OrderGroupID)
		}
		if r.OrderNumber != int64(i+1) {
			t.Errorf("record %d OrderNumber = %d, want %d", i, r.OrderNumber, i+1)
		}
		if r.Location != "Target" {
			t.Errorf("record %d Location = %q, want Target", i, r.Location)
		}
		if !r.PurchaseDate.Equal(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("record %d PurchaseDate = %s, want 2024-01-05", i, r.PurchaseDate)
		}
		if r.UserID != "user-1" {
			t.Errorf("record %d UserID = %q", i, r.UserID)
		}
	}
	if got := result.Records[0].TotalCostCents; got != 17998 {
		t.Errorf("booster box TotalCostCents = %d, want 17998", got)
	}

	wantTopics := []events.Topic{events.TopicCommitSucceeded, events.TopicAggregateUpdated}
	if got := f.recorder.Topics(); !slices.Equal(got, wantTopics) {
		t.Errorf("events = %v, want %v", got, wantTopics)
	}
	if f.cache.calls != 1 {
		t.Errorf("cache invalidations = %d, want 1", f.cache.calls)
	}

	agg, err := f.aggregates.Current(ctx, "user-1")
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if agg.Totals.TotalPaidCents != 22997 || agg.Totals.QuantityHeld != 3 {
		t.Errorf("aggregate paid = %d, held = %d; want 22997, 3", agg.Totals.TotalPaidCents, agg.Totals.QuantityHeld)
	}
}

func TestOrderService_OrderNumbersContinueAcrossBatches(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	identity := StaticIdentity("user-1")

	var numbers []int64
	for batch := range 3 {
		lines := make([]models.CartLine, batch+1)
		for i := range lines {
			lines[i] = models.CartLine{CatalogItemID: fmt.Sprintf("card-%d-%d", batch, i), Quantity: 1, MarketValueSnapshotCents: 100}
		}
		result, err := f.orders.Commit(ctx, identity, models.OrderBatch{Lines: lines})
		if err != nil {
			t.Fatalf("Commit() batch %d error = %v", batch, err)
		}
		for _, r := range result.Records {
			numbers = append(numbers, r.OrderNumber)
		}
	}

	want := []int64{1, 2, 3, 4, 5, 6}
	if !slices.Equal(numbers, want) {
		t.Errorf("order numbers = %v, want %v", numbers, want)
	}
}

func TestOrderService_ConcurrentCommitsGetDistinctNumbers(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.Commit(ctx, StaticIdentity("user-1"), models.OrderBatch{Lines: []models.CartLine{
				{CatalogItemID: fmt.Sprintf("a-%d", i), Quantity: 1},
				{CatalogItemID: fmt.Sprintf("b-%d", i), Quantity: 1},
			}})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	}

	records, err := f.store.List(ctx, models.OrderFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 16 {
		t.Fatalf("len(records) = %d, want 16", len(records))
	}
	byGroup := make(map[string][]int64)
	for i, r := range records {
		if r.OrderNumber != int64(i+1) {
			t.Errorf("records[%d].OrderNumber = %d, want %d", i, r.OrderNumber, i+1)
		}
		byGroup[r.OrderGroupID] = append(byGroup[r.OrderGroupID], r.OrderNumber)
	}
	for group, nums := range byGroup {
		if len(nums) != 2 || nums[1] != nums[0]+1 {
			t.Errorf("group %s numbers = %v, want two consecutive", group, nums)
		}
	}
}

func TestOrderService_CommitFailures(t *testing.T) {
	tests := []struct {
		name     string
		identity IdentityProvider
		batch    models.OrderBatch
		wantErr  error
		fields   int
	}{
		{
			name:     "no identity",
			identity: StaticIdentity(""),
			batch:    models.OrderBatch{Lines: []models.CartLine{{CatalogItemID: "a", Quantity: 1}}},
			wantErr:  ErrIdentity,
		},
		{
			name:     "empty batch",
			identity: StaticIdentity("user-1"),
			batch:    models.OrderBatch{},
			wantErr:  ErrEmptyCart,
		},
		{
			name:     "invalid lines",
			identity: StaticIdentity("user-1"),
			batch: models.OrderBatch{Lines: []models.CartLine{
				{CatalogItemID: "ok", Quantity: 1},
				{CatalogItemID: "", Quantity: 0},
				{CatalogItemID: "neg", Quantity: 1, UnitPriceCents: cents(-5)},
			}},
			fields: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrderFixture(t)
			_, err := f.orders.Commit(context.Background(), tt.identity, tt.batch)
			if err == nil {
				t.Fatal("Commit() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Commit() error = %v, want %v", err, tt.wantErr)
			}
			if tt.fields > 0 {
				var verr *ValidationError
				if !errors.As(err, &verr) || len(verr.Fields) != tt.fields {
					t.Errorf("Commit() error = %v, want %d field errors", err, tt.fields)
				}
			}

			if got := f.recorder.Topics(); !slices.Equal(got, []events.Topic{events.TopicCommitFailed}) {
				t.Errorf("events = %v, want [commit_failed]", got)
			}
			records, _ := f.store.List(context.Background(), models.OrderFilter{UserID: "user-1", IncludeSold: true})
			if len(records) != 0 {
				t.Errorf("%d records persisted after failed commit", len(records))
			}
		})
	}
}

func TestOrderService_DeleteRestoresTotals(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	identity := StaticIdentity("user-1")

	before, err := f.aggregates.Rebuild(ctx, "user-1")
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	result, err := f.orders.Commit(ctx, identity, models.OrderBatch{Lines: []models.CartLine{
		{CatalogItemID: "a", Quantity: 3, UnitPriceCents: cents(1000)},
		{CatalogItemID: "b", Quantity: 1, UnitPriceCents: cents(250)},
	}})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	n, err := f.orders.DeleteGroup(ctx, identity, result.OrderGroupID)
	if err != nil || n != 2 {
		t.Fatalf("DeleteGroup() = %d, %v; want 2, nil", n, err)
	}
	after, _ := f.aggregates.Current(ctx, "user-1")
	if after.Totals.TotalPaidCents != before.Totals.TotalPaidCents || after.Totals.QuantityHeld != before.Totals.QuantityHeld {
		t.Errorf("totals after delete = %+v, want %+v", after.Totals, before.Totals)
	}

	if _, err := f.orders.DeleteGroup(ctx, identity, result.OrderGroupID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteGroup() error = %v, want ErrNotFound", err)
	}
}

func TestOrderService_DeleteIsScopedToUser(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	result, err := f.orders.Commit(ctx, StaticIdentity("user-1"), models.OrderBatch{Lines: []models.CartLine{{CatalogItemID: "a", Quantity: 1}}})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	id := result.Records[0].ID

	if err := f.orders.Delete(ctx, StaticIdentity("user-2"), id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() by another user error = %v, want ErrNotFound", err)
	}
	if err := f.orders.Delete(ctx, StaticIdentity("user-1"), id); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
}

func TestOrderService_MarkSold(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	identity := StaticIdentity("user-1")

	result, err := f.orders.Commit(ctx, identity, models.OrderBatch{Lines: []models.CartLine{
		{CatalogItemID: "a", Name: "Charizard", Quantity: 4, UnitPriceCents: cents(1000), MarketValueSnapshotCents: 1500},
	}})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	id := result.Records[0].ID

	var verr *ValidationError
	if _, err := f.orders.MarkSold(ctx, identity, id, models.SellRequest{Quantity: 5}); !errors.As(err, &verr) {
		t.Errorf("MarkSold(qty 5 of 4) error = %v, want ValidationError", err)
	}
	if _, err := f.orders.MarkSold(ctx, identity, id, models.SellRequest{SellPriceCents: -1}); !errors.As(err, &verr) {
		t.Errorf("MarkSold(negative price) error = %v, want ValidationError", err)
	}

	sold, err := f.orders.MarkSold(ctx, identity, id, models.SellRequest{SellPriceCents: 2000, Quantity: 1, FeesCents: 300})
	if err != nil {
		t.Fatalf("MarkSold() error = %v", err)
	}
	if !sold.Sold || sold.SellQuantity != 1 || sold.SellDate == nil {
		t.Errorf("MarkSold() = %+v", sold)
	}

	// Partially sold rows stay in the default listing
	held, _ := f.orders.List(ctx, identity, models.OrderFilter{})
	if len(held) != 1 || held[0].UnsoldQuantity() != 3 {
		t.Errorf("List() = %d rows, want 1 with 3 unsold", len(held))
	}

	if _, err := f.orders.MarkSold(ctx, identity, id, models.SellRequest{SellPriceCents: 2000}); !errors.As(err, &verr) {
		t.Errorf("second MarkSold() error = %v, want ValidationError", err)
	}
	if _, err := f.orders.MarkSold(ctx, identity, 9999, models.SellRequest{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkSold(missing) error = %v, want ErrNotFound", err)
	}

	agg, _ := f.aggregates.Current(ctx, "user-1")
	// 2000 - 300 fees - 1000 cost
	if agg.Totals.RealizedProfitCents != 700 {
		t.Errorf("RealizedProfitCents = %d, want 700", agg.Totals.RealizedProfitCents)
	}
	if agg.Totals.QuantityHeld != 3 || agg.Totals.CurrentValueCents != 4500 {
		t.Errorf("held = %d, value = %d; want 3, 4500", agg.Totals.QuantityHeld, agg.Totals.CurrentValueCents)
	}
}

func TestContextIdentity(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		fallback string
		want     string
		wantErr  bool
	}{
		{"from context", WithUser(context.Background(), "alice"), "default", "alice", false},
		{"fallback", context.Background(), "default", "default", false},
		{"empty context value", WithUser(context.Background(), ""), "default", "default", false},
		{"nothing", context.Background(), "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ContextIdentity{Fallback: tt.fallback}.CurrentUser(tt.ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CurrentUser() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("CurrentUser() = %q, want %q", got, tt.want)
			}
		})
	}
}

type brokenIdentity struct{}

func (brokenIdentity) CurrentUser(context.Context) (string, error) {
	return "", errors.New("token expired")
}

func TestResolveUserWrapsProviderErrors(t *testing.T) {
	if _, err := resolveUser(context.Background(), brokenIdentity{}); !errors.Is(err, ErrIdentity) {
		t.Errorf("resolveUser() error = %v, want ErrIdentity", err)
	}
	if _, err := resolveUser(context.Background(), nil); !errors.Is(err, ErrIdentity) {
		t.Errorf("resolveUser(nil) error = %v, want ErrIdentity", err)
	}
}

func TestReconcileGroup(t *testing.T) {
	rows := func(numbers ...int64) []models.OrderRecord {
		out := make([]models.OrderRecord, len(numbers))
		for i, n := range numbers {
			out[i].OrderNumber = n
		}
		return out
	}

	tests := []struct {
		name      string
		want      int
		maxNumber int64
		persisted []models.OrderRecord
		wantErr   bool
	}{
		{"consecutive", 3, 10, rows(11, 12, 13), false},
		{"missing row", 3, 10, rows(11, 12), true},
		{"gap", 2, 10, rows(11, 13), true},
		{"wrong start", 2, 10, rows(12, 13), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reconcileGroup("g", tt.want, tt.maxNumber, tt.persisted)
			if (err != nil) != tt.wantErr {
				t.Fatalf("reconcileGroup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConflictOnCommit) {
				t.Errorf("reconcileGroup() error = %v, want ErrConflictOnCommit", err)
			}
		})
	}
}

func TestGormLedgerStore_DuplicateOrderNumberIsConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.Create(&models.OrderRecord{UserID: "u", OrderGroupID: "old", OrderNumber: 7, CatalogItemID: "x"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := db.WithContext(ctx).Create(&models.OrderRecord{UserID: "u", OrderGroupID: "new", OrderNumber: 7, CatalogItemID: "y"}).Error
	if err == nil || !isUniqueViolation(err) {
		t.Errorf("duplicate insert error = %v, want unique violation", err)
	}
}
