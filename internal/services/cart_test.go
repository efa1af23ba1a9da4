package services

import (
	"context"
	"errors"
	"testing"

	"github.com/codyseavey/tcg-portfolio/internal/models"
)

func TestParsePriceCents(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"89.99", 8999, false},
		{"$1,204.50", 120450, false},
		{" 12 ", 1200, false},
		{"0.005", 1, false},
		{"0.004", 0, false},
		{"19.999", 2000, false},
		{"0", 0, false},
		{"", 0, true},
		{"$", 0, true},
		{"-1.00", 0, true},
		{"twelve", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePriceCents(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePriceCents(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePriceCents(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func sealedItem(id, name string, cents int64) models.CatalogItem {
	return models.NewSealedItem(id, name, "sv1", models.SealedPricing{MarketCents: cents, SourceCurrency: "USD"})
}

func TestCart_AddAccumulates(t *testing.T) {
	cart := NewCart()
	box := sealedItem("sealed-1", "Booster Box", 8999)

	if _, err := cart.Add(box, 0); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	line, err := cart.Add(box, 2)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if line.Quantity != 3 {
		t.Errorf("Quantity = %d, want 3", line.Quantity)
	}
	if line.ItemType != models.ItemTypeSealed || line.Source != models.SourceCatalog {
		t.Errorf("line type/source = %s/%s, want sealed/catalog", line.ItemType, line.Source)
	}
	if line.MarketValueSnapshotCents != 8999 {
		t.Errorf("MarketValueSnapshotCents = %d, want 8999", line.MarketValueSnapshotCents)
	}
	if cart.Len() != 1 || cart.TotalCents() != 3*8999 {
		t.Errorf("Len() = %d, TotalCents() = %d; want 1, %d", cart.Len(), cart.TotalCents(), 3*8999)
	}

	if _, err := cart.Add(box, MaxLineQuantity); err == nil {
		t.Error("Add() past the quantity cap succeeded")
	}
	var verr *ValidationError
	if _, err := cart.Add(box, -1); !errors.As(err, &verr) {
		t.Errorf("Add(-1) error = %v, want ValidationError", err)
	}
}

func TestCart_PriceOverrides(t *testing.T) {
	cart := NewCart()
	cart.Add(sealedItem("etb-1", "Elite Trainer Box", 5499), 1)

	if err := cart.SetPrice("etb-1", "$49.99"); err != nil {
		t.Fatalf("SetPrice() error = %v", err)
	}
	if got := cart.TotalCents(); got != 4999 {
		t.Errorf("TotalCents() = %d, want 4999", got)
	}

	// Empty price falls back to the captured market value
	if err := cart.SetPrice("etb-1", " "); err != nil {
		t.Fatalf("SetPrice(\"\") error = %v", err)
	}
	if got := cart.TotalCents(); got != 5499 {
		t.Errorf("TotalCents() = %d after clearing price, want 5499", got)
	}

	var verr *ValidationError
	if err := cart.SetPrice("etb-1", "abc"); !errors.As(err, &verr) || verr.Fields[0].Field != "unit_price" {
		t.Errorf("SetPrice(abc) error = %v, want unit_price ValidationError", err)
	}
	if err := cart.SetPrice("missing", "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetPrice(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCart_LinesAreCopies(t *testing.T) {
	cart := NewCart()
	cart.Add(sealedItem("a", "Tin", 1000), 1)
	cart.SetPrice("a", "5")

	lines := cart.Lines()
	*lines[0].UnitPriceCents = 1
	lines[0].Quantity = 50

	again := cart.Lines()
	if *again[0].UnitPriceCents != 500 || again[0].Quantity != 1 {
		t.Errorf("cart mutated through Lines(): price %d, qty %d", *again[0].UnitPriceCents, again[0].Quantity)
	}
}

func TestCart_ManualLinesAndGrading(t *testing.T) {
	cart := NewCart()
	price := int64(2500)
	line, err := cart.AddLine(models.CartLine{CatalogItemID: "custom-binder", Name: "Binder lot", Quantity: 1, UnitPriceCents: &price})
	if err != nil {
		t.Fatalf("AddLine() error = %v", err)
	}
	if line.Source != models.SourceManual {
		t.Errorf("Source = %q, want manual", line.Source)
	}
	if _, err := cart.AddLine(models.CartLine{CatalogItemID: "custom-binder", Quantity: 1}); err == nil {
		t.Error("AddLine() accepted a duplicate id")
	}

	var verr *ValidationError
	if _, err := cart.AddLine(models.CartLine{Quantity: 0}); !errors.As(err, &verr) || len(verr.Fields) != 2 {
		t.Errorf("AddLine(invalid) error = %v, want two field errors", err)
	}

	cart.Add(models.NewSingleItem("base1-4", "Charizard", "base1", models.Facets{}, models.SinglePricing{}), 1)
	if err := cart.SetGrading("base1-4", "PSA", "10"); err != nil {
		t.Fatalf("SetGrading() error = %v", err)
	}
	for _, l := range cart.Lines() {
		if l.CatalogItemID == "base1-4" && l.ItemType != models.ItemTypeGraded {
			t.Errorf("graded line ItemType = %s, want graded", l.ItemType)
		}
	}

	if !cart.Remove("custom-binder") || cart.Remove("custom-binder") {
		t.Error("Remove() should succeed once")
	}
	cart.Clear()
	if cart.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", cart.Len())
	}
}

func TestCart_CommitClearsOnlyOnSuccess(t *testing.T) {
	db := newTestDB(t)
	orders := NewOrderService(NewGormLedgerStore(db), nil, nil, nil)
	ctx := context.Background()

	cart := NewCart()
	cart.Add(sealedItem("box", "Booster Box", 8999), 2)

	// No identity: the commit fails and the cart is kept
	if _, err := cart.Commit(ctx, orders, StaticIdentity(""), BatchMeta{}); !errors.Is(err, ErrIdentity) {
		t.Fatalf("Commit() error = %v, want ErrIdentity", err)
	}
	if cart.Len() != 1 {
		t.Fatalf("Len() = %d after failed commit, want 1", cart.Len())
	}

	result, err := cart.Commit(ctx, orders, StaticIdentity("user-1"), BatchMeta{Location: "Target"})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(result.Records) != 1 || result.TotalCostCents != 17998 {
		t.Errorf("Commit() = %d records, total %d; want 1, 17998", len(result.Records), result.TotalCostCents)
	}
	if cart.Len() != 0 {
		t.Errorf("Len() = %d after commit, want 0", cart.Len())
	}

	if _, err := cart.Commit(ctx, orders, StaticIdentity("user-1"), BatchMeta{}); !errors.Is(err, ErrEmptyCart) {
		t.Errorf("Commit() of empty cart error = %v, want ErrEmptyCart", err)
	}
}

// identityHook runs fn while the commit is in progress
type identityHook struct {
	user string
	fn   func()
}

func (h identityHook) CurrentUser(context.Context) (string, error) {
	h.fn()
	return h.user, nil
}

func TestCart_CommitKeepsAdditionsMadeDuringCommit(t *testing.T) {
	orders := NewOrderService(NewGormLedgerStore(newTestDB(t)), nil, nil, nil)
	ctx := context.Background()

	cart := NewCart()
	cart.Add(sealedItem("box", "Booster Box", 8999), 2)
	cart.Add(sealedItem("etb", "Elite Trainer Box", 4999), 1)

	identity := identityHook{user: "user-1", fn: func() {
		cart.Add(sealedItem("box", "Booster Box", 8999), 3)
		cart.Add(sealedItem("tin", "Collector Tin", 2499), 1)
	}}
	result, err := cart.Commit(ctx, orders, identity, BatchMeta{})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(result.Records) != 2 || result.TotalCostCents != 22997 {
		t.Errorf("Commit() = %d records, total %d; want 2, 22997", len(result.Records), result.TotalCostCents)
	}

	lines := cart.Lines()
	if len(lines) != 2 {
		t.Fatalf("cart lines = %+v, want box and tin", lines)
	}
	if lines[0].CatalogItemID != "box" || lines[0].Quantity != 3 {
		t.Errorf("lines[0] = %s x%d, want box x3", lines[0].CatalogItemID, lines[0].Quantity)
	}
	if lines[1].CatalogItemID != "tin" || lines[1].Quantity != 1 {
		t.Errorf("lines[1] = %s x%d, want tin x1", lines[1].CatalogItemID, lines[1].Quantity)
	}
}
