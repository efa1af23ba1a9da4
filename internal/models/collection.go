package models

import (
	"time"
)

// Condition is the collector-facing card condition recorded on a purchase
type Condition string

const (
	ConditionMint      Condition = "M"
	ConditionNearMint  Condition = "NM"
	ConditionExcellent Condition = "EX"
	ConditionGood      Condition = "GD"
	ConditionLightPlay Condition = "LP"
	ConditionPlayed    Condition = "PL"
	ConditionPoor      Condition = "PR"
)

// ItemType is what kind of thing a ledger row holds
type ItemType string

const (
	ItemTypeSingle ItemType = "single"
	ItemTypeGraded ItemType = "graded"
	ItemTypeSealed ItemType = "sealed"
)

// Valid reports whether t is a known item type
func (t ItemType) Valid() bool {
	return t == ItemTypeSingle || t == ItemTypeGraded || t == ItemTypeSealed
}

// ItemTypeForKind is the default ledger item type for a catalog kind
func ItemTypeForKind(kind ItemKind) ItemType {
	if kind == KindSealed {
		return ItemTypeSealed
	}
	return ItemTypeSingle
}

const (
	SourceCatalog = "catalog"
	SourceManual  = "manual"
)

// OrderRecord is one persisted purchase row. Rows committed together share
// OrderGroupID; OrderNumber is unique across the ledger.
type OrderRecord struct {
	ID                uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID            string     `json:"user_id" gorm:"not null;index"`
	OrderGroupID      string     `json:"order_group_id" gorm:"not null;index"`
	OrderNumber       int64      `json:"order_number" gorm:"not null;uniqueIndex"`
	CatalogItemID     string     `json:"catalog_item_id" gorm:"not null;index"`
	ItemName          string     `json:"item_name"`
	ExpansionRef      string     `json:"expansion_ref"`
	ItemType          ItemType   `json:"item_type" gorm:"default:'single'"`
	Source            string     `json:"source" gorm:"default:'catalog'"`
	Quantity          int        `json:"quantity" gorm:"default:1"`
	PricePerItemCents int64      `json:"price_per_item_cents"`
	TotalCostCents    int64      `json:"total_cost_cents"`
	MarketValueCents  int64      `json:"market_value_cents"`
	Condition         Condition  `json:"condition,omitempty"`
	GradingCompany    string     `json:"grading_company,omitempty"`
	GradingGrade      string     `json:"grading_grade,omitempty"`
	PurchaseDate      time.Time  `json:"purchase_date" gorm:"index"`
	Location          string     `json:"location"`
	Notes             string     `json:"notes"`
	Sold              bool       `json:"sold" gorm:"default:false"`
	SellDate          *time.Time `json:"sell_date,omitempty"`
	SellPriceCents    int64      `json:"sell_price_cents"`
	SellQuantity      int        `json:"sell_quantity"`
	SellLocation      string     `json:"sell_location,omitempty"`
	SellFeesCents     int64      `json:"sell_fees_cents"`
	SellNotes         string     `json:"sell_notes,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// UnsoldQuantity is the quantity still held
func (o *OrderRecord) UnsoldQuantity() int {
	if !o.Sold {
		return o.Quantity
	}
	if held := o.Quantity - o.SellQuantity; held > 0 {
		return held
	}
	return 0
}

// GradingInfo describes a slabbed card
type GradingInfo struct {
	Company string `json:"company"`
	Grade   string `json:"grade"`
}

// CartLine is one pending selection in a cart
type CartLine struct {
	CatalogItemID            string    `json:"catalog_item_id"`
	Name                     string    `json:"name"`
	ExpansionRef             string    `json:"expansion_ref"`
	Quantity                 int       `json:"quantity"`
	UnitPriceCents           *int64    `json:"unit_price_cents,omitempty"`
	MarketValueSnapshotCents int64     `json:"market_value_snapshot_cents"`
	ItemType                 ItemType  `json:"item_type"`
	Source                   string    `json:"source"`
	Condition                Condition `json:"condition,omitempty"`
	GradingCompany           string    `json:"grading_company,omitempty"`
	GradingGrade             string    `json:"grading_grade,omitempty"`
}

// ResolvedPriceCents is the user price when set, else the captured market value
func (l *CartLine) ResolvedPriceCents() int64 {
	if l.UnitPriceCents != nil {
		return *l.UnitPriceCents
	}
	return l.MarketValueSnapshotCents
}

// OrderBatch is a cart committed at one date and place
type OrderBatch struct {
	Date     time.Time  `json:"date"`
	Location string     `json:"location"`
	Notes    string     `json:"notes"`
	Lines    []CartLine `json:"lines"`
}

// CommitResult is the persisted outcome of a batch commit
type CommitResult struct {
	OrderGroupID   string        `json:"order_group_id"`
	Records        []OrderRecord `json:"records"`
	TotalCostCents int64         `json:"total_cost_cents"`
}

// SellRequest marks part or all of a ledger row as sold
type SellRequest struct {
	SellDate       time.Time `json:"sell_date"`
	SellPriceCents int64     `json:"sell_price_cents"`
	Quantity       int       `json:"quantity"`
	Location       string    `json:"location"`
	FeesCents      int64     `json:"fees_cents"`
	Notes          string    `json:"notes"`
}

// OrderFilter narrows ledger listings
type OrderFilter struct {
	UserID       string
	OrderGroupID string
	ItemType     ItemType
	IncludeSold  bool
}
