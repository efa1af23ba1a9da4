package models

import (
	"time"
)

// RollupStatus classifies a held item
type RollupStatus string

const (
	StatusCustom   RollupStatus = "custom"
	StatusGraded   RollupStatus = "graded"
	StatusSealed   RollupStatus = "sealed"
	StatusUngraded RollupStatus = "ungraded"
)

// ItemRollup aggregates every ledger row for one catalog item
type ItemRollup struct {
	CatalogItemID       string       `json:"catalog_item_id"`
	Name                string       `json:"name"`
	ExpansionRef        string       `json:"expansion_ref"`
	QuantityHeld        int          `json:"quantity_held"`
	QuantitySold        int          `json:"quantity_sold"`
	TotalPaidCents      int64        `json:"total_paid_cents"`
	CurrentValueCents   int64        `json:"current_value_cents"`
	RealizedProfitCents int64        `json:"realized_profit_cents"`
	ProfitCents         int64        `json:"profit_cents"`
	ProfitPct           float64      `json:"profit_pct"`
	Status              RollupStatus `json:"status"`
}

// CollectionTotals sums every rollup
type CollectionTotals struct {
	Items               int                  `json:"items"`
	QuantityHeld        int                  `json:"quantity_held"`
	TotalPaidCents      int64                `json:"total_paid_cents"`
	CurrentValueCents   int64                `json:"current_value_cents"`
	RealizedProfitCents int64                `json:"realized_profit_cents"`
	ProfitCents         int64                `json:"profit_cents"`
	ProfitPct           float64              `json:"profit_pct"`
	ByStatus            map[RollupStatus]int `json:"by_status"`
}

// Aggregate is the folded ledger view
type Aggregate struct {
	Items  []ItemRollup     `json:"items"`
	Totals CollectionTotals `json:"totals"`
}

// ValueTimeSeriesPoint is the cumulative cost basis of unsold holdings on a day
type ValueTimeSeriesPoint struct {
	Date                 string `json:"date"`
	CumulativeValueCents int64  `json:"cumulative_value_cents"`
}

// CollectionValueSnapshot stores daily portfolio value for historical tracking
type CollectionValueSnapshot struct {
	ID                  uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID              string    `json:"user_id" gorm:"uniqueIndex:idx_snapshot_user_date;not null"`
	SnapshotDate        time.Time `json:"snapshot_date" gorm:"uniqueIndex:idx_snapshot_user_date;not null"`
	TotalItems          int       `json:"total_items"`
	QuantityHeld        int       `json:"quantity_held"`
	TotalPaidCents      int64     `json:"total_paid_cents"`
	CurrentValueCents   int64     `json:"current_value_cents"`
	RealizedProfitCents int64     `json:"realized_profit_cents"`
	CreatedAt           time.Time `json:"created_at"`
}

// ValueHistoryResponse is the API response for value history
type ValueHistoryResponse struct {
	Snapshots []CollectionValueSnapshot `json:"snapshots"`
	Period    string                    `json:"period"` // "week", "month", "3month", "year", "all"
}
