package models

import (
	"strings"
	"time"
)

// PriceCondition is the raw-card condition a market price was quoted for
type PriceCondition string

const (
	PriceConditionNM  PriceCondition = "NM"  // Near Mint
	PriceConditionLP  PriceCondition = "LP"  // Lightly Played
	PriceConditionMP  PriceCondition = "MP"  // Moderately Played
	PriceConditionHP  PriceCondition = "HP"  // Heavily Played
	PriceConditionDMG PriceCondition = "DMG" // Damaged
)

// AllPriceConditions returns all valid price conditions
func AllPriceConditions() []PriceCondition {
	return []PriceCondition{
		PriceConditionNM,
		PriceConditionLP,
		PriceConditionMP,
		PriceConditionHP,
		PriceConditionDMG,
	}
}

// NormalizeCondition maps the assorted condition spellings seen in price feeds
// and user input to a PriceCondition. Unknown or empty values return "".
func NormalizeCondition(condition string) PriceCondition {
	switch strings.ToUpper(strings.TrimSpace(condition)) {
	case "NM", "NEAR MINT", "M", "MINT":
		return PriceConditionNM
	case "LP", "LIGHTLY PLAYED", "EX", "EXCELLENT":
		return PriceConditionLP
	case "MP", "MODERATELY PLAYED", "GD", "GOOD":
		return PriceConditionMP
	case "HP", "HEAVILY PLAYED", "PL", "PLAYED":
		return PriceConditionHP
	case "DMG", "DAMAGED", "PR", "POOR":
		return PriceConditionDMG
	default:
		return ""
	}
}

// SinglePriceRow stores the latest market quote for one single card.
// Raw and graded columns are independent; zero market means "no quote".
type SinglePriceRow struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	CardID         string         `json:"card_id" gorm:"not null;uniqueIndex"`
	RawMarketCents int64          `json:"raw_market_cents"`
	RawLowCents    int64          `json:"raw_low_cents"`
	RawCondition   PriceCondition `json:"raw_condition" gorm:"default:'NM'"`
	RawTrend7      float64        `json:"raw_trend_7"`
	RawTrend30     float64        `json:"raw_trend_30"`
	RawTrend90     float64        `json:"raw_trend_90"`
	RawTrend180    float64        `json:"raw_trend_180"`
	GradedMarket   int64          `json:"graded_market_cents" gorm:"column:graded_market_cents"`
	GradedLow      int64          `json:"graded_low_cents" gorm:"column:graded_low_cents"`
	GradedMid      int64          `json:"graded_mid_cents" gorm:"column:graded_mid_cents"`
	GradedHigh     int64          `json:"graded_high_cents" gorm:"column:graded_high_cents"`
	GradedGrade    string         `json:"graded_grade"`
	GradedCompany  string         `json:"graded_company"`
	GradedTrend7   float64        `json:"graded_trend_7"`
	GradedTrend30  float64        `json:"graded_trend_30"`
	GradedTrend90  float64        `json:"graded_trend_90"`
	GradedTrend180 float64        `json:"graded_trend_180"`
	Source         string         `json:"source"`
	PriceUpdatedAt *time.Time     `json:"price_updated_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Pricing projects the stored row into the catalog pricing shape
func (r *SinglePriceRow) Pricing() SinglePricing {
	var p SinglePricing
	if r.RawMarketCents > 0 || r.RawLowCents > 0 {
		condition := r.RawCondition
		if condition == "" {
			condition = PriceConditionNM
		}
		p.Raw = &RawPrice{
			MarketCents: r.RawMarketCents,
			LowCents:    r.RawLowCents,
			Condition:   condition,
			Trends:      Trends{Day7: r.RawTrend7, Day30: r.RawTrend30, Day90: r.RawTrend90, Day180: r.RawTrend180},
		}
	}
	if r.GradedMarket > 0 || r.GradedLow > 0 || r.GradedHigh > 0 {
		p.Graded = &GradedPrice{
			MarketCents: r.GradedMarket,
			LowCents:    r.GradedLow,
			MidCents:    r.GradedMid,
			HighCents:   r.GradedHigh,
			Grade:       r.GradedGrade,
			Company:     r.GradedCompany,
			Trends:      Trends{Day7: r.GradedTrend7, Day30: r.GradedTrend30, Day90: r.GradedTrend90, Day180: r.GradedTrend180},
		}
	}
	return p
}

func (SinglePriceRow) TableName() string {
	return "single_prices"
}
