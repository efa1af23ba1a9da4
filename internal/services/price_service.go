package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codyseavey/tcg-portfolio/internal/metrics"
	"github.com/codyseavey/tcg-portfolio/internal/models"
)

const (
	// PriceStalenessThreshold is how old a price can be before it's considered stale
	PriceStalenessThreshold = 24 * time.Hour

	priceBatchSize = 500
)

// PriceService owns the single_prices table behind the singles catalog
type PriceService struct {
	db *gorm.DB
}

// NewPriceService creates a new price service
func NewPriceService(db *gorm.DB) *PriceService {
	return &PriceService{db: db}
}

// PriceStatus summarizes the price table for the admin endpoint
type PriceStatus struct {
	Rows        int64      `json:"rows"`
	Stale       int64      `json:"stale"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// ImportPrices upserts rows keyed by card id and returns how many were written.
// The singles catalog reads prices at query time, so callers should purge the
// result cache afterwards.
func (s *PriceService) ImportPrices(ctx context.Context, rows []models.SinglePriceRow) (int, error) {
	verr := &ValidationError{}
	now := time.Now()
	for i := range rows {
		rows[i].CardID = strings.TrimSpace(rows[i].CardID)
		if rows[i].CardID == "" {
			verr.Add(fmt.Sprintf("prices[%d].card_id", i), "is required")
		}
		if rows[i].RawMarketCents < 0 || rows[i].RawLowCents < 0 || rows[i].GradedMarket < 0 || rows[i].GradedLow < 0 {
			verr.Add(fmt.Sprintf("prices[%d]", i), "prices must not be negative")
		}
		if c := models.NormalizeCondition(string(rows[i].RawCondition)); c != "" {
			rows[i].RawCondition = c
		} else {
			rows[i].RawCondition = models.PriceConditionNM
		}
		if rows[i].PriceUpdatedAt == nil {
			rows[i].PriceUpdatedAt = &now
		}
	}
	if err := verr.Err(); err != nil {
		return 0, err
	}

	// Last row wins when a card id repeats
	seen := make(map[string]struct{}, len(rows))
	unique := make([]models.SinglePriceRow, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		if _, dup := seen[rows[i].CardID]; dup {
			continue
		}
		seen[rows[i].CardID] = struct{}{}
		unique = append(unique, rows[i])
	}

	updated := 0
	for _, chunk := range lo.Chunk(unique, priceBatchSize) {
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "card_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"raw_market_cents", "raw_low_cents", "raw_condition",
				"raw_trend7", "raw_trend30", "raw_trend90", "raw_trend180",
				"graded_market_cents", "graded_low_cents", "graded_mid_cents", "graded_high_cents",
				"graded_grade", "graded_company",
				"graded_trend7", "graded_trend30", "graded_trend90", "graded_trend180",
				"source", "price_updated_at", "updated_at",
			}),
		}).Create(&chunk).Error
		if err != nil {
			return updated, fmt.Errorf("failed to upsert prices: %w", err)
		}
		updated += len(chunk)
	}

	metrics.PriceUpdatesTotal.Add(float64(updated))
	log.Printf("Prices: upserted %d single prices", updated)
	return updated, nil
}

// CurrentPrices loads stored prices for the given card ids
func (s *PriceService) CurrentPrices(ctx context.Context, cardIDs []string) (map[string]models.SinglePriceRow, error) {
	out := make(map[string]models.SinglePriceRow, len(cardIDs))
	for _, chunk := range lo.Chunk(lo.Uniq(cardIDs), priceBatchSize) {
		var rows []models.SinglePriceRow
		if err := s.db.WithContext(ctx).Where("card_id IN ?", chunk).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to load prices: %w", err)
		}
		for _, r := range rows {
			out[r.CardID] = r
		}
	}
	return out, nil
}

// Lookup values catalog singles at their stored market price. Graded rows use
// the graded quote when one exists. Sealed and manual rows are not priced.
func (s *PriceService) Lookup(ctx context.Context, records []models.OrderRecord) (PriceLookup, error) {
	ids := lo.FilterMap(records, func(r models.OrderRecord, _ int) (string, bool) {
		return r.CatalogItemID, r.Source == models.SourceCatalog && r.ItemType != models.ItemTypeSealed
	})
	if len(ids) == 0 {
		return func(*models.OrderRecord) (int64, bool) { return 0, false }, nil
	}

	prices, err := s.CurrentPrices(ctx, ids)
	if err != nil {
		return nil, err
	}
	return func(r *models.OrderRecord) (int64, bool) {
		if r.Source != models.SourceCatalog || r.ItemType == models.ItemTypeSealed {
			return 0, false
		}
		p, ok := prices[r.CatalogItemID]
		if !ok {
			return 0, false
		}
		if r.ItemType == models.ItemTypeGraded && p.GradedMarket > 0 {
			return p.GradedMarket, true
		}
		if p.RawMarketCents > 0 {
			return p.RawMarketCents, true
		}
		return 0, false
	}, nil
}

// Status counts stored and stale prices
func (s *PriceService) Status(ctx context.Context) (*PriceStatus, error) {
	db := s.db.WithContext(ctx)
	var status PriceStatus
	if err := db.Model(&models.SinglePriceRow{}).Count(&status.Rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count prices: %w", err)
	}
	cutoff := time.Now().Add(-PriceStalenessThreshold)
	if err := db.Model(&models.SinglePriceRow{}).
		Where("price_updated_at IS NULL OR price_updated_at < ?", cutoff).
		Count(&status.Stale).Error; err != nil {
		return nil, fmt.Errorf("failed to count stale prices: %w", err)
	}

	var latest models.SinglePriceRow
	if err := db.Order("price_updated_at DESC").Where("price_updated_at IS NOT NULL").Limit(1).Find(&latest).Error; err == nil && latest.PriceUpdatedAt != nil {
		status.LastUpdated = latest.PriceUpdatedAt
	}
	return &status, nil
}
