package services

import (
	"context"
	"errors"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/codyseavey/tcg-portfolio/internal/metrics"
	"github.com/codyseavey/tcg-portfolio/internal/models"
)

const (
	// defaultBatchSize is the number of cards sent per feed request
	defaultBatchSize = 100

	maxUnmatchedCards = 200
)

// UnmatchedCard is a ledger card the price feed returned no quote for
type UnmatchedCard struct {
	CardID string    `json:"card_id"`
	Name   string    `json:"name"`
	SeenAt time.Time `json:"seen_at"`
}

// PriceWorker refreshes single prices for cards held in the ledger
type PriceWorker struct {
	db             *gorm.DB
	prices         *PriceService
	feed           PriceFeed
	cache          CacheInvalidator
	updateInterval time.Duration
	batchSize      int
	mu             sync.RWMutex

	// Priority queue for user-requested refreshes
	urgentQueue []string
	urgentMu    sync.Mutex

	// Stats (reset at midnight UTC)
	cardsUpdatedToday int
	lastUpdateTime    time.Time
	lastStatsDay      time.Time

	unmatchedCards []UnmatchedCard
}

// PriceWorkerStatus is reported by the admin price endpoint
type PriceWorkerStatus struct {
	LastUpdateTime    time.Time `json:"last_update_time"`
	NextUpdateTime    time.Time `json:"next_update_time"`
	CardsUpdatedToday int       `json:"cards_updated_today"`
	BatchSize         int       `json:"batch_size"`
	QueueSize         int       `json:"queue_size"`
	Remaining         int       `json:"remaining"`

	UnmatchedCards []UnmatchedCard `json:"unmatched_cards,omitempty"`
}

// NewPriceWorker creates a worker that polls feed every interval
func NewPriceWorker(db *gorm.DB, prices *PriceService, feed PriceFeed, cache CacheInvalidator, interval time.Duration, batchSize int) *PriceWorker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &PriceWorker{
		db:             db,
		prices:         prices,
		feed:           feed,
		cache:          cache,
		updateInterval: interval,
		batchSize:      batchSize,
	}
}

// QueueRefresh adds a card to the high-priority queue and returns its 1-indexed position
func (w *PriceWorker) QueueRefresh(cardID string) int {
	w.urgentMu.Lock()
	defer w.urgentMu.Unlock()

	if i := slices.Index(w.urgentQueue, cardID); i >= 0 {
		return i + 1
	}
	w.urgentQueue = append(w.urgentQueue, cardID)
	metrics.PriceQueueSize.Set(float64(len(w.urgentQueue)))
	log.Printf("Price worker: queued refresh for card %s (queue size: %d)", cardID, len(w.urgentQueue))
	return len(w.urgentQueue)
}

// QueueSize returns the current urgent queue length
func (w *PriceWorker) QueueSize() int {
	w.urgentMu.Lock()
	defer w.urgentMu.Unlock()
	return len(w.urgentQueue)
}

func (w *PriceWorker) resetDailyStatsIfNeeded() {
	w.mu.Lock()
	defer w.mu.Unlock()

	today := truncateDay(time.Now())
	if w.lastStatsDay.Before(today) {
		if !w.lastStatsDay.IsZero() {
			log.Printf("Price worker: daily stats reset (previous day: %d cards updated)", w.cardsUpdatedToday)
		}
		w.cardsUpdatedToday = 0
		w.lastStatsDay = today
	}
}

// Start runs a batch immediately and then on every tick until ctx is cancelled
func (w *PriceWorker) Start(ctx context.Context) {
	log.Printf("Price worker started: will update %d cards every %v", w.batchSize, w.updateInterval)

	if updated, err := w.UpdateBatch(ctx); err != nil {
		log.Printf("Price worker: initial batch update failed: %v", err)
	} else {
		log.Printf("Price worker: initial batch updated %d cards", updated)
	}

	ticker := time.NewTicker(w.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Price worker stopping...")
			return
		case <-ticker.C:
			if updated, err := w.UpdateBatch(ctx); err != nil {
				log.Printf("Price worker: batch update failed: %v", err)
			} else if updated > 0 {
				log.Printf("Price worker: batch updated %d cards", updated)
			}
		}
	}
}

// UpdateBatch refreshes one batch of cards in priority order:
// 1. User-requested refreshes
// 2. Ledger cards without a stored price
// 3. Ledger cards with the oldest prices
func (w *PriceWorker) UpdateBatch(ctx context.Context) (int, error) {
	w.resetDailyStatsIfNeeded()

	remaining := w.feed.RequestsRemaining()
	metrics.PriceFeedQuotaRemaining.Set(float64(remaining))
	if remaining <= 0 {
		log.Println("Price worker: price feed quota exhausted, skipping batch")
		return 0, nil
	}

	urgent := w.takeUrgent()
	cardIDs, err := w.selectCards(ctx, urgent)
	if err != nil {
		w.requeue(urgent)
		return 0, err
	}
	if len(cardIDs) == 0 {
		log.Println("Price worker: no cards to update")
		return 0, nil
	}

	start := time.Now()
	rows, err := w.feed.FetchPrices(ctx, cardIDs)
	if err != nil {
		w.requeue(urgent)
		if errors.Is(err, ErrQuotaExhausted) {
			log.Println("Price worker: price feed quota exhausted mid-batch")
			return 0, nil
		}
		return 0, err
	}

	updated := 0
	if len(rows) > 0 {
		updated, err = w.prices.ImportPrices(ctx, rows)
		if err != nil {
			return updated, err
		}
		if w.cache != nil {
			w.cache.InvalidateCache(ctx)
		}
	}

	quoted := lo.SliceToMap(rows, func(r models.SinglePriceRow) (string, struct{}) { return r.CardID, struct{}{} })
	missing := lo.Filter(cardIDs, func(id string, _ int) bool {
		_, ok := quoted[id]
		return !ok
	})
	w.recordUnmatched(ctx, missing)

	w.mu.Lock()
	w.unmatchedCards = slices.DeleteFunc(w.unmatchedCards, func(c UnmatchedCard) bool {
		_, ok := quoted[c.CardID]
		return ok
	})
	w.cardsUpdatedToday += updated
	w.lastUpdateTime = time.Now()
	w.mu.Unlock()

	metrics.PriceQueueSize.Set(float64(w.QueueSize()))
	metrics.PriceBatchDuration.Observe(time.Since(start).Seconds())
	metrics.PriceFeedQuotaRemaining.Set(float64(w.feed.RequestsRemaining()))

	log.Printf("Price worker: batch updated %d card prices (%d without a quote)", updated, len(missing))
	return updated, nil
}

func (w *PriceWorker) takeUrgent() []string {
	w.urgentMu.Lock()
	defer w.urgentMu.Unlock()

	n := min(len(w.urgentQueue), w.batchSize)
	urgent := slices.Clone(w.urgentQueue[:n])
	w.urgentQueue = w.urgentQueue[n:]
	return urgent
}

// requeue puts urgent ids back at the front after a failed batch
func (w *PriceWorker) requeue(ids []string) {
	if len(ids) == 0 {
		return
	}
	w.urgentMu.Lock()
	defer w.urgentMu.Unlock()
	w.urgentQueue = append(slices.Clone(ids), lo.Without(w.urgentQueue, ids...)...)
}

// heldCards is the set of catalog singles referenced by the ledger
func (w *PriceWorker) heldCards(ctx context.Context) *gorm.DB {
	return w.db.WithContext(ctx).Model(&models.OrderRecord{}).
		Select("catalog_item_id").
		Where("source = ? AND item_type <> ?", models.SourceCatalog, models.ItemTypeSealed)
}

func (w *PriceWorker) selectCards(ctx context.Context, urgent []string) ([]string, error) {
	cardIDs := slices.Clone(urgent)
	if len(urgent) > 0 {
		log.Printf("Price worker: processing %d urgent refresh requests", len(urgent))
	}

	w.mu.RLock()
	skip := lo.Map(w.unmatchedCards, func(c UnmatchedCard, _ int) string { return c.CardID })
	w.mu.RUnlock()

	if remaining := w.batchSize - len(cardIDs); remaining > 0 {
		var noPrice []string
		q := w.heldCards(ctx).Distinct("catalog_item_id").
			Where("catalog_item_id NOT IN (?)", w.db.Model(&models.SinglePriceRow{}).Select("card_id"))
		if exclude := append(slices.Clone(cardIDs), skip...); len(exclude) > 0 {
			q = q.Where("catalog_item_id NOT IN ?", exclude)
		}
		if err := q.Limit(remaining).Pluck("catalog_item_id", &noPrice).Error; err != nil {
			return nil, err
		}
		cardIDs = append(cardIDs, noPrice...)
	}

	if remaining := w.batchSize - len(cardIDs); remaining > 0 {
		var oldest []string
		q := w.db.WithContext(ctx).Model(&models.SinglePriceRow{}).
			Where("card_id IN (?)", w.heldCards(ctx))
		if len(cardIDs) > 0 {
			q = q.Where("card_id NOT IN ?", cardIDs)
		}
		if err := q.Order("price_updated_at ASC").Limit(remaining).Pluck("card_id", &oldest).Error; err != nil {
			return nil, err
		}
		cardIDs = append(cardIDs, oldest...)
	}

	return lo.Uniq(cardIDs), nil
}

func (w *PriceWorker) recordUnmatched(ctx context.Context, cardIDs []string) {
	if len(cardIDs) == 0 {
		return
	}
	var named []struct {
		CatalogItemID string
		ItemName      string
	}
	w.db.WithContext(ctx).Model(&models.OrderRecord{}).
		Select("catalog_item_id, MAX(item_name) AS item_name").
		Where("catalog_item_id IN ?", cardIDs).
		Group("catalog_item_id").
		Scan(&named)
	names := make(map[string]string, len(named))
	for _, n := range named {
		names[n.CatalogItemID] = n.ItemName
	}

	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range cardIDs {
		if lo.ContainsBy(w.unmatchedCards, func(c UnmatchedCard) bool { return c.CardID == id }) {
			continue
		}
		w.unmatchedCards = append(w.unmatchedCards, UnmatchedCard{CardID: id, Name: names[id], SeenAt: now})
	}
	if over := len(w.unmatchedCards) - maxUnmatchedCards; over > 0 {
		w.unmatchedCards = w.unmatchedCards[over:]
	}
}

// Status returns the worker's current status
func (w *PriceWorker) Status() PriceWorkerStatus {
	queueSize := w.QueueSize()

	w.mu.RLock()
	defer w.mu.RUnlock()
	return PriceWorkerStatus{
		LastUpdateTime:    w.lastUpdateTime,
		NextUpdateTime:    w.lastUpdateTime.Add(w.updateInterval),
		CardsUpdatedToday: w.cardsUpdatedToday,
		BatchSize:         w.batchSize,
		QueueSize:         queueSize,
		Remaining:         w.feed.RequestsRemaining(),
		UnmatchedCards:    slices.Clone(w.unmatchedCards),
	}
}

// ClearUnmatchedCard lets a card be retried by the background batches
func (w *PriceWorker) ClearUnmatchedCard(cardID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unmatchedCards = slices.DeleteFunc(w.unmatchedCards, func(c UnmatchedCard) bool { return c.CardID == cardID })
}
