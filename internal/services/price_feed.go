package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/codyseavey/tcg-portfolio/internal/models"
)

const (
	priceFeedDefaultTimeout = 10 * time.Second
	priceFeedDefaultLimit   = 100
	priceFeedSource         = "price_feed"
)

// ErrQuotaExhausted is returned once the daily request allowance is used up
var ErrQuotaExhausted = errors.New("price feed daily quota exhausted")

// PriceFeed fetches market quotes for single cards
type PriceFeed interface {
	FetchPrices(ctx context.Context, cardIDs []string) ([]models.SinglePriceRow, error)
	RequestsRemaining() int
}

// PriceFeedClient calls an HTTP batch price endpoint with a daily request cap
type PriceFeedClient struct {
	client     *http.Client
	apiKey     string
	baseURL    string
	dailyLimit int

	mu             sync.Mutex
	requestsToday  int
	lastRequestDay time.Time
	now            func() time.Time
}

type priceFeedRequest struct {
	CardIDs []string `json:"card_ids"`
}

type priceFeedResponse struct {
	Success bool            `json:"success"`
	Data    []priceFeedCard `json:"data"`
	Error   string          `json:"error,omitempty"`
}

type priceFeedCard struct {
	CardID string           `json:"card_id"`
	Prices []priceFeedQuote `json:"prices"`
	Graded *priceFeedGraded `json:"graded,omitempty"`
}

// priceFeedQuote is one raw condition quote
type priceFeedQuote struct {
	Condition string  `json:"condition"`
	MarketUSD float64 `json:"market_usd"`
	LowUSD    float64 `json:"low_usd"`
	Trend7    float64 `json:"trend_7d"`
	Trend30   float64 `json:"trend_30d"`
	Trend90   float64 `json:"trend_90d"`
	Trend180  float64 `json:"trend_180d"`
}

type priceFeedGraded struct {
	Company   string  `json:"company"`
	Grade     string  `json:"grade"`
	MarketUSD float64 `json:"market_usd"`
	LowUSD    float64 `json:"low_usd"`
	MidUSD    float64 `json:"mid_usd"`
	HighUSD   float64 `json:"high_usd"`
	Trend7    float64 `json:"trend_7d"`
	Trend30   float64 `json:"trend_30d"`
	Trend90   float64 `json:"trend_90d"`
	Trend180  float64 `json:"trend_180d"`
}

// NewPriceFeedClient creates a client for the feed at baseURL
func NewPriceFeedClient(baseURL, apiKey string, dailyLimit int) *PriceFeedClient {
	if dailyLimit <= 0 {
		dailyLimit = priceFeedDefaultLimit
	}
	return &PriceFeedClient{
		client:     &http.Client{Timeout: priceFeedDefaultTimeout},
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		dailyLimit: dailyLimit,
		now:        time.Now,
	}
}

// checkRateLimit reserves one request for today, returning false when none are left
func (c *PriceFeedClient) checkRateLimit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	today := truncateDay(c.now())
	if c.lastRequestDay.Before(today) {
		c.requestsToday = 0
		c.lastRequestDay = today
	}
	if c.requestsToday >= c.dailyLimit {
		return false
	}
	c.requestsToday++
	return true
}

// RequestsRemaining returns how many requests are left today
func (c *PriceFeedClient) RequestsRemaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastRequestDay.Before(truncateDay(c.now())) {
		return c.dailyLimit
	}
	return max(c.dailyLimit-c.requestsToday, 0)
}

// DailyLimit returns the configured request cap
func (c *PriceFeedClient) DailyLimit() int {
	return c.dailyLimit
}

// ResetsAt returns when the quota counter next resets
func (c *PriceFeedClient) ResetsAt() time.Time {
	return truncateDay(c.now()).AddDate(0, 0, 1)
}

// FetchPrices requests quotes for a batch of card ids. Cards the feed does not
// know are simply absent from the result.
func (c *PriceFeedClient) FetchPrices(ctx context.Context, cardIDs []string) ([]models.SinglePriceRow, error) {
	if len(cardIDs) == 0 {
		return nil, nil
	}
	if !c.checkRateLimit() {
		return nil, ErrQuotaExhausted
	}

	body, err := json.Marshal(priceFeedRequest{CardIDs: cardIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prices/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch prices: %w", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: price feed status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var feedResp priceFeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feedResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !feedResp.Success {
		if feedResp.Error != "" {
			return nil, fmt.Errorf("price feed error: %s", feedResp.Error)
		}
		return nil, fmt.Errorf("price feed returned unsuccessful response")
	}

	now := c.now()
	rows := make([]models.SinglePriceRow, 0, len(feedResp.Data))
	for _, card := range feedResp.Data {
		if row, ok := card.toRow(now); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// toRow keeps the best-condition raw quote and the graded quote, if any
func (card priceFeedCard) toRow(now time.Time) (models.SinglePriceRow, bool) {
	row := models.SinglePriceRow{
		CardID:         strings.TrimSpace(card.CardID),
		Source:         priceFeedSource,
		PriceUpdatedAt: &now,
	}
	if row.CardID == "" {
		return row, false
	}

	byCondition := make(map[models.PriceCondition]priceFeedQuote, len(card.Prices))
	for _, q := range card.Prices {
		if cond := models.NormalizeCondition(q.Condition); cond != "" && q.MarketUSD > 0 {
			byCondition[cond] = q
		}
	}
	for _, cond := range models.AllPriceConditions() {
		q, ok := byCondition[cond]
		if !ok {
			continue
		}
		row.RawCondition = cond
		row.RawMarketCents = usdToCents(q.MarketUSD)
		row.RawLowCents = usdToCents(q.LowUSD)
		row.RawTrend7, row.RawTrend30, row.RawTrend90, row.RawTrend180 = q.Trend7, q.Trend30, q.Trend90, q.Trend180
		break
	}

	if g := card.Graded; g != nil && g.MarketUSD > 0 {
		row.GradedCompany = g.Company
		row.GradedGrade = g.Grade
		row.GradedMarket = usdToCents(g.MarketUSD)
		row.GradedLow = usdToCents(g.LowUSD)
		row.GradedMid = usdToCents(g.MidUSD)
		row.GradedHigh = usdToCents(g.HighUSD)
		row.GradedTrend7, row.GradedTrend30, row.GradedTrend90, row.GradedTrend180 = g.Trend7, g.Trend30, g.Trend90, g.Trend180
	}

	return row, row.RawMarketCents > 0 || row.GradedMarket > 0
}

func usdToCents(v float64) int64 {
	if v <= 0 {
		return 0
	}
	return decimal.NewFromFloat(v).Mul(hundred).Round(0).IntPart()
}
