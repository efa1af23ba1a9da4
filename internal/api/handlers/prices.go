package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/tcg-portfolio/internal/models"
	"github.com/codyseavey/tcg-portfolio/internal/services"
)

type PriceHandler struct {
	prices      *services.PriceService
	priceWorker *services.PriceWorker
	cache       services.CacheInvalidator
}

// NewPriceHandler creates the admin price handler. priceWorker may be nil
// when no price feed is configured.
func NewPriceHandler(prices *services.PriceService, priceWorker *services.PriceWorker, cache services.CacheInvalidator) *PriceHandler {
	return &PriceHandler{
		prices:      prices,
		priceWorker: priceWorker,
		cache:       cache,
	}
}

type importPricesRequest struct {
	Prices []models.SinglePriceRow `json:"prices" binding:"required"`
}

// ImportPrices bulk upserts single prices and purges cached results
func (h *PriceHandler) ImportPrices(c *gin.Context) {
	var req importPricesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	n, err := h.prices.ImportPrices(c.Request.Context(), req.Prices)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.cache != nil && n > 0 {
		h.cache.InvalidateCache(c.Request.Context())
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// GetPriceStatus reports the price table and, when running, the price worker
func (h *PriceHandler) GetPriceStatus(c *gin.Context) {
	status, err := h.prices.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"table": status}
	if h.priceWorker != nil {
		resp["worker"] = h.priceWorker.Status()
	}
	c.JSON(http.StatusOK, resp)
}

// RefreshCardPrice queues a card for the next price worker batch
func (h *PriceHandler) RefreshCardPrice(c *gin.Context) {
	cardID := strings.TrimSpace(c.Param("card_id"))
	if cardID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "card id is required"})
		return
	}
	if h.priceWorker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price feed is not configured"})
		return
	}

	h.priceWorker.ClearUnmatchedCard(cardID)
	position := h.priceWorker.QueueRefresh(cardID)
	c.JSON(http.StatusAccepted, gin.H{
		"card_id":        cardID,
		"queue_position": position,
	})
}
