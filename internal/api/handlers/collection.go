package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/tcg-portfolio/internal/services"
)

type CollectionHandler struct {
	aggregates *services.AggregateService
	snapshots  *services.SnapshotService
	identity   services.IdentityProvider
}

func NewCollectionHandler(aggregates *services.AggregateService, snapshots *services.SnapshotService, identity services.IdentityProvider) *CollectionHandler {
	return &CollectionHandler{
		aggregates: aggregates,
		snapshots:  snapshots,
		identity:   identity,
	}
}

func (h *CollectionHandler) userID(c *gin.Context) (string, bool) {
	userID, err := h.identity.CurrentUser(c.Request.Context())
	if err != nil || userID == "" {
		respondError(c, services.ErrIdentity)
		return "", false
	}
	return userID, true
}

// GetAggregate returns per-item rollups and portfolio totals
func (h *CollectionHandler) GetAggregate(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	agg, err := h.aggregates.Current(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agg)
}

// GetValueHistory returns cumulative cost basis per day for ?days=
func (h *CollectionHandler) GetValueHistory(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	days := services.DefaultHistoryDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = n
	}

	points, err := h.aggregates.TimeSeries(c.Request.Context(), userID, days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

// GetSnapshots returns stored daily value snapshots for ?period=week|month|3month|year|all
func (h *CollectionHandler) GetSnapshots(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	period := c.DefaultQuery("period", "month")
	snapshots, err := h.snapshots.GetHistory(c.Request.Context(), userID, period)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "snapshots": snapshots})
}

// TakeSnapshot records today's value snapshot on demand
func (h *CollectionHandler) TakeSnapshot(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	snapshot, err := h.snapshots.TakeSnapshot(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snapshot)
}
