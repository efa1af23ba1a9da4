package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/tcg-portfolio/internal/models"
	"github.com/codyseavey/tcg-portfolio/internal/services"
)

type OrderHandler struct {
	orders   *services.OrderService
	identity services.IdentityProvider
}

func NewOrderHandler(orders *services.OrderService, identity services.IdentityProvider) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		identity: identity,
	}
}

// ListOrders returns ledger rows, optionally narrowed by ?group=, ?type= and ?include_sold=
func (h *OrderHandler) ListOrders(c *gin.Context) {
	filter := models.OrderFilter{
		OrderGroupID: strings.TrimSpace(c.Query("group")),
		ItemType:     models.ItemType(c.Query("type")),
		IncludeSold:  c.DefaultQuery("include_sold", "true") == "true",
	}
	if filter.ItemType != "" && !filter.ItemType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be single, graded or sealed"})
		return
	}

	orders, err := h.orders.List(c.Request.Context(), h.identity, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

type sellRequest struct {
	SellDate  string `json:"sell_date"`
	SellPrice string `json:"sell_price" binding:"required"`
	Quantity  int    `json:"quantity"`
	Location  string `json:"location"`
	Fees      string `json:"fees"`
	Notes     string `json:"notes"`
}

// MarkSold records a sale. Prices are decimal strings such as "12.50".
func (h *OrderHandler) MarkSold(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req sellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	verr := &services.ValidationError{}
	sellDate, err := parseDate(req.SellDate)
	if err != nil {
		verr.Add("sell_date", "%v", err)
	}
	price, err := services.ParsePriceCents(req.SellPrice)
	if err != nil {
		verr.Add("sell_price", "%v", err)
	}
	var fees int64
	if strings.TrimSpace(req.Fees) != "" {
		if fees, err = services.ParsePriceCents(req.Fees); err != nil {
			verr.Add("fees", "%v", err)
		}
	}
	if err := verr.Err(); err != nil {
		respondError(c, err)
		return
	}

	record, err := h.orders.MarkSold(c.Request.Context(), h.identity, id, models.SellRequest{
		SellDate:       sellDate,
		SellPriceCents: price,
		Quantity:       req.Quantity,
		Location:       req.Location,
		FeesCents:      fees,
		Notes:          req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *OrderHandler) DeleteOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.orders.Delete(c.Request.Context(), h.identity, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "order deleted"})
}

// DeleteGroup removes every row of one committed batch
func (h *OrderHandler) DeleteGroup(c *gin.Context) {
	n, err := h.orders.DeleteGroup(c.Request.Context(), h.identity, c.Param("group"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "order group deleted", "deleted": n})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return 0, false
	}
	return uint(id), true
}
