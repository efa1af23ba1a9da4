package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/codyseavey/tcg-portfolio/internal/models"
	"github.com/codyseavey/tcg-portfolio/internal/services"
)

// SessionHandler serves browse sessions: query, filters, paging and cart
type SessionHandler struct {
	sessions *services.SessionManager
	orders   *services.OrderService
	identity services.IdentityProvider
}

func NewSessionHandler(sessions *services.SessionManager, orders *services.OrderService, identity services.IdentityProvider) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		orders:   orders,
		identity: identity,
	}
}

// session resolves the caller and their session, writing the error response
// itself when either fails
func (h *SessionHandler) session(c *gin.Context) (*services.BrowseSession, bool) {
	userID, err := h.identity.CurrentUser(c.Request.Context())
	if err != nil {
		respondError(c, fmt.Errorf("%w: %v", services.ErrIdentity, err))
		return nil, false
	}
	s, err := h.sessions.Get(c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return s, true
}

// CreateSession opens a session and runs its first query
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var q models.SearchQuery
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&q); err != nil {
			badRequest(c, err)
			return
		}
	}

	userID, err := h.identity.CurrentUser(c.Request.Context())
	if err != nil {
		respondError(c, fmt.Errorf("%w: %v", services.ErrIdentity, err))
		return
	}

	s := h.sessions.Create(userID, q)
	state, err := s.Refresh(c.Request.Context())
	if err != nil {
		if delErr := h.sessions.Delete(s.ID, userID); delErr != nil {
			log.Printf("Warning: failed to drop session %s after its first query failed: %v", s.ID, delErr)
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.State())
}

func (h *SessionHandler) DeleteSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := h.sessions.Delete(s.ID, s.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session closed"})
}

// UpdateQuery applies a partial query change. Text-only changes are debounced.
func (h *SessionHandler) UpdateQuery(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var u services.QueryUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, err)
		return
	}
	state, err := s.Update(c.Request.Context(), u)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type toggleFilterRequest struct {
	Facet models.Facet `json:"facet" binding:"required"`
	Value string       `json:"value" binding:"required"`
}

// ToggleFilter selects or deselects one facet value
func (h *SessionHandler) ToggleFilter(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req toggleFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	state, err := s.ToggleFilter(c.Request.Context(), req.Facet, req.Value)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *SessionHandler) ClearFilters(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.ClearFilters(c.Request.Context()))
}

// Flush runs a pending debounced query now
func (h *SessionHandler) Flush(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	state, err := s.Flush(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// FacetCounts returns counts for ?facet=, or for every facet when omitted
func (h *SessionHandler) FacetCounts(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if facet := c.Query("facet"); facet != "" {
		counts, err := s.FacetCounts(models.Facet(facet))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"facet": facet, "counts": counts})
		return
	}
	c.JSON(http.StatusOK, gin.H{"facets": s.AllFacetCounts()})
}

type loadMoreRequest struct {
	Visible *bool `json:"visible"`
}

// LoadMore appends the next page. Omitting "visible" means the list end is on screen.
func (h *SessionHandler) LoadMore(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req loadMoreRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	visible := req.Visible == nil || *req.Visible

	snap, err := s.LoadMore(c.Request.Context(), visible)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *SessionHandler) Retry(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	snap, err := s.Retry(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// addToCartRequest adds a result by id, or a manual line when Manual is set
type addToCartRequest struct {
	CatalogItemID  string           `json:"catalog_item_id"`
	Quantity       int              `json:"quantity"`
	Manual         bool             `json:"manual"`
	Name           string           `json:"name"`
	ExpansionRef   string           `json:"expansion_ref"`
	ItemType       models.ItemType  `json:"item_type"`
	UnitPrice      string           `json:"unit_price"`
	Condition      models.Condition `json:"condition"`
	GradingCompany string           `json:"grading_company"`
	GradingGrade   string           `json:"grading_grade"`
}

func (h *SessionHandler) AddToCart(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req addToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var (
		line models.CartLine
		err  error
	)
	if req.Manual {
		line, err = manualLine(req)
		if err == nil {
			line, err = s.Cart().AddLine(line)
		}
	} else {
		if strings.TrimSpace(req.CatalogItemID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "catalog_item_id is required"})
			return
		}
		line, err = s.AddToCart(req.CatalogItemID, req.Quantity)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"line": line, "cart": s.Cart().Lines(), "cart_total_cents": s.Cart().TotalCents()})
}

func manualLine(req addToCartRequest) (models.CartLine, error) {
	line := models.CartLine{
		CatalogItemID:  "manual-" + uuid.NewString(),
		Name:           strings.TrimSpace(req.Name),
		ExpansionRef:   strings.TrimSpace(req.ExpansionRef),
		Quantity:       req.Quantity,
		ItemType:       req.ItemType,
		Source:         models.SourceManual,
		Condition:      req.Condition,
		GradingCompany: strings.TrimSpace(req.GradingCompany),
		GradingGrade:   strings.TrimSpace(req.GradingGrade),
	}
	if line.Quantity == 0 {
		line.Quantity = 1
	}
	if line.ItemType == "" {
		line.ItemType = models.ItemTypeSingle
	}
	if line.Name == "" {
		verr := &services.ValidationError{}
		verr.Add("name", "is required for manual entries")
		return line, verr
	}
	if strings.TrimSpace(req.UnitPrice) != "" {
		cents, err := services.ParsePriceCents(req.UnitPrice)
		if err != nil {
			verr := &services.ValidationError{}
			verr.Add("unit_price", "%v", err)
			return line, verr
		}
		line.UnitPriceCents = &cents
	}
	return line, nil
}

// updateCartRequest edits a line; nil fields are left alone and an empty
// unit_price reverts to the captured market value
type updateCartRequest struct {
	Quantity       *int    `json:"quantity"`
	UnitPrice      *string `json:"unit_price"`
	GradingCompany *string `json:"grading_company"`
	GradingGrade   *string `json:"grading_grade"`
}

func (h *SessionHandler) UpdateCartLine(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req updateCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	itemID := c.Param("item")
	cart := s.Cart()
	var err error
	if req.Quantity != nil {
		err = cart.SetQuantity(itemID, *req.Quantity)
	}
	if err == nil && req.UnitPrice != nil {
		err = cart.SetPrice(itemID, *req.UnitPrice)
	}
	if err == nil && (req.GradingCompany != nil || req.GradingGrade != nil) {
		err = cart.SetGrading(itemID, deref(req.GradingCompany), deref(req.GradingGrade))
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": cart.Lines(), "cart_total_cents": cart.TotalCents()})
}

func (h *SessionHandler) RemoveCartLine(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if !s.Cart().Remove(c.Param("item")) {
		respondError(c, fmt.Errorf("cart line %s: %w", c.Param("item"), services.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": s.Cart().Lines(), "cart_total_cents": s.Cart().TotalCents()})
}

type commitRequest struct {
	Date     string `json:"date"`
	Location string `json:"location"`
	Notes    string `json:"notes"`
}

// Commit writes the cart to the ledger as one order batch. On failure the cart
// is untouched and the error says whether a retry can succeed.
func (h *SessionHandler) Commit(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req commitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		badRequest(c, err)
		return
	}
	meta := services.BatchMeta{Date: date, Location: req.Location, Notes: req.Notes}

	result, err := s.Cart().Commit(c.Request.Context(), h.orders, h.identity, meta)
	if err != nil {
		if errors.Is(err, services.ErrEmptyCart) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
