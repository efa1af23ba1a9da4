package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/codyseavey/tcg-portfolio/internal/models"
	"github.com/codyseavey/tcg-portfolio/internal/services"
)

type SearchHandler struct {
	search *services.SearchService
}

func NewSearchHandler(search *services.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

// bindSearchQuery reads a SearchQuery from the query string. Facet selections
// use one repeated parameter per facet, e.g. ?types=Fire&types=Water.
func bindSearchQuery(c *gin.Context) (models.SearchQuery, error) {
	var q models.SearchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		return q, err
	}
	for _, facet := range models.AllFacets() {
		vals := lo.Uniq(lo.Compact(c.QueryArray(string(facet))))
		if len(vals) == 0 {
			continue
		}
		if q.Filters == nil {
			q.Filters = models.FilterSet{}
		}
		q.Filters[facet] = vals
	}
	return q, nil
}

// Search runs one stateless catalog query
func (h *SearchHandler) Search(c *gin.Context) {
	q, err := bindSearchQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.search.SearchAll(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListExpansions lists sets for ?mode=singles|sealed, or both when omitted
func (h *SearchHandler) ListExpansions(c *gin.Context) {
	mode := models.ViewMode(c.Query("mode"))
	if mode != "" && mode != models.ViewSingles && mode != models.ViewSealed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be singles or sealed"})
		return
	}

	sets, err := h.search.ListExpansions(c.Request.Context(), mode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expansions": sets})
}
