package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/codyseavey/tcg-portfolio/internal/models"
)

const (
	sealedDefaultTimeout = 30 * time.Second
	// sealedFetchPageSize is used when walking every page of an unpaged query
	sealedFetchPageSize = 100
	sealedMaxWalkPages  = 50
)

// SealedCatalog queries the sealed-product price API
type SealedCatalog struct {
	client  *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
}

type sealedProductsResponse struct {
	Data  []SealedProduct `json:"data"`
	Total int             `json:"total"`
}

type sealedSet struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	Series      string `json:"series"`
	Language    string `json:"language"`
	ReleaseDate string `json:"releaseDate"`
	Total       int    `json:"total"`
	LogoURL     string `json:"logoUrl"`
}

type sealedSetsResponse struct {
	Data []sealedSet `json:"data"`
}

// NewSealedCatalog creates a client allowing rps requests per second
func NewSealedCatalog(baseURL, apiKey string, rps float64) *SealedCatalog {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &SealedCatalog{
		client: &http.Client{
			Timeout: sealedDefaultTimeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// QuerySealed fetches one page, or every page when q.PageSize is 0
func (s *SealedCatalog) QuerySealed(ctx context.Context, q SourceQuery) (*SealedPage, error) {
	if q.PageSize > 0 {
		return s.fetchProducts(ctx, q)
	}

	walk := q
	walk.PageSize = sealedFetchPageSize
	out := &SealedPage{}
	for page := 1; page <= sealedMaxWalkPages; page++ {
		walk.Page = page
		resp, err := s.fetchProducts(ctx, walk)
		if err != nil {
			return nil, err
		}
		out.Products = append(out.Products, resp.Products...)
		out.Total = resp.Total
		if len(resp.Products) == 0 || !models.HasMorePages(page, walk.PageSize, resp.Total) {
			break
		}
	}
	return out, nil
}

func (s *SealedCatalog) fetchProducts(ctx context.Context, q SourceQuery) (*SealedPage, error) {
	params := url.Values{}
	if q.ExpansionID != "" {
		params.Set("set", q.ExpansionID)
	}
	if q.FreeText != "" {
		params.Set("q", q.FreeText)
	}
	if q.SortBy != "" {
		params.Set("sort", string(q.SortBy))
		params.Set("order", string(q.SortOrder))
	}
	params.Set("page", strconv.Itoa(max(q.Page, 1)))
	params.Set("pageSize", strconv.Itoa(q.PageSize))

	var resp sealedProductsResponse
	if err := s.get(ctx, "/products", params, &resp); err != nil {
		return nil, err
	}
	return &SealedPage{Products: resp.Data, Total: resp.Total}, nil
}

// Expansions lists the sets the sealed API carries products for
func (s *SealedCatalog) Expansions(ctx context.Context) ([]models.Expansion, error) {
	var resp sealedSetsResponse
	if err := s.get(ctx, "/sets", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]models.Expansion, 0, len(resp.Data))
	for _, set := range resp.Data {
		out = append(out, models.Expansion{
			ID:           set.ID,
			Name:         set.Name,
			Code:         set.Code,
			Series:       set.Series,
			LanguageCode: set.Language,
			ReleaseDate:  set.ReleaseDate,
			TotalCount:   set.Total,
			LogoRef:      set.LogoURL,
		})
	}
	return out, nil
}

func (s *SealedCatalog) get(ctx context.Context, path string, params url.Values, out any) error {
	if s.baseURL == "" {
		return fmt.Errorf("%w: sealed API URL not configured", ErrSourceUnavailable)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("sealed API rate limit wait: %w", err)
	}

	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("sealed API %s: %w", path, ErrQueryTimeout)
		}
		return fmt.Errorf("sealed API %s: %w: %v", path, ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sealed API %s returned status %d: %w", path, resp.StatusCode, ErrSourceUnavailable)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode sealed API response: %w", err)
	}
	return nil
}
