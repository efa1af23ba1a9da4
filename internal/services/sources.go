package services

import (
	"cmp"
	"context"
	"strconv"
	"strings"
	"unicode"

	"github.com/codyseavey/tcg-portfolio/internal/models"
)

// SourceQuery is what the orchestrator asks a catalog source for.
// PageSize 0 asks for every match.
type SourceQuery struct {
	FreeText    string
	ExpansionID string
	Filters     models.FilterSet
	SortBy      models.SortField
	SortOrder   models.SortOrder
	Page        int
	PageSize    int
}

func sourceQueryFrom(q models.SearchQuery) SourceQuery {
	return SourceQuery{
		FreeText:    q.FreeText,
		ExpansionID: q.ExpansionID,
		Filters:     q.Filters,
		SortBy:      q.SortBy,
		SortOrder:   q.SortOrder,
		Page:        q.Page,
		PageSize:    q.PageSize,
	}
}

// SingleCard is a dataset card joined with its expansion and stored price
type SingleCard struct {
	Card          LocalPokemonCard
	ExpansionName string
	ReleaseDate   string
	Price         *models.SinglePriceRow
}

// SinglesPage is one page of single-card matches
type SinglesPage struct {
	Cards []SingleCard
	Total int
}

// SealedProduct is a sealed product as quoted by the sealed price API
type SealedProduct struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	SetID       string  `json:"setId"`
	SetName     string  `json:"setName"`
	ReleaseDate string  `json:"releaseDate"`
	ImageURL    string  `json:"imageUrl"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
}

// SealedPage is one page of sealed-product matches
type SealedPage struct {
	Products []SealedProduct
	Total    int
}

// SinglesSource serves individually priced cards
type SinglesSource interface {
	QuerySingles(ctx context.Context, q SourceQuery) (*SinglesPage, error)
	Expansions(ctx context.Context) ([]models.Expansion, error)
}

// SealedSource serves flat-priced sealed products
type SealedSource interface {
	QuerySealed(ctx context.Context, q SourceQuery) (*SealedPage, error)
	Expansions(ctx context.Context) ([]models.Expansion, error)
}

// compareCardNumbers orders collector numbers naturally: "2" < "10" < "10a",
// and prefixed numbers such as "TG01" sort after plain ones.
func compareCardNumbers(a, b string) int {
	ap, an, as := splitCardNumber(a)
	bp, bn, bs := splitCardNumber(b)
	if c := cmp.Compare(ap, bp); c != 0 {
		return c
	}
	if c := cmp.Compare(an, bn); c != 0 {
		return c
	}
	return cmp.Compare(as, bs)
}

func splitCardNumber(s string) (prefix string, num int, suffix string) {
	s = strings.ToUpper(strings.TrimSpace(s))
	i := 0
	for i < len(s) && !unicode.IsDigit(rune(s[i])) {
		i++
	}
	prefix = s[:i]
	j := i
	for j < len(s) && unicode.IsDigit(rune(s[j])) {
		j++
	}
	if j > i {
		num, _ = strconv.Atoi(s[i:j])
	} else {
		num = -1
	}
	return prefix, num, s[j:]
}

// pageBounds returns the slice bounds of a 1-based page. pageSize 0 means all.
func pageBounds(page, pageSize, total int) (int, int) {
	if pageSize <= 0 {
		return 0, total
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}
