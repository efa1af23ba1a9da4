package models

// ItemKind discriminates the two catalog sources
type ItemKind string

const (
	KindSingle ItemKind = "single"
	KindSealed ItemKind = "sealed"
)

// Facets holds the filterable attributes of a catalog item.
// Sealed products carry no facets.
type Facets struct {
	Supertype   string   `json:"supertype,omitempty"`
	Types       []string `json:"types,omitempty"`
	Subtypes    []string `json:"subtypes,omitempty"`
	Rarity      string   `json:"rarity,omitempty"`
	Artist      string   `json:"artist,omitempty"`
	Weaknesses  []string `json:"weaknesses,omitempty"`
	Resistances []string `json:"resistances,omitempty"`
}

// Trends are percentage price deltas over trailing windows
type Trends struct {
	Day7   float64 `json:"day_7"`
	Day30  float64 `json:"day_30"`
	Day90  float64 `json:"day_90"`
	Day180 float64 `json:"day_180"`
}

// RawPrice is the ungraded market price of a single card
type RawPrice struct {
	MarketCents int64          `json:"market_cents"`
	LowCents    int64          `json:"low_cents"`
	Condition   PriceCondition `json:"condition"`
	Trends      Trends         `json:"trends"`
}

// GradedPrice is the slabbed market price of a single card
type GradedPrice struct {
	MarketCents int64  `json:"market_cents"`
	LowCents    int64  `json:"low_cents"`
	MidCents    int64  `json:"mid_cents"`
	HighCents   int64  `json:"high_cents"`
	Grade       string `json:"grade"`
	Company     string `json:"company"`
	Trends      Trends `json:"trends"`
}

// SinglePricing holds raw and/or graded prices. Either may be nil.
type SinglePricing struct {
	Raw    *RawPrice    `json:"raw,omitempty"`
	Graded *GradedPrice `json:"graded,omitempty"`
}

// SealedPricing is a single flat market value. MarketCents is already converted
// to the display currency; SourceAmount/SourceCurrency keep the original quote.
type SealedPricing struct {
	MarketCents    int64   `json:"market_cents"`
	SourceAmount   float64 `json:"source_amount"`
	SourceCurrency string  `json:"source_currency"`
}

// CatalogItem is the unified search result. Exactly one of Single or Sealed is
// set, and it always matches Kind.
type CatalogItem struct {
	ID            string         `json:"id"`
	Kind          ItemKind       `json:"kind"`
	Name          string         `json:"name"`
	ExpansionRef  string         `json:"expansion_ref"`
	ExpansionName string         `json:"expansion_name,omitempty"`
	Number        string         `json:"number,omitempty"`
	ReleaseDate   string         `json:"release_date,omitempty"`
	Facets        Facets         `json:"facets"`
	Single        *SinglePricing `json:"single,omitempty"`
	Sealed        *SealedPricing `json:"sealed,omitempty"`
	ImageRef      string         `json:"image_ref,omitempty"`
}

// NewSingleItem builds a single-card catalog item
func NewSingleItem(id, name, expansionRef string, facets Facets, pricing SinglePricing) CatalogItem {
	return CatalogItem{
		ID:           id,
		Kind:         KindSingle,
		Name:         name,
		ExpansionRef: expansionRef,
		Facets:       facets,
		Single:       &pricing,
	}
}

// NewSealedItem builds a sealed-product catalog item
func NewSealedItem(id, name, expansionRef string, pricing SealedPricing) CatalogItem {
	return CatalogItem{
		ID:           id,
		Kind:         KindSealed,
		Name:         name,
		ExpansionRef: expansionRef,
		Sealed:       &pricing,
	}
}

// Valid reports whether the item's payload matches its kind
func (c *CatalogItem) Valid() bool {
	switch c.Kind {
	case KindSingle:
		return c.Single != nil && c.Sealed == nil
	case KindSealed:
		return c.Sealed != nil && c.Single == nil
	default:
		return false
	}
}

// DisplayPrice is the price shown for an item along with where it came from
type DisplayPrice struct {
	Cents   int64  `json:"cents"`
	HasData bool   `json:"has_data"`
	Source  string `json:"source"` // "raw", "graded", "flat" or "none"
}

// NoPrice is returned when an item has no usable market price
var NoPrice = DisplayPrice{Source: "none"}

// DisplayPrice resolves raw -> graded -> flat -> NoPrice
func (c *CatalogItem) DisplayPrice() DisplayPrice {
	switch c.Kind {
	case KindSingle:
		return singleDisplayPrice(c.Single)
	case KindSealed:
		return sealedDisplayPrice(c.Sealed)
	default:
		return NoPrice
	}
}

func singleDisplayPrice(p *SinglePricing) DisplayPrice {
	if p == nil {
		return NoPrice
	}
	if p.Raw != nil && p.Raw.MarketCents > 0 {
		return DisplayPrice{Cents: p.Raw.MarketCents, HasData: true, Source: "raw"}
	}
	if p.Graded != nil && p.Graded.MarketCents > 0 {
		return DisplayPrice{Cents: p.Graded.MarketCents, HasData: true, Source: "graded"}
	}
	return NoPrice
}

func sealedDisplayPrice(p *SealedPricing) DisplayPrice {
	if p == nil || p.MarketCents <= 0 {
		return NoPrice
	}
	return DisplayPrice{Cents: p.MarketCents, HasData: true, Source: "flat"}
}

// Expansion is a card set or product line
type Expansion struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Code         string `json:"code"`
	Series       string `json:"series"`
	LanguageCode string `json:"language_code"`
	ReleaseDate  string `json:"release_date"`
	TotalCount   int    `json:"total_count"`
	LogoRef      string `json:"logo_ref,omitempty"`
}
