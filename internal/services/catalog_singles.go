package services

import (
	"archive/zip"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/codyseavey/tcg-portfolio/internal/models"
)

const pokemonDataURL = "https://github.com/PokemonTCG/pokemon-tcg-data/archive/refs/heads/master.zip"

// priceLookupChunk keeps IN clauses under SQLite's bound-variable limit
const priceLookupChunk = 500

// SinglesCatalog serves single cards from the local pokemon-tcg-data dataset,
// priced from the single_prices table.
type SinglesCatalog struct {
	dataDir string
	db      *gorm.DB

	mu    sync.RWMutex
	sets  map[string]LocalSet
	cards []LocalPokemonCard
	ready atomic.Bool
}

type LocalTypeValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type LocalCardImages struct {
	Small string `json:"small"`
	Large string `json:"large"`
}

type LocalPokemonCard struct {
	Subtypes    []string         `json:"subtypes"`
	Types       []string         `json:"types"`
	Weaknesses  []LocalTypeValue `json:"weaknesses"`
	Resistances []LocalTypeValue `json:"resistances"`
	Images      LocalCardImages  `json:"images"`
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Supertype   string           `json:"supertype"`
	Number      string           `json:"number"`
	Artist      string           `json:"artist"`
	Rarity      string           `json:"rarity"`
	SetID       string           // Populated from filename

	nameLower string
}

type LocalSetImages struct {
	Symbol string `json:"symbol"`
	Logo   string `json:"logo"`
}

type LocalSet struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Series      string         `json:"series"`
	PtcgoCode   string         `json:"ptcgoCode"`
	ReleaseDate string         `json:"releaseDate"`
	Total       int            `json:"total"`
	Images      LocalSetImages `json:"images"`
}

// Facets projects the card's filterable attributes
func (c *LocalPokemonCard) Facets() models.Facets {
	typeNames := func(tvs []LocalTypeValue) []string {
		return lo.Uniq(lo.Map(tvs, func(tv LocalTypeValue, _ int) string { return tv.Type }))
	}
	return models.Facets{
		Supertype:   c.Supertype,
		Types:       c.Types,
		Subtypes:    c.Subtypes,
		Rarity:      c.Rarity,
		Artist:      c.Artist,
		Weaknesses:  typeNames(c.Weaknesses),
		Resistances: typeNames(c.Resistances),
	}
}

// normalizeApostrophes maps curly quotes to ASCII so "Blaine’s" matches "Blaine's"
func normalizeApostrophes(s string) string {
	return strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'").Replace(s)
}

func NewSinglesCatalog(dataDir string, db *gorm.DB) *SinglesCatalog {
	return &SinglesCatalog{
		dataDir: dataDir,
		db:      db,
		sets:    make(map[string]LocalSet),
	}
}

// Ready reports whether the dataset has finished loading
func (s *SinglesCatalog) Ready() bool {
	return s.ready.Load()
}

// Load reads the dataset from disk, downloading it first if missing. Queries
// return ErrNotInitialized until it completes.
func (s *SinglesCatalog) Load(ctx context.Context) error {
	dataPath := filepath.Join(s.dataDir, "pokemon-tcg-data-master")
	if _, err := os.Stat(dataPath); os.IsNotExist(err) {
		log.Println("Singles: dataset not found, downloading...")
		if err := downloadPokemonData(ctx, s.dataDir); err != nil {
			return fmt.Errorf("failed to download pokemon data: %w", err)
		}
		log.Println("Singles: dataset downloaded")
	}

	setsData, err := os.ReadFile(filepath.Join(dataPath, "sets", "en.json"))
	if err != nil {
		return fmt.Errorf("failed to read sets file: %w", err)
	}
	var sets []LocalSet
	if err := json.Unmarshal(setsData, &sets); err != nil {
		return fmt.Errorf("failed to parse sets: %w", err)
	}

	cardsDir := filepath.Join(dataPath, "cards", "en")
	files, err := os.ReadDir(cardsDir)
	if err != nil {
		return fmt.Errorf("failed to read cards directory: %w", err)
	}

	var cards []LocalPokemonCard
	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		setID := strings.TrimSuffix(file.Name(), ".json")
		cardFile := filepath.Join(cardsDir, file.Name())
		cardData, err := os.ReadFile(cardFile)
		if err != nil {
			log.Printf("Warning: failed to read card file %s: %v", cardFile, err)
			continue
		}
		var setCards []LocalPokemonCard
		if err := json.Unmarshal(cardData, &setCards); err != nil {
			log.Printf("Warning: failed to parse card file %s: %v", cardFile, err)
			continue
		}
		for i := range setCards {
			setCards[i].SetID = setID
		}
		cards = append(cards, setCards...)
	}

	s.LoadFrom(sets, cards)
	return nil
}

// LoadFrom installs an in-memory dataset and marks the catalog ready
func (s *SinglesCatalog) LoadFrom(sets []LocalSet, cards []LocalPokemonCard) {
	setMap := make(map[string]LocalSet, len(sets))
	for _, set := range sets {
		setMap[set.ID] = set
	}
	for i := range cards {
		cards[i].nameLower = strings.ToLower(normalizeApostrophes(cards[i].Name))
	}

	s.mu.Lock()
	s.sets = setMap
	s.cards = cards
	s.mu.Unlock()
	s.ready.Store(true)

	log.Printf("Singles: dataset loaded: %d cards, %d sets", len(cards), len(setMap))
}

func (s *SinglesCatalog) CardCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cards)
}

func (s *SinglesCatalog) SetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sets)
}

// HasCard reports whether id exists in the dataset
func (s *SinglesCatalog) HasCard(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.ContainsFunc(s.cards, func(c LocalPokemonCard) bool { return c.ID == id })
}

// QuerySingles matches the free text against card names (or an exact card
// number within an expansion), applies facet filters, sorts and pages.
func (s *SinglesCatalog) QuerySingles(ctx context.Context, q SourceQuery) (*SinglesPage, error) {
	if !s.Ready() {
		return nil, ErrNotInitialized
	}

	needle := strings.ToLower(normalizeApostrophes(strings.TrimSpace(q.FreeText)))

	s.mu.RLock()
	matches := make([]SingleCard, 0, 64)
	for i := range s.cards {
		card := &s.cards[i]
		if q.ExpansionID != "" && !strings.EqualFold(card.SetID, q.ExpansionID) {
			continue
		}
		if needle != "" && !strings.Contains(card.nameLower, needle) &&
			!(q.ExpansionID != "" && strings.EqualFold(card.Number, needle)) {
			continue
		}
		if len(q.Filters) > 0 {
			facets := card.Facets()
			if !q.Filters.Matches(&facets) {
				continue
			}
		}
		set := s.sets[card.SetID]
		name := set.Name
		if name == "" {
			name = card.SetID
		}
		matches = append(matches, SingleCard{Card: *card, ExpansionName: name, ReleaseDate: set.ReleaseDate})
	}
	s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Price sort needs every match priced; otherwise only the page is
	if q.SortBy == models.SortPrice {
		if err := s.attachPrices(ctx, matches); err != nil {
			return nil, err
		}
	}
	sortSingleCards(matches, q.SortBy, q.SortOrder)

	start, end := pageBounds(q.Page, q.PageSize, len(matches))
	page := matches[start:end]
	if q.SortBy != models.SortPrice {
		if err := s.attachPrices(ctx, page); err != nil {
			return nil, err
		}
	}

	return &SinglesPage{Cards: page, Total: len(matches)}, nil
}

// attachPrices loads stored prices with batched queries to avoid N+1 lookups.
// A nil database leaves every card unpriced.
func (s *SinglesCatalog) attachPrices(ctx context.Context, cards []SingleCard) error {
	if s.db == nil || len(cards) == 0 {
		return nil
	}

	ids := lo.Map(cards, func(c SingleCard, _ int) string { return c.Card.ID })
	priceMap := make(map[string]*models.SinglePriceRow, len(ids))
	for _, chunk := range lo.Chunk(ids, priceLookupChunk) {
		var rows []models.SinglePriceRow
		if err := s.db.WithContext(ctx).Where("card_id IN ?", chunk).Find(&rows).Error; err != nil {
			return fmt.Errorf("load single prices: %w", err)
		}
		for i := range rows {
			priceMap[rows[i].CardID] = &rows[i]
		}
	}

	for i := range cards {
		cards[i].Price = priceMap[cards[i].Card.ID]
	}
	return nil
}

func singleCardPriceCents(c *SingleCard) int64 {
	if c.Price == nil {
		return 0
	}
	pricing := c.Price.Pricing()
	item := models.CatalogItem{Kind: models.KindSingle, Single: &pricing}
	return item.DisplayPrice().Cents
}

func sortSingleCards(cards []SingleCard, by models.SortField, order models.SortOrder) {
	compare := func(a, b SingleCard) int {
		switch by {
		case models.SortPrice:
			return cmp.Compare(singleCardPriceCents(&a), singleCardPriceCents(&b))
		case models.SortNumber:
			if c := cmp.Compare(a.Card.SetID, b.Card.SetID); c != 0 {
				return c
			}
			return compareCardNumbers(a.Card.Number, b.Card.Number)
		case models.SortRelease:
			return cmp.Compare(a.ReleaseDate, b.ReleaseDate)
		default:
			return cmp.Compare(a.Card.nameLower, b.Card.nameLower)
		}
	}
	slices.SortStableFunc(cards, func(a, b SingleCard) int {
		c := compare(a, b)
		if order == models.SortDesc {
			c = -c
		}
		if c == 0 {
			c = cmp.Compare(a.Card.ID, b.Card.ID)
		}
		return c
	})
}

// Expansions lists every set in the dataset
func (s *SinglesCatalog) Expansions(ctx context.Context) ([]models.Expansion, error) {
	if !s.Ready() {
		return nil, ErrNotInitialized
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Expansion, 0, len(s.sets))
	for _, set := range s.sets {
		out = append(out, models.Expansion{
			ID:           set.ID,
			Name:         set.Name,
			Code:         set.PtcgoCode,
			Series:       set.Series,
			LanguageCode: "en",
			ReleaseDate:  set.ReleaseDate,
			TotalCount:   set.Total,
			LogoRef:      set.Images.Logo,
		})
	}
	return out, nil
}

func downloadPokemonData(ctx context.Context, dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	zipPath := filepath.Join(dataDir, "pokemon-tcg-data.zip")

	client := &http.Client{Timeout: 5 * time.Minute}
	req, err := http.NewRequestWithContext(ctx, "GET", pokemonDataURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	zipFile, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("failed to create zip file: %w", err)
	}
	if _, err := io.Copy(zipFile, resp.Body); err != nil {
		zipFile.Close()
		return fmt.Errorf("failed to write zip file: %w", err)
	}
	zipFile.Close()

	if err := extractZip(zipPath, dataDir); err != nil {
		return fmt.Errorf("failed to extract zip: %w", err)
	}
	if err := os.Remove(zipPath); err != nil {
		log.Printf("Warning: failed to clean up zip file: %v", err)
	}

	// GitHub archives extract with a -master suffix; normalize the alternate name
	extractedPath := filepath.Join(dataDir, "pokemon-tcg-data-master")
	if _, err := os.Stat(extractedPath); os.IsNotExist(err) {
		altPath := filepath.Join(dataDir, "pokemon-tcg-data")
		if _, err := os.Stat(altPath); err == nil {
			if renameErr := os.Rename(altPath, extractedPath); renameErr != nil {
				return fmt.Errorf("failed to rename extracted directory: %w", renameErr)
			}
		}
	}
	return nil
}

func extractZip(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		fpath := filepath.Join(destDir, f.Name)

		// ZipSlip guard
		if !strings.HasPrefix(fpath, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("invalid file path: %s", fpath)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, os.ModePerm); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(fpath), os.ModePerm); err != nil {
			return err
		}
		if err := extractZipFile(f, fpath); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(f *zip.File, dest string) error {
	outFile, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer outFile.Close()

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = io.Copy(outFile, rc)
	return err
}
