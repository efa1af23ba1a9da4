package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/codyseavey/tcg-portfolio/internal/models"
)

const (
	MinLineQuantity = 1
	MaxLineQuantity = 9999
)

// ParsePriceCents parses a dollar amount such as "89.99" or "$1,204.5" into
// cents, rounding half-up. Negative amounts are rejected.
func ParsePriceCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("price is empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q", s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("price must not be negative")
	}
	return d.Mul(hundred).Round(0).IntPart(), nil
}

// Cart holds pending selections until they are committed as one batch
type Cart struct {
	mu    sync.Mutex
	lines []models.CartLine
}

func NewCart() *Cart {
	return &Cart{}
}

func (c *Cart) indexLocked(catalogItemID string) int {
	return slices.IndexFunc(c.lines, func(l models.CartLine) bool { return l.CatalogItemID == catalogItemID })
}

// Add puts qty of item into the cart, capturing its current market value.
// Adding an item already present increases its quantity.
func (c *Cart) Add(item models.CatalogItem, qty int) (models.CartLine, error) {
	if qty == 0 {
		qty = 1
	}
	if qty < MinLineQuantity || qty > MaxLineQuantity {
		return models.CartLine{}, quantityError("quantity", qty)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexLocked(item.ID); i >= 0 {
		next := c.lines[i].Quantity + qty
		if next > MaxLineQuantity {
			return models.CartLine{}, quantityError("quantity", next)
		}
		c.lines[i].Quantity = next
		return c.lines[i], nil
	}

	line := models.CartLine{
		CatalogItemID:            item.ID,
		Name:                     item.Name,
		ExpansionRef:             item.ExpansionRef,
		Quantity:                 qty,
		MarketValueSnapshotCents: item.DisplayPrice().Cents,
		ItemType:                 models.ItemTypeForKind(item.Kind),
		Source:                   models.SourceCatalog,
	}
	c.lines = append(c.lines, line)
	return line, nil
}

// AddLine inserts a prepared line, for manual entries that are not in the catalog
func (c *Cart) AddLine(line models.CartLine) (models.CartLine, error) {
	verr := &ValidationError{}
	validateLine(verr, "line", &line)
	if err := verr.Err(); err != nil {
		return models.CartLine{}, err
	}
	if line.Source == "" {
		line.Source = models.SourceManual
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexLocked(line.CatalogItemID) >= 0 {
		verr.Add("catalog_item_id", "%s is already in the cart", line.CatalogItemID)
		return models.CartLine{}, verr
	}
	c.lines = append(c.lines, line)
	return line, nil
}

// SetQuantity replaces a line's quantity
func (c *Cart) SetQuantity(catalogItemID string, qty int) error {
	if qty < MinLineQuantity || qty > MaxLineQuantity {
		return quantityError("quantity", qty)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(catalogItemID)
	if i < 0 {
		return fmt.Errorf("cart line %s: %w", catalogItemID, ErrNotFound)
	}
	c.lines[i].Quantity = qty
	return nil
}

// SetPrice sets a user price from text. An empty string reverts the line to
// its captured market value.
func (c *Cart) SetPrice(catalogItemID, price string) error {
	var cents *int64
	if strings.TrimSpace(price) != "" {
		v, err := ParsePriceCents(price)
		if err != nil {
			verr := &ValidationError{}
			verr.Add("unit_price", "%v", err)
			return verr
		}
		cents = &v
	}
	return c.SetPriceCents(catalogItemID, cents)
}

// SetPriceCents sets or clears a user price
func (c *Cart) SetPriceCents(catalogItemID string, cents *int64) error {
	if cents != nil && *cents < 0 {
		verr := &ValidationError{}
		verr.Add("unit_price", "must not be negative")
		return verr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(catalogItemID)
	if i < 0 {
		return fmt.Errorf("cart line %s: %w", catalogItemID, ErrNotFound)
	}
	if cents == nil {
		c.lines[i].UnitPriceCents = nil
	} else {
		v := *cents
		c.lines[i].UnitPriceCents = &v
	}
	return nil
}

// SetGrading marks a line as a graded card
func (c *Cart) SetGrading(catalogItemID, company, grade string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(catalogItemID)
	if i < 0 {
		return fmt.Errorf("cart line %s: %w", catalogItemID, ErrNotFound)
	}
	c.lines[i].GradingCompany = strings.TrimSpace(company)
	c.lines[i].GradingGrade = strings.TrimSpace(grade)
	if c.lines[i].GradingCompany != "" {
		c.lines[i].ItemType = models.ItemTypeGraded
	}
	return nil
}

// Remove drops a line. It reports whether the line existed.
func (c *Cart) Remove(catalogItemID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(catalogItemID)
	if i < 0 {
		return false
	}
	c.lines = slices.Delete(c.lines, i, i+1)
	return true
}

func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

// Lines returns a copy of the cart contents in insertion order
func (c *Cart) Lines() []models.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.CartLine, len(c.lines))
	for i, l := range c.lines {
		if l.UnitPriceCents != nil {
			v := *l.UnitPriceCents
			l.UnitPriceCents = &v
		}
		out[i] = l
	}
	return out
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// TotalCents is the sum of resolved price times quantity
func (c *Cart) TotalCents() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for i := range c.lines {
		total += c.lines[i].ResolvedPriceCents() * int64(c.lines[i].Quantity)
	}
	return total
}

// BatchMeta is the date and place shared by every line of a commit
type BatchMeta struct {
	Date     time.Time `json:"date"`
	Location string    `json:"location"`
	Notes    string    `json:"notes"`
}

// Commit writes the cart as one order batch. The cart is cleared only when
// the batch is persisted; on any error it is left untouched.
func (c *Cart) Commit(ctx context.Context, orders *OrderService, identity IdentityProvider, meta BatchMeta) (*models.CommitResult, error) {
	lines := c.Lines()
	result, err := orders.Commit(ctx, identity, models.OrderBatch{
		Date:     meta.Date,
		Location: meta.Location,
		Notes:    meta.Notes,
		Lines:    lines,
	})
	if err != nil {
		return nil, err
	}

	// Only the committed quantities leave the cart; anything added while the
	// commit ran stays
	committed := make(map[string]int, len(lines))
	for _, l := range lines {
		committed[l.CatalogItemID] += l.Quantity
	}
	c.mu.Lock()
	c.lines = slices.DeleteFunc(c.lines, func(l models.CartLine) bool {
		done, ok := committed[l.CatalogItemID]
		return ok && l.Quantity <= done
	})
	for i := range c.lines {
		c.lines[i].Quantity -= committed[c.lines[i].CatalogItemID]
	}
	c.mu.Unlock()
	return result, nil
}

func quantityError(field string, qty int) error {
	verr := &ValidationError{}
	verr.Add(field, "must be between %d and %d, got %d", MinLineQuantity, MaxLineQuantity, qty)
	return verr
}

func validateLine(verr *ValidationError, prefix string, line *models.CartLine) {
	if strings.TrimSpace(line.CatalogItemID) == "" {
		verr.Add(prefix+".catalog_item_id", "is required")
	}
	if line.Quantity < MinLineQuantity || line.Quantity > MaxLineQuantity {
		verr.Add(prefix+".quantity", "must be between %d and %d, got %d", MinLineQuantity, MaxLineQuantity, line.Quantity)
	}
	if line.UnitPriceCents != nil && *line.UnitPriceCents < 0 {
		verr.Add(prefix+".unit_price", "must not be negative")
	}
	if line.MarketValueSnapshotCents < 0 {
		verr.Add(prefix+".market_value", "must not be negative")
	}
	if line.ItemType != "" && !line.ItemType.Valid() {
		verr.Add(prefix+".item_type", "unknown item type %q", line.ItemType)
	}
}
