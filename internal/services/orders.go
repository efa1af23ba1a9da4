package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/codyseavey/tcg-portfolio/internal/events"
	"github.com/codyseavey/tcg-portfolio/internal/metrics"
	"github.com/codyseavey/tcg-portfolio/internal/models"
)

// IdentityProvider resolves the user a ledger write belongs to
type IdentityProvider interface {
	CurrentUser(ctx context.Context) (string, error)
}

// StaticIdentity always resolves to the same user
type StaticIdentity string

func (s StaticIdentity) CurrentUser(context.Context) (string, error) {
	if s == "" {
		return "", ErrIdentity
	}
	return string(s), nil
}

type userKey struct{}

// WithUser attaches a user id to ctx for ContextIdentity
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// ContextIdentity reads the user set by WithUser, falling back to Fallback
type ContextIdentity struct {
	Fallback string
}

func (c ContextIdentity) CurrentUser(ctx context.Context) (string, error) {
	if id, ok := ctx.Value(userKey{}).(string); ok && id != "" {
		return id, nil
	}
	if c.Fallback != "" {
		return c.Fallback, nil
	}
	return "", ErrIdentity
}

func resolveUser(ctx context.Context, identity IdentityProvider) (string, error) {
	if identity == nil {
		return "", ErrIdentity
	}
	userID, err := identity.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, ErrIdentity) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrIdentity, err)
	}
	if strings.TrimSpace(userID) == "" {
		return "", ErrIdentity
	}
	return userID, nil
}

// LedgerStore persists order records
type LedgerStore interface {
	// InsertBatch numbers and inserts records atomically, returning the
	// persisted rows ordered by order number
	InsertBatch(ctx context.Context, records []models.OrderRecord) ([]models.OrderRecord, error)
	Get(ctx context.Context, userID string, id uint) (*models.OrderRecord, error)
	List(ctx context.Context, filter models.OrderFilter) ([]models.OrderRecord, error)
	MarkSold(ctx context.Context, userID string, id uint, req models.SellRequest) (*models.OrderRecord, error)
	Delete(ctx context.Context, userID string, id uint) error
	DeleteGroup(ctx context.Context, userID, groupID string) (int64, error)
}

// GormLedgerStore is the SQLite-backed ledger
type GormLedgerStore struct {
	db *gorm.DB
}

func NewGormLedgerStore(db *gorm.DB) *GormLedgerStore {
	return &GormLedgerStore{db: db}
}

func (s *GormLedgerStore) InsertBatch(ctx context.Context, records []models.OrderRecord) ([]models.OrderRecord, error) {
	if len(records) == 0 {
		return nil, ErrEmptyCart
	}
	rows := slices.Clone(records)
	groupID := rows[0].OrderGroupID

	var persisted []models.OrderRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxNumber int64
		if err := tx.Model(&models.OrderRecord{}).Select("COALESCE(MAX(order_number), 0)").Scan(&maxNumber).Error; err != nil {
			return fmt.Errorf("failed to read order sequence: %w", err)
		}
		for i := range rows {
			rows[i].OrderNumber = maxNumber + int64(i) + 1
		}

		if err := tx.Create(&rows).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %v", ErrConflictOnCommit, err)
			}
			return fmt.Errorf("failed to insert order batch: %w", err)
		}

		if err := tx.Where("order_group_id = ?", groupID).Order("order_number ASC").Find(&persisted).Error; err != nil {
			return fmt.Errorf("failed to reload order group: %w", err)
		}
		return reconcileGroup(groupID, len(rows), maxNumber, persisted)
	})
	if err != nil {
		return nil, err
	}
	return persisted, nil
}

// reconcileGroup checks a reloaded group holds exactly the rows just written
// with consecutive numbers after maxNumber
func reconcileGroup(groupID string, want int, maxNumber int64, persisted []models.OrderRecord) error {
	if len(persisted) != want {
		return fmt.Errorf("%w: group %s reloaded %d rows, wrote %d", ErrConflictOnCommit, groupID, len(persisted), want)
	}
	for i := range persisted {
		if expected := maxNumber + int64(i) + 1; persisted[i].OrderNumber != expected {
			return fmt.Errorf("%w: group %s has order #%d where #%d was assigned", ErrConflictOnCommit, groupID, persisted[i].OrderNumber, expected)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *GormLedgerStore) Get(ctx context.Context, userID string, id uint) (*models.OrderRecord, error) {
	var record models.OrderRecord
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %d: %w", id, err)
	}
	return &record, nil
}

func (s *GormLedgerStore) List(ctx context.Context, filter models.OrderFilter) ([]models.OrderRecord, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", filter.UserID)
	if filter.OrderGroupID != "" {
		query = query.Where("order_group_id = ?", filter.OrderGroupID)
	}
	if filter.ItemType != "" {
		query = query.Where("item_type = ?", filter.ItemType)
	}
	if !filter.IncludeSold {
		query = query.Where("(sold = ? OR sell_quantity < quantity)", false)
	}

	var records []models.OrderRecord
	if err := query.Order("order_number ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return records, nil
}

func (s *GormLedgerStore) MarkSold(ctx context.Context, userID string, id uint, req models.SellRequest) (*models.OrderRecord, error) {
	var record models.OrderRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND user_id = ?", id, userID).First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("order %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load order %d: %w", id, err)
		}

		verr := &ValidationError{}
		if record.Sold {
			verr.Add("order", "order #%d is already marked sold", record.OrderNumber)
			return verr
		}
		qty := req.Quantity
		if qty == 0 {
			qty = record.Quantity
		}
		if qty < 1 || qty > record.Quantity {
			verr.Add("quantity", "must be between 1 and %d, got %d", record.Quantity, qty)
			return verr
		}

		sellDate := req.SellDate
		record.Sold = true
		record.SellDate = &sellDate
		record.SellPriceCents = req.SellPriceCents
		record.SellQuantity = qty
		record.SellLocation = req.Location
		record.SellFeesCents = req.FeesCents
		record.SellNotes = req.Notes
		if err := tx.Save(&record).Error; err != nil {
			return fmt.Errorf("failed to mark order %d sold: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *GormLedgerStore) Delete(ctx context.Context, userID string, id uint) error {
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.OrderRecord{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete order %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *GormLedgerStore) DeleteGroup(ctx context.Context, userID, groupID string) (int64, error) {
	result := s.db.WithContext(ctx).Where("user_id = ? AND order_group_id = ?", userID, groupID).Delete(&models.OrderRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete order group %s: %w", groupID, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, fmt.Errorf("order group %s: %w", groupID, ErrNotFound)
	}
	return result.RowsAffected, nil
}

// CacheInvalidator drops cached search results after a ledger write
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context)
}

// AggregateRebuilder recomputes a user's rollups after a ledger write
type AggregateRebuilder interface {
	Rebuild(ctx context.Context, userID string) (*models.Aggregate, error)
}

// OrderService commits carts and mutates the ledger. Every successful write
// purges the result cache and rebuilds the aggregate.
type OrderService struct {
	store      LedgerStore
	cache      CacheInvalidator
	aggregates AggregateRebuilder
	publisher  events.Publisher
	now        func() time.Time
}

func NewOrderService(store LedgerStore, cache CacheInvalidator, aggregates AggregateRebuilder, publisher events.Publisher) *OrderService {
	return &OrderService{
		store:      store,
		cache:      cache,
		aggregates: aggregates,
		publisher:  publisher,
		now:        time.Now,
	}
}

type commitFailure struct {
	Lines  int    `json:"lines"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

type commitSuccess struct {
	OrderGroupID   string `json:"order_group_id"`
	Lines          int    `json:"lines"`
	FirstOrder     int64  `json:"first_order_number"`
	LastOrder      int64  `json:"last_order_number"`
	TotalCostCents int64  `json:"total_cost_cents"`
}

// Commit persists batch as one order group
func (s *OrderService) Commit(ctx context.Context, identity IdentityProvider, batch models.OrderBatch) (*models.CommitResult, error) {
	userID, err := resolveUser(ctx, identity)
	if err != nil {
		s.commitFailed(ctx, "", len(batch.Lines), "identity", err)
		return nil, err
	}

	records, total, err := s.buildRecords(userID, batch)
	if err != nil {
		s.commitFailed(ctx, userID, len(batch.Lines), "validation", err)
		return nil, err
	}

	persisted, err := s.store.InsertBatch(ctx, records)
	if err != nil {
		reason := "error"
		if errors.Is(err, ErrConflictOnCommit) {
			reason = "conflict"
		}
		s.commitFailed(ctx, userID, len(records), reason, err)
		return nil, err
	}

	metrics.CommitsTotal.WithLabelValues("success").Inc()
	metrics.CommittedLinesTotal.Add(float64(len(persisted)))

	result := &models.CommitResult{
		OrderGroupID:   records[0].OrderGroupID,
		Records:        persisted,
		TotalCostCents: total,
	}
	first, last := persisted[0].OrderNumber, persisted[len(persisted)-1].OrderNumber
	log.Printf("Orders: committed %d lines as group %s (orders #%d-#%d) for %s", len(persisted), result.OrderGroupID, first, last, userID)

	events.PublishLogged(ctx, s.publisher, events.New(events.TopicCommitSucceeded, userID, commitSuccess{
		OrderGroupID:   result.OrderGroupID,
		Lines:          len(persisted),
		FirstOrder:     first,
		LastOrder:      last,
		TotalCostCents: total,
	}))
	s.ledgerChanged(ctx, userID)
	return result, nil
}

func (s *OrderService) commitFailed(ctx context.Context, userID string, lines int, reason string, err error) {
	metrics.CommitsTotal.WithLabelValues(reason).Inc()
	log.Printf("Orders: commit of %d lines failed (%s): %v", lines, reason, err)
	events.PublishLogged(ctx, s.publisher, events.New(events.TopicCommitFailed, userID, commitFailure{
		Lines:  lines,
		Reason: reason,
		Error:  err.Error(),
	}))
}

// buildRecords validates every line and converts the batch to unnumbered rows
func (s *OrderService) buildRecords(userID string, batch models.OrderBatch) ([]models.OrderRecord, int64, error) {
	if len(batch.Lines) == 0 {
		return nil, 0, ErrEmptyCart
	}

	verr := &ValidationError{}
	for i := range batch.Lines {
		validateLine(verr, fmt.Sprintf("lines[%d]", i), &batch.Lines[i])
	}
	if err := verr.Err(); err != nil {
		return nil, 0, err
	}

	date := batch.Date
	if date.IsZero() {
		date = s.now()
	}
	date = truncateDay(date)
	groupID := uuid.NewString()
	location := strings.TrimSpace(batch.Location)

	var total int64
	records := make([]models.OrderRecord, len(batch.Lines))
	for i, line := range batch.Lines {
		price := line.ResolvedPriceCents()
		itemType := line.ItemType
		if itemType == "" {
			itemType = models.ItemTypeSingle
		}
		source := line.Source
		if source == "" {
			source = models.SourceCatalog
		}
		records[i] = models.OrderRecord{
			UserID:            userID,
			OrderGroupID:      groupID,
			CatalogItemID:     line.CatalogItemID,
			ItemName:          line.Name,
			ExpansionRef:      line.ExpansionRef,
			ItemType:          itemType,
			Source:            source,
			Quantity:          line.Quantity,
			PricePerItemCents: price,
			TotalCostCents:    price * int64(line.Quantity),
			MarketValueCents:  line.MarketValueSnapshotCents,
			Condition:         line.Condition,
			GradingCompany:    line.GradingCompany,
			GradingGrade:      line.GradingGrade,
			PurchaseDate:      date,
			Location:          location,
			Notes:             batch.Notes,
		}
		total += records[i].TotalCostCents
	}
	return records, total, nil
}

// List returns the current user's ledger rows
func (s *OrderService) List(ctx context.Context, identity IdentityProvider, filter models.OrderFilter) ([]models.OrderRecord, error) {
	userID, err := resolveUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	filter.UserID = userID
	return s.store.List(ctx, filter)
}

// MarkSold records a sale against one ledger row
func (s *OrderService) MarkSold(ctx context.Context, identity IdentityProvider, id uint, req models.SellRequest) (*models.OrderRecord, error) {
	userID, err := resolveUser(ctx, identity)
	if err != nil {
		return nil, err
	}

	verr := &ValidationError{}
	if req.SellPriceCents < 0 {
		verr.Add("sell_price", "must not be negative")
	}
	if req.FeesCents < 0 {
		verr.Add("fees", "must not be negative")
	}
	if req.Quantity < 0 {
		verr.Add("quantity", "must not be negative")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	if req.SellDate.IsZero() {
		req.SellDate = s.now()
	}
	req.SellDate = truncateDay(req.SellDate)

	record, err := s.store.MarkSold(ctx, userID, id, req)
	if err != nil {
		return nil, err
	}
	log.Printf("Orders: marked order #%d sold (%d x %d cents)", record.OrderNumber, record.SellQuantity, record.SellPriceCents)
	s.publishLedgerChange(ctx, userID, "sold", id)
	return record, nil
}

// Delete removes one ledger row
func (s *OrderService) Delete(ctx context.Context, identity IdentityProvider, id uint) error {
	userID, err := resolveUser(ctx, identity)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, userID, id); err != nil {
		return err
	}
	log.Printf("Orders: deleted order %d", id)
	s.publishLedgerChange(ctx, userID, "deleted", id)
	return nil
}

// DeleteGroup removes every row committed in one batch
func (s *OrderService) DeleteGroup(ctx context.Context, identity IdentityProvider, groupID string) (int64, error) {
	userID, err := resolveUser(ctx, identity)
	if err != nil {
		return 0, err
	}
	n, err := s.store.DeleteGroup(ctx, userID, groupID)
	if err != nil {
		return 0, err
	}
	log.Printf("Orders: deleted %d orders in group %s", n, groupID)
	events.PublishLogged(ctx, s.publisher, events.New(events.TopicLedgerChanged, userID, ledgerChange{
		Action:       "group_deleted",
		OrderGroupID: groupID,
		Rows:         n,
	}))
	s.ledgerChanged(ctx, userID)
	return n, nil
}

type ledgerChange struct {
	Action       string `json:"action"`
	OrderID      uint   `json:"order_id,omitempty"`
	OrderGroupID string `json:"order_group_id,omitempty"`
	Rows         int64  `json:"rows,omitempty"`
}

func (s *OrderService) publishLedgerChange(ctx context.Context, userID, action string, id uint) {
	events.PublishLogged(ctx, s.publisher, events.New(events.TopicLedgerChanged, userID, ledgerChange{Action: action, OrderID: id, Rows: 1}))
	s.ledgerChanged(ctx, userID)
}

// ledgerChanged purges cached results and rebuilds the aggregate. The write
// has already succeeded, so failures here are only logged.
func (s *OrderService) ledgerChanged(ctx context.Context, userID string) {
	if s.cache != nil {
		s.cache.InvalidateCache(ctx)
	}
	if s.aggregates == nil {
		return
	}
	agg, err := s.aggregates.Rebuild(ctx, userID)
	if err != nil {
		log.Printf("Warning: Orders: aggregate rebuild for %s failed: %v", userID, err)
		return
	}
	events.PublishLogged(ctx, s.publisher, events.New(events.TopicAggregateUpdated, userID, agg.Totals))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
