package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/codyseavey/tcg-portfolio/internal/metrics"
	"github.com/codyseavey/tcg-portfolio/internal/models"
)

// SnapshotService records each user's daily ledger value
type SnapshotService struct {
	db         *gorm.DB
	aggregates *AggregateService

	mu            sync.RWMutex
	lastSnapshot  time.Time
	snapshotHour  int // Hour of day to take snapshot (0-23)
	checkInterval time.Duration
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(db *gorm.DB, aggregates *AggregateService, checkInterval time.Duration) *SnapshotService {
	if checkInterval <= 0 {
		checkInterval = 15 * time.Minute
	}
	return &SnapshotService{
		db:            db,
		aggregates:    aggregates,
		snapshotHour:  23, // Default: 11 PM
		checkInterval: checkInterval,
	}
}

// Start begins the background snapshot worker
func (s *SnapshotService) Start(ctx context.Context) {
	log.Println("Snapshot service started: will record daily ledger value")

	// Check if we need to take a snapshot for today on startup
	s.checkAndSnapshot(ctx)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Snapshot service stopping...")
			return
		case <-ticker.C:
			s.checkAndSnapshot(ctx)
		}
	}
}

// checkAndSnapshot snapshots every user lacking one for today
func (s *SnapshotService) checkAndSnapshot(ctx context.Context) {
	now := time.Now()
	if now.Hour() < s.snapshotHour {
		return
	}

	users, err := s.ledgerUsers(ctx)
	if err != nil {
		log.Printf("Snapshot service: failed to list users: %v", err)
		return
	}
	today := truncateDay(now)
	for _, userID := range users {
		if s.hasSnapshotForDate(ctx, userID, today) {
			continue
		}
		if _, err := s.TakeSnapshot(ctx, userID); err != nil {
			log.Printf("Snapshot service: failed to take snapshot for %s: %v", userID, err)
		}
	}
}

func (s *SnapshotService) ledgerUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := s.db.WithContext(ctx).Model(&models.OrderRecord{}).Distinct("user_id").Pluck("user_id", &users).Error
	return users, err
}

func (s *SnapshotService) hasSnapshotForDate(ctx context.Context, userID string, date time.Time) bool {
	var count int64
	s.db.WithContext(ctx).Model(&models.CollectionValueSnapshot{}).
		Where("user_id = ? AND snapshot_date = ?", userID, truncateDay(date)).
		Count(&count)
	return count > 0
}

// TakeSnapshot records userID's current ledger totals for today, replacing
// any earlier snapshot of the same day
func (s *SnapshotService) TakeSnapshot(ctx context.Context, userID string) (*models.CollectionValueSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, err := s.aggregates.Rebuild(ctx, userID)
	if err != nil {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	now := time.Now()
	snapshotDate := truncateDay(now)
	totals := agg.Totals
	snapshot := models.CollectionValueSnapshot{
		UserID:       userID,
		SnapshotDate: snapshotDate,
		CreatedAt:    now,
	}

	// Use upsert to handle duplicate dates
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND snapshot_date = ?", userID, snapshotDate).
		Assign(models.CollectionValueSnapshot{
			TotalItems:          totals.Items,
			QuantityHeld:        totals.QuantityHeld,
			TotalPaidCents:      totals.TotalPaidCents,
			CurrentValueCents:   totals.CurrentValueCents,
			RealizedProfitCents: totals.RealizedProfitCents,
		}).
		FirstOrCreate(&snapshot)
	if result.Error != nil {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to save snapshot: %w", result.Error)
	}

	s.lastSnapshot = now
	metrics.SnapshotsTotal.WithLabelValues("success").Inc()
	log.Printf("Snapshot service: recorded value snapshot for %s on %s (value: $%.2f, items: %d)",
		userID, snapshotDate.Format("2006-01-02"), float64(totals.CurrentValueCents)/100, totals.QuantityHeld)

	return &snapshot, nil
}

// PeriodStart maps a history period name to its first day. "all" returns
// the zero time; unknown periods default to one month.
func PeriodStart(period string, now time.Time) time.Time {
	switch period {
	case "week":
		return now.AddDate(0, 0, -7)
	case "month":
		return now.AddDate(0, -1, 0)
	case "3month":
		return now.AddDate(0, -3, 0)
	case "year":
		return now.AddDate(-1, 0, 0)
	case "all":
		return time.Time{} // No filter
	default:
		return now.AddDate(0, -1, 0) // Default to 1 month
	}
}

// GetHistory retrieves userID's snapshots for a given period
func (s *SnapshotService) GetHistory(ctx context.Context, userID, period string) ([]models.CollectionValueSnapshot, error) {
	var snapshots []models.CollectionValueSnapshot

	query := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("snapshot_date ASC")
	if start := PeriodStart(period, time.Now()); !start.IsZero() {
		query = query.Where("snapshot_date >= ?", truncateDay(start))
	}

	if err := query.Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	return snapshots, nil
}

// LastSnapshotAt is when the worker last recorded a snapshot
func (s *SnapshotService) LastSnapshotAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSnapshot
}
