package database

import (
	"log"

	"gorm.io/gorm"
)

// cleanupDuplicateOrderNumbers renumbers rows that share an order number so the
// unique index can be created. Runs BEFORE AutoMigrate.
func cleanupDuplicateOrderNumbers(db *gorm.DB) error {
	if !db.Migrator().HasTable("order_records") {
		return nil
	}
	if db.Migrator().HasIndex("order_records", "idx_order_records_order_number") {
		return nil
	}

	var dupes []int64
	if err := db.Raw(`
		SELECT id FROM order_records
		WHERE id NOT IN (
			SELECT MIN(id) FROM order_records GROUP BY order_number
		)
		ORDER BY id
	`).Scan(&dupes).Error; err != nil {
		return err
	}
	if len(dupes) == 0 {
		return nil
	}

	var next int64
	if err := db.Raw(`SELECT COALESCE(MAX(order_number), 0) FROM order_records`).Scan(&next).Error; err != nil {
		return err
	}
	for _, id := range dupes {
		next++
		if err := db.Exec(`UPDATE order_records SET order_number = ? WHERE id = ?`, next, id).Error; err != nil {
			return err
		}
	}

	log.Printf("Renumbered %d order_records rows with duplicate order numbers", len(dupes))
	return nil
}

// RunMigrations runs any custom data migrations after schema changes
func RunMigrations(db *gorm.DB) error {
	if err := migrateItemTypeField(db); err != nil {
		return err
	}
	if err := migrateTotalCost(db); err != nil {
		return err
	}
	return nil
}

// migrateItemTypeField fills item type and source on rows written before those
// columns existed. Safe to run repeatedly.
func migrateItemTypeField(db *gorm.DB) error {
	result := db.Exec(`UPDATE order_records SET item_type = 'single' WHERE item_type IS NULL OR item_type = ''`)
	if result.Error != nil {
		log.Printf("Warning: failed to normalize item_type values: %v", result.Error)
	} else if result.RowsAffected > 0 {
		log.Printf("Migrated %d order_records rows: item_type -> single", result.RowsAffected)
	}

	result = db.Exec(`UPDATE order_records SET source = 'catalog' WHERE source IS NULL OR source = ''`)
	if result.Error != nil {
		log.Printf("Warning: failed to normalize source values: %v", result.Error)
	}

	// Quantity was optional in early ledgers
	db.Exec(`UPDATE order_records SET quantity = 1 WHERE quantity IS NULL OR quantity < 1`)

	return nil
}

// migrateTotalCost backfills total cost for rows that only stored the unit price
func migrateTotalCost(db *gorm.DB) error {
	result := db.Exec(`
		UPDATE order_records
		SET total_cost_cents = price_per_item_cents * quantity
		WHERE total_cost_cents = 0 AND price_per_item_cents > 0
	`)
	if result.Error != nil {
		log.Printf("Warning: failed to backfill total_cost_cents: %v", result.Error)
	} else if result.RowsAffected > 0 {
		log.Printf("Backfilled total_cost_cents on %d order_records rows", result.RowsAffected)
	}
	return nil
}
