package database

import (
	"fmt"
	"log"

	"github.com/codyseavey/tcg-portfolio/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Initialize opens the ledger database, cleans legacy rows and migrates the schema
func Initialize(dbPath string, debug bool) error {
	db, err := Open(dbPath, debug)
	if err != nil {
		return err
	}
	DB = db

	log.Println("Database connected successfully")
	return nil
}

// Open connects to dsn and brings the schema up to date. Tests call it with an
// in-memory DSN.
func Open(dsn string, debug bool) (*gorm.DB, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer; serialize connections so commit transactions
	// never see SQLITE_BUSY.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := cleanupDuplicateOrderNumbers(db); err != nil {
		log.Printf("Warning: failed to clean duplicate order numbers: %v", err)
	}

	if err := db.AutoMigrate(&models.OrderRecord{}, &models.SinglePriceRow{}, &models.CollectionValueSnapshot{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		return nil, fmt.Errorf("data migrations: %w", err)
	}

	log.Println("Database migration completed")
	return db, nil
}

func GetDB() *gorm.DB {
	return DB
}
