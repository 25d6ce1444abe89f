package database

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the SQLite database behind dsn and creates the tables the
// hub needs.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}

	if isMemory(dsn) {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
		}
		// A single pooled connection keeps the in-memory database alive and
		// avoids shared-cache table locks.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates all tables used by the server.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}
	if err := db.AutoMigrate(&PresenceEvent{}); err != nil {
		return fmt.Errorf("migrate presence_events: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return sqlDB.Close()
}

func isMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}
