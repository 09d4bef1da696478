// Package database opens the embedded SQLite store shared by the server and
// the command line tools.
package database

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"insightcore/internal/config"
	"insightcore/internal/eventstore"
)

// busyTimeoutMillis bounds how long a writer waits on a locked database
// before SQLITE_BUSY surfaces.
const busyTimeoutMillis = 5000

// Connect opens the configured SQLite database with WAL journaling and the
// pool limits from config. The connection is shared process-wide.
func Connect(cfg *config.Config, logger *slog.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate",
		cfg.DatabaseName, busyTimeoutMillis)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", cfg.DatabaseName, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.GetMaxOpenConns())
	sqlDB.SetMaxIdleConns(cfg.GetMaxIdleConns())

	logger.Info("Database connection established",
		slog.String("path", cfg.DatabaseName),
		slog.Int("max_open_conns", cfg.GetMaxOpenConns()))
	return db, nil
}

// Migrate brings the event store schema up to date.
func Migrate(db *gorm.DB, logger *slog.Logger) error {
	if err := eventstore.Migrate(db); err != nil {
		logger.Error("Failed to migrate database", slog.Any("error", err))
		return err
	}
	logger.Info("Database migration completed successfully")
	return nil
}
