package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// kvEntry is the row layout of the sqlite store.
type kvEntry struct {
	Key       string `gorm:"primaryKey;column:entry_key"`
	Value     string
	UpdatedAt time.Time
}

func (kvEntry) TableName() string { return "kv_entries" }

// SQLite is a KVStore persisted to a local sqlite database, so tokens and
// cached responses survive process restarts.
type SQLite struct {
	db *gorm.DB
}

// DefaultSQLitePath returns the database location used when none is configured.
func DefaultSQLitePath() string {
	return filepath.Join(os.Getenv("HOME"), ".groupbuy/client.db")
}

// NewSQLite opens (creating if needed) the database at path and migrates the
// schema.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = DefaultSQLitePath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Debug().Str("path", path).Msg("sqlite store opened")

	return &SQLite{db: db}, nil
}

// gormLogger silences GORM unless debug logging is enabled.
func gormLogger() logger.Interface {
	if log.Logger.GetLevel() > zerolog.DebugLevel {
		return logger.Default.LogMode(logger.Silent)
	}
	return logger.Default.LogMode(logger.Info)
}

// GetString retrieves a value from the database.
func (s *SQLite) GetString(ctx context.Context, key string) (string, bool, error) {
	var entry kvEntry
	err := s.db.WithContext(ctx).First(&entry, "entry_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get stored value: %w", err)
	}

	return entry.Value, true, nil
}

// SetString inserts or replaces a value.
func (s *SQLite) SetString(ctx context.Context, key string, value string) error {
	entry := kvEntry{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to set stored value: %w", err)
	}
	return nil
}

// Delete removes a value.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&kvEntry{}, "entry_key = ?", key).Error; err != nil {
		return fmt.Errorf("failed to delete stored value: %w", err)
	}
	return nil
}

// AllKeys lists all stored keys.
func (s *SQLite) AllKeys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.WithContext(ctx).Model(&kvEntry{}).Pluck("entry_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list stored keys: %w", err)
	}
	return keys, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get raw database connection: %w", err)
	}
	return sqlDB.Close()
}
