package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// entry is one row of the local store.
type entry struct {
	EntryKey   string `gorm:"primaryKey"`
	EntryValue []byte
	UpdatedAt  time.Time
}

func (entry) TableName() string { return "kv_entries" }

// SQLite is a Store backed by a single-file SQLite database through GORM.
type SQLite struct {
	db *gorm.DB
}

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "orderflow.db"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var e entry
	err := s.db.WithContext(ctx).First(&e, "entry_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return e.EntryValue, true, nil
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	e := entry{EntryKey: key, EntryValue: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"entry_value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&entry{}, "entry_key = ?", key).Error; err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
