package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides access to the run history
type Store struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	logger *zap.Logger
}

// Open opens (and migrates) the history database at path
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}

	sqliteDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqliteDB.SetMaxOpenConns(4)
	sqliteDB.SetMaxIdleConns(2)
	sqliteDB.SetConnMaxLifetime(time.Hour)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&Run{}); err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return &Store{db: db, sqlDB: sqliteDB, logger: log}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Record stores a run
func (s *Store) Record(ctx context.Context, run *Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(run).Error
}

// Recent returns the latest runs, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []Run
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// Failures returns the latest failed runs, newest first
func (s *Store) Failures(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []Run
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusFailed).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// Stats summarises all recorded runs
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	db := s.db.WithContext(ctx)
	stats := &Stats{}

	if err := db.Model(&Run{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&Run{}).Where("status = ?", StatusArchived).Count(&stats.Archived).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&Run{}).Where("status = ?", StatusFailed).Count(&stats.Failed).Error; err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	if err := db.Model(&Run{}).Select("AVG(duration_ms)").Scan(&avg).Error; err != nil {
		return nil, err
	}
	stats.AvgDurationMs = avg.Float64

	err := db.Model(&Run{}).
		Select("institution, COUNT(*) AS count").
		Where("status = ?", StatusArchived).
		Group("institution").
		Order("count DESC, institution").
		Scan(&stats.Institutions).Error
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// Prune deletes runs older than before and returns how many were removed
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&Run{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.logger.Info("Pruned run history", zap.Int64("removed", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
