// Package history persists execution records. Every command or code run
// dispatched through the CLI is recorded so past executions can be inspected
// with `sanduku history`.
//
// SQLite (pure Go, no CGO, via the glebarez GORM driver) is the default;
// PostgreSQL is available for shared deployments.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is one sandboxed execution.
type Record struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Backend    string    `gorm:"size:16;index" json:"backend"` // "docker" or "daytona"
	Tool       string    `gorm:"size:32" json:"tool"`          // "shell", "python", ...
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	TimedOut   bool      `json:"timed_out"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// TableName pins the table name independent of GORM pluralization rules.
func (Record) TableName() string { return "execution_records" }

// Config selects the history backend.
type Config struct {
	Driver      string // "sqlite" (default) or "postgres"
	SQLitePath  string // database file path (sqlite)
	PostgresDSN string // connection string (postgres)
}

// Store persists execution records via GORM.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	gormConfig := &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var db *gorm.DB
	var err error
	switch cfg.Driver {
	case "", "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		if mkErr := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0750); mkErr != nil {
			return nil, fmt.Errorf("creating database directory: %w", mkErr)
		}
		dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", cfg.SQLitePath)
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig)
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.PostgresDSN), gormConfig)
	default:
		return nil, fmt.Errorf("history driver %q is not supported (use sqlite or postgres)", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}

	slogger.Info("history store opened", slog.String("driver", driverName(cfg.Driver)))
	return &Store{db: db, logger: slogger}, nil
}

// Append records one execution. ID and CreatedAt are assigned here.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("recording execution: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []Record
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	return records, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func driverName(d string) string {
	if d == "" {
		return "sqlite"
	}
	return d
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

// compile-time interface check
var _ logger.Writer = slogAdapter{}
