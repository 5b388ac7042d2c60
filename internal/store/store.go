// Package store persists per-tender match results. The aggregate row doubles
// as the cross-worker lock.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultLockTTL is the lease length of the dedicated lock table.
const DefaultLockTTL = 30 * time.Minute

// Store is safe for concurrent use.
type Store struct {
	db      *gorm.DB
	logger  *slog.Logger
	now     func() time.Time
	lockTTL time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for lock ages and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLockTTL sets the lease length of the dedicated lock table.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Store) { s.lockTTL = ttl }
}

// New wraps an open gorm handle.
func New(db *gorm.DB, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{db: db, logger: logger, now: time.Now, lockTTL: DefaultLockTTL}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open connects to dsn, pings it and migrates the schema. DSNs starting with
// postgres:// or postgresql:// use Postgres; anything else is a SQLite path,
// optionally prefixed with sqlite://.
func Open(ctx context.Context, dsn string, logger *slog.Logger, opts ...Option) (*Store, error) {
	dialector, isSQLite := dialectorFor(dsn)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get result store handle: %w", err)
	}
	if isSQLite {
		// One writer at a time; concurrent callers queue on the pool.
		sqlDB.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to result store: %w", err)
	}

	s := New(db, logger, opts...)
	if err := s.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	logger.Debug("Result store ready.", "dialect", db.Dialector.Name())
	return s, nil
}

func dialectorFor(dsn string) (gorm.Dialector, bool) {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return postgres.Open(dsn), false
	}
	path := strings.TrimPrefix(dsn, "sqlite://")
	if !strings.Contains(path, "?") {
		path += "?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL"
	}
	return sqlite.Open(path), true
}

// Migrate creates or updates the result tables.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(&MatchResult{}, &MatchDetail{}, &FileError{}, &TenderLock{})
	if err != nil {
		return fmt.Errorf("failed to migrate result store: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for maintenance commands.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// timestamp is the current time as stored: UTC at microsecond precision, the
// resolution both backends keep.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}
