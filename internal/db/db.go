package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// ErrNilConfig is returned when a sync is requested without a catalog.
var ErrNilConfig = errors.New("salons config is nil")

// DB is the operational store.
type DB struct {
	*sql.DB
	path   string
	logger zerolog.Logger
}

// NewDB opens the SQLite database at path and creates missing tables.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL with busy timeout; write transactions start with BEGIN IMMEDIATE so
	// the conflict check and the insert hold the write lock together.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "db").Logger()
	}
	instance := &DB{DB: sqlDB, path: path, logger: l}

	if err := instance.createTables(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	l.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

func (db *DB) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orgs (
			tenant_id TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, id)
		)`,

		`CREATE TABLE IF NOT EXISTS reservation_configs (
			tenant_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			interval_minutes INTEGER NOT NULL,
			limit_days INTEGER NOT NULL DEFAULT 0,
			cancel_days INTEGER NOT NULL DEFAULT 0,
			available_sheet INTEGER NOT NULL DEFAULT 0,
			today_first_later_minutes INTEGER NOT NULL DEFAULT 0,
			timezone TEXT NOT NULL DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, org_id)
		)`,

		`CREATE TABLE IF NOT EXISTS week_schedules (
			tenant_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			day_of_week INTEGER NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
			is_open BOOLEAN NOT NULL DEFAULT 0,
			open_time TEXT NOT NULL DEFAULT '',
			close_time TEXT NOT NULL DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, org_id, day_of_week)
		)`,

		`CREATE TABLE IF NOT EXISTS exception_schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			date TEXT NOT NULL,
			type TEXT NOT NULL,
			open_time TEXT NOT NULL DEFAULT '',
			close_time TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (tenant_id, org_id, date)
		)`,

		`CREATE TABLE IF NOT EXISTS staff_schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			staff_id TEXT NOT NULL,
			date TEXT NOT NULL,
			type TEXT NOT NULL,
			start_time TEXT NOT NULL DEFAULT '',
			end_time TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (tenant_id, org_id, staff_id, date)
		)`,

		`CREATE TABLE IF NOT EXISTS menus (
			tenant_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			price INTEGER NOT NULL DEFAULT 0,
			time_to_min INTEGER NOT NULL,
			ensure_time_to_min INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, org_id, id)
		)`,

		`CREATE TABLE IF NOT EXISTS reservations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			staff_id TEXT NOT NULL DEFAULT '',
			customer_id TEXT NOT NULL,
			menus TEXT NOT NULL DEFAULT '[]',
			start_time_unix INTEGER NOT NULL,
			end_time_unix INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			payment_method TEXT NOT NULL DEFAULT '',
			total_price INTEGER NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			CHECK (start_time_unix < end_time_unix)
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_reservations_org_time ON reservations(tenant_id, org_id, start_time_unix, end_time_unix)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_sync ON reservations(status, end_time_unix, id)`,
		`CREATE INDEX IF NOT EXISTS idx_staff_schedules_lookup ON staff_schedules(tenant_id, org_id, staff_id, date)`,
	}

	for _, q := range queries {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}

	// Columns added after the first release.
	alters := []string{
		`ALTER TABLE exception_schedules ADD COLUMN source TEXT NOT NULL DEFAULT 'manual'`,
	}
	for _, q := range alters {
		_, err := db.ExecContext(ctx, q)
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
