package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the sqlite-backed store for owners, appointments, blocks and the
// persistent rate limit table.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if path != ":memory:" {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// immediate transactions take the write lock up front so a conflict check
	// and the following insert cannot interleave with another writer
	dsn := path + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, path: path, logger: logger}
	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS owners (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL DEFAULT '',
            timezone TEXT NOT NULL DEFAULT '',
            base_address TEXT NOT NULL DEFAULT '',
            grace_buffer_minutes INTEGER NOT NULL DEFAULT 0,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS schedule_days (
            owner_id TEXT NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
            weekday INTEGER NOT NULL,
            enabled BOOLEAN NOT NULL,
            start_minute INTEGER NOT NULL,
            end_minute INTEGER NOT NULL,
            PRIMARY KEY (owner_id, weekday)
        )`,
		`CREATE TABLE IF NOT EXISTS schedule_breaks (
            owner_id TEXT NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
            weekday INTEGER NOT NULL,
            start_minute INTEGER NOT NULL,
            end_minute INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS services (
            owner_id TEXT NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
            id TEXT NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            duration_minutes INTEGER NOT NULL,
            position INTEGER NOT NULL DEFAULT 0,
            PRIMARY KEY (owner_id, id)
        )`,
		// Время хранится в миллисекундах UTC, чтобы сравнения интервалов были числовыми
		`CREATE TABLE IF NOT EXISTS appointments (
            id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            client_id TEXT NOT NULL,
            client_name TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL,
            service_ids TEXT NOT NULL DEFAULT '[]',
            message TEXT NOT NULL DEFAULT '',
            address TEXT NOT NULL DEFAULT '',
            start_at INTEGER NOT NULL,
            end_at INTEGER NOT NULL,
            duration_minutes INTEGER NOT NULL,
            travel_minutes INTEGER NOT NULL DEFAULT 0,
            buffer_minutes INTEGER NOT NULL DEFAULT 0,
            travel_provisional BOOLEAN NOT NULL DEFAULT 0,
            status TEXT NOT NULL,
            cancelled_by TEXT NOT NULL DEFAULT '',
            created_at INTEGER NOT NULL,
            expires_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS appointment_events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            appointment_id TEXT NOT NULL,
            from_status TEXT NOT NULL DEFAULT '',
            to_status TEXT NOT NULL,
            actor TEXT NOT NULL DEFAULT '',
            changed_at INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS client_blocks (
            owner_id TEXT NOT NULL,
            phone TEXT NOT NULL,
            reason TEXT NOT NULL DEFAULT '',
            blocked_at INTEGER NOT NULL,
            PRIMARY KEY (owner_id, phone)
        )`,
		`CREATE TABLE IF NOT EXISTS rate_limits (
            phone TEXT PRIMARY KEY,
            count INTEGER NOT NULL,
            window_start INTEGER NOT NULL,
            window_end INTEGER NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_appointments_owner_start ON appointments(owner_id, start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_status_expires ON appointments(status, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_provisional ON appointments(travel_provisional, status)`,
		`CREATE INDEX IF NOT EXISTS idx_appointment_events_appt ON appointment_events(appointment_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", strings.TrimSpace(query), err)
		}
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// isBusy reports sqlite lock contention that a retry can resolve.
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// withTx runs fn inside a transaction and commits when fn returns nil.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
