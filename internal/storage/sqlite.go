// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/errtrail/pkg/utils"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig, logger *logrus.Logger) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.ComponentLogger(logger, "storage").WithField("backend", "sqlite"),
		migrations: GetSQLiteMigrations(),
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" && s.config.ConnectionString != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// A single writer keeps the write-through path serialized
	maxConns := s.config.MaxConnections
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode so other processes can read while we write
	if s.config.ConnectionString != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
		}
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set busy timeout", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// Get returns the value stored under key
func (s *SQLiteStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read key", err.Error())
	}
	return []byte(value), nil
}

// Put stores value under key, replacing any previous value
func (s *SQLiteStorage) Put(ctx context.Context, key string, value []byte) error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	query := `
		INSERT OR REPLACE INTO kv_store (key, value, updated_at)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, key, string(value), time.Now().UTC()); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to write key", err.Error())
	}
	return nil
}

// Delete removes key; deleting a missing key is not an error
func (s *SQLiteStorage) Delete(ctx context.Context, key string) error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete key", err.Error())
	}
	return nil
}

// Keys lists every stored key
func (s *SQLiteStorage) Keys(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv_store ORDER BY key`)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list keys", err.Error())
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan key", err.Error())
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// GetStats returns storage statistics
func (s *SQLiteStorage) GetStats() (*StorageStats, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	stats := &StorageStats{Type: "sqlite"}
	var lastWrite sql.NullString
	err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(LENGTH(value)), 0), MAX(updated_at) FROM kv_store`).
		Scan(&stats.Keys, &stats.SizeBytes, &lastWrite)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get storage stats", err.Error())
	}
	if lastWrite.Valid {
		if t, err := parseSQLiteTime(lastWrite.String); err == nil {
			stats.LastWrite = &t
		}
	}
	return stats, nil
}

// GetHealth reports whether the database answers a ping
func (s *SQLiteStorage) GetHealth() *StorageHealth {
	return healthFrom("sqlite", s.Ping())
}

// parseSQLiteTime accepts the layouts the sqlite driver writes time values in
func parseSQLiteTime(value string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
