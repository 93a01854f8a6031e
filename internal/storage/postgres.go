package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/errtrail/pkg/utils"
)

// PostgreSQLStorage implements Storage using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig, logger *logrus.Logger) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.ComponentLogger(logger, "storage").WithField("backend", "postgres"),
		migrations: GetPostgresMigrations(),
	}
}

// NewPostgreSQLStorageWithDB wraps an already opened connection
func NewPostgreSQLStorageWithDB(db *sql.DB, config *StorageConfig, logger *logrus.Logger) *PostgreSQLStorage {
	p := NewPostgreSQLStorage(config, logger)
	p.db = db
	return p
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	if p.db != nil {
		return nil
	}

	connector, err := pq.NewConnector(p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Invalid PostgreSQL connection string", err.Error())
	}
	db := sql.OpenDB(connector)

	// Configure connection pool
	if p.config.MaxConnections > 0 {
		db.SetMaxOpenConns(p.config.MaxConnections)
		db.SetMaxIdleConns(p.config.MaxConnections / 2)
	}
	db.SetConnMaxLifetime(p.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return p.db.Ping()
}

// Migrate runs database migrations
func (p *PostgreSQLStorage) Migrate() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	p.logger.Info("Starting PostgreSQL database migrations")

	for _, migration := range p.migrations {
		p.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")

		if _, err := p.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	p.logger.Info("PostgreSQL database migrations completed")
	return nil
}

// Get returns the value stored under key
func (p *PostgreSQLStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if p.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	var value []byte
	err := p.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read key", err.Error())
	}
	return value, nil
}

// Put stores value under key, replacing any previous value
func (p *PostgreSQLStorage) Put(ctx context.Context, key string, value []byte) error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	query := `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`

	// jsonb columns take the text form; a []byte argument would be sent as bytea
	if _, err := p.db.ExecContext(ctx, query, key, string(value), time.Now().UTC()); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to write key", err.Error())
	}
	return nil
}

// Delete removes key; deleting a missing key is not an error
func (p *PostgreSQLStorage) Delete(ctx context.Context, key string) error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	if _, err := p.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = $1`, key); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete key", err.Error())
	}
	return nil
}

// Keys lists every stored key
func (p *PostgreSQLStorage) Keys(ctx context.Context) ([]string, error) {
	if p.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	rows, err := p.db.QueryContext(ctx, `SELECT key FROM kv_store ORDER BY key`)
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
func (p *PostgreSQLStorage) GetStats() (*StorageStats, error) {
	if p.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	stats := &StorageStats{Type: "postgres"}
	var lastWrite sql.NullTime
	err := p.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(pg_column_size(value)), 0), MAX(updated_at) FROM kv_store`).
		Scan(&stats.Keys, &stats.SizeBytes, &lastWrite)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get storage stats", err.Error())
	}
	if lastWrite.Valid {
		stats.LastWrite = &lastWrite.Time
	}
	return stats, nil
}

// GetHealth reports whether the database answers a ping
func (p *PostgreSQLStorage) GetHealth() *StorageHealth {
	return healthFrom("postgres", p.Ping())
}
