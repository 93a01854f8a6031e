// File: internal/storage/factory.go
package storage

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/errtrail/internal/config"
	"github.com/smartdevs17/errtrail/pkg/utils"
)

var supportedTypes = []string{"sqlite", "postgres", "postgresql", "badger", "file", "memory"}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg *config.StorageConfig, logger *logrus.Logger) (Storage, error) {
	storageConfig := &StorageConfig{
		Type:             cfg.Type,
		ConnectionString: cfg.ConnectionString,
		MaxConnections:   cfg.MaxConnections,
		MaxIdleTime:      cfg.MaxIdleTime,
		SyncWrites:       cfg.SyncWrites,
	}

	switch strings.ToLower(cfg.Type) {
	case "sqlite":
		return NewSQLiteStorage(storageConfig, logger), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStorage(storageConfig, logger), nil
	case "badger":
		return NewBadgerStorage(storageConfig, logger), nil
	case "file":
		return NewFileStorage(storageConfig, logger), nil
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type", cfg.Type)
	}
}

// ValidateStorageConfig validates storage configuration
func ValidateStorageConfig(cfg *config.StorageConfig) error {
	if cfg.Type == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage type is required", "")
	}

	supported := false
	for _, t := range supportedTypes {
		if strings.ToLower(cfg.Type) == t {
			supported = true
			break
		}
	}

	if !supported {
		return utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type",
			"Supported types: "+strings.Join(supportedTypes, ", "))
	}

	kind := strings.ToLower(cfg.Type)
	if cfg.ConnectionString == "" && kind != "memory" && kind != "badger" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage connection string is required", "")
	}

	if cfg.MaxConnections < 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Max connections must not be negative", "")
	}

	return nil
}

// GetDefaultStorageConfig returns default storage configuration
func GetDefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Type:             "sqlite",
		ConnectionString: "./data/errtrail.db",
		MaxConnections:   1,
	}
}
