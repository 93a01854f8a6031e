// File: internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key holds no value
var ErrNotFound = errors.New("key not found")

// ErrWatchUnsupported is returned by Watch when the backend cannot observe external writes
var ErrWatchUnsupported = errors.New("storage backend does not support watching")

// KeyValue is the durable key/value surface the ledger and logger persist through
type KeyValue interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Storage is a durable key/value backend with a connection lifecycle
type Storage interface {
	KeyValue

	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Keys lists every stored key
	Keys(ctx context.Context) ([]string, error)

	// Statistics and monitoring
	GetStats() (*StorageStats, error)
	GetHealth() *StorageHealth
}

// Watcher is implemented by backends that can report writes made by other processes
type Watcher interface {
	Watch(ctx context.Context, key string, onChange func(key string)) error
}

// StorageStats provides storage statistics
type StorageStats struct {
	Type      string     `json:"type"`
	Keys      int        `json:"keys"`
	SizeBytes int64      `json:"size_bytes"`
	LastWrite *time.Time `json:"last_write,omitempty"`
}

// StorageHealth reports backend reachability
type StorageHealth struct {
	Healthy bool   `json:"healthy"`
	Type    string `json:"type"`
	Error   string `json:"error,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	SyncWrites       bool          `json:"sync_writes"`
}

func healthFrom(storageType string, err error) *StorageHealth {
	health := &StorageHealth{Healthy: err == nil, Type: storageType}
	if err != nil {
		health.Error = err.Error()
	}
	return health
}
