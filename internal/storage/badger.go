package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/errtrail/pkg/utils"
)

// BadgerStorage implements Storage on an embedded BadgerDB
type BadgerStorage struct {
	db     *badger.DB
	config *StorageConfig
	logger *logrus.Entry

	mu        sync.RWMutex
	lastWrite *time.Time
}

// NewBadgerStorage creates a new Badger storage instance.
// A connection string of ":memory:" opens the database in memory.
func NewBadgerStorage(config *StorageConfig, logger *logrus.Logger) *BadgerStorage {
	return &BadgerStorage{
		config: config,
		logger: utils.ComponentLogger(logger, "storage").WithField("backend", "badger"),
	}
}

func (b *BadgerStorage) inMemory() bool {
	return b.config.ConnectionString == ":memory:" || b.config.ConnectionString == ""
}

// Connect opens the database
func (b *BadgerStorage) Connect() error {
	var opts badger.Options
	if b.inMemory() {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(b.config.ConnectionString, 0750); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
		opts = badger.DefaultOptions(b.config.ConnectionString)
	}

	opts = opts.WithSyncWrites(b.config.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open Badger database", err.Error())
	}

	b.db = db
	b.logger.WithFields(logrus.Fields{
		"path":      b.config.ConnectionString,
		"in_memory": b.inMemory(),
	}).Info("Badger database opened")
	return nil
}

// Close closes the database
func (b *BadgerStorage) Close() error {
	if b.db != nil {
		err := b.db.Close()
		b.db = nil
		b.logger.Info("Badger database closed")
		return err
	}
	return nil
}

// Ping checks that the database is open
func (b *BadgerStorage) Ping() error {
	if b.db == nil || b.db.IsClosed() {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return nil
}

// Migrate is a no-op; Badger keys need no schema
func (b *BadgerStorage) Migrate() error {
	return b.Ping()
}

// Get returns the value stored under key
func (b *BadgerStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := b.Ping(); err != nil {
		return nil, err
	}

	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read key", err.Error())
	}
	return value, nil
}

// Put stores value under key
func (b *BadgerStorage) Put(ctx context.Context, key string, value []byte) error {
	if err := b.Ping(); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to write key", err.Error())
	}
	b.touch()
	return nil
}

// Delete removes key
func (b *BadgerStorage) Delete(ctx context.Context, key string) error {
	if err := b.Ping(); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete key", err.Error())
	}
	b.touch()
	return nil
}

// Keys lists every stored key
func (b *BadgerStorage) Keys(ctx context.Context) ([]string, error) {
	if err := b.Ping(); err != nil {
		return nil, err
	}

	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list keys", err.Error())
	}
	return keys, nil
}

// GetStats returns storage statistics
func (b *BadgerStorage) GetStats() (*StorageStats, error) {
	keys, err := b.Keys(context.Background())
	if err != nil {
		return nil, err
	}

	lsm, vlog := b.db.Size()
	stats := &StorageStats{
		Type:      "badger",
		Keys:      len(keys),
		SizeBytes: lsm + vlog,
	}

	b.mu.RLock()
	if b.lastWrite != nil {
		t := *b.lastWrite
		stats.LastWrite = &t
	}
	b.mu.RUnlock()

	return stats, nil
}

// GetHealth reports whether the database is open
func (b *BadgerStorage) GetHealth() *StorageHealth {
	return healthFrom("badger", b.Ping())
}

func (b *BadgerStorage) touch() {
	now := time.Now().UTC()
	b.mu.Lock()
	b.lastWrite = &now
	b.mu.Unlock()
}
