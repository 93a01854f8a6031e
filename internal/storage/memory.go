package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smartdevs17/errtrail/pkg/utils"
)

// MemoryStorage is a process-local Storage, used in tests and when durability is not wanted
type MemoryStorage struct {
	mu        sync.RWMutex
	data      map[string][]byte
	writes    int
	lastWrite *time.Time
	failPuts  error
	connected bool
}

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func (m *MemoryStorage) Connect() error {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Ping() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return utils.NewAppError(utils.ErrCodeDatabase, "Storage not connected", "")
	}
	return nil
}

func (m *MemoryStorage) Migrate() error { return nil }

func (m *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (m *MemoryStorage) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPuts != nil {
		return m.failPuts
	}
	m.data[key] = append([]byte(nil), value...)
	m.writes++
	now := time.Now().UTC()
	m.lastWrite = &now
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	m.writes++
	return nil
}

func (m *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStorage) GetStats() (*StorageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &StorageStats{Type: "memory", Keys: len(m.data)}
	for _, value := range m.data {
		stats.SizeBytes += int64(len(value))
	}
	if m.lastWrite != nil {
		t := *m.lastWrite
		stats.LastWrite = &t
	}
	return stats, nil
}

func (m *MemoryStorage) GetHealth() *StorageHealth {
	return healthFrom("memory", m.Ping())
}

// Writes returns how many Put and Delete calls have been applied
func (m *MemoryStorage) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// FailPuts makes every later Put return err; nil restores normal writes
func (m *MemoryStorage) FailPuts(err error) {
	m.mu.Lock()
	m.failPuts = err
	m.mu.Unlock()
}
