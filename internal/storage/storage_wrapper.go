package storage

import (
	"context"
	"errors"
	"time"

	"github.com/smartdevs17/errtrail/internal/metrics"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

// Get reads a key and records metrics
func (s *StorageWithMetrics) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()

	value, err := s.Storage.Get(ctx, key)

	// A missing key is an expected outcome on first start
	status := statusOf(err)
	if errors.Is(err, ErrNotFound) {
		status = "not_found"
	}
	s.record("get", key, status, start)

	return value, err
}

// Put writes a key and records metrics
func (s *StorageWithMetrics) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()

	err := s.Storage.Put(ctx, key, value)
	s.record("put", key, statusOf(err), start)

	return err
}

// Delete removes a key and records metrics
func (s *StorageWithMetrics) Delete(ctx context.Context, key string) error {
	start := time.Now()

	err := s.Storage.Delete(ctx, key)
	s.record("delete", key, statusOf(err), start)

	return err
}

// Watch forwards to the wrapped storage when it supports watching
func (s *StorageWithMetrics) Watch(ctx context.Context, key string, onChange func(key string)) error {
	watcher, ok := s.Storage.(Watcher)
	if !ok {
		return ErrWatchUnsupported
	}
	return watcher.Watch(ctx, key, onChange)
}

// Unwrap returns the wrapped storage
func (s *StorageWithMetrics) Unwrap() Storage {
	return s.Storage
}

func (s *StorageWithMetrics) record(operation, key, status string, start time.Time) {
	if s.metricsManager == nil {
		return
	}
	s.metricsManager.GetPrometheusMetrics().RecordStorageOperation(operation, key, status, time.Since(start))
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
