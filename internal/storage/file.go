package storage

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/errtrail/pkg/utils"
)

const fileSuffix = ".json"

// DefaultWatchDebounce coalesces bursts of filesystem events for one key
const DefaultWatchDebounce = 50 * time.Millisecond

// FileStorage keeps one JSON document per key in a directory.
// Several processes may share the directory; Watch reports writes made by the others.
type FileStorage struct {
	dir      string
	debounce time.Duration
	logger   *logrus.Entry

	mu        sync.RWMutex
	written   map[string][]byte
	connected bool
}

// NewFileStorage creates a file backed storage rooted at config.ConnectionString
func NewFileStorage(config *StorageConfig, logger *logrus.Logger) *FileStorage {
	return &FileStorage{
		dir:      config.ConnectionString,
		debounce: DefaultWatchDebounce,
		logger:   utils.ComponentLogger(logger, "storage").WithField("backend", "file"),
		written:  make(map[string][]byte),
	}
}

// Connect creates the storage directory
func (f *FileStorage) Connect() error {
	if f.dir == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage directory is required", "")
	}
	if err := os.MkdirAll(f.dir, 0750); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create storage directory", err.Error())
	}

	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()

	f.logger.WithField("dir", f.dir).Info("File storage ready")
	return nil
}

// Close releases nothing; watchers stop with their context
func (f *FileStorage) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

// Ping checks that the directory is reachable
func (f *FileStorage) Ping() error {
	f.mu.RLock()
	connected := f.connected
	f.mu.RUnlock()
	if !connected {
		return utils.NewAppError(utils.ErrCodeDatabase, "Storage not connected", "")
	}

	info, err := os.Stat(f.dir)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Storage directory unavailable", err.Error())
	}
	if !info.IsDir() {
		return utils.NewAppError(utils.ErrCodeDatabase, "Storage path is not a directory", f.dir)
	}
	return nil
}

// Migrate is a no-op for file storage
func (f *FileStorage) Migrate() error {
	return nil
}

// Get returns the value stored under key
func (f *FileStorage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read key", err.Error())
	}
	return data, nil
}

// Put atomically replaces the document for key
func (f *FileStorage) Put(ctx context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(f.dir, "."+fileName(key)+".tmp-*")
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create temp file", err.Error())
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to write key", err.Error())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to write key", err.Error())
	}

	// Record before rename so the watcher sees our own content
	f.remember(key, value)

	if err := os.Rename(tmpName, f.path(key)); err != nil {
		os.Remove(tmpName)
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to replace key", err.Error())
	}
	return nil
}

// Delete removes the document for key
func (f *FileStorage) Delete(ctx context.Context, key string) error {
	f.remember(key, nil)
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete key", err.Error())
	}
	return nil
}

// Keys lists every stored key
func (f *FileStorage) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list keys", err.Error())
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileSuffix))
	}
	sort.Strings(keys)
	return keys, nil
}

// GetStats returns storage statistics
func (f *FileStorage) GetStats() (*StorageStats, error) {
	keys, err := f.Keys(context.Background())
	if err != nil {
		return nil, err
	}

	stats := &StorageStats{Type: "file", Keys: len(keys)}
	for _, key := range keys {
		info, err := os.Stat(f.path(key))
		if err != nil {
			continue
		}
		stats.SizeBytes += info.Size()
		mod := info.ModTime().UTC()
		if stats.LastWrite == nil || mod.After(*stats.LastWrite) {
			stats.LastWrite = &mod
		}
	}
	return stats, nil
}

// GetHealth reports whether the directory is reachable
func (f *FileStorage) GetHealth() *StorageHealth {
	return healthFrom("file", f.Ping())
}

// Watch calls onChange whenever another writer replaces or removes key.
// Writes made through this FileStorage are not reported.
func (f *FileStorage) Watch(ctx context.Context, key string, onChange func(key string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to create file watcher", err.Error())
	}
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to watch storage directory", err.Error())
	}

	target := fileName(key)
	logger := f.logger.WithField("key", key)
	logger.Debug("Watching key for external writes")

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		fire := func() {
			if f.isOwnWrite(key) {
				return
			}
			logger.Debug("External write detected")
			onChange(key)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(f.debounce, fire)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("File watcher error")
			}
		}
	}()

	return nil
}

// isOwnWrite reports whether the file still holds what this process last wrote
func (f *FileStorage) isOwnWrite(key string) bool {
	f.mu.RLock()
	last, ok := f.written[key]
	f.mu.RUnlock()
	if !ok {
		return false
	}

	current, err := os.ReadFile(f.path(key))
	if err != nil {
		return last == nil && errors.Is(err, fs.ErrNotExist)
	}
	return last != nil && bytes.Equal(current, last)
}

func (f *FileStorage) remember(key string, value []byte) {
	f.mu.Lock()
	if value == nil {
		f.written[key] = nil
	} else {
		f.written[key] = append([]byte(nil), value...)
	}
	f.mu.Unlock()
}

func (f *FileStorage) path(key string) string {
	return filepath.Join(f.dir, fileName(key))
}

// fileName maps a key onto a single path element
func fileName(key string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", string(os.PathSeparator), "_")
	return replacer.Replace(key) + fileSuffix
}
