// Package structlog keeps a bounded, leveled log buffer for the process and
// fans each accepted entry out to the console, a remote collector and storage.
package structlog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/errtrail/internal/env"
	"github.com/smartdevs17/errtrail/internal/metrics"
	"github.com/smartdevs17/errtrail/internal/models"
	"github.com/smartdevs17/errtrail/internal/sink"
	"github.com/smartdevs17/errtrail/internal/storage"
	"github.com/smartdevs17/errtrail/pkg/utils"
)

// Logger is the structured log buffer
type Logger struct {
	mu        sync.RWMutex
	config    Config
	logs      []models.LogEntry
	sessionID string

	store   storage.KeyValue
	remote  sink.Remote
	console sink.Console
	env     env.Provider
	metrics *metrics.PrometheusMetrics
	base    *logrus.Logger
	logger  *logrus.Entry

	inflight sync.WaitGroup
}

// New creates a logger and loads any persisted buffer
func New(config Config, opts ...Option) *Logger {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultConfig().MaxEntries
	}
	if config.StorageKey == "" {
		config.StorageKey = DefaultStorageKey
	}
	if config.RemoteTimeout <= 0 {
		config.RemoteTimeout = DefaultConfig().RemoteTimeout
	}

	l := &Logger{config: config.clone()}
	for _, opt := range opts {
		opt(l)
	}

	l.logger = utils.ComponentLogger(l.base, "structlog")
	if l.console == nil {
		l.console = sink.NewConsoleSink(l.base)
	}
	if l.remote == nil {
		l.remote = sink.NewRemoteSink(sink.RemoteConfig{Timeout: l.config.RemoteTimeout}, l.base)
	}
	if l.env == nil {
		l.env = env.NewProcess("errtrail", "")
	}

	l.sessionID = utils.NewSessionID(l.env.Snapshot().Timestamp)
	l.hydrate()
	return l
}

// SessionID is shared by every entry this logger creates
func (l *Logger) SessionID() string {
	return l.sessionID
}

// Log records err at error level
func (l *Logger) Log(err error, ctx models.Context, meta map[string]interface{}) {
	info := models.ErrorInfoFrom(err)
	l.add(models.LevelError, info.Message, &info, ctx, meta)
}

// Warn records a warning
func (l *Logger) Warn(message string, ctx models.Context, meta map[string]interface{}) {
	l.add(models.LevelWarn, message, nil, ctx, meta)
}

// Info records an informational message
func (l *Logger) Info(message string, ctx models.Context, meta map[string]interface{}) {
	l.add(models.LevelInfo, message, nil, ctx, meta)
}

// Debug records a debug message
func (l *Logger) Debug(message string, ctx models.Context, meta map[string]interface{}) {
	l.add(models.LevelDebug, message, nil, ctx, meta)
}

func (l *Logger) add(level models.Level, message string, info *models.ErrorInfo, ctx models.Context, meta map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.config.accepts(level) {
		l.metrics.RecordLogFiltered(string(level))
		return
	}

	snap := l.env.Snapshot()
	entry := models.LogEntry{
		ID:        utils.NewRecordID(snap.Timestamp),
		Timestamp: snap.Timestamp,
		Level:     level,
		Message:   message,
		Error:     info,
		Context:   ctx.Normalized(),
		UserAgent: snap.UserAgent,
		URL:       snap.URL,
		SessionID: l.sessionID,
		Metadata:  models.NormalizeMap(meta),
	}

	l.logs = append(l.logs, entry)
	if over := len(l.logs) - l.config.MaxEntries; over > 0 {
		l.logs = append([]models.LogEntry(nil), l.logs[over:]...)
	}
	l.metrics.RecordLogEntry(string(level), len(l.logs))

	if l.config.EnableConsole {
		l.console.Write(entry)
	}

	if l.config.EnableRemote && l.config.RemoteEndpoint != "" {
		l.sendRemote(l.config.RemoteEndpoint, entry.Clone())
	}

	if l.config.EnableStorage {
		l.persistLocked()
	}
}

// sendRemote delivers entry in the background; failures only produce a console warning
func (l *Logger) sendRemote(endpoint string, entry models.LogEntry) {
	timeout := l.config.RemoteTimeout
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		start := time.Now()
		if err := l.remote.Send(ctx, endpoint, entry); err != nil {
			l.metrics.RecordRemoteSink("error", time.Since(start))
			l.logger.WithFields(logrus.Fields{
				"endpoint": endpoint,
				"log_id":   entry.ID,
				"error":    err.Error(),
			}).Warn("Failed to send log entry to remote endpoint")
			return
		}
		l.metrics.RecordRemoteSink("success", time.Since(start))
	}()
}

// Wait blocks until background remote deliveries finish
func (l *Logger) Wait() {
	l.inflight.Wait()
}

// GetLogs returns every entry, or only those at level when level is set
func (l *Logger) GetLogs(level models.Level) []models.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.LogEntry, 0, len(l.logs))
	for _, entry := range l.logs {
		if level == "" || entry.Level == level {
			out = append(out, entry.Clone())
		}
	}
	return out
}

// GetStats counts the buffer by level
func (l *Logger) GetStats() models.LogStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := models.LogStats{Total: len(l.logs), SessionID: l.sessionID}
	for _, entry := range l.logs {
		switch entry.Level {
		case models.LevelError:
			stats.ErrorCount++
		case models.LevelWarn:
			stats.WarnCount++
		case models.LevelInfo:
			stats.InfoCount++
		case models.LevelDebug:
			stats.DebugCount++
		}
	}
	return stats
}

// ExportLogs returns the buffer in the export format
func (l *Logger) ExportLogs() models.LogExport {
	l.mu.RLock()
	defer l.mu.RUnlock()

	logs := make([]models.LogEntry, len(l.logs))
	for i, entry := range l.logs {
		logs[i] = entry.Clone()
	}
	return models.LogExport{
		Logs:       logs,
		SessionID:  l.sessionID,
		ExportedAt: l.env.Snapshot().Timestamp,
		Version:    models.ExportVersion,
	}
}

// ExportLogsJSON returns ExportLogs encoded as indented JSON
func (l *Logger) ExportLogsJSON() ([]byte, error) {
	data, err := json.MarshalIndent(l.ExportLogs(), "", "  ")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeSerialization, "Failed to encode logs", err.Error())
	}
	return data, nil
}

// ImportLogs replaces the buffer with an exported payload. A payload that
// fails to parse, has no logs array, carries an unknown version or holds an
// entry without id or valid level is rejected and the buffer is left as is.
func (l *Logger) ImportLogs(payload []byte) error {
	logs, err := decodeLogExport(payload)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if over := len(logs) - l.config.MaxEntries; over > 0 {
		logs = logs[over:]
	}
	l.logs = logs
	l.metrics.UpdateLogBufferSize(len(l.logs))

	if l.config.EnableStorage {
		l.persistLocked()
	}
	return nil
}

func decodeLogExport(payload []byte) ([]models.LogEntry, error) {
	var raw struct {
		Logs    *[]models.LogEntry `json:"logs"`
		Version string             `json:"version"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, invalidLogData(err.Error())
	}
	if raw.Logs == nil {
		return nil, invalidLogData("missing logs array")
	}
	if raw.Version != models.ExportVersion {
		return nil, invalidLogData("unsupported version " + raw.Version)
	}
	for i, entry := range *raw.Logs {
		if entry.ID == "" || !entry.Level.Valid() {
			return nil, invalidLogData("malformed entry at index " + strconv.Itoa(i))
		}
		(*raw.Logs)[i].Timestamp = entry.Timestamp.UTC()
	}
	return *raw.Logs, nil
}

func invalidLogData(details string) error {
	return utils.NewAppError(utils.ErrCodeValidation, "Invalid log data", details).Wrap(models.ErrInvalidLogData)
}

// ClearLogs empties the buffer and removes the persisted copy
func (l *Logger) ClearLogs() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logs = nil
	l.metrics.UpdateLogBufferSize(0)

	if l.store == nil {
		return
	}
	if err := l.store.Delete(context.Background(), l.config.StorageKey); err != nil {
		l.logger.WithError(err).Warn("Failed to delete persisted logs")
	}
}

// UpdateConfig merges patch into the configuration; later calls see the result
func (l *Logger) UpdateConfig(patch ConfigPatch) Config {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.config = l.config.apply(patch)
	return l.config.clone()
}

// Config returns the current configuration
func (l *Logger) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.clone()
}

// persistLocked writes the whole buffer; callers hold l.mu
func (l *Logger) persistLocked() {
	if l.store == nil {
		return
	}

	data, err := json.Marshal(models.PersistedLogs{
		Logs:        l.logs,
		LastUpdated: time.Now().UTC(),
		SessionID:   l.sessionID,
	})
	if err != nil {
		l.logger.WithError(err).Warn("Failed to encode logs for storage")
		return
	}

	if err := l.store.Put(context.Background(), l.config.StorageKey, data); err != nil {
		l.logger.WithError(err).Warn("Failed to save logs to storage")
	}
}

// hydrate loads the persisted buffer; a missing or corrupt payload starts empty
func (l *Logger) hydrate() {
	if l.store == nil {
		return
	}

	data, err := l.store.Get(context.Background(), l.config.StorageKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			l.logger.WithError(err).Warn("Failed to load logs from storage")
		}
		return
	}

	var persisted models.PersistedLogs
	if err := json.Unmarshal(data, &persisted); err != nil {
		l.logger.WithError(err).Warn("Persisted logs are corrupt, starting empty")
		return
	}

	logs := persisted.Logs
	if over := len(logs) - l.config.MaxEntries; over > 0 {
		logs = logs[over:]
	}
	l.logs = logs
	l.metrics.UpdateLogBufferSize(len(l.logs))

	l.logger.WithField("entries", len(l.logs)).Debug("Loaded persisted logs")
}
