// Package ledger keeps the resolvable list of captured errors shown to users.
//
// The ledger holds at most MaxEntries records, newest first. errorCount
// counts every error ever added and survives ClearErrors; unresolvedCount
// tracks entries still awaiting resolution. Every mutation writes the whole
// ledger to storage.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/errtrail/internal/env"
	"github.com/smartdevs17/errtrail/internal/metrics"
	"github.com/smartdevs17/errtrail/internal/models"
	"github.com/smartdevs17/errtrail/internal/storage"
	"github.com/smartdevs17/errtrail/pkg/utils"
)

// DefaultStorageKey is where the ledger is persisted
const DefaultStorageKey = "errtrail.errors"

// Config configures a Ledger
type Config struct {
	MaxEntries int
	StorageKey string
}

// DefaultConfig keeps the 100 most recent errors
func DefaultConfig() Config {
	return Config{MaxEntries: 100, StorageKey: DefaultStorageKey}
}

// Mirror receives a copy of every added error, normally the structured logger
type Mirror interface {
	Log(err error, ctx models.Context, meta map[string]interface{})
}

// Ledger is the bounded error ledger
type Ledger struct {
	mu      sync.RWMutex
	config  Config
	entries []models.ErrorEntry
	counts  models.ErrorCounts

	store   storage.KeyValue
	mirror  Mirror
	env     env.Provider
	metrics *metrics.PrometheusMetrics
	base    *logrus.Logger
	logger  *logrus.Entry

	subMu     sync.RWMutex
	listeners map[int]Listener
	nextSubID int
}

// Option customizes a Ledger
type Option func(*Ledger)

// WithStorage persists the ledger through store
func WithStorage(store storage.KeyValue) Option {
	return func(l *Ledger) { l.store = store }
}

// WithMirror forwards every added error to m
func WithMirror(m Mirror) Option {
	return func(l *Ledger) { l.mirror = m }
}

// WithEnv sets where url, user agent and time come from
func WithEnv(provider env.Provider) Option {
	return func(l *Ledger) { l.env = provider }
}

// WithMetrics records ledger activity
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithLogrus sets the logger used for the ledger's own warnings
func WithLogrus(logger *logrus.Logger) Option {
	return func(l *Ledger) { l.base = logger }
}

// New creates a ledger and loads any persisted entries
func New(config Config, opts ...Option) *Ledger {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultConfig().MaxEntries
	}
	if config.StorageKey == "" {
		config.StorageKey = DefaultStorageKey
	}

	l := &Ledger{
		config:    config,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = utils.ComponentLogger(l.base, "ledger")
	if l.env == nil {
		l.env = env.NewProcess("errtrail", "")
	}

	l.hydrate()
	return l
}

// AddError records err as a new unresolved entry and returns it
func (l *Ledger) AddError(err error, ctx models.Context) models.ErrorEntry {
	snap := l.env.Snapshot()

	ctx = ctx.Clone()
	if ctx == nil {
		ctx = models.Context{}
	}
	ctx.SetDefault(models.ContextTimestamp, snap.Timestamp.Format(time.RFC3339Nano))
	ctx.SetDefault(models.ContextURL, snap.URL)
	ctx.SetDefault(models.ContextUserAgent, snap.UserAgent)
	ctx = ctx.Normalized()

	captured := captureTime(ctx, snap.Timestamp)
	entry := models.ErrorEntry{
		ID:        utils.NewRecordID(captured),
		Error:     models.ErrorInfoFrom(err),
		Context:   ctx,
		Timestamp: captured,
	}
	if n, ok := ctx.Int(models.ContextRetryCount); ok {
		entry.RetryCount = &n
	}

	l.mu.Lock()
	l.entries = append([]models.ErrorEntry{entry}, l.entries...)
	if len(l.entries) > l.config.MaxEntries {
		l.entries = l.entries[:l.config.MaxEntries]
	}
	l.counts.ErrorCount++
	l.counts.UnresolvedCount++
	counts := l.counts
	l.persistLocked()
	l.recordLocked("add")
	l.mu.Unlock()

	if l.mirror != nil {
		l.mirror.Log(entry.Error, entry.Context.Clone(), map[string]interface{}{"errorId": entry.ID})
	}

	out := entry.Clone()
	l.notify(Event{Type: EventAdded, Entry: &out, Counts: counts})
	return entry.Clone()
}

// ResolveError marks id resolved. Unknown ids and already resolved
// entries are left alone. It reports whether id exists.
func (l *Ledger) ResolveError(id string) bool {
	l.mu.Lock()
	idx := l.indexLocked(id)
	if idx < 0 {
		l.mu.Unlock()
		return false
	}
	if l.entries[idx].Resolved {
		l.mu.Unlock()
		return true
	}

	l.entries[idx].Resolved = true
	if l.counts.UnresolvedCount > 0 {
		l.counts.UnresolvedCount--
	}
	entry := l.entries[idx].Clone()
	counts := l.counts
	l.persistLocked()
	l.recordLocked("resolve")
	l.mu.Unlock()

	l.notify(Event{Type: EventResolved, Entry: &entry, Counts: counts})
	return true
}

// RemoveError deletes id whatever its state. It reports whether id existed.
func (l *Ledger) RemoveError(id string) bool {
	l.mu.Lock()
	idx := l.indexLocked(id)
	if idx < 0 {
		l.mu.Unlock()
		return false
	}

	entry := l.entries[idx]
	l.entries = append(l.entries[:idx:idx], l.entries[idx+1:]...)
	if !entry.Resolved && l.counts.UnresolvedCount > 0 {
		l.counts.UnresolvedCount--
	}
	counts := l.counts
	l.persistLocked()
	l.recordLocked("remove")
	l.mu.Unlock()

	l.notify(Event{Type: EventRemoved, Entry: &entry, Counts: counts})
	return true
}

// ClearErrors empties the ledger. errorCount is cumulative and is kept.
func (l *Ledger) ClearErrors() {
	l.mu.Lock()
	l.entries = nil
	l.counts.UnresolvedCount = 0
	counts := l.counts
	l.persistLocked()
	l.recordLocked("clear")
	l.mu.Unlock()

	l.notify(Event{Type: EventCleared, Counts: counts})
}

// GetErrorByID returns the entry for id
func (l *Ledger) GetErrorByID(id string) (models.ErrorEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx := l.indexLocked(id)
	if idx < 0 {
		return models.ErrorEntry{}, false
	}
	return l.entries[idx].Clone(), true
}

// List returns every entry, newest first
func (l *Ledger) List() []models.ErrorEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.ErrorEntry, len(l.entries))
	for i, entry := range l.entries {
		out[i] = entry.Clone()
	}
	return out
}

// Counts returns the derived counters
func (l *Ledger) Counts() models.ErrorCounts {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counts
}

// ExportErrors returns the ledger in the export format
func (l *Ledger) ExportErrors() models.ErrorExport {
	return models.ErrorExport{
		Errors:     l.List(),
		ExportDate: l.env.Snapshot().Timestamp,
		Version:    models.ExportVersion,
	}
}

// ExportErrorsJSON returns ExportErrors encoded as indented JSON
func (l *Ledger) ExportErrorsJSON() ([]byte, error) {
	data, err := json.MarshalIndent(l.ExportErrors(), "", "  ")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeSerialization, "Failed to encode errors", err.Error())
	}
	return data, nil
}

// ImportErrors replaces the ledger with an exported payload and recomputes
// the counters. Malformed payloads and unknown versions are rejected without
// touching the ledger.
func (l *Ledger) ImportErrors(payload []byte) error {
	entries, err := decodeErrorExport(payload)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.entries = l.newestFirst(entries)
	l.counts = scanCounts(l.entries)
	counts := l.counts
	l.persistLocked()
	l.recordLocked("import")
	l.mu.Unlock()

	l.notify(Event{Type: EventImported, Counts: counts})
	return nil
}

func decodeErrorExport(payload []byte) ([]models.ErrorEntry, error) {
	var raw struct {
		Errors  *[]models.ErrorEntry `json:"errors"`
		Version string               `json:"version"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, invalidErrorData(err.Error())
	}
	if raw.Errors == nil {
		return nil, invalidErrorData("missing errors array")
	}
	if raw.Version != models.ExportVersion {
		return nil, invalidErrorData("unsupported version " + raw.Version)
	}

	entries := *raw.Errors
	seen := make(map[string]bool, len(entries))
	for i := range entries {
		if entries[i].ID == "" {
			return nil, invalidErrorData("entry at index " + strconv.Itoa(i) + " has no id")
		}
		if seen[entries[i].ID] {
			return nil, invalidErrorData("duplicate id " + entries[i].ID)
		}
		seen[entries[i].ID] = true
		entries[i].Timestamp = entries[i].Timestamp.UTC()
	}
	return entries, nil
}

func invalidErrorData(details string) error {
	return utils.NewAppError(utils.ErrCodeValidation, "Invalid error data", details).Wrap(models.ErrInvalidErrorData)
}

// Reload merges the persisted ledger into memory. Entries are joined by id,
// a resolved flag on either side wins, and the result is re-sorted newest
// first. Entries that only exist in storage raise errorCount. The merged
// ledger is not written back; the next mutation persists it.
func (l *Ledger) Reload(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	persisted, err := l.load(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	byID := make(map[string]int, len(l.entries))
	merged := make([]models.ErrorEntry, len(l.entries))
	copy(merged, l.entries)
	for i, entry := range merged {
		byID[entry.ID] = i
	}

	added := 0
	for _, entry := range persisted.Errors {
		if i, ok := byID[entry.ID]; ok {
			merged[i].Resolved = merged[i].Resolved || entry.Resolved
			continue
		}
		byID[entry.ID] = len(merged)
		merged = append(merged, entry)
		added++
	}

	merged = l.newestFirst(merged)

	l.entries = merged
	l.counts.ErrorCount += added
	l.counts.UnresolvedCount = scanCounts(merged).UnresolvedCount
	counts := l.counts
	l.recordLocked("reload")
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"added":   added,
		"entries": len(merged),
	}).Debug("Ledger reloaded from storage")

	l.notify(Event{Type: EventReloaded, Counts: counts})
	return nil
}

// WatchStorage reloads the ledger whenever another process writes it
func (l *Ledger) WatchStorage(ctx context.Context, watcher storage.Watcher) error {
	return watcher.Watch(ctx, l.config.StorageKey, func(string) {
		if err := l.Reload(ctx); err != nil {
			l.logger.WithError(err).Warn("Failed to reload ledger after external write")
		}
	})
}

func (l *Ledger) indexLocked(id string) int {
	for i := range l.entries {
		if l.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *Ledger) recordLocked(operation string) {
	l.metrics.RecordLedgerMutation(operation)
	l.metrics.UpdateLedger(len(l.entries), l.counts.UnresolvedCount)
}

// persistLocked writes the whole ledger; callers hold l.mu
func (l *Ledger) persistLocked() {
	if l.store == nil {
		return
	}

	data, err := json.Marshal(models.PersistedErrors{
		Errors:    l.entries,
		LastSaved: time.Now().UTC(),
	})
	if err != nil {
		l.logger.WithError(err).Warn("Failed to encode errors for storage")
		return
	}

	if err := l.store.Put(context.Background(), l.config.StorageKey, data); err != nil {
		l.logger.WithError(err).Warn("Failed to save errors to storage")
	}
}

func (l *Ledger) load(ctx context.Context) (*models.PersistedErrors, error) {
	data, err := l.store.Get(ctx, l.config.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &models.PersistedErrors{}, nil
		}
		return nil, err
	}

	var persisted models.PersistedErrors
	if err := json.Unmarshal(data, &persisted); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeSerialization, "Persisted errors are corrupt", err.Error()).Wrap(models.ErrInvalidErrorData)
	}
	for i := range persisted.Errors {
		persisted.Errors[i].Timestamp = persisted.Errors[i].Timestamp.UTC()
	}
	return &persisted, nil
}

// hydrate loads the persisted ledger; missing or corrupt data starts empty
func (l *Ledger) hydrate() {
	if l.store == nil {
		return
	}

	persisted, err := l.load(context.Background())
	if err != nil {
		l.logger.WithError(err).Warn("Failed to load errors from storage, starting empty")
		return
	}

	l.entries = l.newestFirst(persisted.Errors)
	l.counts = scanCounts(l.entries)
	l.metrics.UpdateLedger(len(l.entries), l.counts.UnresolvedCount)

	l.logger.WithField("entries", len(l.entries)).Debug("Loaded persisted errors")
}

// newestFirst orders entries by timestamp, newest first, and keeps the
// newest MaxEntries. Equal timestamps keep their relative order.
func (l *Ledger) newestFirst(entries []models.ErrorEntry) []models.ErrorEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if len(entries) > l.config.MaxEntries {
		entries = entries[:l.config.MaxEntries]
	}
	return entries
}

// captureTime is the capture timestamp already stamped on ctx, so one event
// carries one time; fallback is used when ctx holds none
func captureTime(ctx models.Context, fallback time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, ctx.String(models.ContextTimestamp)); err == nil {
		return t.UTC()
	}
	return fallback
}

// scanCounts derives counters from entries alone
func scanCounts(entries []models.ErrorEntry) models.ErrorCounts {
	counts := models.ErrorCounts{ErrorCount: len(entries)}
	for _, entry := range entries {
		if !entry.Resolved {
			counts.UnresolvedCount++
		}
	}
	return counts
}
