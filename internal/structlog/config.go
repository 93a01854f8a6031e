package structlog

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/errtrail/internal/env"
	"github.com/smartdevs17/errtrail/internal/metrics"
	"github.com/smartdevs17/errtrail/internal/models"
	"github.com/smartdevs17/errtrail/internal/sink"
	"github.com/smartdevs17/errtrail/internal/storage"
)

// DefaultStorageKey is where the buffer is persisted
const DefaultStorageKey = "errtrail.logs"

// Config controls which entries are kept and where they are sent
type Config struct {
	MaxEntries     int
	EnableConsole  bool
	EnableRemote   bool
	EnableStorage  bool
	RemoteEndpoint string
	RemoteTimeout  time.Duration
	FilterLevels   []models.Level
	StorageKey     string
}

// DefaultConfig keeps the last 1000 error and warn entries, printed and persisted
func DefaultConfig() Config {
	return Config{
		MaxEntries:    1000,
		EnableConsole: true,
		EnableRemote:  false,
		EnableStorage: true,
		RemoteTimeout: 5 * time.Second,
		FilterLevels:  []models.Level{models.LevelError, models.LevelWarn},
		StorageKey:    DefaultStorageKey,
	}
}

// ConfigPatch is a partial Config; nil fields are left unchanged
type ConfigPatch struct {
	MaxEntries     *int           `json:"maxEntries,omitempty"`
	EnableConsole  *bool          `json:"enableConsole,omitempty"`
	EnableRemote   *bool          `json:"enableRemote,omitempty"`
	EnableStorage  *bool          `json:"enableStorage,omitempty"`
	RemoteEndpoint *string        `json:"remoteEndpoint,omitempty"`
	FilterLevels   []models.Level `json:"filterLevels,omitempty"`
}

func (c Config) apply(p ConfigPatch) Config {
	if p.MaxEntries != nil && *p.MaxEntries > 0 {
		c.MaxEntries = *p.MaxEntries
	}
	if p.EnableConsole != nil {
		c.EnableConsole = *p.EnableConsole
	}
	if p.EnableRemote != nil {
		c.EnableRemote = *p.EnableRemote
	}
	if p.EnableStorage != nil {
		c.EnableStorage = *p.EnableStorage
	}
	if p.RemoteEndpoint != nil {
		c.RemoteEndpoint = *p.RemoteEndpoint
	}
	if p.FilterLevels != nil {
		c.FilterLevels = append([]models.Level(nil), p.FilterLevels...)
	}
	return c
}

func (c Config) clone() Config {
	c.FilterLevels = append([]models.Level(nil), c.FilterLevels...)
	return c
}

func (c Config) accepts(level models.Level) bool {
	for _, l := range c.FilterLevels {
		if l == level {
			return true
		}
	}
	return false
}

// Option customizes a Logger
type Option func(*Logger)

// WithStorage persists the buffer through store
func WithStorage(store storage.KeyValue) Option {
	return func(l *Logger) { l.store = store }
}

// WithRemote replaces the HTTP remote sink
func WithRemote(remote sink.Remote) Option {
	return func(l *Logger) { l.remote = remote }
}

// WithConsole replaces the logrus console sink
func WithConsole(console sink.Console) Option {
	return func(l *Logger) { l.console = console }
}

// WithEnv sets where url, user agent and time come from
func WithEnv(provider env.Provider) Option {
	return func(l *Logger) { l.env = provider }
}

// WithMetrics records buffer activity
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(l *Logger) { l.metrics = m }
}

// WithLogrus sets the logger used for the logger's own warnings
func WithLogrus(logger *logrus.Logger) Option {
	return func(l *Logger) { l.base = logger }
}
