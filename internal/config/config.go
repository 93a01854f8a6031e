// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Storage StorageConfig `mapstructure:"storage"`
	Logger  LoggerConfig  `mapstructure:"logger"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Capture CaptureConfig `mapstructure:"capture"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// StorageConfig contains durable storage configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres, badger, file, memory
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	SyncWrites       bool          `mapstructure:"sync_writes"`
	// WatchExternal reloads the ledger when another process writes it (file backend only)
	WatchExternal bool `mapstructure:"watch_external"`
}

// LoggerConfig contains structured log buffer configuration
type LoggerConfig struct {
	MaxEntries     int           `mapstructure:"max_entries"`
	EnableConsole  bool          `mapstructure:"enable_console"`
	EnableStorage  bool          `mapstructure:"enable_storage"`
	EnableRemote   bool          `mapstructure:"enable_remote"`
	RemoteEndpoint string        `mapstructure:"remote_endpoint"`
	RemoteTimeout  time.Duration `mapstructure:"remote_timeout"`
	RemoteRetries  int           `mapstructure:"remote_retries"`
	FilterLevels   []string      `mapstructure:"filter_levels"`
	StorageKey     string        `mapstructure:"storage_key"`
}

// LedgerConfig contains error ledger configuration
type LedgerConfig struct {
	MaxEntries int    `mapstructure:"max_entries"`
	StorageKey string `mapstructure:"storage_key"`
}

// CaptureConfig contains capture boundary configuration
type CaptureConfig struct {
	MaxRetries     int    `mapstructure:"max_retries"`
	BoundaryLevel  string `mapstructure:"boundary_level"` // global, page, component
	InstallGlobal  bool   `mapstructure:"install_global"`
	GuardEndpoints bool   `mapstructure:"guard_endpoints"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains process logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("ERRTRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	return &config, nil
}

// Default returns the configuration used when no file or environment overrides exist
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	// Defaults are plain values; decoding them cannot fail
	_ = v.Unmarshal(&config)
	return &config
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "errtrail")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/errtrail.db")
	v.SetDefault("storage.max_connections", 1)
	v.SetDefault("storage.max_idle_time", "15m")
	v.SetDefault("storage.sync_writes", true)
	v.SetDefault("storage.watch_external", true)

	// Structured logger defaults
	v.SetDefault("logger.max_entries", 1000)
	v.SetDefault("logger.enable_console", true)
	v.SetDefault("logger.enable_storage", true)
	v.SetDefault("logger.enable_remote", false)
	v.SetDefault("logger.remote_endpoint", "")
	v.SetDefault("logger.remote_timeout", "5s")
	v.SetDefault("logger.remote_retries", 2)
	v.SetDefault("logger.filter_levels", []string{"error", "warn"})
	v.SetDefault("logger.storage_key", "errtrail.logs")

	// Ledger defaults
	v.SetDefault("ledger.max_entries", 100)
	v.SetDefault("ledger.storage_key", "errtrail.errors")

	// Capture defaults
	v.SetDefault("capture.max_retries", 3)
	v.SetDefault("capture.boundary_level", "component")
	v.SetDefault("capture.install_global", true)
	v.SetDefault("capture.guard_endpoints", true)

	// Server defaults
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

var (
	levelNames         = map[string]bool{"error": true, "warn": true, "info": true, "debug": true}
	captureLevelNames  = map[string]bool{"global": true, "page": true, "component": true}
	loggingOutputNames = map[string]bool{"stdout": true, "stderr": true, "file": true}
)

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.Type == "" {
		return fmt.Errorf("storage type is required")
	}
	if c.Storage.ConnectionString == "" && c.Storage.Type != "memory" && c.Storage.Type != "badger" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Logger.MaxEntries <= 0 {
		return fmt.Errorf("logger max entries must be positive")
	}
	if c.Logger.EnableRemote && c.Logger.RemoteEndpoint == "" {
		return fmt.Errorf("logger remote endpoint is required when remote logging is enabled")
	}
	for _, level := range c.Logger.FilterLevels {
		if !levelNames[strings.ToLower(level)] {
			return fmt.Errorf("unknown logger filter level %q", level)
		}
	}
	if c.Logger.StorageKey == "" || c.Ledger.StorageKey == "" {
		return fmt.Errorf("storage keys must not be empty")
	}
	if c.Logger.StorageKey == c.Ledger.StorageKey {
		return fmt.Errorf("logger and ledger must use different storage keys")
	}
	if c.Ledger.MaxEntries <= 0 {
		return fmt.Errorf("ledger max entries must be positive")
	}
	if c.Capture.MaxRetries < 0 {
		return fmt.Errorf("capture max retries must not be negative")
	}
	if !captureLevelNames[c.Capture.BoundaryLevel] {
		return fmt.Errorf("unknown capture boundary level %q", c.Capture.BoundaryLevel)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if !loggingOutputNames[c.Logging.Output] {
		return fmt.Errorf("unknown logging output %q", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.File == "" {
		return fmt.Errorf("logging file is required when output is file")
	}
	return nil
}
