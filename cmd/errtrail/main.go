// File: cmd/errtrail/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/errtrail/internal/capture"
	"github.com/smartdevs17/errtrail/internal/config"
	"github.com/smartdevs17/errtrail/internal/env"
	"github.com/smartdevs17/errtrail/internal/ledger"
	"github.com/smartdevs17/errtrail/internal/metrics"
	"github.com/smartdevs17/errtrail/internal/models"
	"github.com/smartdevs17/errtrail/internal/server"
	"github.com/smartdevs17/errtrail/internal/sink"
	"github.com/smartdevs17/errtrail/internal/storage"
	"github.com/smartdevs17/errtrail/internal/structlog"
	"github.com/smartdevs17/errtrail/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config     *config.Config
	logger     *logrus.Logger
	metrics    *metrics.Manager
	storage    *storage.StorageWithMetrics
	structLog  *structlog.Logger
	ledger     *ledger.Ledger
	capturer   *capture.Capturer
	boundaries *capture.Registry
	installer  *capture.GlobalInstaller
	server     *server.HTTPServer
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	// Initialize logger
	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize components
	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	logger, err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File)
	if err != nil {
		return err
	}

	app.logger = logger
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metrics = metrics.NewManager(app.logger)

	// Initialize storage
	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Initialize structured logger
	if err := app.initializeStructLog(); err != nil {
		return fmt.Errorf("failed to initialize structured logger: %w", err)
	}

	// Initialize error ledger
	if err := app.initializeLedger(); err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}

	// Initialize capture boundaries and global hooks
	if err := app.initializeCapture(); err != nil {
		return fmt.Errorf("failed to initialize capture: %w", err)
	}

	// Initialize HTTP server
	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage initializes the storage layer
func (app *Application) initializeStorage() error {
	store, err := openStorage(app.config, app.logger)
	if err != nil {
		return err
	}
	app.storage = storage.NewStorageWithMetrics(store, app.metrics)
	return nil
}

// initializeStructLog initializes the structured logger
func (app *Application) initializeStructLog() error {
	app.logger.Info("Initializing structured logger")

	cfg, err := structLogConfig(app.config)
	if err != nil {
		return err
	}

	app.structLog = structlog.New(cfg,
		structlog.WithStorage(app.storage),
		structlog.WithConsole(sink.NewConsoleSink(app.logger)),
		structlog.WithRemote(sink.NewRemoteSink(sink.RemoteConfig{
			Source:  app.config.App.Name,
			Timeout: app.config.Logger.RemoteTimeout,
			Retries: app.config.Logger.RemoteRetries,
		}, app.logger)),
		structlog.WithEnv(env.NewProcess(app.config.App.Name, app.config.App.Version)),
		structlog.WithMetrics(app.metrics.GetPrometheusMetrics()),
		structlog.WithLogrus(app.logger),
	)

	app.logger.WithField("session_id", app.structLog.SessionID()).Info("Structured logger initialized successfully")
	return nil
}

// initializeLedger initializes the error ledger
func (app *Application) initializeLedger() error {
	app.logger.Info("Initializing error ledger")

	app.ledger = ledger.New(ledgerConfig(app.config),
		ledger.WithStorage(app.storage),
		ledger.WithMirror(app.structLog),
		ledger.WithEnv(env.NewProcess(app.config.App.Name, app.config.App.Version)),
		ledger.WithMetrics(app.metrics.GetPrometheusMetrics()),
		ledger.WithLogrus(app.logger),
	)

	if app.config.Storage.WatchExternal {
		err := app.ledger.WatchStorage(app.ctx, app.storage)
		switch {
		case errors.Is(err, storage.ErrWatchUnsupported):
			app.logger.WithField("type", app.config.Storage.Type).Debug("Storage backend cannot be watched; external writes are picked up on restart")
		case err != nil:
			return fmt.Errorf("failed to watch ledger storage: %w", err)
		}
	}

	counts := app.ledger.Counts()
	app.logger.WithFields(logrus.Fields{
		"error_count":      counts.ErrorCount,
		"unresolved_count": counts.UnresolvedCount,
	}).Info("Error ledger initialized successfully")
	return nil
}

// initializeCapture initializes the capture entry point, boundaries and global hooks
func (app *Application) initializeCapture() error {
	app.logger.Info("Initializing capture")

	level := models.CaptureLevel(app.config.Capture.BoundaryLevel)
	promMetrics := app.metrics.GetPrometheusMetrics()

	app.capturer = capture.NewCapturer(app.ledger,
		capture.WithDefaultLevel(level),
		capture.WithCaptureEnv(env.NewProcess(app.config.App.Name, app.config.App.Version)),
		capture.WithCaptureMetrics(promMetrics),
		capture.WithCaptureLogger(app.logger),
	)

	app.boundaries = capture.NewRegistry(app.capturer,
		capture.WithLevel(level),
		capture.WithMaxRetries(app.config.Capture.MaxRetries),
		capture.WithBoundaryMetrics(promMetrics),
	)

	app.installer = capture.NewGlobalInstaller(app.capturer, nil)
	if app.config.Capture.InstallGlobal {
		app.installer.Install()
	}

	app.logger.WithFields(logrus.Fields{
		"boundary_level": level,
		"max_retries":    app.config.Capture.MaxRetries,
		"global_hooks":   app.installer.Installed(),
	}).Info("Capture initialized successfully")
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	app.logger.Info("Initializing HTTP server")

	serverCfg := &server.ServerConfig{
		Port:           app.config.Server.Port,
		Host:           app.config.Server.Host,
		ReadTimeout:    app.config.Server.ReadTimeout,
		WriteTimeout:   app.config.Server.WriteTimeout,
		EnableMetrics:  app.config.Server.EnableMetrics,
		EnableHealth:   app.config.Server.EnableHealth,
		GuardEndpoints: app.config.Capture.GuardEndpoints,
		Version:        AppVersion,
	}

	var err error
	app.server, err = server.NewHTTPServer(
		serverCfg,
		app.storage,
		app.ledger,
		app.structLog,
		app.capturer,
		app.boundaries,
		app.metrics,
		app.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	app.logger.Info("HTTP server initialized successfully")
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting errtrail")

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"storage":        app.config.Storage.Type,
	}).Info("errtrail started successfully")

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping errtrail")

	// Cancel context to stop the storage watcher
	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.installer != nil {
		app.installer.Uninstall()
	}

	// Let in-flight remote sends finish before the store goes away
	if app.structLog != nil {
		app.structLog.Wait()
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	app.logger.Info("errtrail stopped successfully")
	return nil
}

// openStorage creates, connects and migrates the configured backend
func openStorage(cfg *config.Config, logger *logrus.Logger) (storage.Storage, error) {
	if err := storage.ValidateStorageConfig(&cfg.Storage); err != nil {
		return nil, err
	}

	store, err := storage.NewStorage(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to storage: %w", err)
	}

	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run storage migrations: %w", err)
	}

	logger.WithField("type", cfg.Storage.Type).Info("Storage layer initialized successfully")
	return store, nil
}

// structLogConfig maps the logger section onto structlog.Config
func structLogConfig(cfg *config.Config) (structlog.Config, error) {
	out := structlog.Config{
		MaxEntries:     cfg.Logger.MaxEntries,
		EnableConsole:  cfg.Logger.EnableConsole,
		EnableRemote:   cfg.Logger.EnableRemote,
		EnableStorage:  cfg.Logger.EnableStorage,
		RemoteEndpoint: cfg.Logger.RemoteEndpoint,
		RemoteTimeout:  cfg.Logger.RemoteTimeout,
		StorageKey:     cfg.Logger.StorageKey,
		FilterLevels:   make([]models.Level, 0, len(cfg.Logger.FilterLevels)),
	}
	for _, name := range cfg.Logger.FilterLevels {
		level, err := models.ParseLevel(strings.ToLower(name))
		if err != nil {
			return structlog.Config{}, err
		}
		out.FilterLevels = append(out.FilterLevels, level)
	}
	return out, nil
}

// ledgerConfig maps the ledger section onto ledger.Config
func ledgerConfig(cfg *config.Config) ledger.Config {
	return ledger.Config{
		MaxEntries: cfg.Ledger.MaxEntries,
		StorageKey: cfg.Ledger.StorageKey,
	}
}

// loadConfig loads and validates the configuration named by --config
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level = viper.GetString("log-level")
	}
	if viper.GetBool("debug") {
		cfg.Logging.Level = "debug"
		cfg.App.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "errtrail",
	Short:   "Error capture and durable logging service",
	Long:    `Captures errors from clients and guarded endpoints, keeps a resolvable error ledger and a bounded structured log, and persists both to durable storage.`,
	Version: AppVersion,
}

// serveCmd runs the HTTP service
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture and ledger HTTP service",
	RunE:  runServe,
}

// runServe is the main command to run the service
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Create application
	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Set up signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	// Start application
	if err := app.Start(); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	// Wait for shutdown signal
	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	return app.Stop()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("errtrail %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Storage: %s (%s)\n", cfg.Storage.Type, cfg.Storage.ConnectionString)
		fmt.Printf("Ledger: %d entries under %q\n", cfg.Ledger.MaxEntries, cfg.Ledger.StorageKey)
		fmt.Printf("Logger: %d entries under %q, levels %s\n", cfg.Logger.MaxEntries, cfg.Logger.StorageKey, strings.Join(cfg.Logger.FilterLevels, ","))
		fmt.Printf("Capture: level %s, %d retries\n", cfg.Capture.BoundaryLevel, cfg.Capture.MaxRetries)
		fmt.Printf("Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)

		return nil
	},
}

// init initializes the CLI commands
func init() {
	// Assigned here rather than in the literal to avoid an initialization cycle
	// (rootCmd -> runServe -> loadConfig -> rootCmd).
	rootCmd.RunE = runServe

	// Add persistent flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	// Bind flags to viper
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(validateConfigCmd)
	addErrorsCommands(rootCmd)
	addLogsCommands(rootCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
