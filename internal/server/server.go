// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/errtrail/internal/capture"
	"github.com/smartdevs17/errtrail/internal/ledger"
	"github.com/smartdevs17/errtrail/internal/metrics"
	"github.com/smartdevs17/errtrail/internal/storage"
	"github.com/smartdevs17/errtrail/internal/structlog"
	"github.com/smartdevs17/errtrail/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
	// GuardEndpoints runs every API route inside a capture boundary
	GuardEndpoints bool   `json:"guard_endpoints"`
	Version        string `json:"version"`
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	ledger         *ledger.Ledger
	structLog      *structlog.Logger
	capturer       *capture.Capturer
	boundaries     *capture.Registry
	metricsManager *metrics.Manager
	logger         *logrus.Entry

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	config *ServerConfig,
	storage storage.Storage,
	ledger *ledger.Ledger,
	structLog *structlog.Logger,
	capturer *capture.Capturer,
	boundaries *capture.Registry,
	metricsManager *metrics.Manager,
	logger *logrus.Logger,
) (*HTTPServer, error) {
	if ledger == nil || structLog == nil || capturer == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Server requires ledger, logger and capturer", "")
	}

	server := &HTTPServer{
		config:         config,
		storage:        storage,
		ledger:         ledger,
		structLog:      structLog,
		capturer:       capturer,
		boundaries:     boundaries,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger(logger, "http"),
		stopCh:         make(chan struct{}),
	}

	// Setup router
	server.setupRouter()

	// Create HTTP server
	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()
	if s.config.GuardEndpoints && s.boundaries != nil {
		api.Use(s.boundaryMiddleware)
	}

	// Health check endpoint
	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET").Name("health")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET").Name("health.detailed")
	}

	// Metrics endpoint
	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET").Name("stats")
	}

	// Capture ingest
	api.HandleFunc("/capture", s.captureHandler).Methods("POST").Name("capture")

	// Error ledger endpoints; fixed paths before {id}
	api.HandleFunc("/errors", s.listErrorsHandler).Methods("GET").Name("errors.list")
	api.HandleFunc("/errors", s.clearErrorsHandler).Methods("DELETE").Name("errors.clear")
	api.HandleFunc("/errors/counts", s.errorCountsHandler).Methods("GET").Name("errors.counts")
	api.HandleFunc("/errors/export", s.exportErrorsHandler).Methods("GET").Name("errors.export")
	api.HandleFunc("/errors/import", s.importErrorsHandler).Methods("POST").Name("errors.import")
	api.HandleFunc("/errors/{id}", s.getErrorHandler).Methods("GET").Name("errors.get")
	api.HandleFunc("/errors/{id}/resolve", s.resolveErrorHandler).Methods("POST").Name("errors.resolve")
	api.HandleFunc("/errors/{id}", s.removeErrorHandler).Methods("DELETE").Name("errors.remove")

	// Structured log endpoints
	api.HandleFunc("/logs", s.listLogsHandler).Methods("GET").Name("logs.list")
	api.HandleFunc("/logs", s.clearLogsHandler).Methods("DELETE").Name("logs.clear")
	api.HandleFunc("/logs/stats", s.logStatsHandler).Methods("GET").Name("logs.stats")
	api.HandleFunc("/logs/export", s.exportLogsHandler).Methods("GET").Name("logs.export")
	api.HandleFunc("/logs/import", s.importLogsHandler).Methods("POST").Name("logs.import")
	api.HandleFunc("/logs/config", s.logConfigHandler).Methods("GET").Name("logs.config")
	api.HandleFunc("/logs/config", s.updateLogConfigHandler).Methods("PATCH").Name("logs.config.update")

	// Boundary endpoints
	if s.boundaries != nil {
		api.HandleFunc("/boundaries", s.listBoundariesHandler).Methods("GET").Name(boundaryRoutePrefix + "list")
		api.HandleFunc("/boundaries/{name}/retry", s.retryBoundaryHandler).Methods("POST").Name(boundaryRoutePrefix + "retry")
	}
}

// Handler exposes the router, mainly for tests
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
		"guard_endpoints": s.config.GuardEndpoints,
	}).Info("Starting HTTP server")

	// Update system and component metrics so they appear on first scrape
	if s.metricsManager != nil {
		s.updateMetrics()
		capture.Go(s.systemMetricsUpdater)
	}

	// Create a channel to receive startup errors
	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateMetrics()
		case <-s.stopCh:
			return
		}
	}
}

func (s *HTTPServer) updateMetrics() {
	s.metricsManager.UpdateSystemMetrics()
	if s.storage != nil {
		health := s.storage.GetHealth()
		s.metricsManager.GetPrometheusMetrics().UpdateComponentHealth("storage", health.Healthy)
	}
	counts := s.ledger.Counts()
	s.metricsManager.GetPrometheusMetrics().UpdateLedger(len(s.ledger.List()), counts.UnresolvedCount)
	s.metricsManager.GetPrometheusMetrics().UpdateLogBufferSize(s.structLog.GetStats().Total)
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")
	s.stopOnce.Do(func() { close(s.stopCh) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Utility Methods

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err.Error(),
		}).Warn("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
