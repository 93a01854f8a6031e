package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/smartdevs17/errtrail/internal/capture"
	"github.com/smartdevs17/errtrail/internal/env"
	"github.com/smartdevs17/errtrail/internal/models"
	"github.com/smartdevs17/errtrail/internal/structlog"
	"github.com/smartdevs17/errtrail/pkg/utils"
)

// maxImportBytes caps import request bodies
const maxImportBytes = 16 << 20

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         s.config.Version,
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler returns detailed health status
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	components := map[string]interface{}{
		"ledger": s.ledger.Counts(),
		"logger": s.structLog.GetStats(),
	}
	if s.storage != nil {
		health := s.storage.GetHealth()
		components["storage"] = health
		if !health.Healthy {
			status = "degraded"
		}
	}
	if s.boundaries != nil {
		statuses := s.boundaries.List()
		for _, b := range statuses {
			if b.State == capture.StateDegraded {
				status = "degraded"
			}
		}
		components["boundaries"] = statuses
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"version":    s.config.Version,
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"timestamp":       time.Now().UTC(),
		"errors":          s.ledger.Counts(),
		"logs":            s.structLog.GetStats(),
		"metrics_enabled": s.config.EnableMetrics,
	}

	if s.storage != nil {
		storageStats, err := s.storage.GetStats()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
			return
		}
		stats["storage"] = storageStats
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Capture Handlers

// CaptureRequest is the body of POST /api/v1/capture
type CaptureRequest struct {
	Error   models.ErrorInfo `json:"error"`
	Context models.Context   `json:"context,omitempty"`
}

// captureHandler records an error reported by a client
func (s *HTTPServer) captureHandler(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Error.Message == "" {
		s.writeError(w, http.StatusBadRequest, "Error message is required", nil)
		return
	}
	if level := req.Context.String(models.ContextLevel); level != "" && !models.CaptureLevel(level).Valid() {
		s.writeError(w, http.StatusBadRequest, "Invalid capture level", fmt.Errorf("unknown level %q", level))
		return
	}

	ctx := req.Context.Clone()
	if ctx == nil {
		ctx = models.Context{}
	}
	snap := env.FromRequest(r)
	ctx.SetDefault(models.ContextURL, snap.URL)
	ctx.SetDefault(models.ContextUserAgent, snap.UserAgent)
	ctx.SetDefault(models.ContextOrigin, capture.OriginClient)
	if req.Error.Name == "" {
		req.Error.Name = "Error"
	}

	s.capturer.Capture(req.Error, ctx)

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "captured",
		"counts": s.ledger.Counts(),
	})
}

// Error Ledger Handlers

// listErrorsHandler lists ledger entries, optionally by resolved state
func (s *HTTPServer) listErrorsHandler(w http.ResponseWriter, r *http.Request) {
	entries := s.ledger.List()

	if resolvedStr := r.URL.Query().Get("resolved"); resolvedStr != "" {
		resolved, err := strconv.ParseBool(resolvedStr)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid resolved filter", err)
			return
		}
		filtered := entries[:0]
		for _, entry := range entries {
			if entry.Resolved == resolved {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	if level := r.URL.Query().Get("level"); level != "" {
		filtered := entries[:0]
		for _, entry := range entries {
			if string(entry.Level()) == level {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"errors": entries,
		"total":  len(entries),
		"counts": s.ledger.Counts(),
	})
}

// errorCountsHandler returns the derived counters
func (s *HTTPServer) errorCountsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ledger.Counts())
}

// getErrorHandler gets a ledger entry by id
func (s *HTTPServer) getErrorHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entry, ok := s.ledger.GetErrorByID(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "Error not found", utils.NewAppError(utils.ErrCodeNotFound, "Unknown error id", id))
		return
	}

	s.writeJSON(w, http.StatusOK, entry)
}

// resolveErrorHandler marks a ledger entry resolved
func (s *HTTPServer) resolveErrorHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if !s.ledger.ResolveError(id) {
		s.writeError(w, http.StatusNotFound, "Error not found", utils.NewAppError(utils.ErrCodeNotFound, "Unknown error id", id))
		return
	}

	entry, _ := s.ledger.GetErrorByID(id)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"error":  entry,
		"counts": s.ledger.Counts(),
	})
}

// removeErrorHandler deletes a ledger entry
func (s *HTTPServer) removeErrorHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if !s.ledger.RemoveError(id) {
		s.writeError(w, http.StatusNotFound, "Error not found", utils.NewAppError(utils.ErrCodeNotFound, "Unknown error id", id))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Error removed successfully",
		"id":      id,
		"counts":  s.ledger.Counts(),
	})
}

// clearErrorsHandler empties the ledger
func (s *HTTPServer) clearErrorsHandler(w http.ResponseWriter, r *http.Request) {
	s.ledger.ClearErrors()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Errors cleared",
		"counts":  s.ledger.Counts(),
	})
}

// exportErrorsHandler downloads the ledger export
func (s *HTTPServer) exportErrorsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="errors-%s.json"`, time.Now().UTC().Format("20060102-150405")))
	s.writeJSON(w, http.StatusOK, s.ledger.ExportErrors())
}

// importErrorsHandler replaces the ledger with an uploaded export
func (s *HTTPServer) importErrorsHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	if err := s.ledger.ImportErrors(payload); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrInvalidErrorData) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, "Failed to import errors", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Errors imported",
		"counts":  s.ledger.Counts(),
	})
}

// Structured Log Handlers

// listLogsHandler lists log entries, optionally by exact level
func (s *HTTPServer) listLogsHandler(w http.ResponseWriter, r *http.Request) {
	var level models.Level
	if levelStr := r.URL.Query().Get("level"); levelStr != "" {
		parsed, err := models.ParseLevel(levelStr)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid log level", err)
			return
		}
		level = parsed
	}

	logs := s.structLog.GetLogs(level)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":      logs,
		"total":     len(logs),
		"sessionId": s.structLog.SessionID(),
	})
}

// logStatsHandler returns per-level counts
func (s *HTTPServer) logStatsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.structLog.GetStats())
}

// exportLogsHandler downloads the log export
func (s *HTTPServer) exportLogsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="logs-%s.json"`, time.Now().UTC().Format("20060102-150405")))
	s.writeJSON(w, http.StatusOK, s.structLog.ExportLogs())
}

// importLogsHandler replaces the log buffer with an uploaded export
func (s *HTTPServer) importLogsHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	if err := s.structLog.ImportLogs(payload); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrInvalidLogData) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, "Failed to import logs", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Logs imported",
		"stats":   s.structLog.GetStats(),
	})
}

// clearLogsHandler empties the log buffer
func (s *HTTPServer) clearLogsHandler(w http.ResponseWriter, r *http.Request) {
	s.structLog.ClearLogs()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Logs cleared",
	})
}

// logConfigResponse is the JSON view of structlog.Config
type logConfigResponse struct {
	MaxEntries     int            `json:"maxEntries"`
	EnableConsole  bool           `json:"enableConsole"`
	EnableRemote   bool           `json:"enableRemote"`
	EnableStorage  bool           `json:"enableStorage"`
	RemoteEndpoint string         `json:"remoteEndpoint,omitempty"`
	FilterLevels   []models.Level `json:"filterLevels"`
}

func newLogConfigResponse(cfg structlog.Config) logConfigResponse {
	return logConfigResponse{
		MaxEntries:     cfg.MaxEntries,
		EnableConsole:  cfg.EnableConsole,
		EnableRemote:   cfg.EnableRemote,
		EnableStorage:  cfg.EnableStorage,
		RemoteEndpoint: cfg.RemoteEndpoint,
		FilterLevels:   cfg.FilterLevels,
	}
}

// logConfigHandler returns the live logger configuration
func (s *HTTPServer) logConfigHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, newLogConfigResponse(s.structLog.Config()))
}

// updateLogConfigHandler merges a partial configuration
func (s *HTTPServer) updateLogConfigHandler(w http.ResponseWriter, r *http.Request) {
	var patch structlog.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if patch.MaxEntries != nil && *patch.MaxEntries <= 0 {
		s.writeError(w, http.StatusBadRequest, "maxEntries must be positive", nil)
		return
	}
	for _, level := range patch.FilterLevels {
		if !level.Valid() {
			s.writeError(w, http.StatusBadRequest, "Invalid filter level", fmt.Errorf("unknown level %q", level))
			return
		}
	}

	cfg := s.structLog.UpdateConfig(patch)
	s.writeJSON(w, http.StatusOK, newLogConfigResponse(cfg))
}

// Boundary Handlers

// listBoundariesHandler lists every boundary the server has created
func (s *HTTPServer) listBoundariesHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.boundaries.List()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"boundaries": statuses,
		"total":      len(statuses),
	})
}

// retryBoundaryHandler retries a degraded boundary
func (s *HTTPServer) retryBoundaryHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	outcome, status, err := s.boundaries.Retry(r.Context(), name)
	if err != nil {
		if utils.HasCode(err, utils.ErrCodeNotFound) {
			s.writeError(w, http.StatusNotFound, "Boundary not found", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to retry boundary", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcome":  outcome,
		"boundary": status,
		"reloads":  s.boundaries.Reloads(name),
	})
}
