package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/errtrail/internal/capture"
	"github.com/smartdevs17/errtrail/internal/env"
	"github.com/smartdevs17/errtrail/internal/ledger"
	"github.com/smartdevs17/errtrail/internal/metrics"
	"github.com/smartdevs17/errtrail/internal/models"
	"github.com/smartdevs17/errtrail/internal/storage"
	"github.com/smartdevs17/errtrail/internal/structlog"
)

type testServer struct {
	server     *HTTPServer
	store      *storage.MemoryStorage
	ledger     *ledger.Ledger
	structLog  *structlog.Logger
	boundaries *capture.Registry
}

func newTestServer(t *testing.T, guard bool) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	store := storage.NewMemoryStorage()
	require.NoError(t, store.Connect())

	provider := &env.Static{URL: "test://server", UserAgent: "go-test", Now: env.Ticker(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), time.Second)}
	metricsManager := metrics.NewManager(logger)

	logCfg := structlog.DefaultConfig()
	logCfg.EnableConsole = false
	structLog := structlog.New(logCfg,
		structlog.WithStorage(store),
		structlog.WithEnv(provider),
		structlog.WithLogrus(logger),
	)
	l := ledger.New(ledger.DefaultConfig(),
		ledger.WithStorage(store),
		ledger.WithEnv(provider),
		ledger.WithMirror(structLog),
		ledger.WithLogrus(logger),
	)
	capturer := capture.NewCapturer(l, capture.WithCaptureEnv(provider), capture.WithCaptureLogger(logger))
	boundaries := capture.NewRegistry(capturer, capture.WithMaxRetries(1))

	srv, err := NewHTTPServer(&ServerConfig{
		Host:           "127.0.0.1",
		Port:           0,
		EnableMetrics:  true,
		EnableHealth:   true,
		GuardEndpoints: guard,
		Version:        "test",
	}, store, l, structLog, capturer, boundaries, metricsManager, logger)
	require.NoError(t, err)

	return &testServer{server: srv, store: store, ledger: l, structLog: structLog, boundaries: boundaries}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestNewHTTPServer_RequiresComponents(t *testing.T) {
	_, err := NewHTTPServer(&ServerConfig{}, nil, nil, nil, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	decode(t, rec, &health)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "test", health["version"])

	rec = ts.do(t, http.MethodGet, "/api/v1/health/detailed", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &health)
	assert.Equal(t, "healthy", health["status"])

	t.Run("storage down degrades", func(t *testing.T) {
		require.NoError(t, ts.store.Close())
		defer ts.store.Connect()

		rec := ts.do(t, http.MethodGet, "/api/v1/health/detailed", nil)
		var body map[string]interface{}
		decode(t, rec, &body)
		assert.Equal(t, "degraded", body["status"])
	})

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = ts.do(t, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCaptureEndpoint(t *testing.T) {
	ts := newTestServer(t, false)

	t.Run("accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/capture", strings.NewReader(
			`{"error":{"message":"TypeError: x is undefined","stack":"at render (app.js:10:5)"},"context":{"level":"page","component":"Cart"}}`))
		req.Header.Set("User-Agent", "Mozilla/5.0")
		req.Header.Set("Referer", "https://shop.example/cart")
		rec := httptest.NewRecorder()
		ts.server.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		var body struct {
			Status string             `json:"status"`
			Counts models.ErrorCounts `json:"counts"`
		}
		decode(t, rec, &body)
		assert.Equal(t, "captured", body.Status)
		assert.Equal(t, 1, body.Counts.UnresolvedCount)

		entries := ts.ledger.List()
		require.Len(t, entries, 1)
		entry := entries[0]
		assert.Equal(t, "Error", entry.Error.Name)
		assert.Equal(t, models.CapturePage, entry.Level())
		assert.Equal(t, "Cart", entry.Context["component"])
		assert.Equal(t, "https://shop.example/cart", entry.Context[models.ContextURL])
		assert.Equal(t, "Mozilla/5.0", entry.Context[models.ContextUserAgent])
		assert.Equal(t, capture.OriginClient, entry.Context[models.ContextOrigin])

		// Mirrored into the structured log
		logs := ts.structLog.GetLogs(models.LevelError)
		require.Len(t, logs, 1)
		assert.Equal(t, entry.ID, logs[0].Metadata["errorId"])
	})

	t.Run("rejected", func(t *testing.T) {
		for _, body := range []string{
			`not json`,
			`{"error":{"message":""}}`,
			`{"error":{"message":"x"},"context":{"level":"planet"}}`,
		} {
			rec := ts.do(t, http.MethodPost, "/api/v1/capture", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
		assert.Len(t, ts.ledger.List(), 1)
	})
}

func TestErrorEndpoints(t *testing.T) {
	ts := newTestServer(t, false)
	first := ts.ledger.AddError(assertError("first"), models.Context{"level": "global"})
	second := ts.ledger.AddError(assertError("second"), nil)

	var list struct {
		Errors []models.ErrorEntry `json:"errors"`
		Total  int                 `json:"total"`
	}
	rec := ts.do(t, http.MethodGet, "/api/v1/errors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &list)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, second.ID, list.Errors[0].ID)

	rec = ts.do(t, http.MethodGet, "/api/v1/errors?level=global", nil)
	decode(t, rec, &list)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, first.ID, list.Errors[0].ID)

	rec = ts.do(t, http.MethodGet, "/api/v1/errors?resolved=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/errors/"+first.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/errors/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/errors/"+first.ID+"/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/v1/errors/missing/resolve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/errors?resolved=true", nil)
	decode(t, rec, &list)
	require.Equal(t, 1, list.Total)
	assert.True(t, list.Errors[0].Resolved)

	var counts models.ErrorCounts
	rec = ts.do(t, http.MethodGet, "/api/v1/errors/counts", nil)
	decode(t, rec, &counts)
	assert.Equal(t, models.ErrorCounts{ErrorCount: 2, UnresolvedCount: 1}, counts)

	// Export then import restores a removed entry
	rec = ts.do(t, http.MethodGet, "/api/v1/errors/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "errors-")
	exported := rec.Body.String()

	rec = ts.do(t, http.MethodDelete, "/api/v1/errors/"+second.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/v1/errors/"+second.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/errors/import", exported)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, ts.ledger.List(), 2)

	rec = ts.do(t, http.MethodPost, "/api/v1/errors/import", `{"errors":[],"version":"2.0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, ts.ledger.List(), 2)

	rec = ts.do(t, http.MethodDelete, "/api/v1/errors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, ts.ledger.List())
}

func TestLogEndpoints(t *testing.T) {
	ts := newTestServer(t, false)
	ts.structLog.Warn("disk almost full", nil, nil)
	ts.structLog.Log(assertError("write failed"), nil, nil)
	ts.structLog.Info("dropped by filter", nil, nil)

	var list struct {
		Logs      []models.LogEntry `json:"logs"`
		Total     int               `json:"total"`
		SessionID string            `json:"sessionId"`
	}
	rec := ts.do(t, http.MethodGet, "/api/v1/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &list)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, ts.structLog.SessionID(), list.SessionID)

	rec = ts.do(t, http.MethodGet, "/api/v1/logs?level=warn", nil)
	decode(t, rec, &list)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "disk almost full", list.Logs[0].Message)

	rec = ts.do(t, http.MethodGet, "/api/v1/logs?level=fatal", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var stats models.LogStats
	rec = ts.do(t, http.MethodGet, "/api/v1/logs/stats", nil)
	decode(t, rec, &stats)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ErrorCount)
	assert.Equal(t, 1, stats.WarnCount)

	rec = ts.do(t, http.MethodGet, "/api/v1/logs/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exported := rec.Body.String()

	rec = ts.do(t, http.MethodDelete, "/api/v1/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, ts.structLog.GetLogs(""))

	rec = ts.do(t, http.MethodPost, "/api/v1/logs/import", exported)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, ts.structLog.GetLogs(""), 2)

	rec = ts.do(t, http.MethodPost, "/api/v1/logs/import", `{"logs":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, ts.structLog.GetLogs(""), 2)
}

func TestLogConfigEndpoints(t *testing.T) {
	ts := newTestServer(t, false)

	var cfg logConfigResponse
	rec := ts.do(t, http.MethodGet, "/api/v1/logs/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &cfg)
	assert.Equal(t, 1000, cfg.MaxEntries)
	assert.Equal(t, []models.Level{models.LevelError, models.LevelWarn}, cfg.FilterLevels)

	rec = ts.do(t, http.MethodPatch, "/api/v1/logs/config", `{"maxEntries":50,"filterLevels":["error","info"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &cfg)
	assert.Equal(t, 50, cfg.MaxEntries)
	assert.Equal(t, []models.Level{models.LevelError, models.LevelInfo}, cfg.FilterLevels)
	assert.True(t, cfg.EnableStorage, "untouched fields keep their value")

	for _, body := range []string{
		`{"maxEntries":0}`,
		`{"filterLevels":["loud"]}`,
		`[]`,
	} {
		rec = ts.do(t, http.MethodPatch, "/api/v1/logs/config", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, 50, ts.structLog.Config().MaxEntries)
}

func TestBoundaryEndpoints(t *testing.T) {
	ts := newTestServer(t, true)

	// Guarded API routes get a boundary named after the route
	rec := ts.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Boundaries []capture.Status `json:"boundaries"`
		Total      int              `json:"total"`
	}
	rec = ts.do(t, http.MethodGet, "/api/v1/boundaries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &list)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "health", list.Boundaries[0].Name)
	assert.Equal(t, capture.StateHealthy, list.Boundaries[0].State)

	rec = ts.do(t, http.MethodPost, "/api/v1/boundaries/nope/retry", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/boundaries/health/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var retry map[string]interface{}
	decode(t, rec, &retry)
	assert.Equal(t, string(capture.RetryNoop), retry["outcome"])
}

func TestBoundaryMiddleware_DegradesAndRecovers(t *testing.T) {
	ts := newTestServer(t, true)

	calls := 0
	router := mux.NewRouter()
	router.Use(ts.server.boundaryMiddleware)
	router.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			panic("template exploded")
		}
		ts.server.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Name("flaky")

	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/flaky", nil))
		return rec
	}

	rec := get()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "flaky", body["boundary"])
	assert.Equal(t, "/api/v1/boundaries/flaky/retry", body["retry_route"])

	// The failure reached the ledger with the boundary context
	entries := ts.ledger.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "panic: template exploded", entries[0].Error.Message)
	assert.Equal(t, "flaky", entries[0].Context[models.ContextBoundary])
	assert.NotEmpty(t, entries[0].Error.Stack)

	// Degraded routes answer without running the handler
	rec = get()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 1, calls)

	rec = ts.do(t, http.MethodPost, "/api/v1/boundaries/flaky/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var retry struct {
		Outcome  capture.RetryOutcome `json:"outcome"`
		Boundary capture.Status       `json:"boundary"`
	}
	decode(t, rec, &retry)
	assert.Equal(t, capture.RetryRecovered, retry.Outcome)
	assert.Equal(t, 1, retry.Boundary.RetryCount)

	rec = get()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, calls)
	t.Logf("✓ boundary recovered after %d handler calls", calls)
}

type assertError string

func (e assertError) Error() string { return string(e) }
