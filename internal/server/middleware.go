// File: internal/server/middleware.go
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/errtrail/internal/capture"
	"github.com/smartdevs17/errtrail/pkg/utils"
)

// boundaryRoutePrefix names routes that manage boundaries; they are never guarded
const boundaryRoutePrefix = "boundaries."

// loggingMiddleware logs HTTP requests
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = utils.GenerateID()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Call the next handler
		next.ServeHTTP(w, r)

		// Log the request
		s.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   time.Since(start).String(),
			"user_agent": r.UserAgent(),
			"remote_ip":  r.RemoteAddr,
		}).Debug("HTTP request")
	})
}

// corsMiddleware handles CORS
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records HTTP request metrics
func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Call the next handler
		next.ServeHTTP(wrapper, r)

		// Record metrics
		duration := time.Since(start)
		status := strconv.Itoa(wrapper.statusCode)
		path := s.getRoutePath(r)

		s.metricsManager.GetPrometheusMetrics().RecordHTTPRequest(
			r.Method,
			path,
			status,
			duration,
		)
	})
}

// boundaryMiddleware runs each named route inside its capture boundary. A
// panicking handler degrades the route; while degraded it answers 503 until
// the boundary is retried.
func (s *HTTPServer) boundaryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := s.getRouteName(r)
		if name == "" || strings.HasPrefix(name, boundaryRoutePrefix) {
			next.ServeHTTP(w, r)
			return
		}

		wrapper := &responseWriterWrapper{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		boundary := s.boundaries.Get(name)
		err := boundary.Render(r.Context(), func(ctx context.Context) error {
			next.ServeHTTP(wrapper, r.WithContext(ctx))
			return nil
		})
		if err == nil {
			return
		}

		var degraded *capture.DegradedError
		if !errors.As(err, &degraded) || wrapper.wroteHeader {
			return
		}

		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":       "Service degraded",
			"status":      http.StatusServiceUnavailable,
			"boundary":    degraded.Boundary,
			"retryCount":  degraded.RetryCount,
			"details":     degraded.Err.Error(),
			"timestamp":   time.Now().UTC(),
			"retry_route": "/api/v1/boundaries/" + degraded.Boundary + "/retry",
		})
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriterWrapper) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// getRoutePath extracts the route template from the request
func (s *HTTPServer) getRoutePath(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return r.URL.Path
	}

	template, err := route.GetPathTemplate()
	if err != nil {
		return r.URL.Path
	}

	return template
}

// getRouteName returns the matched route's name
func (s *HTTPServer) getRouteName(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	return route.GetName()
}
