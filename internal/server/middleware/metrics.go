package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/novelcondense/novelcondense/internal/metrics"
	"github.com/novelcondense/novelcondense/internal/observability"
)

// responseWriter wraps http.ResponseWriter to capture status code and response size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// getEndpointPattern extracts chi route pattern to avoid high-cardinality paths
func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	switch r.URL.Path {
	case "/health", "/health/live", "/health/ready", "/health/startup":
		return "/health/*"
	case "/version", "/metrics", "/":
		return r.URL.Path
	default:
		return "/unknown"
	}
}

// RequestMetrics records request counts and latency by route pattern.
func RequestMetrics(m *metrics.HTTP) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			endpoint := getEndpointPattern(r)
			m.ObserveRequest(r.Method, endpoint, wrapped.statusCode, duration)

			if observability.ServerLogger != nil {
				observability.ServerLogger.Info("HTTP request completed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("endpoint", endpoint),
					zap.Int("status", wrapped.statusCode),
					zap.Duration("duration", duration),
					zap.Int64("response_size", wrapped.bytesWritten),
					zap.String("requestID", GetRequestID(r.Context())),
				)
			}
		})
	}
}
