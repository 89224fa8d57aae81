package observability

import (
	"net/http"
	"time"

	"github.com/platinummonkey/hrm/pkg/contextkeys"
)

// LoggingMiddleware attaches a request-scoped logger to the context and logs
// one line per request once the handler returns.
func LoggingMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			reqLogger := logger
			if requestID := contextkeys.GetRequestID(r.Context()); requestID != "" {
				reqLogger = reqLogger.WithField("request_id", requestID)
			}
			reqLogger = UpdateLoggerWithTraceContext(r.Context(), reqLogger)
			ctx := WithLogger(r.Context(), reqLogger)

			next.ServeHTTP(rw, r.WithContext(ctx))

			entry := reqLogger.WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rw.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_addr": r.RemoteAddr,
			})
			if clientIP := contextkeys.GetClientIP(r.Context()); clientIP != "" {
				entry = entry.WithField("client_ip", clientIP)
			}
			switch {
			case rw.statusCode >= 500:
				entry.Error("request completed")
			case rw.statusCode >= 400:
				entry.Warn("request completed")
			default:
				entry.Info("request completed")
			}
		})
	}
}
