package observability

import (
	"net/http"
	"runtime/debug"

	"github.com/platinummonkey/hrm/pkg/contextkeys"
	"github.com/platinummonkey/hrm/pkg/httputil"
)

// RecoverPanic recovers from a panic and logs it with structured logging
//
// Usage in defer statements:
//
//	func cleanupJob() {
//	    defer observability.RecoverPanic(logger, "credential cleanup")
//	    // ... code that might panic
//	}
//
// After logging, the panic is NOT re-raised; the function returns normally.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// RecoveryMiddleware turns a handler panic into a logged 500 response.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func RecoveryMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				reqLogger := logger
				if ctxLogger, ok := r.Context().Value(contextkeys.LoggerKey).(*Logger); ok {
					reqLogger = ctxLogger
				}
				if reqLogger != nil {
					reqLogger.WithField("panic", rec).
						WithField("stack", string(debug.Stack())).
						WithField("path", r.URL.Path).
						Error("PANIC recovered in handler")
				}
				httputil.WriteInternalError(w, "")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
