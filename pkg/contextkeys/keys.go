// Package contextkeys holds every context key the HRM service stores values
// under. Packages that own the stored type (auth, observability, audit) wrap
// these keys in typed accessors; the raw keys are exported only so those
// wrappers can live outside this package without import cycles.
//
//	ctx = auth.WithIdentity(ctx, identity)   // stores under IdentityKey
//	identity := auth.IdentityFromContext(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *auth.Identity
	// Set by: middleware.Authenticator (pkg/middleware/auth.go)
	// Required by: rbac.Authorizer, /api/me, change-password
	// Type: *auth.Identity
	IdentityKey Key = "identity"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestID
	// Used by: Logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains user ID string
	// Set by: Auth middleware after user authentication
	// Used by: Logger
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// ClientIPKey contains the caller address after trusted proxy resolution
	// Set by: httputil.ClientIPMiddleware
	// Used by: httputil.ClientIP (rate limiting, audit trail)
	// Type: string
	ClientIPKey Key = "client_ip"

	// AuditRequestKey contains the client address and request line that
	// audit events emitted below the transport layer are stamped with.
	// Set by: audit.WithRequest, audit.Middleware
	// Type: audit.requestInfo (unexported)
	AuditRequestKey Key = "audit_request"
)

// WithIdentity adds the authenticated identity to the context
func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithClientIP adds the resolved client address to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetClientIP retrieves the resolved client address from context
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
