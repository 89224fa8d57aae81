package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/hrm/pkg/auth"
	"github.com/platinummonkey/hrm/pkg/contextkeys"
	"github.com/platinummonkey/hrm/pkg/httputil"
	"github.com/platinummonkey/hrm/pkg/observability"
)

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *Event) error
}

// requestInfo is the transport context copied onto events emitted deeper in the call chain
type requestInfo struct {
	IPAddress string
	UserAgent string
	Method    string
	Path      string
}

// WithRequest stores the caller's address and request line in the context
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, contextkeys.AuditRequestKey, requestInfo{
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		Path:      r.URL.Path,
	})
}

// fillFromContext completes an event with whatever the context knows
func fillFromContext(ctx context.Context, event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}
	if event.ActorID == nil {
		if identity := auth.IdentityFromContext(ctx); identity != nil {
			event.ActorID = int64Ptr(identity.UserID)
		}
	}
	if info, ok := ctx.Value(contextkeys.AuditRequestKey).(requestInfo); ok {
		if event.IPAddress == "" {
			event.IPAddress = info.IPAddress
		}
		if event.UserAgent == "" {
			event.UserAgent = info.UserAgent
		}
		if event.Method == "" {
			event.Method = info.Method
		}
		if event.Path == "" {
			event.Path = info.Path
		}
	}
}

// Emit records an event, filling request context from ctx. A nil logger is a
// no-op. Storage failures are logged and never surface to the caller.
func Emit(ctx context.Context, logger Logger, event *Event) {
	if logger == nil || event == nil {
		return
	}
	fillFromContext(ctx, event)
	if err := logger.Log(ctx, event); err != nil {
		observability.FromContext(ctx).
			WithError(err).
			WithField("event_type", string(event.EventType)).
			Error("Failed to record audit event")
	}
}

// noOpLogger discards events
type noOpLogger struct{}

// NewNoOpLogger returns a logger that drops every event
func NewNoOpLogger() Logger {
	return noOpLogger{}
}

func (noOpLogger) Log(ctx context.Context, event *Event) error {
	return nil
}
