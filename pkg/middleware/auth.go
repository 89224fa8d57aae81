package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/hrm/pkg/auth"
	"github.com/platinummonkey/hrm/pkg/contextkeys"
	"github.com/platinummonkey/hrm/pkg/httputil"
	"github.com/platinummonkey/hrm/pkg/observability"
	"github.com/platinummonkey/hrm/pkg/rbac"
)

// Response messages of the authentication gate
const (
	MsgUnauthenticated    = "Unauthenticated"
	MsgInvalidToken       = "Invalid token"
	MsgTokenExpired       = "Token expired"
	MsgNoUserID           = "Invalid token (no user id)"
	MsgInactiveUser       = "Invalid token or inactive user"
	MsgAuthenticationFail = "Authentication failed"
)

// ErrMissingSubject is returned when a verified token carries no usable user id
var ErrMissingSubject = fmt.Errorf("%w: no user id", auth.ErrInvalidToken)

// TokenVerifier checks a session token's signature, expiry and purpose
type TokenVerifier interface {
	VerifySession(token string) (*auth.Claims, error)
}

// ActiveUserFinder loads a user that exists and is active.
// Must return auth.ErrUserNotFound for unknown or inactive users.
type ActiveUserFinder interface {
	FindActiveUserByID(ctx context.Context, id int64) (*auth.User, error)
}

// RoleLoader loads a role together with its permissions.
// Must return rbac.ErrRoleNotFound when the id does not resolve.
type RoleLoader interface {
	LoadRoleWithPermissions(ctx context.Context, roleID int64) (*rbac.Role, error)
}

// TokenSource extracts a raw token from a request; "" means absent
type TokenSource func(r *http.Request) string

// BearerHeader reads "Authorization: Bearer <token>". The scheme is case-insensitive.
func BearerHeader() TokenSource {
	return func(r *http.Request) string {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
}

// CookieSource reads the named cookie
func CookieSource(name string) TokenSource {
	return func(r *http.Request) string {
		cookie, err := r.Cookie(name)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(cookie.Value)
	}
}

// DefaultTokenSources is the lookup order used unless overridden
func DefaultTokenSources() []TokenSource {
	return []TokenSource{
		BearerHeader(),
		CookieSource("token"),
		CookieSource("tokenUser"),
	}
}

// Authenticator is the authentication gate. It resolves the bearer of a token
// into an auth.Identity and rejects everything else with 401.
type Authenticator struct {
	verifier TokenVerifier
	users    ActiveUserFinder
	roles    RoleLoader
	sources  []TokenSource
	failures *prometheus.CounterVec
	logger   *observability.Logger
}

// AuthOption configures an Authenticator
type AuthOption func(*Authenticator)

// WithTokenSources replaces the token lookup order
func WithTokenSources(sources ...TokenSource) AuthOption {
	return func(a *Authenticator) {
		a.sources = sources
	}
}

// WithFailureCounter counts rejections by reason
func WithFailureCounter(counter *prometheus.CounterVec) AuthOption {
	return func(a *Authenticator) {
		a.failures = counter
	}
}

// WithAuthLogger sets the logger used when no request logger is present
func WithAuthLogger(logger *observability.Logger) AuthOption {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// NewAuthenticator creates the authentication gate
func NewAuthenticator(verifier TokenVerifier, users ActiveUserFinder, roles RoleLoader, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		verifier: verifier,
		users:    users,
		roles:    roles,
		sources:  DefaultTokenSources(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate resolves the request's token into an identity. It performs no
// store calls unless the token verifies and names a user id.
func (a *Authenticator) Authenticate(r *http.Request) (*auth.Identity, error) {
	token := a.extract(r)
	if token == "" {
		return nil, auth.ErrMissingCredential
	}

	claims, err := a.verifier.VerifySession(token)
	if err != nil {
		return nil, err
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrMissingSubject
	}

	ctx := r.Context()
	user, err := a.users.FindActiveUserByID(ctx, userID)
	if errors.Is(err, auth.ErrUserNotFound) {
		return nil, auth.ErrInactiveOrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	// Stores are expected to filter, but an inactive row must never pass
	if !user.IsActive() {
		return nil, auth.ErrInactiveOrUnknownUser
	}

	permissions := auth.NewPermissionSet()
	if user.RoleID > 0 {
		role, err := a.roles.LoadRoleWithPermissions(ctx, user.RoleID)
		switch {
		case errors.Is(err, rbac.ErrRoleNotFound):
		case err != nil:
			return nil, fmt.Errorf("failed to load role %d: %w", user.RoleID, err)
		default:
			permissions = role.PermissionSet()
		}
	}

	return &auth.Identity{
		UserID:      user.ID,
		RoleID:      user.RoleID,
		Permissions: permissions,
	}, nil
}

// Handler wraps an HTTP handler with the authentication gate
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.Authenticate(r)
		if err != nil {
			a.reject(w, r, err)
			return
		}

		ctx := auth.WithIdentity(r.Context(), identity)
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(identity.UserID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) extract(r *http.Request) string {
	for _, source := range a.sources {
		if token := source(r); token != "" {
			return token
		}
	}
	return ""
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	var reason, message string
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		reason, message = "missing_token", MsgUnauthenticated
	case errors.Is(err, auth.ErrExpiredToken):
		reason, message = "expired_token", MsgTokenExpired
	case errors.Is(err, ErrMissingSubject):
		reason, message = "no_subject", MsgNoUserID
	case errors.Is(err, auth.ErrInvalidToken):
		reason, message = "invalid_token", MsgInvalidToken
	case errors.Is(err, auth.ErrInactiveOrUnknownUser):
		reason, message = "inactive_user", MsgInactiveUser
	default:
		a.count("error")
		a.requestLogger(r).WithError(err).Error("authentication failed")
		httputil.WriteInternalError(w, MsgAuthenticationFail)
		return
	}

	a.count(reason)
	httputil.WriteUnauthorized(w, message)
}

func (a *Authenticator) count(reason string) {
	if a.failures != nil {
		a.failures.WithLabelValues(reason).Inc()
	}
}

func (a *Authenticator) requestLogger(r *http.Request) *observability.Logger {
	if _, ok := r.Context().Value(contextkeys.LoggerKey).(*observability.Logger); !ok && a.logger != nil {
		return a.logger
	}
	return observability.FromContext(r.Context())
}
