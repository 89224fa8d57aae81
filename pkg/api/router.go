package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/hrm/pkg/audit"
	"github.com/platinummonkey/hrm/pkg/httputil"
	"github.com/platinummonkey/hrm/pkg/middleware"
	"github.com/platinummonkey/hrm/pkg/observability"
	"github.com/platinummonkey/hrm/pkg/rbac"
	"github.com/platinummonkey/hrm/pkg/users"
)

// Config holds the HTTP surface settings
type Config struct {
	// AllowedOrigins are the frontend origins granted credentialed CORS
	AllowedOrigins []string
	MaxBodyBytes   int64
	// TrustedProxies may name the client through X-Forwarded-For; nil trusts nobody
	TrustedProxies httputil.TrustedProxies
}

// RateLimits guards the credential endpoints. Nil entries disable the limit.
type RateLimits struct {
	Login  *middleware.RateLimitMiddleware
	Forgot *middleware.RateLimitMiddleware
	Reset  *middleware.RateLimitMiddleware
}

// Deps are the collaborators the router mounts
type Deps struct {
	Users      *users.Handlers
	Roles      *rbac.Handlers
	Authn      *middleware.Authenticator
	Authz      *rbac.Authorizer
	RateLimits RateLimits
	Logger     *observability.Logger
	// Metrics is optional
	Metrics *observability.Metrics
	// Audit records the trail; nil disables recording
	Audit audit.Logger
	// AuditEvents serves /api/audit; nil leaves it unmounted
	AuditEvents *audit.Handlers
}

// reservedPrefix is a resource area whose gates are in place ahead of its handlers
type reservedPrefix struct {
	prefix   string
	required []string
}

var reservedPrefixes = []reservedPrefix{
	{prefix: "/api/employees", required: []string{rbac.PermManageUsers}},
	{prefix: "/api/contracts", required: []string{rbac.PermManageContracts}},
	{prefix: "/api/attendance"},
	{prefix: "/api/leaves"},
	{prefix: "/api/overtimes"},
	{prefix: "/api/payroll"},
	{prefix: "/api/dashboard"},
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	handler http.Handler
	deps    Deps
}

// NewServer creates the API server and mounts every route behind its gates
func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "Not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// Route-aware middleware runs after matching so labels use path templates
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}
	s.router.Use(observability.TracingMiddleware("hrm-api"))

	s.setupRoutes()

	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.ClientIPMiddleware(cfg.TrustedProxies),
		observability.LoggingMiddleware(deps.Logger),
		observability.RecoveryMiddleware(deps.Logger),
		httputil.CORSMiddleware(cfg.AllowedOrigins),
		httputil.MaxBytesMiddleware(maxBytes),
	)(s.router)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	authn := s.deps.Authn.Handler
	authz := s.deps.Authz
	trail := audit.Middleware(s.deps.Audit, auditRoutes())

	// Public account flows; changePassword carries its own authentication
	auth := s.router.PathPrefix("/api/auth").Subrouter()
	auth.Use(trail)
	s.deps.Users.RegisterAuthRoutes(auth, users.AuthMiddleware{
		Authenticate: authn,
		LoginLimit:   limitHandler(s.deps.RateLimits.Login),
		ForgotLimit:  limitHandler(s.deps.RateLimits.Forgot),
		ResetLimit:   limitHandler(s.deps.RateLimits.Reset),
	})

	me := s.router.PathPrefix("/api/me").Subrouter()
	me.Use(authn, trail)
	s.deps.Users.RegisterSelfRoutes(me)

	admin := s.router.PathPrefix("/api/users").Subrouter()
	admin.Use(authn, trail, authz.RequireAny(rbac.PermManageRoles, rbac.PermManageUsers))
	s.deps.Users.RegisterAdminRoutes(admin)

	roles := s.router.PathPrefix("/api/roles").Subrouter()
	roles.Use(authn, trail, authz.RequireAny(rbac.PermManageRoles))
	s.deps.Roles.RegisterRoleRoutes(roles)

	permissions := s.router.PathPrefix("/api/permissions").Subrouter()
	permissions.Use(authn, trail, authz.RequireAny(rbac.PermManageRoles))
	s.deps.Roles.RegisterPermissionRoutes(permissions)

	if s.deps.AuditEvents != nil {
		events := s.router.PathPrefix("/api/audit").Subrouter()
		events.Use(authn, trail, authz.RequireAny(rbac.PermManageRoles))
		s.deps.AuditEvents.RegisterRoutes(events)
	}

	for _, reserved := range reservedPrefixes {
		sub := s.router.PathPrefix(reserved.prefix).Subrouter()
		sub.Use(authn, trail)
		if len(reserved.required) > 0 {
			sub.Use(authz.RequireAny(reserved.required...))
		}
		sub.NewRoute().HandlerFunc(notImplemented)
	}
}

func limitHandler(m *middleware.RateLimitMiddleware) mux.MiddlewareFunc {
	if m == nil {
		return nil
	}
	return m.Handler
}

func notImplemented(w http.ResponseWriter, r *http.Request) {
	httputil.WriteNotImplemented(w)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router for additional registrations
func (s *Server) Router() *mux.Router {
	return s.router
}

// NewOpsRouter serves the probes and metrics on the separate health port
func NewOpsRouter(health *observability.HealthChecker, registry *prometheus.Registry) *mux.Router {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, health)
	if registry != nil {
		observability.RegisterMetricsEndpoint(router, registry)
	}
	return router
}
