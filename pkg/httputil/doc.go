// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// Every non-data response uses the same body shape:
//
//	{"message": "Forbidden: missing required permissions", "missing": ["manage_users"]}
//
// The "missing" key only appears on ALL-mode authorization denials.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteUnauthorized(w, "Invalid token")
//	httputil.WriteForbidden(w, "Forbidden: inactive user")
//	httputil.WriteForbiddenMissing(w, "Forbidden: missing required permissions", missing)
//	httputil.WriteInternalError(w, "Permission check failed")
//
// Internal errors never echo the underlying cause; log it instead.
//
// # Request Parsing
//
//	var req LoginRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.CORSMiddleware(cfg.Server.AllowedOrigins),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
//
// # Related Packages
//
//   - pkg/middleware: Authentication gate and rate limiting
//   - pkg/rbac: Authorization gate
package httputil
