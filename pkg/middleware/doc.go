// Package middleware provides the authentication gate and rate limiting.
//
// # Authentication
//
// Authenticator resolves a bearer token into an auth.Identity:
//
//	authn := middleware.NewAuthenticator(issuer, userStore, roleStore)
//	protected.Use(authn.Handler)
//
// Tokens are looked up in order: Authorization Bearer header, "token" cookie,
// "tokenUser" cookie. Missing or invalid tokens are rejected with 401 before any
// store call is made. Store failures produce 500 "Authentication failed".
//
// # Rate Limiting
//
// RateLimitMiddleware keys budgets by limiter name and client IP. The Limiter is
// either the in-memory token bucket (RateLimiter) or the Redis fixed window
// (DistributedRateLimiter); a fallback limiter can take over when Redis errors:
//
//	primary := middleware.NewDistributedRateLimiter(redisClient, cfg, "hrm:ratelimit")
//	login := middleware.NewRateLimitMiddleware("login", primary,
//		middleware.WithFallback(middleware.NewRateLimiter(cfg)))
//
// # Related Packages
//
//   - pkg/auth: tokens and identities
//   - pkg/rbac: authorization gate
package middleware
