// Package users is the credential store and the account flows built on it.
//
// Store persists accounts in PostgreSQL and satisfies the lookups the
// authentication and authorization gates depend on (FindActiveUserByID and
// FindUserByID). Service implements login, password reset by mailed one-time
// code, email verification, invite activation and account administration.
// Handlers exposes them over HTTP:
//
//	h := users.NewHandlers(service, users.CookieConfig{AppOrigin: cfg.Auth.AppOrigin}, checker)
//	h.RegisterAuthRoutes(router.PathPrefix("/api/auth").Subrouter(), users.AuthMiddleware{
//		Authenticate: authn.Handler,
//		LoginLimit:   loginLimiter.Handler,
//	})
//
// Passwords are hashed with bcrypt before they reach the store. Lookups by
// email are case-insensitive because emails are lower-cased on every write.
package users
