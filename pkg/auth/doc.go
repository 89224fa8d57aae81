// Package auth provides the identity primitives of the HRM backend: the user
// record of the credential store, signed bearer tokens, password hashing and
// the per-request identity context.
//
// # Tokens
//
// Tokens are HS256 JWTs carrying the user id in the "sub" claim. The signing
// secret is injected at construction so tests can use rotated or fake secrets:
//
//	issuer, err := auth.NewTokenIssuer([]byte(cfg.Auth.JWTSecret),
//		auth.WithSessionTTL(cfg.Auth.SessionTTL),
//		auth.WithVerificationTTL(cfg.Auth.VerificationTTL),
//	)
//	session, _ := issuer.IssueSession(user.ID)        // ~24h, API access
//	verify, _ := issuer.IssueVerification(user.ID)    // ~15m, email links
//
// Both kinds put the user id in "sub" and their purpose in "aud". Each flow
// verifies only its own kind, so an emailed verification link never opens an
// API session and a session token never verifies an address:
//
//	claims, err := issuer.VerifySession(tokenString) // or VerifyVerification
//	switch {
//	case errors.Is(err, auth.ErrExpiredToken):
//		// past expiry
//	case errors.Is(err, auth.ErrInvalidToken):
//		// bad signature, malformed or minted for another purpose
//	}
//	userID, err := claims.UserID()
//
// # Passwords
//
// Passwords are only ever stored as bcrypt hashes:
//
//	hash, err := auth.HashPassword(plain)
//	err = auth.ComparePassword(hash, candidate) // auth.ErrPasswordMismatch
//
// # Identity
//
// The authentication gate (pkg/middleware) resolves an Identity and attaches
// it to the request context; the authorization gate (pkg/rbac) reads it back:
//
//	identity := auth.IdentityFromContext(r.Context())
//	if identity == nil {
//		// not authenticated
//	}
//
// # Related Packages
//
//   - pkg/middleware: authentication gate
//   - pkg/rbac: roles, permissions and the authorization gate
//   - pkg/users: credential store and account flows
package auth
