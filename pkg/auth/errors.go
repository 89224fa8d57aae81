package auth

import "errors"

var (
	// ErrMissingCredential means no token was presented at all
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidToken covers bad signatures, malformed tokens and unusable subjects
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken means the token signature is fine but it is past expiry
	ErrExpiredToken = errors.New("token expired")

	// ErrInactiveOrUnknownUser means the token is valid but its subject is missing or deactivated
	ErrInactiveOrUnknownUser = errors.New("inactive or unknown user")

	// ErrUserNotFound is returned by credential store lookups that match no row
	ErrUserNotFound = errors.New("user not found")

	// ErrUnauthorized means no identity reached the authorization gate
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the identity is known but not entitled
	ErrForbidden = errors.New("forbidden")

	// ErrPasswordMismatch is returned when a password does not match its hash
	ErrPasswordMismatch = errors.New("password mismatch")
)
