package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultSessionTTL is the lifetime of API session tokens
	DefaultSessionTTL = 24 * time.Hour
	// DefaultVerificationTTL is the lifetime of email verification tokens
	DefaultVerificationTTL = 15 * time.Minute
)

// Purpose is carried in the aud claim so a token minted for one use is
// refused by the others
type Purpose string

const (
	// PurposeSession tokens authenticate API calls
	PurposeSession Purpose = "session"
	// PurposeVerification tokens only confirm an email address
	PurposeVerification Purpose = "verify"
)

// Claims is the verified content of a token
type Claims struct {
	Subject   string
	Purpose   Purpose
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// UserID parses the subject as a user id
func (c *Claims) UserID() (int64, error) {
	if c == nil || c.Subject == "" {
		return 0, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, c.Subject)
	}
	return id, nil
}

// TokenIssuer mints and validates HS256 signed, time-limited tokens. Both
// kinds name the user in sub; the aud claim tells them apart.
type TokenIssuer struct {
	secret          []byte
	issuer          string
	sessionTTL      time.Duration
	verificationTTL time.Duration
	now             func() time.Time
}

// TokenOption configures a TokenIssuer
type TokenOption func(*TokenIssuer)

// WithClock overrides the time source
func WithClock(now func() time.Time) TokenOption {
	return func(ti *TokenIssuer) {
		ti.now = now
	}
}

// WithIssuer sets the iss claim
func WithIssuer(issuer string) TokenOption {
	return func(ti *TokenIssuer) {
		ti.issuer = issuer
	}
}

// WithSessionTTL overrides the session token lifetime
func WithSessionTTL(ttl time.Duration) TokenOption {
	return func(ti *TokenIssuer) {
		if ttl > 0 {
			ti.sessionTTL = ttl
		}
	}
}

// WithVerificationTTL overrides the verification token lifetime
func WithVerificationTTL(ttl time.Duration) TokenOption {
	return func(ti *TokenIssuer) {
		if ttl > 0 {
			ti.verificationTTL = ttl
		}
	}
}

// NewTokenIssuer creates a token issuer bound to a signing secret
func NewTokenIssuer(secret []byte, opts ...TokenOption) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret is required")
	}

	ti := &TokenIssuer{
		secret:          append([]byte(nil), secret...),
		sessionTTL:      DefaultSessionTTL,
		verificationTTL: DefaultVerificationTTL,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(ti)
	}
	return ti, nil
}

// SessionTTL returns the configured session lifetime
func (ti *TokenIssuer) SessionTTL() time.Duration {
	return ti.sessionTTL
}

// VerificationTTL returns the configured verification token lifetime
func (ti *TokenIssuer) VerificationTTL() time.Duration {
	return ti.verificationTTL
}

// Issue signs a token for subject and purpose valid for ttl
func (ti *TokenIssuer) Issue(subject string, purpose Purpose, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if purpose == "" {
		return "", errors.New("purpose is required")
	}

	now := ti.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{string(purpose)},
		Issuer:    ti.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// IssueSession issues a long-lived API token for a user
func (ti *TokenIssuer) IssueSession(userID int64) (string, error) {
	return ti.Issue(strconv.FormatInt(userID, 10), PurposeSession, ti.sessionTTL)
}

// IssueVerification issues a short-lived email verification token for a user
func (ti *TokenIssuer) IssueVerification(userID int64) (string, error) {
	return ti.Issue(strconv.FormatInt(userID, 10), PurposeVerification, ti.verificationTTL)
}

// Verify checks signature and expiry and returns the claims whatever the
// token's purpose
func (ti *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	return ti.verify(tokenString, "")
}

// VerifySession accepts only session tokens
func (ti *TokenIssuer) VerifySession(tokenString string) (*Claims, error) {
	return ti.verify(tokenString, PurposeSession)
}

// VerifyVerification accepts only email verification tokens
func (ti *TokenIssuer) VerifyVerification(tokenString string) (*Claims, error) {
	return ti.verify(tokenString, PurposeVerification)
}

func (ti *TokenIssuer) verify(tokenString string, purpose Purpose) (*Claims, error) {
	registered := &jwt.RegisteredClaims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ti.now),
	}
	if purpose != "" {
		opts = append(opts, jwt.WithAudience(string(purpose)))
	}
	parser := jwt.NewParser(opts...)
	token, err := parser.ParseWithClaims(tokenString, registered, func(t *jwt.Token) (interface{}, error) {
		return ti.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if registered.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrInvalidToken)
	}

	claims := &Claims{
		Subject:   registered.Subject,
		ExpiresAt: registered.ExpiresAt.Time,
	}
	if len(registered.Audience) > 0 {
		claims.Purpose = Purpose(registered.Audience[0])
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time
	}
	return claims, nil
}
