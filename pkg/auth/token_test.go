package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, opts ...TokenOption) *TokenIssuer {
	t.Helper()
	ti, err := NewTokenIssuer([]byte("test-secret"), opts...)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}
	return ti
}

func TestNewTokenIssuer_RequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer(nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	ti := newTestIssuer(t)

	token, err := ti.Issue("42", PurposeSession, 24*time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "42" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "42")
	}
	if claims.Purpose != PurposeSession {
		t.Errorf("Purpose = %q, want %q", claims.Purpose, PurposeSession)
	}
	if !claims.ExpiresAt.After(claims.IssuedAt) {
		t.Errorf("ExpiresAt %v should be after IssuedAt %v", claims.ExpiresAt, claims.IssuedAt)
	}

	id, err := claims.UserID()
	if err != nil {
		t.Fatalf("UserID() error = %v", err)
	}
	if id != 42 {
		t.Errorf("UserID() = %d, want 42", id)
	}
}

func TestTokenIssuer_FlippedSignatureByte(t *testing.T) {
	ti := newTestIssuer(t)

	token, err := ti.IssueSession(42)
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}

	// Mutate a character in the middle of the signature segment so decoded bytes change.
	sigStart := strings.LastIndex(token, ".") + 1
	pos := sigStart + (len(token)-sigStart)/2
	replacement := byte('A')
	if token[pos] == 'A' {
		replacement = 'B'
	}
	tampered := token[:pos] + string(replacement) + token[pos+1:]

	_, err = ti.Verify(tampered)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify(tampered) error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenIssuer_Expired(t *testing.T) {
	ti := newTestIssuer(t)

	token, err := ti.Issue("42", PurposeSession, -1*time.Second)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	_, err = ti.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("Verify(expired) error = %v, want ErrExpiredToken", err)
	}
	if _, err := ti.VerifySession(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("VerifySession(expired) error = %v, want ErrExpiredToken", err)
	}
}

func TestTokenIssuer_ClockControlsExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ti := newTestIssuer(t, WithClock(func() time.Time { return now }))

	token, err := ti.IssueVerification(7)
	if err != nil {
		t.Fatalf("IssueVerification() error = %v", err)
	}

	if _, err := ti.Verify(token); err != nil {
		t.Fatalf("Verify() immediately error = %v", err)
	}

	now = now.Add(DefaultVerificationTTL + time.Second)
	if _, err := ti.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("Verify() after ttl error = %v, want ErrExpiredToken", err)
	}
}

func TestTokenIssuer_WrongSecret(t *testing.T) {
	ti := newTestIssuer(t)
	other, err := NewTokenIssuer([]byte("other-secret"))
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}

	token, err := other.IssueSession(1)
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}

	if _, err := ti.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenIssuer_Malformed(t *testing.T) {
	ti := newTestIssuer(t)

	for _, token := range []string{"", "not.a.jwt", "abc"} {
		if _, err := ti.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q) error = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestTokenIssuer_RejectsOtherAlgorithms(t *testing.T) {
	ti := newTestIssuer(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := ti.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify(HS512) error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenIssuer_RequiresExpiry(t *testing.T) {
	ti := newTestIssuer(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "1"})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := ti.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify(no exp) error = %v, want ErrInvalidToken", err)
	}
}

func TestClaims_UserID(t *testing.T) {
	tests := []struct {
		subject string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"", 0, true},
		{"abc", 0, true},
		{"0", 0, true},
		{"-3", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			c := &Claims{Subject: tt.subject}
			got, err := c.UserID()
			if (err != nil) != tt.wantErr {
				t.Fatalf("UserID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidToken) {
				t.Errorf("UserID() error = %v, want ErrInvalidToken", err)
			}
			if got != tt.want {
				t.Errorf("UserID() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTokenIssuer_SameClaimForBothKinds(t *testing.T) {
	ti := newTestIssuer(t)

	session, err := ti.IssueSession(9)
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}
	verification, err := ti.IssueVerification(9)
	if err != nil {
		t.Fatalf("IssueVerification() error = %v", err)
	}

	for _, token := range []string{session, verification} {
		claims, err := ti.Verify(token)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if id, _ := claims.UserID(); id != 9 {
			t.Errorf("UserID() = %d, want 9", id)
		}
	}
}

func TestTokenIssuer_PurposesAreNotInterchangeable(t *testing.T) {
	ti := newTestIssuer(t)

	session, err := ti.IssueSession(9)
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}
	verification, err := ti.IssueVerification(9)
	if err != nil {
		t.Fatalf("IssueVerification() error = %v", err)
	}

	if _, err := ti.VerifySession(session); err != nil {
		t.Errorf("VerifySession(session) error = %v", err)
	}
	if _, err := ti.VerifyVerification(verification); err != nil {
		t.Errorf("VerifyVerification(verification) error = %v", err)
	}
	if _, err := ti.VerifySession(verification); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifySession(verification) error = %v, want ErrInvalidToken", err)
	}
	if _, err := ti.VerifyVerification(session); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyVerification(session) error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenIssuer_TokensWithoutPurposeAreNotSessions(t *testing.T) {
	ti := newTestIssuer(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := ti.VerifySession(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("VerifySession(no aud) error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenIssuer_ConfiguredTTLs(t *testing.T) {
	ti := newTestIssuer(t, WithSessionTTL(2*time.Hour), WithVerificationTTL(30*time.Minute))
	if ti.SessionTTL() != 2*time.Hour {
		t.Errorf("SessionTTL() = %v, want 2h", ti.SessionTTL())
	}
	if ti.VerificationTTL() != 30*time.Minute {
		t.Errorf("VerificationTTL() = %v, want 30m", ti.VerificationTTL())
	}
}
