//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "0123456789abcdef"

// issueToken signs an HS256 token for sub that expires at exp.
func issueToken(t *testing.T, secret, issuer, sub string, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Hour)),
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestVerify_RoundTrip(t *testing.T) {
	v := NewJWTVerifier(testSecret, "chat")
	userID := uuid.New()

	token := issueToken(t, testSecret, "chat", userID.String(), time.Now().Add(time.Hour))

	got, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if got != userID {
		t.Errorf("got user %s, want %s", got, userID)
	}
}

func TestVerify_Rejects(t *testing.T) {
	v := NewJWTVerifier(testSecret, "chat")
	userID := uuid.New()

	inAnHour := time.Now().Add(time.Hour)

	expiredToken := issueToken(t, testSecret, "chat", userID.String(), time.Now().Add(-time.Hour))
	otherSecret := issueToken(t, "fedcba9876543210", "chat", userID.String(), inAnHour)
	otherIssuer := issueToken(t, testSecret, "someone-else", userID.String(), inAnHour)
	badSubject := issueToken(t, testSecret, "chat", "not-a-uuid", inAnHour)

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: userID.String(),
		Issuer:  "chat",
	}).SignedString([]byte(testSecret))

	tests := map[string]string{
		"garbage":      "not.a.token",
		"expired":      expiredToken,
		"wrong secret": otherSecret,
		"wrong issuer": otherIssuer,
		"bad subject":  badSubject,
		"no expiry":    noExpiry,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestVerify_UsesVerifierClock(t *testing.T) {
	userID := uuid.New()
	token := issueToken(t, testSecret, "chat", userID.String(), time.Now().Add(-time.Hour))

	v := NewJWTVerifier(testSecret, "chat")
	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	got, err := v.Verify(token)
	if err != nil {
		t.Fatalf("expected token to be valid at the verifier's clock: %v", err)
	}
	if got != userID {
		t.Errorf("got user %s, want %s", got, userID)
	}
}

func TestVerify_NoIssuerCheck(t *testing.T) {
	token := issueToken(t, testSecret, "anyone", uuid.New().String(), time.Now().Add(time.Hour))
	if _, err := NewJWTVerifier(testSecret, "").Verify(token); err != nil {
		t.Errorf("expected token to verify without issuer check: %v", err)
	}
}

func TestContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("expected no user in empty context")
	}
	id := uuid.New()
	got, ok := FromContext(NewContext(context.Background(), id))
	if !ok || got != id {
		t.Errorf("got %s, %v", got, ok)
	}
}
