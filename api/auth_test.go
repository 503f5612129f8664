package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestBearerTokenFromStringSuccess(t *testing.T) {
	token, err := bearerTokenFromString("Bearer header.payload.signature")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(token) != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", string(token))
	}
}

func TestBearerTokenFromStringMissing(t *testing.T) {
	if _, err := bearerTokenFromString(""); err == nil || err.Error() != "missing authorization header" {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenFromStringManyPeriods(t *testing.T) {
	header := "Bearer " + strings.Repeat(".", 1000)
	if _, err := bearerTokenFromString(header); err == nil || err.Error() != "bad auth header" {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func signedHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestUserIDFromAuthHeaderHS256(t *testing.T) {
	secret := []byte("test-secret")
	signed := signedHS256(t, secret, jwt.MapClaims{
		"sub": "staff-123",
		"aud": "api://pawboard",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	})

	auth := NewAuth(nil, "api://pawboard", "https://issuer/", WithLocalSecret(secret))
	userID, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "staff-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromAuthHeaderExpired(t *testing.T) {
	secret := []byte("test-secret")
	signed := signedHS256(t, secret, jwt.MapClaims{
		"sub": "staff-123",
		"exp": time.Now().Add(-10 * time.Minute).Unix(),
	})

	auth := NewAuth(nil, "", "", WithLocalSecret(secret))
	if _, err := auth.UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestUserIDFromAuthHeaderWrongAudience(t *testing.T) {
	secret := []byte("test-secret")
	signed := signedHS256(t, secret, jwt.MapClaims{
		"sub": "staff-123",
		"aud": "api://other",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})

	auth := NewAuth(nil, "api://pawboard", "", WithLocalSecret(secret))
	if _, err := auth.UserIDFromAuthHeader("Bearer " + signed); err == nil || err.Error() != "invalid audience" {
		t.Fatalf("expected audience rejection, got %v", err)
	}
}

func TestUserIDFromAuthHeaderMissingSub(t *testing.T) {
	secret := []byte("test-secret")
	signed := signedHS256(t, secret, jwt.MapClaims{
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})

	auth := NewAuth(nil, "", "", WithLocalSecret(secret))
	if _, err := auth.UserIDFromAuthHeader("Bearer " + signed); err == nil || err.Error() != "missing sub" {
		t.Fatalf("expected missing sub rejection, got %v", err)
	}
}
