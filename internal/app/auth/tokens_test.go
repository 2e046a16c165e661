package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/qltv/library_service/internal/app/domain/patron"
	svcerrors "github.com/qltv/library_service/internal/errors"
)

func TestTokenRoundTrip(t *testing.T) {
	m, err := NewTokenManager("super-secret-key", "library-service", time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, expires, err := m.Issue(patron.Patron{ID: "7", Email: "lan@example.com", Role: patron.RoleLibrarian})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expiry in the past")
	}

	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "7" || claims.Role != "LIBRARIAN" || claims.Issuer != "library-service" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseRejectsExpiredAndForeignTokens(t *testing.T) {
	m, _ := NewTokenManager("super-secret-key", "library-service", time.Hour)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := m.Issue(patron.Patron{ID: "1", Role: patron.RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	m.now = time.Now
	if _, err := m.Parse(expired); !svcerrors.HasCode(err, svcerrors.CodeInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}

	other, _ := NewTokenManager("another-secret-key", "library-service", time.Hour)
	foreign, _, _ := other.Issue(patron.Patron{ID: "1", Role: patron.RoleAdmin})
	if _, err := m.Parse(foreign); err == nil {
		t.Fatalf("expected signature failure")
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "1"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := m.Parse(unsigned); err == nil {
		t.Fatalf("expected alg none to be rejected")
	}
}

func TestPasswords(t *testing.T) {
	if _, err := HashPassword("123"); err == nil {
		t.Fatalf("expected short password error")
	}
	hash, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "secret123") || CheckPassword(hash, "wrong") {
		t.Fatalf("password check mismatch")
	}
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	if _, err := NewTokenManager("short", "", 0); err == nil {
		t.Fatalf("expected error for short secret")
	}
}
