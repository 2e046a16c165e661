package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qltv/library_service/internal/app/auth"
	"github.com/qltv/library_service/internal/app/domain/patron"
	internalhttputil "github.com/qltv/library_service/internal/httputil"
	"github.com/qltv/library_service/pkg/logger"
)

func newTokens(t *testing.T) *auth.TokenManager {
	t.Helper()
	tokens, err := auth.NewTokenManager("test-secret-key", "library", time.Hour)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	return tokens
}

func issue(t *testing.T, tokens *auth.TokenManager, id string, role patron.Role) string {
	t.Helper()
	token, _, err := tokens.Issue(patron.Patron{ID: id, Email: id + "@example.com", Role: role})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func identityHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		internalhttputil.WriteJSON(w, http.StatusOK, map[string]string{
			"user": GetUserID(r.Context()),
			"role": GetUserRole(r.Context()),
		})
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) internalhttputil.ErrorBody {
	t.Helper()
	var body internalhttputil.ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestAuthMiddleware_AnonymousPassesThrough(t *testing.T) {
	m := NewAuthMiddleware(newTokens(t), logger.NewNop())
	rec := httptest.NewRecorder()
	m.Handler(identityHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/books", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&got)
	if got["user"] != "" {
		t.Fatalf("anonymous request carried user %q", got["user"])
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	tokens := newTokens(t)
	m := NewAuthMiddleware(tokens, logger.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, tokens, "42", patron.RoleLibrarian))
	rec := httptest.NewRecorder()
	m.Handler(identityHandler()).ServeHTTP(rec, req)

	var got map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&got)
	if got["user"] != "42" || got["role"] != "LIBRARIAN" {
		t.Fatalf("identity = %+v", got)
	}
}

func TestAuthMiddleware_BadTokensStayAnonymous(t *testing.T) {
	tokens := newTokens(t)
	other, err := auth.NewTokenManager("another-secret", "library", time.Hour)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	cases := map[string]string{
		"format":    "Token abc",
		"empty":     "Bearer ",
		"garbage":   "Bearer not-a-jwt",
		"wrong key": "Bearer " + issue(t, other, "1", patron.RoleUser),
	}
	m := NewAuthMiddleware(tokens, logger.NewNop())
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		m.Handler(identityHandler()).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: public route status = %d, want 200", name, rec.Code)
		}
		var got map[string]string
		_ = json.NewDecoder(rec.Body).Decode(&got)
		if got["user"] != "" {
			t.Fatalf("%s: bad token produced user %q", name, got["user"])
		}

		req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.Header.Set("Authorization", header)
		rec = httptest.NewRecorder()
		m.Handler(RequireUserID(identityHandler())).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: guarded route status = %d, want 401", name, rec.Code)
		}
		if body := decodeError(t, rec); body.Error.Code == "" {
			t.Fatalf("%s: missing error code", name)
		}
	}
}

func TestAuthMiddleware_WebsocketQueryToken(t *testing.T) {
	tokens := newTokens(t)
	m := NewAuthMiddleware(tokens, logger.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/ws/notifications?access_token="+issue(t, tokens, "7", patron.RoleAdmin), nil)
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	m.Handler(identityHandler()).ServeHTTP(rec, req)

	var got map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&got)
	if got["user"] != "7" {
		t.Fatalf("websocket token ignored: %+v", got)
	}
}

func TestRequireRole(t *testing.T) {
	tokens := newTokens(t)
	chain := NewAuthMiddleware(tokens, logger.NewNop()).Handler(RequireRole("LIBRARIAN", "ADMIN")(identityHandler()))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"patron", "Bearer " + issue(t, tokens, "1", patron.RoleUser), http.StatusForbidden},
		{"librarian", "Bearer " + issue(t, tokens, "2", patron.RoleLibrarian), http.StatusOK},
		{"admin", "Bearer " + issue(t, tokens, "3", patron.RoleAdmin), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/loans/borrow", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			chain.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}
