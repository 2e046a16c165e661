// Package middleware provides HTTP middleware for the library API
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/qltv/library_service/internal/app/auth"
	"github.com/qltv/library_service/internal/errors"
	internalhttputil "github.com/qltv/library_service/internal/httputil"
	"github.com/qltv/library_service/pkg/logger"
)

// TokenParser validates bearer tokens.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// AuthMiddleware resolves the caller from a bearer token. Requests without a
// usable token continue anonymously; route guards decide whether that is
// allowed.
type AuthMiddleware struct {
	tokens TokenParser
	logger *logger.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens TokenParser, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth-middleware")
	}
	return &AuthMiddleware{tokens: tokens, logger: log}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			m.rejectCredentials(r, err)
			next.ServeHTTP(w, r)
			return
		}
		if tokenString == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.tokens.Parse(tokenString)
		if err != nil {
			m.rejectCredentials(r, err)
			next.ServeHTTP(w, r)
			return
		}

		ctx := logger.WithUser(r.Context(), claims.UserID, claims.Role)
		m.logger.WithContext(ctx).Debug("Authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken reads the Authorization header. Websocket upgrades may pass the
// token as the access_token query parameter instead.
func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			return strings.TrimSpace(r.URL.Query().Get("access_token")), nil
		}
		return "", nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.Unauthorized("Invalid Authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// rejectCredentials records an unusable token. The request itself continues
// without an identity.
func (m *AuthMiddleware) rejectCredentials(r *http.Request, err error) {
	m.logger.WithContext(r.Context()).WithError(err).Warn("Token validation failed")
	m.logger.LogSecurityEvent(r.Context(), "authentication_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
	})
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logger.GetUserID(ctx)
}

// GetUserRole extracts user role from context
func GetUserRole(ctx context.Context) string {
	return logger.GetRole(ctx)
}

// RequireUserID rejects anonymous requests.
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			internalhttputil.WriteError(w, r, errors.Unauthorized("authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits authenticated callers holding one of roles.
func RequireRole(roles ...string) mux.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[strings.ToUpper(role)] = true
	}
	return func(next http.Handler) http.Handler {
		return RequireUserID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed[strings.ToUpper(GetUserRole(r.Context()))] {
				internalhttputil.WriteError(w, r, errors.Forbidden("insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
