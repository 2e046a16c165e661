package middleware

import (
	"net/http"

	internalhttputil "github.com/qltv/library_service/internal/httputil"
)

// ClientIPMiddleware resolves the caller address once per request so rate
// limiting, auditing and payments agree on it.
type ClientIPMiddleware struct {
	trusted internalhttputil.TrustedProxies
}

// NewClientIPMiddleware honours forwarding headers only from trusted proxies.
func NewClientIPMiddleware(trusted internalhttputil.TrustedProxies) *ClientIPMiddleware {
	return &ClientIPMiddleware{trusted: trusted}
}

func (m *ClientIPMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := m.trusted.Resolve(r)
		next.ServeHTTP(w, r.WithContext(internalhttputil.WithClientIP(r.Context(), ip)))
	})
}
