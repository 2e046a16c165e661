package httputil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

// TrustedProxies lists the networks whose forwarding headers are believed.
// The zero value trusts nobody, so the socket peer is always the client.
type TrustedProxies struct {
	nets []netip.Prefix
}

// ParseTrustedProxies accepts CIDR ranges and bare addresses.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	var t TrustedProxies
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return TrustedProxies{}, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			t.nets = append(t.nets, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return TrustedProxies{}, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		t.nets = append(t.nets, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return t, nil
}

// Trusts reports whether ip belongs to a trusted proxy.
func (t TrustedProxies) Trusts(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, n := range t.nets {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolve returns the client address of r. Forwarding headers are read only
// when the socket peer is a trusted proxy; X-Forwarded-For is walked from the
// right and the first untrusted hop wins.
func (t TrustedProxies) Resolve(r *http.Request) string {
	peer := RemoteIP(r)
	if !t.Trusts(peer) {
		return peer
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				break
			}
			if !t.Trusts(hop) || i == 0 {
				return hop
			}
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		if _, err := netip.ParseAddr(real); err == nil {
			return real
		}
	}
	return peer
}

// WithClientIP stores the resolved client address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address resolved for the request, or the socket peer
// when no resolution happened.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return RemoteIP(r)
}

// RemoteIP is the host part of r.RemoteAddr.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
