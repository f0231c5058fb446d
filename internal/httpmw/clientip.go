package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ClientIPOptions configures client IP resolution.
type ClientIPOptions struct {
	// TrustedHops is how many reverse proxies sit between the client and this
	// server. 0 ignores X-Forwarded-For entirely, 1 takes the rightmost entry
	// (single load balancer), 2 the second from the right, and so on.
	TrustedHops int
}

// ClientIP resolves the client address with no trusted proxies.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions stores the resolved client address in the request
// context for the rate limiter and logger.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// resolveClientIP returns the peer address unless the peer is a private
// address and trustedHops > 0, in which case the matching X-Forwarded-For
// entry is used. Forwarded headers that are not trusted are removed so
// nothing downstream reads them by accident.
func resolveClientIP(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		return "0.0.0.0"
	}
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	ip := net.ParseIP(peer)
	if ip == nil {
		return "0.0.0.0"
	}

	trusted := ip.IsPrivate() || ip.IsLoopback()
	if !trusted || trustedHops <= 0 {
		stripForwarded(r)
		return peer
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer
	}
	parts := strings.Split(xff, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		// fewer entries than proxies, misconfigured or spoofed: fail closed
		stripForwarded(r)
		return peer
	}
	if candidate := strings.TrimSpace(parts[idx]); net.ParseIP(candidate) != nil {
		return candidate
	}
	return peer
}

func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

// ClientIPFromContext returns the resolved client address, or "" if the
// ClientIP middleware did not run.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
