package opshttp

import (
	"net"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-api/internal/log"
)

// requireNonPublicNetwork rejects any peer that is not loopback, private or
// link-local. The admin port exposes pprof and raw metrics and must never be
// reachable from the internet even if a security group is misconfigured.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			deny(L, w, r, "unparseable remote address")
			return
		}
		ip := net.ParseIP(host)
		if ip == nil {
			deny(L, w, r, "invalid remote ip")
			return
		}
		// To4 folds ::ffff:a.b.c.d into its IPv4 form
		if v4 := ip.To4(); v4 != nil {
			ip = v4
		}
		if !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsLinkLocalUnicast() {
			deny(L, w, r, "public remote ip")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deny(L log.Logger, w http.ResponseWriter, r *http.Request, reason string) {
	L.Warn(r.Context(), "ops request rejected",
		"reason", reason,
		"remote_addr", r.RemoteAddr,
		"path", r.URL.Path,
	)
	http.Error(w, "forbidden", http.StatusForbidden)
}
