package health

import "net/http"

// HealthzHandler: 200 "ok" when p passes (or is nil), 503 with the reason
// otherwise.
func HealthzHandler(p Probe) http.HandlerFunc {
	return probeHandler(p, "ok\n")
}

// ReadyzHandler is HealthzHandler with a "ready" body.
func ReadyzHandler(p Probe) http.HandlerFunc {
	return probeHandler(p, "ready\n")
}

func probeHandler(p Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody))
	}
}
