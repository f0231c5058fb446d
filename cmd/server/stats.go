package main

import (
	"encoding/json"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-api/internal/cache"
)

type stats struct {
	Cache       cache.Stats `json:"cache"`
	RateLimiter struct {
		Tracked int `json:"trackedIdentifiers"`
	} `json:"rateLimiter"`
	Monitoring struct {
		Requests int `json:"bufferedRequests"`
		Errors   int `json:"bufferedErrors"`
	} `json:"monitoring"`
}

type cacheStatser interface{ Stats() cache.Stats }

type limiterLen interface{ Len() int }

type aggregatorSizes interface{ Sizes() (requests, errors int) }

// statsHandler serves a point-in-time view of the in-memory components on
// the admin listener.
func statsHandler(c cacheStatser, l limiterLen, a aggregatorSizes) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var s stats
		s.Cache = c.Stats()
		s.RateLimiter.Tracked = l.Len()
		s.Monitoring.Requests, s.Monitoring.Errors = a.Sizes()

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(s)
	})
}
