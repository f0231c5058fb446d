package opshttp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/keithlinneman/linnemanlabs-api/internal/health"
	"github.com/keithlinneman/linnemanlabs-api/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-api/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-api/internal/log"
)

// DefaultPort is the admin listener port when Options.Port is 0.
const DefaultPort = 9000

// NewHandler builds the admin mux: probes, /metrics, optional /-/stats and
// pprof, all behind the non-public network guard.
func NewHandler(L log.Logger, opts *Options) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/-/healthy", health.HealthzHandler(opts.Health))
	mux.Handle("/-/ready", health.ReadyzHandler(opts.Readiness))

	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	if opts.Stats != nil {
		mux.Handle("/-/stats", opts.Stats)
	}

	// pprof (or shadow with 404s)
	if opts.EnablePprof {
		RegisterPprof(mux)
	} else {
		mux.HandleFunc("/debug/pprof/", http.NotFound)
	}

	h := requireNonPublicNetwork(L, mux)
	if opts.UseRecoverMW {
		h = httpmw.Recover(L, opts.OnPanic)(h)
	}
	return h
}

// Start admin HTTP server with /metrics, /-/healthy, /-/ready, pprof debug endpoints
// Returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, L log.Logger, opts *Options) (func(context.Context) error, error) {
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf(":%d", port)

	srv := httpserver.NewServer(addr, NewHandler(L, opts))
	// pprof profile and trace endpoints stream for longer than the public timeout
	srv.WriteTimeout = 60 * time.Second

	return httpserver.Serve(ctx, L, "ops", srv)
}
