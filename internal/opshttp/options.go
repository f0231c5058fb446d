package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-api/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// Stats, when set, is served at /-/stats for operators who want the
	// monitoring report without going through the rate-limited public API.
	Stats http.Handler

	UseRecoverMW bool
	OnPanic      func() // called for every recovered panic, e.g. to bump a prometheus counter
}
