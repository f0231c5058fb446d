package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-api/internal/health"
	"github.com/keithlinneman/linnemanlabs-api/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-api/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // called for every recovered panic, e.g. to bump a prometheus counter

	// MetricsMW wraps the router for prometheus instrumentation
	MetricsMW func(http.Handler) http.Handler
	// ObserveMW wraps the router inside the request logger, so it sees the
	// request-scoped logger and final status of every routed request
	ObserveMW func(http.Handler) http.Handler

	Health    health.Probe
	Readiness health.Probe

	// APIRoutes registers the application routes, including NotFound and
	// MethodNotAllowed handlers if it wants JSON errors for those
	APIRoutes func(chi.Router)

	ClientIPOpts httpmw.ClientIPOptions
}
