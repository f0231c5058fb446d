package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-api/internal/health"
	"github.com/keithlinneman/linnemanlabs-api/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-api/internal/log"
)

// DefaultPort is the public listener port when Options.Port is 0.
const DefaultPort = 8080

// NewHandler builds an HTTP handler with routes + middleware
// main() owns *http.Server so it can do graceful shutdown
func NewHandler(opts *Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	r := chi.NewRouter()

	// the API only speaks JSON; monitoring exports get large
	r.Use(middleware.Compress(5, "application/json", "text/plain"))

	// rename the server span to the chi route pattern once routing is done
	r.Use(httpmw.AnnotateHTTPRoute)

	if opts.Health != nil {
		r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))
	}

	if opts.APIRoutes != nil {
		opts.APIRoutes(r)
	}

	// Middleware (outermost first in wrapping order)
	var h http.Handler = r

	if opts.ObserveMW != nil {
		h = opts.ObserveMW(h)
	}

	// Request-scoped logging (inner so it sees trace_id, client ip, etc)
	h = httpmw.WithLogger(opts.Logger)(h)

	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}

	// add trace-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	h = otelhttp.NewHandler(
		h,
		"http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// probes are polled every few seconds, tracing them is noise
			return !strings.HasPrefix(r.URL.Path, "/-/")
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// AnnotateHTTPRoute will rename the span later to the final route pattern
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(r *http.Request) bool { return true }),
	)

	// Client IP resolution (before the rate limiter and logger see the request)
	h = httpmw.ClientIPWithOptions(opts.ClientIPOpts)(h)

	// Recovery middleware to log panics and serve 500 response
	if opts.UseRecoverMW {
		h = httpmw.Recover(opts.Logger, opts.OnPanic)(h)
	}

	// Request ID outside recover so panics are logged with it
	h = httpmw.RequestID("X-Request-Id")(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	return h
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start public HTTP server
// Returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	srv := NewServer(fmt.Sprintf(":%d", port), NewHandler(opts))
	return Serve(ctx, opts.Logger, "api", srv)
}
