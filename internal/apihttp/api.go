// Package apihttp is the JSON API: the users endpoints backed by the
// in-memory store and cache, and the monitoring report and export endpoints.
//
// Everything under /api/v1 sits behind the rate limiter. The root info route
// and unmatched paths do not.
package apihttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/keithlinneman/linnemanlabs-api/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-api/internal/log"
)

type Options struct {
	Users   UserStore
	Cache   UserCache
	Monitor Monitor

	// RateLimit guards the /api/v1 group, nil leaves it open
	RateLimit func(http.Handler) http.Handler

	Version string
	Logger  log.Logger
}

// API implements the public endpoints
type API struct {
	users     UserStore
	cache     UserCache
	monitor   Monitor
	rateLimit func(http.Handler) http.Handler
	version   string
	logger    log.Logger

	fills singleflight.Group
}

func NewAPI(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &API{
		users:     opts.Users,
		cache:     opts.Cache,
		monitor:   opts.Monitor,
		rateLimit: opts.RateLimit,
		version:   opts.Version,
		logger:    opts.Logger,
	}
}

// RegisterRoutes attaches the API, plus JSON 404 and 405 handlers, to r.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/", api.handleRoot)

	r.Route("/api/v1", func(r chi.Router) {
		if api.rateLimit != nil {
			r.Use(api.rateLimit)
		}
		r.Use(httpmw.MaxBody(httpmw.DefaultMaxBody))

		r.Route("/users", func(r chi.Router) {
			r.Use(httpmw.Scope("users"))
			r.Get("/cache/status", api.handleCacheStatus)
			r.Delete("/cache", api.handleClearCache)
			r.Get("/{id}", api.handleGetUser)
			r.Post("/", api.handleCreateUser)
		})

		r.Route("/monitoring", func(r chi.Router) {
			r.Use(httpmw.Scope("monitoring"))
			r.Get("/report", api.handleReport)
			r.Get("/export", api.handleExport)
		})
	})

	r.NotFound(api.handleNotFound)
	r.MethodNotAllowed(api.handleMethodNotAllowed)
}

type serverInfo struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

func (api *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	api.ok(w, r, http.StatusOK, MsgHealthy, serverInfo{
		Message: "Server is running",
		Version: api.version,
	})
}

func (api *API) handleNotFound(w http.ResponseWriter, r *http.Request) {
	api.fail(w, r, http.StatusNotFound, "Route "+r.URL.RequestURI()+" not found")
}

func (api *API) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	api.fail(w, r, http.StatusMethodNotAllowed, MsgMethodNotAllow)
}
