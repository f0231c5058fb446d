package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-api/internal/apihttp"
	"github.com/keithlinneman/linnemanlabs-api/internal/cache"
	"github.com/keithlinneman/linnemanlabs-api/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-api/internal/export"
	"github.com/keithlinneman/linnemanlabs-api/internal/health"
	"github.com/keithlinneman/linnemanlabs-api/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-api/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-api/internal/log"
	"github.com/keithlinneman/linnemanlabs-api/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-api/internal/monitoring"
	"github.com/keithlinneman/linnemanlabs-api/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-api/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-api/internal/prof"
	"github.com/keithlinneman/linnemanlabs-api/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-api/internal/userstore"
	v "github.com/keithlinneman/linnemanlabs-api/internal/version"
)

const (
	appName   = "linnemanlabs-api"
	component = "api"
)

func main() {
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags, env and optional config file
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.FillFromFile(flag.CommandLine, conf.ConfigFile); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:             appName,
		Version:         vi.Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", component)

	// appCtx owns background goroutines (sweeps, exporter). It is cancelled
	// only after the listeners are closed, not when the signal arrives.
	appCtx, cancelApp := context.WithCancel(log.WithContext(context.Background(), L))
	defer cancelApp()
	ctx := appCtx

	L.Info(ctx, "initializing application",
		"version", vi.String(),
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"trusted_hops", conf.TrustedHops,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"cache_max_size", conf.CacheMaxSize,
		"cache_ttl", conf.CacheTTL,
		"rl_minute_limit", conf.RLMinuteLimit,
		"rl_burst_limit", conf.RLBurstLimit,
		"rl_minute_window", conf.RLMinuteWindow,
		"rl_burst_window", conf.RLBurstWindow,
		"monitoring_max_entries", conf.MonitoringMaxEntries,
		"export_interval", conf.ExportInterval,
	)

	// Setup metrics
	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, component, &vi)

	// Setup pyroscope profiling
	tags := prof.VersionTags(vi.Version, vi.Commit)
	tags["app"] = appName
	tags["component"] = component
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags:          tags,
		OnState:       m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, continuing without trace export")
		shutdownOTEL, _ = otelx.Init(ctx, otelx.Options{Enabled: false})
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Response cache for user lookups
	userCache := cache.New[userstore.User](ctx,
		cache.WithMaxSize(conf.CacheMaxSize),
		cache.WithTTL(conf.CacheTTL),
		cache.WithSweepInterval(conf.CacheSweepInterval),
		cache.WithLogger(L.With("subsystem", "cache")),
		cache.WithOnEvict(func(reason cache.EvictReason, n int) {
			m.AddCacheEvictions(string(reason), n)
		}),
	)
	m.RegisterCache("users", userCache.Stats)

	// Rate limiter for the API routes
	// first-denial warnings are throttled across all clients
	deniedLog := rate.Sometimes{First: 10, Interval: 10 * time.Second}
	limiter := ratelimit.New(ctx,
		ratelimit.WithLimits(conf.RLMinuteLimit, conf.RLBurstLimit),
		ratelimit.WithWindows(conf.RLMinuteWindow, conf.RLBurstWindow),
		ratelimit.WithSweep(conf.RLSweepInterval, conf.RLIdleFactor),
		ratelimit.WithMaxIdentifiers(conf.RLMaxIdentifiers),
		ratelimit.WithLogger(L.With("subsystem", "ratelimit")),
		ratelimit.WithOnDenied(func(ip string, reason ratelimit.Reason) {
			m.IncRateLimitDenied(string(reason))
		}),
		ratelimit.WithOnFirstDenied(func(ip string) {
			deniedLog.Do(func() {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			})
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new clients until some are evicted")
		}),
		ratelimit.WithOnSweep(m.AddRateLimitSwept),
	)
	m.RegisterRateLimiter(limiter.Len)

	// Request/error aggregator
	agg := monitoring.New(
		monitoring.WithMaxEntries(conf.MonitoringMaxEntries),
		monitoring.WithLogger(L.With("subsystem", "monitoring")),
	)
	m.RegisterAggregator(agg.Sizes)

	// Snapshot exporter
	sinks, closeSinks, err := buildSinks(ctx, L, conf)
	if err != nil {
		L.Error(ctx, err, "failed to configure metrics export sinks")
		os.Exit(1)
	}
	defer closeSinks()
	exporter := export.New(agg, sinks,
		export.WithInterval(conf.ExportInterval),
		export.WithLogger(L.With("subsystem", "export")),
		export.WithOnResult(m.ObserveExport),
	)
	exportDone := make(chan struct{})
	go func() {
		defer close(exportDone)
		exporter.Run(ctx)
	}()

	api := apihttp.NewAPI(apihttp.Options{
		Users:     userstore.New(),
		Cache:     userCache,
		Monitor:   agg,
		RateLimit: limiter.Middleware,
		Version:   vi.Version,
		Logger:    L,
	})

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// readiness fails while draining, or if a background sweep has died
	checks := []health.Probe{gate.Probe()}
	if conf.CacheSweepInterval > 0 {
		checks = append(checks, health.Running("cache sweep", userCache.Done()))
	}
	if conf.RLSweepInterval > 0 {
		checks = append(checks, health.Running("rate limit sweep", limiter.Done()))
	}
	readiness := health.All(checks...)

	// start public http server
	apiHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		ObserveMW:    apihttp.Observe(agg),
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    api.RegisterRoutes,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
	})
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks, stats and pprof
	// requests from public addresses are rejected in middleware
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Stats:        statsHandler(userCache, limiter, agg),
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	// wait for ctrl+c / sigterm
	sigCtx, stopSig := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSig()
	<-sigCtx.Done()
	stopSig()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	drain(L, conf.ShutdownDrain)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "api http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	// stop background work, then ship one last snapshot of what was served
	cancelApp()
	userCache.StopCleanup()
	<-limiter.Done()
	<-exportDone
	if exporter.Enabled() {
		if err := exporter.ExportOnce(shutdownCtx); err != nil {
			L.Warn(context.Background(), "final metrics export incomplete", "err", err)
		}
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// drain waits d for in-flight requests and load balancer health checks, or
// until a second signal arrives.
func drain(L log.Logger, d time.Duration) {
	if d <= 0 {
		return
	}
	L.Info(context.Background(), "draining before closing listeners", "drain", d)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
}
