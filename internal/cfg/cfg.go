package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-api/internal/log"
)

// EnvPrefix is prepended to the upper-cased flag name for env overrides.
const EnvPrefix = "LMAPI_"

type App struct {
	ConfigFile      string
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string
	HTTPPort        int
	AdminPort       int
	TrustedHops     int
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64
	ShutdownDrain   time.Duration

	CacheMaxSize       int
	CacheTTL           time.Duration
	CacheSweepInterval time.Duration

	RLMinuteLimit    int
	RLBurstLimit     int
	RLMinuteWindow   time.Duration
	RLBurstWindow    time.Duration
	RLSweepInterval  time.Duration
	RLIdleFactor     int
	RLMaxIdentifiers int

	MonitoringMaxEntries int

	ExportInterval  time.Duration
	ExportFile      string
	ExportRedisAddr string
	ExportRedisKey  string
	ExportRedisTTL  time.Duration
	ExportS3Bucket  string
	ExportS3Prefix  string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.ConfigFile, "config", "", "optional YAML file, keys are flag names (lowest precedence above defaults)")
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "reverse proxies in front of the server whose X-Forwarded-For is trusted (0..8)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.DurationVar(&c.ShutdownDrain, "shutdown-drain", 15*time.Second, "time to fail readiness before closing listeners on shutdown")

	fs.IntVar(&c.CacheMaxSize, "cache-max-size", 100, "max cached entries before LRU eviction")
	fs.DurationVar(&c.CacheTTL, "cache-ttl", 60*time.Second, "default cache entry lifetime")
	fs.DurationVar(&c.CacheSweepInterval, "cache-sweep-interval", 10*time.Second, "expired entry sweep interval (0 disables)")

	fs.IntVar(&c.RLMinuteLimit, "rl-minute-limit", 10, "requests allowed per client per minute window")
	fs.IntVar(&c.RLBurstLimit, "rl-burst-limit", 5, "requests allowed per client per burst window")
	fs.DurationVar(&c.RLMinuteWindow, "rl-minute-window", 60*time.Second, "rate limit long window")
	fs.DurationVar(&c.RLBurstWindow, "rl-burst-window", 10*time.Second, "rate limit burst window")
	fs.DurationVar(&c.RLSweepInterval, "rl-sweep-interval", 120*time.Second, "idle client sweep interval (0 disables)")
	fs.IntVar(&c.RLIdleFactor, "rl-idle-factor", 2, "minute windows of inactivity before a client is forgotten")
	fs.IntVar(&c.RLMaxIdentifiers, "rl-max-identifiers", 100000, "max tracked clients (0 = unbounded)")

	fs.IntVar(&c.MonitoringMaxEntries, "monitoring-max-entries", 1000, "request and error buffer size")

	fs.DurationVar(&c.ExportInterval, "export-interval", 0, "snapshot export interval (0 disables)")
	fs.StringVar(&c.ExportFile, "export-file", "", "write snapshots to this file path")
	fs.StringVar(&c.ExportRedisAddr, "export-redis-addr", "", "write snapshots to redis at host:port")
	fs.StringVar(&c.ExportRedisKey, "export-redis-key", "lmapi:metrics:latest", "redis key for the latest snapshot")
	fs.DurationVar(&c.ExportRedisTTL, "export-redis-ttl", 10*time.Minute, "redis key expiry (0 keeps forever)")
	fs.StringVar(&c.ExportS3Bucket, "export-s3-bucket", "", "write snapshots to this s3 bucket")
	fs.StringVar(&c.ExportS3Prefix, "export-s3-prefix", "api/metrics", "s3 key prefix for snapshots")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// FillFromFile reads a flat YAML mapping of flag name to value and applies
// every entry whose flag was not already set on the CLI or from env. Must run
// after FillFromEnv. Unknown keys and unparsable values are errors.
func FillFromFile(fs *flag.FlagSet, path string) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	values := map[string]any{}
	if err := yaml.Unmarshal(b, &values); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if fs.Lookup(name) == nil {
			errs = append(errs, fmt.Errorf("config %s: unknown key %q", path, name))
			continue
		}
		if name == "config" || set[name] {
			continue
		}
		v, err := scalar(values[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("config %s: key %q: %w", path, name, err))
			continue
		}
		if err := fs.Set(name, v); err != nil {
			errs = append(errs, fmt.Errorf("config %s: key %q: %w", path, name, err))
		}
	}
	return errors.Join(errs...)
}

func scalar(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case map[string]any, []any:
		return "", fmt.Errorf("expected a scalar, got %T", v)
	default:
		return fmt.Sprint(v), nil
	}
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedHops < 0 || c.TrustedHops > 8 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be 0..8)", c.TrustedHops))
	}

	if c.ShutdownDrain < 0 || c.ShutdownDrain > 5*time.Minute {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_DRAIN %s (must be 0..5m)", c.ShutdownDrain))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL, scheme and tenant)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Cache
	if c.CacheMaxSize < 1 {
		errs = append(errs, fmt.Errorf("invalid CACHE_MAX_SIZE %d (must be >= 1)", c.CacheMaxSize))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("invalid CACHE_TTL %s (must be > 0)", c.CacheTTL))
	}
	if c.CacheSweepInterval < 0 {
		errs = append(errs, fmt.Errorf("invalid CACHE_SWEEP_INTERVAL %s (must be >= 0)", c.CacheSweepInterval))
	}

	// Rate limiter
	if c.RLMinuteLimit < 1 {
		errs = append(errs, fmt.Errorf("invalid RL_MINUTE_LIMIT %d (must be >= 1)", c.RLMinuteLimit))
	}
	if c.RLBurstLimit < 1 {
		errs = append(errs, fmt.Errorf("invalid RL_BURST_LIMIT %d (must be >= 1)", c.RLBurstLimit))
	}
	if c.RLMinuteWindow <= 0 || c.RLBurstWindow <= 0 {
		errs = append(errs, fmt.Errorf("RL_MINUTE_WINDOW and RL_BURST_WINDOW must be > 0 (got %s, %s)", c.RLMinuteWindow, c.RLBurstWindow))
	}
	if c.RLSweepInterval < 0 {
		errs = append(errs, fmt.Errorf("invalid RL_SWEEP_INTERVAL %s (must be >= 0)", c.RLSweepInterval))
	}
	if c.RLIdleFactor < 1 {
		errs = append(errs, fmt.Errorf("invalid RL_IDLE_FACTOR %d (must be >= 1)", c.RLIdleFactor))
	}
	if c.RLMaxIdentifiers < 0 {
		errs = append(errs, fmt.Errorf("invalid RL_MAX_IDENTIFIERS %d (must be >= 0)", c.RLMaxIdentifiers))
	}

	// Monitoring
	if c.MonitoringMaxEntries < 1 {
		errs = append(errs, fmt.Errorf("invalid MONITORING_MAX_ENTRIES %d (must be >= 1)", c.MonitoringMaxEntries))
	}

	// Export
	if c.ExportInterval < 0 {
		errs = append(errs, fmt.Errorf("invalid EXPORT_INTERVAL %s (must be >= 0)", c.ExportInterval))
	}
	if c.ExportInterval > 0 && c.ExportFile == "" && c.ExportRedisAddr == "" && c.ExportS3Bucket == "" {
		errs = append(errs, fmt.Errorf("EXPORT_INTERVAL set but no EXPORT_FILE, EXPORT_REDIS_ADDR or EXPORT_S3_BUCKET configured"))
	}
	if c.ExportRedisAddr != "" {
		if _, _, err := net.SplitHostPort(c.ExportRedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("EXPORT_REDIS_ADDR must be host:port (got %q): %v", c.ExportRedisAddr, err))
		}
	}
	if c.ExportRedisTTL < 0 {
		errs = append(errs, fmt.Errorf("invalid EXPORT_REDIS_TTL %s (must be >= 0)", c.ExportRedisTTL))
	}

	return errors.Join(errs...)
}
