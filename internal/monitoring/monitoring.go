// Package monitoring keeps the most recent requests and errors in fixed-size
// buffers and derives rolling statistics from them on read.
//
// Nothing is maintained incrementally: every statistic is recomputed from the
// buffered entries that fall inside the requested window, so counters can
// never drift from the data they summarize.
package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-api/internal/log"
	"github.com/keithlinneman/linnemanlabs-api/internal/ring"
	"github.com/keithlinneman/linnemanlabs-api/internal/xerrors"
)

const (
	DefaultMaxEntries    = 1000
	DefaultWindowMinutes = 5

	topEndpoints = 5
	recentErrors = 10
)

// RequestRecord describes one completed request.
type RequestRecord struct {
	Endpoint       string
	Method         string
	StatusCode     int
	ResponseTimeMs float64
	// Cached is nil when the request never consulted the cache
	Cached *bool
}

// ErrorRecord describes a request that ended in an error response.
type ErrorRecord struct {
	Endpoint   string
	Method     string
	StatusCode int
	Message    string
	Stack      string
}

type MetricEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	StatusCode     int       `json:"statusCode"`
	ResponseTimeMs float64   `json:"responseTime"`
	Cached         *bool     `json:"cached,omitempty"`
}

type ErrorEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	StatusCode int       `json:"statusCode"`
	Message    string    `json:"message"`
	Stack      string    `json:"stack,omitempty"`
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	requests *ring.Buffer[MetricEntry]
	errors   *ring.Buffer[ErrorEntry]
	recorded uint64

	now    func() time.Time
	logger log.Logger
}

type Option func(*config)

type config struct {
	maxEntries int
	now        func() time.Time
	logger     log.Logger
}

// WithMaxEntries sets the capacity of both the request and the error buffer.
func WithMaxEntries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

func WithLogger(l log.Logger) Option {
	return func(c *config) { c.logger = l }
}

func New(opts ...Option) *Aggregator {
	cfg := config{
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		logger:     log.Nop(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Aggregator{
		requests: ring.New[MetricEntry](cfg.maxEntries),
		errors:   ring.New[ErrorEntry](cfg.maxEntries),
		now:      cfg.now,
		logger:   cfg.logger,
	}
}

// SeverityFor maps a response status to the level it is logged at.
func SeverityFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// RecordRequest stores r with the current time and logs it at SeverityFor(r.StatusCode).
func (a *Aggregator) RecordRequest(ctx context.Context, r RequestRecord) {
	e := MetricEntry{
		Timestamp:      a.now(),
		Endpoint:       r.Endpoint,
		Method:         r.Method,
		StatusCode:     r.StatusCode,
		ResponseTimeMs: r.ResponseTimeMs,
		Cached:         r.Cached,
	}

	a.mu.Lock()
	a.requests.Push(e)
	a.recorded++
	a.mu.Unlock()

	kv := []any{
		"type", "REQUEST",
		"endpoint", r.Endpoint,
		"method", r.Method,
		"status", r.StatusCode,
		"response_time_ms", r.ResponseTimeMs,
	}
	if r.Cached != nil {
		kv = append(kv, "cached", *r.Cached)
	}
	a.logger.Log(ctx, SeverityFor(r.StatusCode),
		fmt.Sprintf("%s %s %d - %gms", r.Method, r.Endpoint, r.StatusCode, r.ResponseTimeMs), kv...)
}

// RecordError stores r in the error buffer, independent of the request buffer.
func (a *Aggregator) RecordError(ctx context.Context, r ErrorRecord) {
	e := ErrorEntry{
		Timestamp:  a.now(),
		Endpoint:   r.Endpoint,
		Method:     r.Method,
		StatusCode: r.StatusCode,
		Message:    r.Message,
		Stack:      r.Stack,
	}

	a.mu.Lock()
	a.errors.Push(e)
	a.mu.Unlock()

	a.logger.Error(ctx, xerrors.New(r.Message), "request error",
		"type", "ERROR",
		"endpoint", r.Endpoint,
		"method", r.Method,
		"status", r.StatusCode,
	)
}

// cutoff returns the exclusive lower bound for a window of the given minutes
func (a *Aggregator) cutoff(minutes int) time.Time {
	return a.now().Add(-time.Duration(minutes) * time.Minute)
}

// Metrics returns a fresh slice of the request entries recorded strictly after
// now - minutes, oldest first.
func (a *Aggregator) Metrics(minutes int) []MetricEntry {
	cut := a.cutoff(minutes)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metricsSince(cut)
}

// metricsSince must be called with a.mu held
func (a *Aggregator) metricsSince(cut time.Time) []MetricEntry {
	var out []MetricEntry
	a.requests.Each(func(m MetricEntry) bool {
		if m.Timestamp.After(cut) {
			out = append(out, m)
		}
		return true
	})
	return out
}

// errorsSince must be called with a.mu held
func (a *Aggregator) errorsSince(cut time.Time) []ErrorEntry {
	var out []ErrorEntry
	a.errors.Each(func(e ErrorEntry) bool {
		if e.Timestamp.After(cut) {
			out = append(out, e)
		}
		return true
	})
	return out
}

// ErrorRate is the percentage of requests in the window with status >= 400.
func (a *Aggregator) ErrorRate(minutes int) float64 {
	return errorRate(a.Metrics(minutes))
}

// AverageResponseTime is the mean latency in the window, rounded to two decimals.
func (a *Aggregator) AverageResponseTime(minutes int) float64 {
	return averageResponseTime(a.Metrics(minutes))
}

// CacheHitRate is the percentage of cache hits among requests in the window
// that consulted the cache.
func (a *Aggregator) CacheHitRate(minutes int) float64 {
	return cacheHitRate(a.Metrics(minutes))
}

// RequestsPerMinute is the window's request count divided by its length in
// minutes, rounded to two decimals.
func (a *Aggregator) RequestsPerMinute(minutes int) float64 {
	return requestsPerMinute(a.Metrics(minutes), minutes)
}

func errorRate(ms []MetricEntry) float64 {
	if len(ms) == 0 {
		return 0
	}
	n := 0
	for _, m := range ms {
		if m.StatusCode >= 400 {
			n++
		}
	}
	return float64(n) / float64(len(ms)) * 100
}

func averageResponseTime(ms []MetricEntry) float64 {
	if len(ms) == 0 {
		return 0
	}
	var sum float64
	for _, m := range ms {
		sum += m.ResponseTimeMs
	}
	return round2(sum / float64(len(ms)))
}

func cacheHitRate(ms []MetricEntry) float64 {
	var seen, hits int
	for _, m := range ms {
		if m.Cached == nil {
			continue
		}
		seen++
		if *m.Cached {
			hits++
		}
	}
	if seen == 0 {
		return 0
	}
	return float64(hits) / float64(seen) * 100
}

func requestsPerMinute(ms []MetricEntry, minutes int) float64 {
	if minutes <= 0 {
		return 0
	}
	return round2(float64(len(ms)) / float64(minutes))
}

// round2 rounds half away from zero to two decimals
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// percent formats v with two decimals, ties rounded up
func percent(v float64) string {
	return strconv.FormatFloat(round2(v), 'f', 2, 64) + "%"
}

type StatusBreakdown struct {
	Status2xx int `json:"2xx"`
	Status4xx int `json:"4xx"`
	Status5xx int `json:"5xx"`
}

type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int    `json:"count"`
}

type RecentError struct {
	Timestamp  time.Time `json:"timestamp"`
	Endpoint   string    `json:"endpoint"`
	StatusCode int       `json:"statusCode"`
	Message    string    `json:"message"`
}

type Report struct {
	Period              string          `json:"period"`
	TotalRequests       int             `json:"totalRequests"`
	RequestsPerMinute   float64         `json:"requestsPerMinute"`
	AverageResponseTime float64         `json:"averageResponseTime"`
	MinResponseTime     float64         `json:"minResponseTime"`
	MaxResponseTime     float64         `json:"maxResponseTime"`
	ErrorRate           string          `json:"errorRate"`
	CacheHitRate        string          `json:"cacheHitRate"`
	StatusCodeBreakdown StatusBreakdown `json:"statusCodeBreakdown"`
	TopEndpoints        []EndpointCount `json:"topEndpoints"`
	RecentErrors        []RecentError   `json:"recentErrors"`
}

// Report summarizes the last minutes of traffic. Recent errors are the (at
// most 10) newest error entries inside the same window, oldest first.
func (a *Aggregator) Report(minutes int) Report {
	cut := a.cutoff(minutes)
	a.mu.Lock()
	ms := a.metricsSince(cut)
	es := a.errorsSince(cut)
	a.mu.Unlock()

	rep := Report{
		Period:              fmt.Sprintf("Last %d minutes", minutes),
		TotalRequests:       len(ms),
		RequestsPerMinute:   requestsPerMinute(ms, minutes),
		AverageResponseTime: averageResponseTime(ms),
		ErrorRate:           percent(errorRate(ms)),
		CacheHitRate:        percent(cacheHitRate(ms)),
		StatusCodeBreakdown: breakdown(ms),
		TopEndpoints:        top(ms, topEndpoints),
		RecentErrors:        make([]RecentError, 0, recentErrors),
	}
	rep.MinResponseTime, rep.MaxResponseTime = minMax(ms)

	if len(es) > recentErrors {
		es = es[len(es)-recentErrors:]
	}
	for _, e := range es {
		rep.RecentErrors = append(rep.RecentErrors, RecentError{
			Timestamp:  e.Timestamp,
			Endpoint:   e.Endpoint,
			StatusCode: e.StatusCode,
			Message:    e.Message,
		})
	}
	return rep
}

// breakdown counts status classes; 1xx and 3xx are not reported
func breakdown(ms []MetricEntry) StatusBreakdown {
	var b StatusBreakdown
	for _, m := range ms {
		switch {
		case m.StatusCode >= 200 && m.StatusCode < 300:
			b.Status2xx++
		case m.StatusCode >= 400 && m.StatusCode < 500:
			b.Status4xx++
		case m.StatusCode >= 500:
			b.Status5xx++
		}
	}
	return b
}

// top returns the n most requested "METHOD endpoint" pairs. Ties keep the
// order in which the pair was first seen.
func top(ms []MetricEntry, n int) []EndpointCount {
	idx := make(map[string]int)
	out := make([]EndpointCount, 0)
	for _, m := range ms {
		key := m.Method + " " + m.Endpoint
		if i, ok := idx[key]; ok {
			out[i].Count++
			continue
		}
		idx[key] = len(out)
		out = append(out, EndpointCount{Endpoint: key, Count: 1})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func minMax(ms []MetricEntry) (lo, hi float64) {
	if len(ms) == 0 {
		return 0, 0
	}
	lo, hi = ms[0].ResponseTimeMs, ms[0].ResponseTimeMs
	for _, m := range ms[1:] {
		lo = math.Min(lo, m.ResponseTimeMs)
		hi = math.Max(hi, m.ResponseTimeMs)
	}
	return lo, hi
}

// Export is the full, unwindowed content of both buffers.
type Export struct {
	Metrics       []MetricEntry `json:"metrics"`
	Errors        []ErrorEntry  `json:"errors"`
	TotalRecorded uint64        `json:"totalRecorded"`
	ExportedAt    string        `json:"exportedAt"`
}

func (a *Aggregator) Export() Export {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	return Export{
		Metrics:       a.requests.Snapshot(),
		Errors:        a.errors.Snapshot(),
		TotalRecorded: a.recorded,
		ExportedAt:    now.UTC().Format(time.RFC3339),
	}
}

// Sizes reports how many entries each buffer currently holds.
func (a *Aggregator) Sizes() (requests, errors int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests.Len(), a.errors.Len()
}

// Reset drops every buffered request and error.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.requests.Reset()
	a.errors.Reset()
	a.recorded = 0
	a.mu.Unlock()
}
