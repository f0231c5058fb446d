package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-api/internal/log"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// levelLogger records the level and message of every emitted record
type levelLogger struct {
	mu     sync.Mutex
	levels []slog.Level
	msgs   []string
}

func (l *levelLogger) add(lvl slog.Level, msg string) {
	l.mu.Lock()
	l.levels = append(l.levels, lvl)
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *levelLogger) With(...any) log.Logger { return l }
func (l *levelLogger) Debug(_ context.Context, msg string, _ ...any) {
	l.add(slog.LevelDebug, msg)
}
func (l *levelLogger) Info(_ context.Context, msg string, _ ...any) { l.add(slog.LevelInfo, msg) }
func (l *levelLogger) Warn(_ context.Context, msg string, _ ...any) { l.add(slog.LevelWarn, msg) }
func (l *levelLogger) Error(_ context.Context, _ error, msg string, _ ...any) {
	l.add(slog.LevelError, msg)
}
func (l *levelLogger) Log(_ context.Context, lvl slog.Level, msg string, _ ...any) {
	l.add(lvl, msg)
}
func (l *levelLogger) Sync() error { return nil }

func newTestAggregator(opts ...Option) (*Aggregator, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New(append([]Option{WithClock(clk.Now)}, opts...)...), clk
}

func req(method, endpoint string, status int, ms float64) RequestRecord {
	return RequestRecord{Endpoint: endpoint, Method: method, StatusCode: status, ResponseTimeMs: ms}
}

func cached(v bool) *bool { return &v }

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		status int
		want   slog.Level
	}{
		{200, slog.LevelInfo},
		{304, slog.LevelInfo},
		{399, slog.LevelInfo},
		{400, slog.LevelWarn},
		{429, slog.LevelWarn},
		{499, slog.LevelWarn},
		{500, slog.LevelError},
		{503, slog.LevelError},
	}
	for _, tt := range tests {
		if got := SeverityFor(tt.status); got != tt.want {
			t.Errorf("SeverityFor(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestRecordRequest_LogsAtSeverity(t *testing.T) {
	lg := &levelLogger{}
	a, _ := newTestAggregator(WithLogger(lg))
	ctx := context.Background()

	a.RecordRequest(ctx, req("GET", "/api/v1/users/1", 200, 12))
	a.RecordRequest(ctx, req("GET", "/api/v1/users/9", 404, 3))
	a.RecordRequest(ctx, req("POST", "/api/v1/users", 500, 40))

	want := []slog.Level{slog.LevelInfo, slog.LevelWarn, slog.LevelError}
	if len(lg.levels) != len(want) {
		t.Fatalf("logged %d records, want %d", len(lg.levels), len(want))
	}
	for i := range want {
		if lg.levels[i] != want[i] {
			t.Errorf("record %d level = %v, want %v", i, lg.levels[i], want[i])
		}
	}
	if lg.msgs[0] != "GET /api/v1/users/1 200 - 12ms" {
		t.Errorf("msg = %q", lg.msgs[0])
	}
}

func TestRecordError_SeparateBuffer(t *testing.T) {
	lg := &levelLogger{}
	a, _ := newTestAggregator(WithLogger(lg))

	a.RecordError(context.Background(), ErrorRecord{Endpoint: "/x", Method: "GET", StatusCode: 500, Message: "boom"})

	reqs, errs := a.Sizes()
	if reqs != 0 || errs != 1 {
		t.Fatalf("Sizes = %d/%d, want 0/1", reqs, errs)
	}
	if len(lg.levels) != 1 || lg.levels[0] != slog.LevelError {
		t.Fatalf("errors should log at error level, got %v", lg.levels)
	}
}

func TestBuffer_Bounded(t *testing.T) {
	a, clk := newTestAggregator()
	ctx := context.Background()

	for i := 0; i < 1001; i++ {
		a.RecordRequest(ctx, req("GET", fmt.Sprintf("/e/%d", i), 200, 1))
		clk.Advance(time.Millisecond)
	}

	exp := a.Export()
	if len(exp.Metrics) != 1000 {
		t.Fatalf("buffered %d entries, want 1000", len(exp.Metrics))
	}
	if exp.Metrics[0].Endpoint != "/e/1" {
		t.Fatalf("oldest retained = %s, want /e/1 (first entry evicted)", exp.Metrics[0].Endpoint)
	}
	if exp.Metrics[999].Endpoint != "/e/1000" {
		t.Fatalf("newest = %s", exp.Metrics[999].Endpoint)
	}
	if exp.TotalRecorded != 1001 {
		t.Fatalf("TotalRecorded = %d, want 1001", exp.TotalRecorded)
	}
}

func TestBuffer_CustomCapacity(t *testing.T) {
	a, _ := newTestAggregator(WithMaxEntries(3))
	for i := 0; i < 5; i++ {
		a.RecordRequest(context.Background(), req("GET", "/", 200, 1))
		a.RecordError(context.Background(), ErrorRecord{Message: "x"})
	}
	if r, e := a.Sizes(); r != 3 || e != 3 {
		t.Fatalf("Sizes = %d/%d, want 3/3", r, e)
	}
}

func TestMetrics_Window(t *testing.T) {
	a, clk := newTestAggregator()
	ctx := context.Background()

	a.RecordRequest(ctx, req("GET", "/old", 200, 1))
	clk.Advance(3 * time.Minute)
	a.RecordRequest(ctx, req("GET", "/new", 200, 1))

	got := a.Metrics(2)
	if len(got) != 1 || got[0].Endpoint != "/new" {
		t.Fatalf("Metrics(2) = %+v", got)
	}
	if len(a.Metrics(5)) != 2 {
		t.Fatal("Metrics(5) should hold both entries")
	}

	// the window's lower bound is exclusive
	clk.Advance(2 * time.Minute)
	if got := a.Metrics(5); len(got) != 1 {
		t.Fatalf("entry exactly window-old should be excluded, got %d entries", len(got))
	}
}

func TestMetrics_FreshSlice(t *testing.T) {
	a, _ := newTestAggregator()
	a.RecordRequest(context.Background(), req("GET", "/", 200, 1))

	first := a.Metrics(5)
	first[0].Endpoint = "mutated"
	if a.Metrics(5)[0].Endpoint != "/" {
		t.Fatal("Metrics must return a copy")
	}
}

func TestRates_EmptyWindow(t *testing.T) {
	a, _ := newTestAggregator()

	if got := a.ErrorRate(5); got != 0 {
		t.Errorf("ErrorRate = %v, want 0", got)
	}
	if got := a.CacheHitRate(5); got != 0 {
		t.Errorf("CacheHitRate = %v, want 0", got)
	}
	if got := a.AverageResponseTime(5); got != 0 {
		t.Errorf("AverageResponseTime = %v, want 0", got)
	}
	if got := a.RequestsPerMinute(5); got != 0 {
		t.Errorf("RequestsPerMinute = %v, want 0", got)
	}
}

func TestErrorRate_Fixture(t *testing.T) {
	a, _ := newTestAggregator()
	for _, s := range []int{200, 404, 500} {
		a.RecordRequest(context.Background(), req("GET", "/", s, 1))
	}

	if got := fmt.Sprintf("%.2f", a.ErrorRate(5)); got != "66.67" {
		t.Fatalf("ErrorRate = %s, want 66.67", got)
	}
	if got := a.Report(5).ErrorRate; got != "66.67%" {
		t.Fatalf("report errorRate = %q, want 66.67%%", got)
	}
}

func TestCacheHitRate_IgnoresUnset(t *testing.T) {
	a, _ := newTestAggregator()
	ctx := context.Background()

	for _, c := range []*bool{cached(true), cached(false), cached(true), nil, nil} {
		r := req("GET", "/", 200, 1)
		r.Cached = c
		a.RecordRequest(ctx, r)
	}

	if got := fmt.Sprintf("%.2f", a.CacheHitRate(5)); got != "66.67" {
		t.Fatalf("CacheHitRate = %s, want 66.67", got)
	}
}

func TestPercent_TiesRoundUp(t *testing.T) {
	tests := []struct {
		v    float64
		want string
	}{
		{0, "0.00%"},
		{float64(1) / 800 * 100, "0.13%"},
		{float64(3) / 800 * 100, "0.38%"},
		{200.0 / 3, "66.67%"},
		{100, "100.00%"},
	}
	for _, tt := range tests {
		if got := percent(tt.v); got != tt.want {
			t.Errorf("percent(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestReport_CacheHitRateTie(t *testing.T) {
	a, _ := newTestAggregator()
	ctx := context.Background()

	for i := 0; i < 800; i++ {
		r := req("GET", "/api/v1/users/1", 200, 1)
		r.Cached = cached(i == 0)
		a.RecordRequest(ctx, r)
	}

	if got := a.Report(5).CacheHitRate; got != "0.13%" {
		t.Fatalf("CacheHitRate = %q, want 0.13%%", got)
	}
}

func TestAverageResponseTime_Rounded(t *testing.T) {
	a, _ := newTestAggregator()
	for _, ms := range []float64{10, 20, 15.5} {
		a.RecordRequest(context.Background(), req("GET", "/", 200, ms))
	}
	if got := a.AverageResponseTime(5); got != 15.17 {
		t.Fatalf("AverageResponseTime = %v, want 15.17", got)
	}
}

func TestRequestsPerMinute(t *testing.T) {
	a, _ := newTestAggregator()
	for i := 0; i < 7; i++ {
		a.RecordRequest(context.Background(), req("GET", "/", 200, 1))
	}
	if got := a.RequestsPerMinute(3); got != 2.33 {
		t.Fatalf("RequestsPerMinute = %v, want 2.33", got)
	}
}

func TestReport(t *testing.T) {
	a, clk := newTestAggregator()
	ctx := context.Background()

	records := []RequestRecord{
		req("GET", "/a", 200, 10),
		req("GET", "/b", 200, 30),
		req("GET", "/b", 404, 5),
		req("POST", "/c", 500, 50),
		req("GET", "/a", 301, 20),
	}
	for _, r := range records {
		a.RecordRequest(ctx, r)
		clk.Advance(time.Second)
	}

	rep := a.Report(5)
	if rep.Period != "Last 5 minutes" {
		t.Errorf("Period = %q", rep.Period)
	}
	if rep.TotalRequests != 5 {
		t.Errorf("TotalRequests = %d", rep.TotalRequests)
	}
	if rep.RequestsPerMinute != 1 {
		t.Errorf("RequestsPerMinute = %v", rep.RequestsPerMinute)
	}
	if rep.AverageResponseTime != 23 {
		t.Errorf("AverageResponseTime = %v", rep.AverageResponseTime)
	}
	if rep.MinResponseTime != 5 || rep.MaxResponseTime != 50 {
		t.Errorf("min/max = %v/%v", rep.MinResponseTime, rep.MaxResponseTime)
	}
	if rep.ErrorRate != "40.00%" {
		t.Errorf("ErrorRate = %q", rep.ErrorRate)
	}
	if rep.CacheHitRate != "0.00%" {
		t.Errorf("CacheHitRate = %q", rep.CacheHitRate)
	}
	// 301 belongs to no reported class
	want := StatusBreakdown{Status2xx: 2, Status4xx: 1, Status5xx: 1}
	if rep.StatusCodeBreakdown != want {
		t.Errorf("breakdown = %+v, want %+v", rep.StatusCodeBreakdown, want)
	}
	if len(rep.RecentErrors) != 0 {
		t.Errorf("RecentErrors = %v", rep.RecentErrors)
	}
}

func TestReport_TopEndpointsStable(t *testing.T) {
	a, _ := newTestAggregator()
	ctx := context.Background()

	// counts: /x 2, /y 3, /z 2, /p 1, /q 1, /r 1 in first-seen order x,y,z,p,q,r
	for _, e := range []string{"/x", "/y", "/z", "/p", "/q", "/r", "/y", "/x", "/z", "/y"} {
		a.RecordRequest(ctx, req("GET", e, 200, 1))
	}

	got := a.Report(5).TopEndpoints
	want := []EndpointCount{
		{"GET /y", 3},
		{"GET /x", 2},
		{"GET /z", 2},
		{"GET /p", 1},
		{"GET /q", 1},
	}
	if len(got) != len(want) {
		t.Fatalf("TopEndpoints = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TopEndpoints[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReport_MethodDistinguishesEndpoints(t *testing.T) {
	a, _ := newTestAggregator()
	a.RecordRequest(context.Background(), req("GET", "/api/v1/users", 200, 1))
	a.RecordRequest(context.Background(), req("POST", "/api/v1/users", 201, 1))

	if got := a.Report(5).TopEndpoints; len(got) != 2 {
		t.Fatalf("TopEndpoints = %v, want two distinct pairs", got)
	}
}

func TestReport_RecentErrorsWindowedAndCapped(t *testing.T) {
	a, clk := newTestAggregator()
	ctx := context.Background()

	a.RecordError(ctx, ErrorRecord{Endpoint: "/stale", StatusCode: 500, Message: "stale"})
	clk.Advance(10 * time.Minute)
	for i := 0; i < 12; i++ {
		a.RecordError(ctx, ErrorRecord{Endpoint: "/e", StatusCode: 500, Message: fmt.Sprintf("err %d", i)})
		clk.Advance(time.Second)
	}

	got := a.Report(5).RecentErrors
	if len(got) != 10 {
		t.Fatalf("RecentErrors len = %d, want 10", len(got))
	}
	if got[0].Message != "err 2" || got[9].Message != "err 11" {
		t.Fatalf("RecentErrors = %s .. %s, want err 2 .. err 11", got[0].Message, got[9].Message)
	}
}

func TestReport_EmptyJSON(t *testing.T) {
	a, _ := newTestAggregator()
	b, err := json.Marshal(a.Report(5))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["errorRate"] != "0.00%" {
		t.Errorf("errorRate = %v", m["errorRate"])
	}
	// empty lists render as [] not null
	if _, ok := m["topEndpoints"].([]any); !ok {
		t.Errorf("topEndpoints = %v", m["topEndpoints"])
	}
	if _, ok := m["recentErrors"].([]any); !ok {
		t.Errorf("recentErrors = %v", m["recentErrors"])
	}
	bd, _ := m["statusCodeBreakdown"].(map[string]any)
	if _, ok := bd["2xx"]; !ok {
		t.Errorf("statusCodeBreakdown = %v", m["statusCodeBreakdown"])
	}
}

func TestExport(t *testing.T) {
	a, _ := newTestAggregator()
	a.RecordRequest(context.Background(), req("GET", "/", 200, 1))
	a.RecordError(context.Background(), ErrorRecord{Message: "x"})

	exp := a.Export()
	if len(exp.Metrics) != 1 || len(exp.Errors) != 1 {
		t.Fatalf("Export = %d metrics, %d errors", len(exp.Metrics), len(exp.Errors))
	}
	if exp.ExportedAt != "2025-01-01T12:00:00Z" {
		t.Fatalf("ExportedAt = %q", exp.ExportedAt)
	}
}

func TestReset(t *testing.T) {
	a, _ := newTestAggregator()
	a.RecordRequest(context.Background(), req("GET", "/", 200, 1))
	a.RecordError(context.Background(), ErrorRecord{Message: "x"})
	a.Reset()

	if r, e := a.Sizes(); r != 0 || e != 0 {
		t.Fatalf("Sizes after Reset = %d/%d", r, e)
	}
	if a.Export().TotalRecorded != 0 {
		t.Fatal("TotalRecorded should reset")
	}
}

func TestConcurrentRecord(t *testing.T) {
	a := New(WithMaxEntries(100))
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				a.RecordRequest(context.Background(), req("GET", "/", 200, 1))
				_ = a.Report(5)
			}
		}()
	}
	wg.Wait()

	if r, _ := a.Sizes(); r != 100 {
		t.Fatalf("Sizes = %d, want 100", r)
	}
	if a.Export().TotalRecorded != 500 {
		t.Fatalf("TotalRecorded = %d", a.Export().TotalRecorded)
	}
}
