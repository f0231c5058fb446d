package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-api/internal/health"
	"github.com/keithlinneman/linnemanlabs-api/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-api/internal/log"
)

// test helpers

func defaultOpts() *Options {
	return &Options{
		Logger: log.Nop(),
	}
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	h.ServeHTTP(rec, req)
	return rec
}

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func okRoute(path string) func(chi.Router) {
	return func(r chi.Router) {
		r.Get(path, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}
}

// NewHandler - middleware stack

func TestNewHandler_SecurityHeaders(t *testing.T) {
	opts := defaultOpts()
	opts.APIRoutes = okRoute("/x")
	rec := doRequest(t, NewHandler(opts), "GET", "/x")

	for _, h := range []string{"Strict-Transport-Security", "Content-Security-Policy", "X-Content-Type-Options", "X-Frame-Options"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("%s missing", h)
		}
	}
}

func TestNewHandler_RequestID_Generated(t *testing.T) {
	opts := defaultOpts()
	var seen string
	opts.APIRoutes = func(r chi.Router) {
		r.Get("/x", func(w http.ResponseWriter, r *http.Request) {
			seen = httpmw.RequestIDFromContext(r.Context())
		})
	}
	rec := doRequest(t, NewHandler(opts), "GET", "/x")

	got := rec.Header().Get("X-Request-Id")
	if got == "" {
		t.Fatal("X-Request-Id not set on response")
	}
	if seen != got {
		t.Fatalf("context request id = %q, header = %q", seen, got)
	}
}

func TestNewHandler_ClientIP_InContext(t *testing.T) {
	opts := defaultOpts()
	var ip string
	opts.APIRoutes = func(r chi.Router) {
		r.Get("/ip", func(w http.ResponseWriter, r *http.Request) {
			ip = httpmw.ClientIPFromContext(r.Context())
		})
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ip", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	NewHandler(opts).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ip != "10.0.0.1" {
		t.Fatalf("client ip = %q, want 10.0.0.1", ip)
	}
}

func TestNewHandler_ClientIP_TrustedHops(t *testing.T) {
	opts := defaultOpts()
	opts.ClientIPOpts = httpmw.ClientIPOptions{TrustedHops: 1}
	var ip string
	opts.APIRoutes = func(r chi.Router) {
		r.Get("/ip", func(w http.ResponseWriter, r *http.Request) {
			ip = httpmw.ClientIPFromContext(r.Context())
		})
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ip", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	NewHandler(opts).ServeHTTP(rec, req)

	if ip != "203.0.113.9" {
		t.Fatalf("client ip = %q, want 203.0.113.9", ip)
	}
}

func TestNewHandler_RecoverMW(t *testing.T) {
	opts := defaultOpts()
	opts.UseRecoverMW = true
	panics := 0
	opts.OnPanic = func() { panics++ }
	opts.APIRoutes = func(r chi.Router) {
		r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		})
	}

	rec := doRequest(t, NewHandler(opts), "GET", "/boom")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if panics != 1 {
		t.Fatalf("OnPanic called %d times, want 1", panics)
	}
	// security headers wrap recover
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Fatal("HSTS missing after panic recovery")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("request id missing after panic recovery")
	}
}

func TestNewHandler_MetricsAndObserveMW(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	opts := defaultOpts()
	opts.MetricsMW = mw("metrics")
	opts.ObserveMW = mw("observe")
	opts.APIRoutes = okRoute("/x")

	doRequest(t, NewHandler(opts), "GET", "/x")

	if strings.Join(order, ",") != "metrics,observe" {
		t.Fatalf("order = %v, want metrics then observe", order)
	}
}

// NewHandler - probes

func TestNewHandler_HealthRoutes(t *testing.T) {
	opts := defaultOpts()
	opts.Health = health.Fixed(true, "")
	gate := &health.ShutdownGate{}
	opts.Readiness = gate.Probe()
	h := NewHandler(opts)

	if rec := doRequest(t, h, "GET", "/-/healthy"); rec.Code != http.StatusOK {
		t.Fatalf("/-/healthy = %d", rec.Code)
	}
	if rec := doRequest(t, h, "GET", "/-/ready"); rec.Code != http.StatusOK {
		t.Fatalf("/-/ready = %d", rec.Code)
	}

	gate.Set("draining")
	rec := doRequest(t, h, "GET", "/-/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/-/ready while draining = %d, want 503", rec.Code)
	}
}

func TestNewHandler_NoProbesNoRoutes(t *testing.T) {
	rec := doRequest(t, NewHandler(defaultOpts()), "GET", "/-/healthy")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 without a health probe", rec.Code)
	}
}

// NewHandler - compression

func jsonRoute(r chi.Router) {
	r.Get("/api/data", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":"` + strings.Repeat("abcdefghij", 200) + `"}`))
	})
}

func TestNewHandler_CompressesJSON(t *testing.T) {
	opts := defaultOpts()
	opts.APIRoutes = jsonRoute

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/data", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	NewHandler(opts).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ce := rec.Header().Get("Content-Encoding"); ce != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", ce)
	}
}

func TestNewHandler_NoCompressionWithoutAcceptEncoding(t *testing.T) {
	opts := defaultOpts()
	opts.APIRoutes = jsonRoute

	rec := doRequest(t, NewHandler(opts), "GET", "/api/data")
	if rec.Header().Get("Content-Encoding") == "gzip" {
		t.Fatal("should not compress without Accept-Encoding header")
	}
}

func TestNewHandler_NilLoggerDefaults(t *testing.T) {
	opts := &Options{APIRoutes: okRoute("/x")}
	rec := doRequest(t, NewHandler(opts), "GET", "/x")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if opts.Logger == nil {
		t.Fatal("NewHandler should default Logger")
	}
}

// NewServer

func TestNewServer_Timeouts(t *testing.T) {
	srv := NewServer(":1234", http.NotFoundHandler())

	if srv.Addr != ":1234" {
		t.Fatalf("Addr = %q", srv.Addr)
	}
	if srv.ReadHeaderTimeout != DefaultReadHeaderTimeout ||
		srv.ReadTimeout != DefaultReadTimeout ||
		srv.WriteTimeout != DefaultWriteTimeout ||
		srv.IdleTimeout != DefaultIdleTimeout {
		t.Fatalf("timeouts not applied: %+v", srv)
	}
	if srv.MaxHeaderBytes != DefaultMaxHeaderBytes {
		t.Fatalf("MaxHeaderBytes = %d", srv.MaxHeaderBytes)
	}
}

// Start

func TestStart_ServesAndStops(t *testing.T) {
	port := getFreePort(t)
	opts := defaultOpts()
	opts.Port = port
	opts.Health = health.Fixed(true, "")

	stop, err := Start(context.Background(), opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port)
	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get(url)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Fatalf("status = %d body = %q", resp.StatusCode, body)
	}

	if err := stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// second stop is a no-op
	if err := stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	if _, err := http.Get(url); err == nil {
		t.Fatal("server still serving after stop")
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	opts := defaultOpts()
	opts.Port = ln.Addr().(*net.TCPAddr).Port

	stop, err := Start(context.Background(), opts)
	if err == nil {
		stop(context.Background())
		t.Fatal("expected listen error")
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("err = %v, want *net.OpError in chain", err)
	}
}

func TestServe_EphemeralPort(t *testing.T) {
	srv := NewServer("127.0.0.1:0", http.NotFoundHandler())
	stop, err := Serve(context.Background(), nil, "test", srv)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if err := stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
