package httpmw

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/keithlinneman/linnemanlabs-api/internal/log"
)

// withLogger records With() fields so tests can inspect the request logger.
type withLogger struct {
	log.Logger
	mu     sync.Mutex
	fields map[string]any
}

func newWithLogger() *withLogger {
	return &withLogger{Logger: log.Nop(), fields: map[string]any{}}
}

func (l *withLogger) With(kv ...any) log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			l.fields[k] = kv[i+1]
		}
	}
	return l
}

func (l *withLogger) get(k string) any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fields[k]
}

func TestWithLogger_ScopedFields(t *testing.T) {
	base := newWithLogger()
	var ctxLogger log.Logger
	h := WithLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogger = log.FromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/v1/users?x=1", nil)
	ctx := WithRequestID(r.Context(), "req-1")
	ctx = WithClientIP(ctx, "198.51.100.4")
	h.ServeHTTP(httptest.NewRecorder(), r.WithContext(ctx))

	if ctxLogger != log.Logger(base) {
		t.Fatal("request logger not stored in context")
	}
	want := map[string]any{
		"request_id":          "req-1",
		"client.address":      "198.51.100.4",
		"http.request.method": "POST",
		"url.path":            "/api/v1/users",
		"url.scheme":          "http",
	}
	for k, v := range want {
		if got := base.get(k); got != v {
			t.Errorf("%s = %v, want %v", k, got, v)
		}
	}
	if base.get("url.query") != nil {
		t.Error("query strings must not be logged")
	}
}

func TestWithLogger_NilBase(t *testing.T) {
	h := WithLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).Info(r.Context(), "ok")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestSchemeFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := schemeFromRequest(r); got != "http" {
		t.Errorf("plain = %q", got)
	}
	r.TLS = &tls.ConnectionState{}
	if got := schemeFromRequest(r); got != "https" {
		t.Errorf("tls = %q", got)
	}
	r.Header.Set("X-Forwarded-Proto", " HTTPS , http")
	if got := schemeFromRequest(r); got != "https" {
		t.Errorf("forwarded = %q", got)
	}
}

func TestScope_AddsHandlerField(t *testing.T) {
	base := newWithLogger()
	h := Scope("users")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(log.WithContext(context.Background(), base))
	h.ServeHTTP(httptest.NewRecorder(), r)

	if base.get("handler") != "users" {
		t.Fatalf("handler = %v", base.get("handler"))
	}
}

func TestStatusRecorder(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantBytes  int64
	}{
		{"nothing written", func(w http.ResponseWriter, r *http.Request) {}, 0, 0},
		{"implicit 200", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("hello")) }, 200, 5},
		{"explicit", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("{}"))
		}, 404, 2},
		{"first status wins", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			w.WriteHeader(http.StatusInternalServerError)
		}, 201, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewStatusRecorder(httptest.NewRecorder())
			tt.handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			if rec.Status() != tt.wantStatus || rec.Bytes() != tt.wantBytes {
				t.Fatalf("status/bytes = %d/%d, want %d/%d", rec.Status(), rec.Bytes(), tt.wantStatus, tt.wantBytes)
			}
		})
	}
}

func TestStatusRecorder_Hijack_Unsupported(t *testing.T) {
	rec := NewStatusRecorder(httptest.NewRecorder())
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatal("recorder does not support hijack, expected error")
	}
	if rec.Unwrap() == nil {
		t.Fatal("Unwrap should expose the underlying writer")
	}
}
