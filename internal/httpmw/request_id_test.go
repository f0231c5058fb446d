package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestID_Generated(t *testing.T) {
	var seen string
	h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if len(seen) != 32 {
		t.Fatalf("generated id = %q, want 32 hex chars", seen)
	}
	if rec.Header().Get("X-Request-Id") != seen {
		t.Fatal("response header should echo the context id")
	}
}

func TestRequestID_Propagated(t *testing.T) {
	var seen string
	h := RequestID("X-Correlation-Id")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Correlation-Id", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if seen != "abc-123" || rec.Header().Get("X-Correlation-Id") != "abc-123" {
		t.Fatalf("id = %q, header = %q", seen, rec.Header().Get("X-Correlation-Id"))
	}
}

func TestRequestID_RejectsUnsafeValues(t *testing.T) {
	for _, bad := range []string{"has space", "line\nbreak", strings.Repeat("a", 200), "café"} {
		var seen string
		h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestIDFromContext(r.Context())
		}))
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header["X-Request-Id"] = []string{bad}
		h.ServeHTTP(httptest.NewRecorder(), r)

		if seen == bad || len(seen) != 32 {
			t.Errorf("unsafe id %q should be replaced, got %q", bad, seen)
		}
	}
}

func TestRequestIDFromContext_Missing(t *testing.T) {
	if got := RequestIDFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
