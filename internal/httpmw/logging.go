package httpmw

import (
	"bufio"
	"net"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-api/internal/log"
	"github.com/keithlinneman/linnemanlabs-api/internal/xerrors"
)

// StatusRecorder captures the status code and body size written through it.
type StatusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w}
}

// Status returns the written status, 200 if the handler wrote a body without
// calling WriteHeader, 0 if nothing was written.
func (rw *StatusRecorder) Status() int { return rw.status }

func (rw *StatusRecorder) Bytes() int64 { return rw.bytes }

func (rw *StatusRecorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *StatusRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

func (rw *StatusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, xerrors.New("underlying ResponseWriter does not implement http.Hijacker")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *StatusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// WithLogger stores a request-scoped logger in the context carrying the
// request id, client address, method and path.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqID := RequestIDFromContext(ctx)
			client := ClientIPFromContext(ctx)
			scheme := schemeFromRequest(r)

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("request_id", reqID),
					attribute.String("client.address", client),
					attribute.String("url.scheme", scheme),
				)
			}

			L := base.With(
				"request_id", reqID,
				"client.address", client,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", scheme,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

// schemeFromRequest trusts X-Forwarded-Proto only because ClientIP strips it
// from untrusted peers further out in the chain
func schemeFromRequest(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		return strings.ToLower(strings.TrimSpace(strings.Split(xf, ",")[0]))
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// Scope tags the request logger and span with a handler name.
func Scope(handler string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = log.WithContext(ctx, log.FromContext(ctx).With("handler", handler))
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
