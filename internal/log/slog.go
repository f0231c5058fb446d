package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type slogLogger struct {
	h     slog.Handler
	attrs []slog.Attr
}

type hasStack interface {
	StackPCs() []uintptr
}

func newSlog(opts Options) (Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	if opts.StacktraceLevel == 0 {
		opts.StacktraceLevel = slog.LevelError
	}

	hopts := &slog.HandlerOptions{Level: opts.Level, AddSource: true}
	var h slog.Handler
	if opts.JsonFormat {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}

	// innermost first: trace ids, then stacks for error records
	h = otelHandler{next: h}
	h = stackHandler{next: h, level: opts.StacktraceLevel}

	attrs := []slog.Attr{slog.String("app", opts.App)}
	if opts.Version != "" {
		attrs = append(attrs, slog.String("version", opts.Version))
	}
	return &slogLogger{h: h, attrs: attrs}, nil
}

func (s *slogLogger) With(kv ...any) Logger {
	next := make([]slog.Attr, 0, len(s.attrs)+len(kv)/2)
	next = append(next, s.attrs...)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			next = append(next, slog.Any(k, kv[i+1]))
		}
	}
	// copy-on-write so derived loggers can be shared across goroutines
	return &slogLogger{h: s.h, attrs: next}
}

func (s *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelDebug, msg, kv)
}

func (s *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelInfo, msg, kv)
}

func (s *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelWarn, msg, kv)
}

func (s *slogLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	if err != nil {
		surface, root := classifyTypes(err)
		kv = append(kv, "err", err, "error_type", surface, "cause_type", root)
		if chain := errorChain(err); len(chain) > 1 {
			kv = append(kv, "error_chain", chain)
		}
	}
	s.emit(ctx, slog.LevelError, msg, kv)
}

func (s *slogLogger) Log(ctx context.Context, lvl slog.Level, msg string, kv ...any) {
	s.emit(ctx, lvl, msg, kv)
}

func (s *slogLogger) Sync() error { return nil }

func (s *slogLogger) emit(ctx context.Context, lvl slog.Level, msg string, kv []any) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.h.Enabled(ctx, lvl) {
		return
	}
	// skip runtime.Callers, emit and the exported level method
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), lvl, msg, pcs[0])
	r.AddAttrs(s.attrs...)
	addKV(&r, kv)
	_ = s.h.Handle(ctx, r)
}

func addKV(r *slog.Record, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		r.AddAttrs(slog.Any(k, kv[i+1]))
	}
}

type otelHandler struct{ next slog.Handler }

func (h otelHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h otelHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, r)
}

func (h otelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return otelHandler{next: h.next.WithAttrs(attrs)}
}

func (h otelHandler) WithGroup(name string) slog.Handler {
	return otelHandler{next: h.next.WithGroup(name)}
}

type stackHandler struct {
	next  slog.Handler
	level slog.Level
}

func (h stackHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h stackHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level {
		// prefer the stack captured when the error was created
		var pcs []uintptr
		r.Attrs(func(a slog.Attr) bool {
			if a.Key != "err" {
				return true
			}
			if e, ok := a.Value.Any().(error); ok {
				var hs hasStack
				if errors.As(e, &hs) {
					pcs = hs.StackPCs()
				}
			}
			return false
		})
		if len(pcs) == 0 {
			pcs = make([]uintptr, 64)
			pcs = pcs[:runtime.Callers(3, pcs)]
		}
		r.AddAttrs(slog.String("stack", renderPCs(pcs)))
	}
	return h.next.Handle(ctx, r)
}

func (h stackHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return stackHandler{next: h.next.WithAttrs(attrs), level: h.level}
}

func (h stackHandler) WithGroup(name string) slog.Handler {
	return stackHandler{next: h.next.WithGroup(name), level: h.level}
}

// renderPCs prints func/file:line pairs, skipping frames inside slog and this package
func renderPCs(pcs []uintptr) string {
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	started := false
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		internal := strings.HasPrefix(fr.Function, "log/slog.") ||
			strings.Contains(fr.Function, "/internal/log.") ||
			strings.Contains(fr.Function, "/internal/xerrors.")
		if !started && !internal && fr.Function != "" {
			started = true
		}
		if started {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

func errorChain(err error) []string {
	var out []string
	var prev string
	for e := err; e != nil; e = errors.Unwrap(e) {
		if msg := e.Error(); msg != prev {
			out = append(out, msg)
			prev = msg
		}
	}
	// errors.Join
	if m, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range m.Unwrap() {
			if msg := e.Error(); msg != prev {
				out = append(out, msg)
				prev = msg
			}
		}
	}
	return out
}

// classifyTypes returns the first non-wrapper type in the chain and the root cause type
func classifyTypes(err error) (surface, root string) {
	if err == nil {
		return "", ""
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		t := reflect.TypeOf(e)
		u := t
		for u.Kind() == reflect.Ptr {
			u = u.Elem()
		}
		if strings.Contains(u.PkgPath(), "/internal/xerrors") {
			continue
		}
		if u.PkgPath() == "fmt" && u.Name() == "wrapError" {
			continue
		}
		surface = t.String()
		break
	}
	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}

	var last error
	for e := err; e != nil; e = errors.Unwrap(e) {
		last = e
	}
	root = fmt.Sprintf("%T", last)
	return surface, root
}
