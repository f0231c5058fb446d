package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the structured logger used across the service. Every call takes
// the request context so trace ids land on the record.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	// Log emits at a level chosen by the caller, e.g. from a response status.
	Log(ctx context.Context, lvl slog.Level, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App             string
	Version         string
	Level           slog.Level
	StacktraceLevel slog.Level
	JsonFormat      bool
	Writer          io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %s (valid levels are debug|info|warn|error)", s)
	}
}
