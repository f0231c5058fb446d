package log

import (
	"context"
	"log/slog"
)

// nopLogger drops everything, used in tests and as the FromContext fallback
type nopLogger struct{}

func (n nopLogger) With(...any) Logger                            { return n }
func (nopLogger) Debug(context.Context, string, ...any)           {}
func (nopLogger) Info(context.Context, string, ...any)            {}
func (nopLogger) Warn(context.Context, string, ...any)            {}
func (nopLogger) Error(context.Context, error, string, ...any)    {}
func (nopLogger) Log(context.Context, slog.Level, string, ...any) {}
func (nopLogger) Sync() error                                     { return nil }

// Nop returns a no-op Logger.
func Nop() Logger { return nopLogger{} }
