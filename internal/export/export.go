// Package export periodically ships the monitoring snapshot to external
// sinks (local file, Redis, S3) for consumption by other tooling.
//
// Export is write-only. Nothing written here is read back by the service, a
// restart always starts with empty buffers.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-api/internal/log"
	"github.com/keithlinneman/linnemanlabs-api/internal/monitoring"
	"github.com/keithlinneman/linnemanlabs-api/internal/xerrors"
)

// Sink receives one serialized snapshot per export run.
type Sink interface {
	Name() string
	Write(ctx context.Context, at time.Time, payload []byte) error
}

// Source produces the snapshot, satisfied by *monitoring.Aggregator.
type Source interface {
	Export() monitoring.Export
}

type Exporter struct {
	src      Source
	sinks    []Sink
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   log.Logger
	tracer   trace.Tracer

	// OnResult is called after every sink write, err is nil on success
	OnResult func(sink string, err error)
}

const tracerName = "github.com/keithlinneman/linnemanlabs-api/internal/export"

type Option func(*Exporter)

func WithInterval(d time.Duration) Option {
	return func(e *Exporter) { e.interval = d }
}

// WithTimeout bounds each sink write. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(e *Exporter) { e.timeout = d }
}

func WithLogger(l log.Logger) Option {
	return func(e *Exporter) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// WithTracerProvider replaces the global provider, used by tests.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Exporter) { e.tracer = tp.Tracer(tracerName) }
}

func WithOnResult(fn func(sink string, err error)) Option {
	return func(e *Exporter) { e.OnResult = fn }
}

func New(src Source, sinks []Sink, opts ...Option) *Exporter {
	e := &Exporter{
		src:     src,
		sinks:   sinks,
		timeout: 30 * time.Second,
		now:     time.Now,
		logger:  log.Nop(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Enabled reports whether Run has anything to do.
func (e *Exporter) Enabled() bool {
	return e.interval > 0 && len(e.sinks) > 0
}

// Run exports every interval until ctx is cancelled. It returns immediately
// when the exporter is not enabled.
func (e *Exporter) Run(ctx context.Context) {
	if !e.Enabled() {
		return
	}
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.ExportOnce(ctx); err != nil {
				e.logger.Warn(ctx, "metrics export incomplete", "err", err)
			}
		}
	}
}

// ExportOnce serializes the current snapshot and writes it to every sink.
// A failing sink does not stop the others, all failures are joined.
func (e *Exporter) ExportOnce(ctx context.Context) (err error) {
	ctx, span := e.tracer.Start(ctx, "metrics.export")
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Newf("metrics export panic: %v", r)
			e.logger.Error(ctx, err, "metrics export aborted")
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "export incomplete")
		}
		span.End()
	}()

	snap := e.src.Export()
	payload, err := json.Marshal(snap)
	if err != nil {
		return xerrors.Wrap(err, "marshal metrics snapshot")
	}

	span.SetAttributes(
		attribute.Int("export.bytes", len(payload)),
		attribute.Int("export.sinks", len(e.sinks)),
	)

	at := e.now()
	var errs []error
	for _, s := range e.sinks {
		werr := e.write(ctx, s, at, payload)
		if e.OnResult != nil {
			e.OnResult(s.Name(), werr)
		}
		if werr != nil {
			e.logger.Error(ctx, werr, "metrics export failed", "sink", s.Name())
			errs = append(errs, werr)
			continue
		}
		e.logger.Debug(ctx, "metrics exported",
			"sink", s.Name(),
			"bytes", len(payload),
			"metrics", len(snap.Metrics),
			"errors", len(snap.Errors),
		)
	}
	return errors.Join(errs...)
}

func (e *Exporter) write(ctx context.Context, s Sink, at time.Time, payload []byte) error {
	ctx, span := e.tracer.Start(ctx, "metrics.export."+s.Name(),
		trace.WithAttributes(attribute.String("export.sink", s.Name())),
	)
	defer span.End()

	wctx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := s.Write(wctx, at, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sink write failed")
		return xerrors.Wrapf(err, "export to %s", s.Name())
	}
	return nil
}
