// Package otelx installs the process-wide OpenTelemetry tracer provider and
// propagators. Spans are started by otelhttp on the public listener and by
// the snapshot exporter.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/keithlinneman/linnemanlabs-api/internal/xerrors"
)

const DefaultDialTimeout = 3 * time.Second

type Options struct {
	Enabled   bool
	Endpoint  string
	Insecure  bool
	Sample    float64
	Service   string
	Component string
	Version   string

	// DialTimeout bounds exporter construction, 0 uses DefaultDialTimeout
	DialTimeout time.Duration
	// Exporter replaces the OTLP gRPC exporter, Endpoint is ignored when set
	Exporter sdktrace.SpanExporter
}

// Init installs the tracer provider and returns its shutdown func. When
// tracing is disabled an unexported SDK provider is still installed so that
// trace ids exist for log correlation and response headers.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	setPropagator()

	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exp := o.Exporter
	if exp == nil {
		if o.Endpoint == "" {
			return nil, xerrors.New("otlp endpoint required when tracing is enabled")
		}
		var err error
		exp, err = newGRPCExporter(ctx, o)
		if err != nil {
			return nil, err
		}
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName(o)),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)
	if err != nil {
		// partial resources are still usable, detectors fail on some hosts
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(o.Sample),
		)),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return xerrors.Wrap(err, "tracer provider shutdown")
		}
		return nil
	}, nil
}

func newGRPCExporter(ctx context.Context, o Options) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
	}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	// otlptracegrpc.New has no timeout of its own
	timeout := o.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "otlp exporter %s", o.Endpoint)
	}
	return exp, nil
}

func serviceName(o Options) string {
	switch {
	case o.Service == "":
		return o.Component
	case o.Component == "":
		return o.Service
	default:
		return o.Service + "." + o.Component
	}
}

func setPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
}
