// Package otel wraps OpenTelemetry trace and metric providers
// with a configurable exporter, falling back to no-op instruments when
// disabled so instrumentation call sites never need to branch on
// whether telemetry is active.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	TracerName = "slipterm"
	MeterName  = "slipterm"
)

// Config selects the exporter slipterm reports spans/metrics through.
// Only "stdout" and "none" are supported: there is no OTLP collector in
// scope for a single-operator device console.
type Config struct {
	Exporter string `yaml:"exporter"`
}

// Provider wraps the tracer/meter providers and their shutdown hook.
type Provider struct {
	Tracer   trace.Tracer
	Meter    metric.Meter
	shutdown func(context.Context) error
}

// Init builds a Provider per cfg. Exporter "none" (or empty) yields a
// fully no-op provider with zero overhead.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Exporter == "" || cfg.Exporter == "none" {
		return &Provider{
			Tracer:   nooptrace.NewTracerProvider().Tracer(TracerName),
			Meter:    noop.NewMeterProvider().Meter(MeterName),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}
	if cfg.Exporter != "stdout" {
		return nil, fmt.Errorf("otelmetrics: unknown exporter %q (supported: stdout, none)", cfg.Exporter)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName("slipterm")))
	if err != nil {
		return nil, fmt.Errorf("otelmetrics: create resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("otelmetrics: create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	return &Provider{
		Tracer: tp.Tracer(TracerName),
		Meter:  mp.Meter(MeterName),
		shutdown: func(ctx context.Context) error {
			tErr := tp.Shutdown(ctx)
			mErr := mp.Shutdown(ctx)
			if tErr != nil {
				return tErr
			}
			return mErr
		},
	}, nil
}

// Shutdown flushes and tears down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// Standard attribute keys for slipterm spans.
var (
	AttrHandler   = attribute.Key("slipterm.handler.name")
	AttrPath      = attribute.Key("slipterm.coap.path")
	AttrTokenHex  = attribute.Key("slipterm.coap.token")
	AttrDirection = attribute.Key("slipterm.packet.direction")
)

// StartHandlerSpan wraps a handler lifetime in an internal span.
func StartHandlerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
