// Package observability provides OpenTelemetry tracing for transport
// events. Logs and metrics are carried by Logger (slog) and the
// internal/metrics Prometheus vectors respectively, so this file wires
// only the spans pipeline of the OTel SDK.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies the tracer used throughout the transport core.
const TracerName = "transport-core"

// Transport event span attribute keys.
const (
	AttrTransport      = "transport.kind"
	AttrMessageType     = "transport.message_type"
	AttrConnectionState = "transport.connection_state"
	AttrCircuitState    = "transport.circuit_state"
	AttrFallbackTo      = "transport.fallback_to"
)

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	SampleRate  float64
	Insecure    bool
}

// DefaultTracingConfig returns sensible defaults.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:     false,
		Endpoint:    "localhost:4317",
		ServiceName: "transport-core",
		SampleRate:  1.0,
		Insecure:    true,
	}
}

// TracerProvider wraps the OpenTelemetry SDK tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes the OTLP trace pipeline. When cfg.Enabled is
// false it returns a no-op tracer so callers never need to nil-check.
func InitTracing(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return &TracerProvider{provider: provider, tracer: provider.Tracer(TracerName)}, nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Shutdown flushes and shuts down the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// OTelCallback emits a short-lived span per dispatched event. Spans are
// not correlated across a request's lifetime; this callback is an audit
// trail of transport activity, not a request tracer.
type OTelCallback struct {
	tracer trace.Tracer
}

// NewOTelCallback creates a new OpenTelemetry span-emitting callback.
func NewOTelCallback(tracer trace.Tracer) *OTelCallback {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	return &OTelCallback{tracer: tracer}
}

// Name returns the callback name.
func (o *OTelCallback) Name() string {
	return "opentelemetry"
}

// OnEvent starts and immediately ends a span describing evt.
func (o *OTelCallback) OnEvent(ctx context.Context, evt Event) error {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTransport, string(evt.Transport)),
	}
	if evt.Message != nil {
		attrs = append(attrs, attribute.String(AttrMessageType, string(evt.Message.Type)))
	}
	if evt.Health != nil {
		attrs = append(attrs, attribute.String(AttrConnectionState, string(evt.Health.ConnectionState)))
		attrs = append(attrs, attribute.String(AttrCircuitState, string(evt.Health.CircuitState)))
	}
	if evt.FallbackTo != "" {
		attrs = append(attrs, attribute.String(AttrFallbackTo, string(evt.FallbackTo)))
	}
	for k, v := range evt.Metadata {
		attrs = append(attrs, attribute.String(k, v))
	}

	_, span := o.tracer.Start(ctx, string(evt.Type), trace.WithAttributes(attrs...))
	defer span.End()

	if evt.Err != nil {
		span.RecordError(evt.Err)
		span.SetStatus(codes.Error, evt.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return nil
}

// Shutdown is a no-op: the tracer provider's own Shutdown flushes spans.
func (o *OTelCallback) Shutdown(ctx context.Context) error {
	return nil
}
