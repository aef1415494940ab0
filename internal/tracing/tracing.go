// Package tracing wires OpenTelemetry spans around upstream calls.
package tracing

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"discogs-gateway/internal/config"
)

const instrumentationName = "discogs-gateway"

// Tracer starts client spans for upstream calls. When tracing is disabled it
// still carries an inbound traceparent through to the upstream request.
type Tracer struct {
	enabled    bool
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// New creates a Tracer from config. With tracing enabled and no OTLP endpoint,
// spans are sampled and recorded but not exported.
func New(cfg *config.Config, logger *slog.Logger) (*Tracer, error) {
	t := &Tracer{
		tracer:     noop.NewTracerProvider().Tracer(instrumentationName),
		propagator: propagation.TraceContext{},
	}
	if !cfg.Tracing.Enabled {
		return t, nil
	}

	rate := cfg.Tracing.SamplingRate
	if rate <= 0 {
		rate = 1.0
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.Tracing.ServiceName),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	}

	if cfg.Tracing.OTLPEndpoint != "" {
		exOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Tracing.OTLPEndpoint)}
		if cfg.Tracing.Insecure {
			exOpts = append(exOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(context.Background(), exOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	t.enabled = true
	t.provider = sdktrace.NewTracerProvider(opts...)
	t.tracer = t.provider.Tracer(instrumentationName)

	logger.Info("tracing enabled",
		"service_name", cfg.Tracing.ServiceName,
		"otlp_endpoint", cfg.Tracing.OTLPEndpoint,
		"sampling_rate", rate,
	)
	return t, nil
}

// Enabled reports whether spans are recorded.
func (t *Tracer) Enabled() bool { return t.enabled }

// Extract returns ctx carrying the remote span context from an inbound
// traceparent header, if any.
func (t *Tracer) Extract(ctx context.Context, h http.Header) context.Context {
	return t.propagator.Extract(ctx, propagation.HeaderCarrier(h))
}

// StartUpstream starts a client span for one forwarded call.
func (t *Tracer) StartUpstream(ctx context.Context, route, method, entity string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "discogs "+route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("discogs.entity", entity),
		),
	)
}

// EndUpstream records the caller-facing status on span and ends it.
func EndUpstream(span trace.Span, status, attempts int, errKind string) {
	span.SetAttributes(
		attribute.Int("http.response.status_code", status),
		attribute.Int("discogs.attempts", attempts),
	)
	if errKind != "" {
		span.SetAttributes(attribute.String("error.type", errKind))
	}
	if status >= 500 {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	span.End()
}

// Shutdown flushes and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
