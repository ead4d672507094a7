package cuebridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const ServiceName = "cuebridge"

// Tracing backends for InitOTel
const (
	OTelNone      = ""
	OTelHoneycomb = "honeycomb"
	OTelOTLP      = "otlp"
)

// InitOTel starts tracing with the named backend.
// The endpoint and credentials come from the standard OTEL_* environment.
// The returned func flushes and stops the provider.
func InitOTel(ctx context.Context, backend string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch backend {
	case OTelNone:
		return noop, nil
	case OTelHoneycomb:
		shutdown, err := InitOTelHNY()
		if err != nil {
			return noop, err
		}
		slog.Info("Tracing enabled", slog.String("backend", backend))
		return func(context.Context) error { shutdown(); return nil }, nil
	case OTelOTLP:
		tp, err := InitOTelGRF(ctx)
		if err != nil {
			return noop, err
		}
		slog.Info("Tracing enabled", slog.String("backend", backend))
		return tp.Shutdown, nil
	default:
		return noop, fmt.Errorf("unknown tracing backend %q", backend)
	}
}

// InitOTelHNY uses the Honeycomb library to interface with OTel
func InitOTelHNY() (func(), error) {
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(ServiceName),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to configure OpenTelemetry: %w", err)
	}
	return func() { otelShutdown() }, nil
}

// InitOTelGRF uses the Grafana recommended configuration including Baggage for propagation
func InitOTelGRF(ctx context.Context) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient())
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceName(ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}
