// Package tracing builds the OpenTelemetry TracerProvider the Orchestrator
// and the ProcessPool wrap their sendMessage/spawn spans with (spec §4.11).
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/iris-mcp/iris/internal/common/config"
)

// Init builds a TracerProvider from cfg: a real OTLP-HTTP exporter when
// cfg.Enabled and cfg.Endpoint are set, otherwise a no-op provider with
// zero overhead. The returned shutdown flushes and stops the exporter.
func Init(ctx context.Context, cfg config.TracingConfig) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return noop.NewTracerProvider().Tracer(serviceTracerName(cfg)), func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(stripScheme(cfg.Endpoint)),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("tracing: build otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Tracer(serviceTracerName(cfg)), provider.Shutdown, nil
}

func serviceTracerName(cfg config.TracingConfig) string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	return "iris"
}

func stripScheme(endpoint string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if len(endpoint) > len(prefix) && endpoint[:len(prefix)] == prefix {
			return endpoint[len(prefix):]
		}
	}
	return endpoint
}
