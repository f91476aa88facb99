// Package tracing wires OpenTelemetry's SDK tracer provider for
// phase-level spans across Backup/Freeze/Restore/Thaw, with a pluggable
// exporter selected by configuration: stdout for local debugging, OTLP
// gRPC or Jaeger for a real collector. Nothing in internal/core,
// internal/crypto, or internal/compress imports this package directly —
// only the orchestrators that wrap them in spans do.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

// Exporter selects which span exporter Init wires into the tracer
// provider.
type Exporter string

const (
	// ExporterNone disables tracing: Init installs a no-op tracer
	// provider and Shutdown is a no-op.
	ExporterNone Exporter = "none"
	// ExporterStdout writes spans as JSON to stdout, for local debugging.
	ExporterStdout Exporter = "stdout"
	// ExporterOTLP exports spans over OTLP/gRPC to a collector endpoint.
	ExporterOTLP Exporter = "otlp"
	// ExporterJaeger exports spans directly to a Jaeger agent/collector.
	ExporterJaeger Exporter = "jaeger"
)

// Config controls exporter selection for Init.
type Config struct {
	Exporter    Exporter
	ServiceName string
	// Endpoint is the OTLP gRPC target ("host:port") or Jaeger collector
	// endpoint URL, depending on Exporter.
	Endpoint string
}

// Init builds and installs the global tracer provider described by cfg,
// returning a shutdown function the caller must invoke (typically via
// defer) to flush and close the exporter before process exit.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Exporter == "" || cfg.Exporter == ExporterNone {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName(cfg))),
	)
	if err != nil {
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "tracing: build resource", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

func serviceName(cfg Config) string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	return "cryophile"
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, cryoerr.New(cryoerr.KindInvalidInput, "tracing: stdout exporter", err)
		}
		return exp, nil

	case ExporterOTLP:
		if cfg.Endpoint == "" {
			return nil, cryoerr.New(cryoerr.KindInvalidInput, "tracing: otlp exporter", fmt.Errorf("otlp endpoint is required"))
		}
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, cryoerr.New(cryoerr.KindInvalidInput, "tracing: otlp exporter", err)
		}
		return exp, nil

	case ExporterJaeger:
		if cfg.Endpoint == "" {
			return nil, cryoerr.New(cryoerr.KindInvalidInput, "tracing: jaeger exporter", fmt.Errorf("jaeger endpoint is required"))
		}
		exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
		if err != nil {
			return nil, cryoerr.New(cryoerr.KindInvalidInput, "tracing: jaeger exporter", err)
		}
		return exp, nil

	default:
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "tracing: new exporter", fmt.Errorf("unknown exporter %q", cfg.Exporter))
	}
}

// Tracer returns the named tracer from the globally installed provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
