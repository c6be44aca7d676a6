// Package telemetry wires OpenTelemetry export for the engine. When disabled
// it degrades to no-ops so callers never branch on configuration.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

const meterName = "conveyor"

// Provider owns the OTLP exporters and the engine's instruments.
type Provider struct {
	traces  *sdktrace.TracerProvider
	meters  *sdkmetric.MeterProvider
	Metrics *Metrics
}

// Init configures OTLP gRPC export and installs global providers. A disabled
// config returns a Provider whose Metrics are no-ops.
func Init(ctx context.Context, cfg types.TelemetryConfig, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return &Provider{}, nil
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = meterName
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
	}

	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}
	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
			sdkmetric.WithInterval(15*time.Second))),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp),
	)
	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, fmt.Errorf("register instruments: %w", err)
	}
	logger.Info("telemetry enabled", "endpoint", cfg.Endpoint, "service", serviceName)
	return &Provider{traces: tp, meters: mp, Metrics: m}, nil
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var first error
	if p.traces != nil {
		if err := p.traces.Shutdown(ctx); err != nil {
			first = err
		}
	}
	if p.meters != nil {
		if err := p.meters.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
