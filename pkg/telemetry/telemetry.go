// Package telemetry installs the OpenTelemetry providers the commissioning
// engine reports its per-stage spans and metrics to.
//
// Telemetry is disabled by default: Init then installs no-op providers and
// the instrumentation in pkg/commissioning costs nothing. When enabled,
// spans and metrics are written to Config.Writer by the stdout exporters.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/backkem/matter-autocommissioner"

// DefaultMetricInterval is how often metrics are exported when enabled.
const DefaultMetricInterval = 15 * time.Second

// Config configures Init.
type Config struct {
	// Enabled turns on the SDK providers. When false, no-op providers are
	// installed.
	Enabled bool

	ServiceName string
	Version     string

	// Writer receives the exported spans and metrics. Defaults to os.Stderr.
	Writer io.Writer

	// PrettyPrint indents exported spans.
	PrettyPrint bool

	// MetricInterval defaults to DefaultMetricInterval.
	MetricInterval time.Duration
}

// ShutdownFunc flushes and stops the providers installed by Init.
type ShutdownFunc func(context.Context) error

// Init configures the global OTel providers.
func Init(ctx context.Context, config Config) (ShutdownFunc, error) {
	if !config.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}
	if config.Writer == nil {
		config.Writer = os.Stderr
	}
	if config.MetricInterval == 0 {
		config.MetricInterval = DefaultMetricInterval
	}
	if config.ServiceName == "" {
		config.ServiceName = "matter-commission"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	traceOpts := []stdouttrace.Option{stdouttrace.WithWriter(config.Writer)}
	if config.PrettyPrint {
		traceOpts = append(traceOpts, stdouttrace.WithPrettyPrint())
	}
	spanExp, err := stdouttrace.New(traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(spanExp),
	)

	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(config.Writer))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
			sdkmetric.WithInterval(config.MetricInterval))),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// Tracer returns a tracer with the given instrumentation name (or the module scope).
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter with the given instrumentation name (or the module scope).
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}
