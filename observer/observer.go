// Package observer provides OTEL-based observability for a connectoragents
// pipeline. It ships TracingDebugger, a concrete connectoragents.Debugger
// that turns the StartAgent/FinishedAgent/ErrorAgent/UserMessage hooks into
// OTEL spans, events, and metrics; its other hooks stay no-ops. Users
// export to any OTEL-compatible backend by setting standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/git5001/connectoragents/observer"

// Instruments holds every OTEL instrument TracingDebugger writes to.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	StepsTotal   metric.Int64Counter
	ErrorsTotal  metric.Int64Counter
	StepDuration metric.Float64Histogram
}

// Init sets up OTEL trace and metric providers with OTLP HTTP exporters.
// Configuration comes from standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). The returned shutdown func must be
// called on application exit.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)

	stepsTotal, err := meter.Int64Counter("agent_pipeline.steps_total",
		metric.WithDescription("Total agent Step() calls executed by the scheduler"),
		metric.WithUnit("{step}"))
	if err != nil {
		return nil, err
	}

	errorsTotal, err := meter.Int64Counter("agent_pipeline.errors_total",
		metric.WithDescription("Total agent steps that returned an error"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	stepDuration, err := meter.Float64Histogram("agent_pipeline.step_duration_ms",
		metric.WithDescription("Wall-clock duration of one agent Step() call"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:       tracer,
		Meter:        meter,
		StepsTotal:   stepsTotal,
		ErrorsTotal:  errorsTotal,
		StepDuration: stepDuration,
	}, nil
}
