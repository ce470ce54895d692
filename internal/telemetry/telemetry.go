// Package telemetry provides OpenTelemetry metrics and traces for img-squeeze.
//
// Telemetry is disabled by default. When disabled, no-op providers are
// installed and recording costs nothing. When enabled, metrics and spans are
// written to stderr by the stdout exporters.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/luojiyin1987/img-squeeze"

var (
	shutdownFns []func(context.Context) error

	instrumentsOnce sync.Once
	inst            instruments
)

type instruments struct {
	files      metric.Int64Counter
	bytesIn    metric.Int64Counter
	bytesOut   metric.Int64Counter
	duration   metric.Float64Histogram
	batchFiles metric.Int64Histogram
}

// Init configures the global providers. With enabled false it installs
// no-op providers and returns immediately.
func Init(ctx context.Context, enabled bool, serviceName, version string) error {
	if !enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	spanExp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(spanExp),
	)
	otel.SetTracerProvider(tp)
	shutdownFns = append(shutdownFns, tp.Shutdown)

	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
	if err != nil {
		return fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)

	return nil
}

// Tracer returns a tracer with the given instrumentation name (or the global scope).
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter with the given instrumentation name (or the global scope).
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes all spans and metrics and shuts down the providers.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}

func getInstruments() instruments {
	instrumentsOnce.Do(func() {
		m := Meter("")
		inst.files, _ = m.Int64Counter("imgsqueeze.files",
			metric.WithDescription("Files processed, by format and outcome"),
			metric.WithUnit("{file}"))
		inst.bytesIn, _ = m.Int64Counter("imgsqueeze.bytes.in",
			metric.WithDescription("Input bytes of succeeded files"),
			metric.WithUnit("By"))
		inst.bytesOut, _ = m.Int64Counter("imgsqueeze.bytes.out",
			metric.WithDescription("Output bytes of succeeded files"),
			metric.WithUnit("By"))
		inst.duration, _ = m.Float64Histogram("imgsqueeze.task.duration",
			metric.WithDescription("Time spent on one file"),
			metric.WithUnit("s"))
		inst.batchFiles, _ = m.Int64Histogram("imgsqueeze.batch.files",
			metric.WithDescription("Files per batch"),
			metric.WithUnit("{file}"))
	})
	return inst
}

// RecordTask records the outcome of one file.
func RecordTask(ctx context.Context, format string, outcome string, original, compressed int64, elapsed time.Duration) {
	i := getInstruments()
	attrs := metric.WithAttributes(
		attribute.String("format", format),
		attribute.String("outcome", outcome),
	)
	if i.files != nil {
		i.files.Add(ctx, 1, attrs)
	}
	if i.duration != nil {
		i.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if outcome != "success" {
		return
	}
	if i.bytesIn != nil {
		i.bytesIn.Add(ctx, original, metric.WithAttributes(attribute.String("format", format)))
	}
	if i.bytesOut != nil {
		i.bytesOut.Add(ctx, compressed, metric.WithAttributes(attribute.String("format", format)))
	}
}

// RecordBatch records the size of a finished batch.
func RecordBatch(ctx context.Context, files int) {
	if h := getInstruments().batchFiles; h != nil {
		h.Record(ctx, int64(files))
	}
}
