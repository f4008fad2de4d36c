package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects where telemetry goes
type Config struct {
	ServiceName    string
	OTLPEndpoint   string // host:port; empty keeps everything local
	Insecure       bool
	ExportInterval time.Duration
	LogLevel       slog.Level
	Output         io.Writer // local log output, stderr when nil
}

// Telemetry holds the providers built by Setup
type Telemetry struct {
	Logger        *slog.Logger
	MeterProvider *sdkmetric.MeterProvider

	shutdowns []func(context.Context) error
}

// Shutdown flushes and stops every provider
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(t.shutdowns) - 1; i >= 0; i-- {
		errs = append(errs, t.shutdowns[i](ctx))
	}
	t.shutdowns = nil
	return errors.Join(errs...)
}

// Setup builds the logger and meter provider and installs the meter
// provider globally. With an OTLP endpoint, metrics and logs are also
// exported over gRPC; local text logging is kept either way.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fileserver"
	}
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = 10 * time.Second
	}

	out := cfg.Output
	if out == nil {
		out = stderr
	}
	local := slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.LogLevel})

	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.ServiceName))
	t := &Telemetry{}

	if cfg.OTLPEndpoint == "" {
		t.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		t.shutdowns = append(t.shutdowns, t.MeterProvider.Shutdown)
		t.Logger = slog.New(local)
		otel.SetMeterProvider(t.MeterProvider)
		return t, nil
	}

	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		logOpts = append(logOpts, otlploggrpc.WithInsecure())
	}

	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, err
	}
	t.MeterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(cfg.ExportInterval))),
	)
	t.shutdowns = append(t.shutdowns, t.MeterProvider.Shutdown)

	logExporter, err := otlploggrpc.New(ctx, logOpts...)
	if err != nil {
		t.Shutdown(ctx)
		return nil, err
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	t.shutdowns = append(t.shutdowns, loggerProvider.Shutdown)

	remote := otelslog.NewHandler(cfg.ServiceName, otelslog.WithLoggerProvider(loggerProvider))
	t.Logger = slog.New(&teeHandler{handlers: []slog.Handler{local, leveled{remote, cfg.LogLevel}}})
	otel.SetMeterProvider(t.MeterProvider)

	return t, nil
}
