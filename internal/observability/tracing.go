package observability

import (
	"context"
	"fmt"
	"simjobs/internal/config"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "simjobs"

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter    string  // none, stdout or otlphttp
	Endpoint    string  // OTLP/HTTP endpoint URL
	Insecure    bool    // plain HTTP to the collector
	SampleRatio float64 // 0..1, parent-based
}

// LoadTracingConfigFromEnv reads tracing settings from the standard OTEL_* variables.
func LoadTracingConfigFromEnv() TracingConfig {
	ratio, err := strconv.ParseFloat(config.GetEnv("OTEL_TRACES_SAMPLER_ARG", "1"), 64)
	if err != nil {
		ratio = 1
	}
	return TracingConfig{
		Exporter:    strings.ToLower(strings.TrimSpace(config.GetEnv("OTEL_TRACES_EXPORTER", "none"))),
		Endpoint:    config.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
		Insecure:    config.GetBoolEnv("OTEL_EXPORTER_OTLP_INSECURE", true),
		SampleRatio: min(max(ratio, 0), 1),
	}
}

// InitTracing installs a global tracer provider for service and returns its
// shutdown function. With exporter "none" spans are not recorded.
func InitTracing(ctx context.Context, service string, cfg TracingConfig) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	var exp sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "", "none":
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	case "stdout":
		exp, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlphttp", "otlp", "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown traces exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s span exporter: %w", cfg.Exporter, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", service))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartSpan starts a span on the global tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// JobIDAttr tags a span with a job id.
func JobIDAttr(id string) attribute.KeyValue {
	return attribute.String("job.id", id)
}
