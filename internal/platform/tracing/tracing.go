// Package tracing wires OpenTelemetry for the engine: one span per job
// dispatch and one span per step-primitive invocation, so a trace shows
// exactly which steps replayed from cache versus executed.
package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowkit/durable/internal/platform/config"
	"github.com/flowkit/durable/internal/platform/logger"
)

// Config is everything Setup needs, fully resolved. FromEnv fills the
// transport fields from the environment so callers only pass identity.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	// Enabled gates the whole subsystem; when false Setup installs
	// nothing and the global tracer stays a no-op.
	Enabled bool

	// Endpoint selects the OTLP/HTTP collector. Empty means no collector:
	// spans go to stdout in development and nowhere otherwise.
	Endpoint string
	Insecure bool
	Headers  map[string]string

	// SampleRatio in [0,1]. 0 samples nothing, 1 everything; values in
	// between use parent-based ratio sampling.
	SampleRatio float64
}

// FromEnv resolves a Config for serviceName from TRACING_* / OTEL_*
// environment variables.
func FromEnv(serviceName, environment string) Config {
	ratio := float64(config.GetEnvAsInt("TRACING_SAMPLE_PERCENT", 10, nil)) / 100
	return Config{
		ServiceName: serviceName,
		Environment: environment,
		Version:     config.GetEnv("SERVICE_VERSION", "", nil),
		Enabled:     config.GetEnvAsBool("TRACING_ENABLED", false, nil),
		Endpoint:    strings.TrimSpace(config.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "", nil)),
		Insecure:    config.GetEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", false, nil),
		Headers:     parseHeaders(config.GetEnv("OTEL_EXPORTER_OTLP_HEADERS", "", nil)),
		SampleRatio: ratio,
	}
}

// parseHeaders decodes the standard comma-separated key=value header
// list. Malformed entries are skipped.
func parseHeaders(raw string) map[string]string {
	var out map[string]string
	for _, entry := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || k == "" || v == "" {
			continue
		}
		if out == nil {
			out = map[string]string{}
		}
		out[k] = v
	}
	return out
}

// Provider owns an installed TracerProvider. The zero/nil Provider is a
// valid no-op, so callers can defer Shutdown unconditionally.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Shutdown flushes pending spans and releases the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Setup installs the global TracerProvider and propagators per cfg.
// Returns (nil, nil) when tracing is disabled. A provider is returned
// even when no exporter could be built, so sampling decisions still
// propagate to downstream services.
func Setup(ctx context.Context, log *logger.Logger, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "durable"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(name),
		semconv.ServiceVersionKey.String(cfg.Version),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		res = resource.Default()
		if log != nil {
			log.Warn("tracing: resource build failed, using defaults", "error", err)
		}
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRatio)),
	}
	exporter, expErr := cfg.exporter(ctx)
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	} else if expErr != nil && log != nil {
		log.Warn("tracing: exporter unavailable, spans will not be shipped", "error", expErr)
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if log != nil {
		log.Info("tracing initialized", "service", name, "endpoint", cfg.Endpoint, "sample_ratio", cfg.SampleRatio)
	}
	return &Provider{tp: tp}, nil
}

func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample()
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// exporter builds the span exporter cfg selects: OTLP/HTTP when an
// endpoint is configured, stdout pretty-printing for local development,
// nothing in non-development environments without a collector.
func (cfg Config) exporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	}
	if cfg.Environment == "development" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	return nil, nil
}

// Tracer returns the named tracer off the global provider; a no-op
// tracer before Setup has run.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
