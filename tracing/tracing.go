// Package tracing provides OpenTelemetry tracing for the Sefaria MCP server.
// Tool calls, upstream requests and cache outcomes are recorded as spans and
// span attributes.
package tracing

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "sefaria-mcp-server"
)

// Config holds tracing configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
	SampleRate     float64

	// OTLPEndpoint selects the OTLP/HTTP exporter. It may be host:port or a full URL.
	OTLPEndpoint string
	// Insecure sends OTLP over plain HTTP.
	Insecure bool

	// Writer receives pretty-printed spans when no OTLP endpoint is set.
	// Stdout carries the stdio transport, so this defaults to stderr.
	Writer io.Writer
}

// DefaultConfig reads the OTEL_* variables from the process environment.
func DefaultConfig() Config {
	return ConfigFromEnv(os.Getenv)
}

// ConfigFromEnv builds a Config from a lookup function. Tracing is enabled by
// OTEL_ENABLED=true or by setting an OTLP endpoint.
func ConfigFromEnv(getenv func(string) string) Config {
	endpoint := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg := Config{
		ServiceName:    envOr(getenv, "OTEL_SERVICE_NAME", TracerName),
		ServiceVersion: "1.0.0",
		Environment:    envOr(getenv, "OTEL_ENVIRONMENT", "development"),
		Enabled:        getenv("OTEL_ENABLED") == "true" || endpoint != "",
		SampleRate:     1.0,
		OTLPEndpoint:   endpoint,
		Insecure:       !strings.HasPrefix(endpoint, "https://"),
		Writer:         os.Stderr,
	}
	if v := getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SampleRate = rate
		}
	}
	if v := getenv("OTEL_EXPORTER_OTLP_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Insecure = b
		}
	}
	return cfg
}

// Setup installs the global tracer provider and returns its shutdown function.
// With tracing disabled it installs nothing and returns a no-op.
func Setup(ctx context.Context, config Config) (func(context.Context) error, error) {
	if !config.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("deployment.environment", config.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := newExporter(ctx, config)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(config.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, config Config) (sdktrace.SpanExporter, error) {
	if config.OTLPEndpoint == "" {
		w := config.Writer
		if w == nil {
			w = os.Stderr
		}
		return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	}
	return otlptracehttp.New(ctx, otlpOptions(config)...)
}

func otlpOptions(config Config) []otlptracehttp.Option {
	var opts []otlptracehttp.Option
	if strings.Contains(config.OTLPEndpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(config.OTLPEndpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(config.OTLPEndpoint))
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

// samplerFor respects the caller's sampling decision and samples new traces at rate.
func samplerFor(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1.0:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// Tracer returns the named tracer for the server
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a new span with the given name and returns the context and span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// AddToolAttributes adds standard tool attributes to a span
func AddToolAttributes(span trace.Span, toolName, category string) {
	span.SetAttributes(
		attribute.String("mcp.tool.name", toolName),
		attribute.String("mcp.tool.category", category),
	)
}

// AddResultAttributes records the size of a shaped tool result
func AddResultAttributes(span trace.Span, bytes int, truncated bool) {
	span.SetAttributes(
		attribute.Int("mcp.result.bytes", bytes),
		attribute.Bool("mcp.result.truncated", truncated),
	)
}

// AddUpstreamAttributes adds Sefaria request attributes to a span
func AddUpstreamAttributes(span trace.Span, endpoint, method, path string) {
	span.SetAttributes(
		attribute.String("sefaria.endpoint", endpoint),
		attribute.String("http.request.method", method),
	)
	if path != "" {
		span.SetAttributes(attribute.String("url.path", path))
	}
}

// AddCacheAttributes records how a request was served ("hit", "miss", "join")
func AddCacheAttributes(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String("sefaria.cache", outcome))
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return fallback
}
