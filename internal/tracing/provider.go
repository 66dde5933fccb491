// Package tracing provides OpenTelemetry initialization and W3C trace context
// propagation for the requests scenario scripts issue.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/wrkr/internal/config"
)

const instrumentationName = "wrkr"

// Provider starts client spans for scripted requests and injects their trace
// context into outgoing headers. A nil *Provider is valid and traces nothing.
type Provider struct {
	shutdown   func(context.Context) error
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	propagate  bool
}

// NewProvider wraps an existing TracerProvider. Shutdown does not stop tp.
func NewProvider(tp trace.TracerProvider, propagator propagation.TextMapPropagator, propagate bool) *Provider {
	return &Provider{
		tracer:     tp.Tracer(instrumentationName),
		propagator: propagator,
		propagate:  propagate,
	}
}

// Option customizes Init.
type Option func(*initOptions)

type initOptions struct {
	runID string
}

// WithRunID tags every exported span with the run identifier as the
// service.instance.id resource attribute, so traces from one load run can be
// told apart from the next.
func WithRunID(id string) Option {
	return func(o *initOptions) { o.runID = id }
}

// Init builds an OTLP exporting provider from cfg. Without an endpoint it
// returns a provider that records nothing.
func Init(ctx context.Context, cfg config.TracingConfig, opts ...Option) (*Provider, error) {
	if !cfg.Enabled() {
		return &Provider{}, nil
	}
	var o initOptions
	for _, opt := range opts {
		opt(&o)
	}

	sampler, err := NewSampler(cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName(cfg.ServiceName))}
	if o.runID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(o.runID))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	exporter, err := newExporter(ctx, cfg, endpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	propagator := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagator)

	return &Provider{
		shutdown:   tp.Shutdown,
		tracer:     tp.Tracer(instrumentationName),
		propagator: propagator,
		propagate:  cfg.ShouldPropagate(),
	}, nil
}

// NewSampler maps a sample rate in [0, 1] to a parent-based sampler. Rate 1
// samples every root span and 0 none.
func NewSampler(rate float64) (sdktrace.Sampler, error) {
	var root sdktrace.Sampler
	switch {
	case rate < 0 || rate > 1:
		return nil, fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", rate)
	case rate == 0:
		root = sdktrace.NeverSample()
	case rate == 1:
		root = sdktrace.AlwaysSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root), nil
}

// serviceName prefers the configured name, then OTEL_SERVICE_NAME.
func serviceName(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv("OTEL_SERVICE_NAME"); env != "" {
		return env
	}
	return instrumentationName
}

// Enabled reports whether spans are recorded.
func (p *Provider) Enabled() bool {
	return p != nil && p.tracer != nil
}

// Tracer returns the run's tracer, or a no-op tracer when tracing is off.
func (p *Provider) Tracer() trace.Tracer {
	if !p.Enabled() {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return p.tracer
}

// ShouldPropagate reports whether traceparent headers go out with requests.
func (p *Provider) ShouldPropagate() bool {
	if p == nil || p.propagator == nil {
		return false
	}
	return p.propagate
}

// Shutdown flushes spans still batched for export.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

func newExporter(ctx context.Context, cfg config.TracingConfig, endpoint string) (sdktrace.SpanExporter, error) {
	switch protocol := strings.ToLower(cfg.Protocol); protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q: use grpc or http", protocol)
	}
}
