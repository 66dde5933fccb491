package tracing

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
)

// StartHTTPSpan starts a client span named "METHOD path" for one scripted
// HTTP request.
func (p *Provider) StartHTTPSpan(ctx context.Context, req *http.Request) (context.Context, trace.Span) {
	path := req.URL.Path
	if path == "" {
		path = "/"
	}
	return p.Tracer().Start(ctx, req.Method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL.String()),
			attribute.String("server.address", req.URL.Hostname()),
		),
	)
}

// StartRPCSpan starts a client span for one unary gRPC call. fullMethod is
// the "/package.Service/Method" path passed to Invoke.
func (p *Provider) StartRPCSpan(ctx context.Context, fullMethod string) (context.Context, trace.Span) {
	name := strings.TrimPrefix(fullMethod, "/")
	attrs := []attribute.KeyValue{attribute.String("rpc.system", "grpc")}
	if svc, method, ok := strings.Cut(name, "/"); ok {
		attrs = append(attrs,
			attribute.String("rpc.service", svc),
			attribute.String("rpc.method", method),
		)
	}
	return p.Tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan sets attrs and the span status from err, then ends span. A nil span
// is ignored so callers need not check whether tracing is on.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers when
// propagation is enabled.
func (p *Provider) InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	if !p.ShouldPropagate() {
		return
	}
	p.propagator.Inject(ctx, propagation.HeaderCarrier(headers))
}

type mdCarrier metadata.MD

func (c mdCarrier) Get(key string) string {
	if vals := metadata.MD(c).Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func (c mdCarrier) Set(key, value string) { metadata.MD(c).Set(key, value) }

func (c mdCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectGRPCMetadata injects W3C trace context into gRPC metadata when
// propagation is enabled.
func (p *Provider) InjectGRPCMetadata(ctx context.Context, md metadata.MD) {
	if !p.ShouldPropagate() {
		return
	}
	p.propagator.Inject(ctx, mdCarrier(md))
}
