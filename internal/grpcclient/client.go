package grpcclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/torosent/wrkr/internal/httpclient"
	"github.com/torosent/wrkr/internal/metrics"
	"github.com/torosent/wrkr/internal/pbwire"
	"github.com/torosent/wrkr/internal/tracing"
)

// StatusHeader carries the numeric gRPC status code on responses.
const StatusHeader = "Grpc-Status"

// DialConfig holds transport settings for new connections.
type DialConfig struct {
	UseTLS   bool
	Insecure bool
}

// Dial establishes a gRPC connection based on configuration
func Dial(ctx context.Context, target string, cfg DialConfig) (*grpc.ClientConn, error) {
	var opts []grpc.DialOption
	if cfg.UseTLS {
		if cfg.Insecure {
			// Use TLS but skip certificate verification
			creds := credentials.NewTLS(&tls.Config{InsecureSkipVerify: true})
			opts = append(opts, grpc.WithTransportCredentials(creds))
		} else {
			creds := credentials.NewClientTLSFromCert(nil, "")
			opts = append(opts, grpc.WithTransportCredentials(creds))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})))

	// grpc.NewClient is non-blocking and doesn't take a context for dialing itself
	return grpc.NewClient(target, opts...)
}

// TargetFromURL derives a dial target from a base URL. https URLs imply TLS
// and default to port 443; http URLs default to port 80.
func TargetFromURL(base string) (target string, useTLS bool, err error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", false, fmt.Errorf("parse base url: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("base url %q has no host", base)
	}
	useTLS = u.Scheme == "https"
	if u.Port() != "" {
		return u.Host, useTLS, nil
	}
	if useTLS {
		return u.Host + ":443", true, nil
	}
	return u.Host + ":80", false, nil
}

// Call describes one scripted unary RPC.
type Call struct {
	// Target overrides the invoker's default host:port.
	Target string
	// Method is the full method name, "/pkg.Service/Method" or
	// "pkg.Service/Method".
	Method   string
	Body     []byte
	Metadata map[string]string
	// Timeout overrides the invoker's default deadline.
	Timeout time.Duration
}

// Invoker issues unary calls with raw protobuf payloads over pooled
// connections. It is safe for concurrent use.
type Invoker struct {
	pool          *ConnPool
	defaultTarget string
	useTLS        bool
	timeout       time.Duration
	tp            *tracing.Provider
}

// InvokerOption customises an Invoker.
type InvokerOption func(*Invoker)

// WithTracing wraps every call in a client span and injects trace context
// into the outgoing metadata when propagation is enabled.
func WithTracing(p *tracing.Provider) InvokerOption {
	return func(i *Invoker) {
		if p.Enabled() {
			i.tp = p
		}
	}
}

// NewInvoker returns an Invoker whose default target is derived from baseURL.
func NewInvoker(pool *ConnPool, baseURL string, timeout time.Duration, opts ...InvokerOption) (*Invoker, error) {
	if pool == nil {
		return nil, errors.New("connection pool cannot be nil")
	}
	target, useTLS, err := TargetFromURL(baseURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = httpclient.DefaultTimeout
	}
	inv := &Invoker{pool: pool, defaultTarget: target, useTLS: useTLS, timeout: timeout}
	for _, opt := range opts {
		opt(inv)
	}
	return inv, nil
}

// Invoke performs call and records the outcome into stats. The returned
// Response carries the numeric gRPC code as its status, the header and
// trailer metadata as headers and the raw response message as body. Any
// code other than OK is recorded as a named error.
func (i *Invoker) Invoke(ctx context.Context, call Call, stats *metrics.LocalStats) *httpclient.Response {
	method := strings.TrimSpace(call.Method)
	if method == "" {
		msg := "Request error: grpc method is required"
		stats.RecordAttempt(0)
		stats.RecordError(msg)
		return httpclient.FailedResponse(msg)
	}
	if !strings.HasPrefix(method, "/") {
		method = "/" + method
	}

	target, useTLS := call.Target, i.useTLS
	if target == "" {
		target = i.defaultTarget
	}
	sent := pbwire.FrameHeaderLen + len(call.Body) + len(method)
	for k, v := range call.Metadata {
		sent += len(k) + len(v) + 4
	}

	conn, err := i.pool.Get(ctx, target, useTLS)
	if err != nil {
		msg := "Request error: grpc dial failed"
		stats.RecordAttempt(sent)
		stats.RecordError(msg)
		return httpclient.FailedResponse(fmt.Sprintf("%s: %v", msg, err))
	}

	timeout := i.timeout
	if call.Timeout > 0 {
		timeout = call.Timeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	md := metadata.New(call.Metadata)
	var span trace.Span
	if i.tp != nil {
		ctx, span = i.tp.StartRPCSpan(ctx, method)
		i.tp.InjectGRPCMetadata(ctx, md)
	}
	if len(md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}

	var header, trailer metadata.MD
	var reply []byte
	start := time.Now()
	err = conn.Invoke(ctx, method, call.Body, &reply, grpc.Header(&header), grpc.Trailer(&trailer))
	latency := time.Since(start)

	code := status.Code(err)
	headers := make(http.Header, len(header)+len(trailer)+1)
	for _, md := range []metadata.MD{header, trailer} {
		for k, vs := range md {
			for _, v := range vs {
				headers.Add(k, v)
			}
		}
	}
	headers.Set(StatusHeader, strconv.Itoa(int(code)))

	resp := httpclient.NewResponse(int(code), headers, reply)
	stats.RecordRequest(latency, sent, resp.Size())
	if code != codes.OK {
		stats.RecordError(ErrorName(code))
	}
	tracing.EndSpan(span, err, attribute.Int("rpc.grpc.status_code", int(code)))
	return resp
}

// ErrorName maps a non-OK status code to the error name recorded in stats.
func ErrorName(code codes.Code) string {
	if code == codes.DeadlineExceeded {
		return metrics.TimeoutErrorName
	}
	return "gRPC status: " + CodeName(int(code))
}

// CodeName returns the canonical upper-case name of a gRPC status code, such
// as "UNAVAILABLE".
func CodeName(code int) string {
	if code < 0 || code > int(codes.Unauthenticated) {
		return "UNKNOWN"
	}
	return codeNames[code]
}

var codeNames = [...]string{
	"OK", "CANCELLED", "UNKNOWN", "INVALID_ARGUMENT", "DEADLINE_EXCEEDED",
	"NOT_FOUND", "ALREADY_EXISTS", "PERMISSION_DENIED", "RESOURCE_EXHAUSTED",
	"FAILED_PRECONDITION", "ABORTED", "OUT_OF_RANGE", "UNIMPLEMENTED",
	"INTERNAL", "UNAVAILABLE", "DATA_LOSS", "UNAUTHENTICATED",
}
