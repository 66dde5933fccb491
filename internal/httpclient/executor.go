package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/wrkr/internal/metrics"
	"github.com/torosent/wrkr/internal/tracing"
)

// Executor issues requests against a base URL on a shared client.
// It is safe for concurrent use.
type Executor struct {
	client  *http.Client
	baseURL string
	tp      *tracing.Provider
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*Executor)

// WithTracing wraps every request in a client span and, when the provider
// asks for it, injects W3C trace context headers.
func WithTracing(p *tracing.Provider) ExecutorOption {
	return func(e *Executor) {
		if p.Enabled() {
			e.tp = p
		}
	}
}

// NewExecutor returns an Executor for baseURL.
func NewExecutor(client *http.Client, baseURL string, opts ...ExecutorOption) (*Executor, error) {
	if client == nil {
		return nil, errors.New("http client cannot be nil")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	e := &Executor{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Do performs r and records the outcome into stats: one request, the
// estimated sent and received sizes, one latency sample when a response was
// read, and a named error for transport failures and, unless
// r.SkipStatusCheck is set, for non-2xx/3xx statuses.
//
// Cancelling ctx does not abort an in-flight request; only the client
// timeout does.
func (e *Executor) Do(ctx context.Context, r Request, stats *metrics.LocalStats) *Response {
	ctx = context.WithoutCancel(ctx)

	req, err := buildRequest(ctx, e.baseURL, r)
	if err != nil {
		msg := "Request error: " + err.Error()
		stats.RecordAttempt(0)
		stats.RecordError(msg)
		return FailedResponse(msg)
	}

	var span trace.Span
	if e.tp != nil {
		ctx, span = e.tp.StartHTTPSpan(ctx, req)
		e.tp.InjectHTTPHeaders(ctx, req.Header)
		req = req.WithContext(ctx)
	}
	sent := requestSize(req, len(r.Body))

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		name := metrics.ClassifyRequestError(err)
		stats.RecordAttempt(sent)
		stats.RecordError(name)
		tracing.EndSpan(span, err)
		return FailedResponse(fmt.Sprintf("%s: %v", name, err))
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	latency := time.Since(start)
	if err != nil {
		name := metrics.ClassifyRequestError(err)
		if name != metrics.TimeoutErrorName {
			name = "Response processing error: read failed"
		}
		stats.RecordAttempt(sent)
		stats.RecordError(name)
		tracing.EndSpan(span, err)
		return FailedResponse(fmt.Sprintf("%s: %v", name, err))
	}

	headers := resp.Header
	for k, vs := range resp.Trailer {
		headers[k] = append(headers[k], vs...)
	}
	out := &Response{status: resp.StatusCode, headers: headers, body: body}
	stats.RecordRequest(latency, sent, out.Size())
	if !r.SkipStatusCheck && !isSuccess(out.status) {
		stats.RecordError(metrics.StatusErrorName)
	}
	tracing.EndSpan(span, nil, attribute.Int("http.response.status_code", out.status))
	return out
}

func isSuccess(status int) bool {
	return status >= 200 && status < 400
}
