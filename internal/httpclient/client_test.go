package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/torosent/wrkr/internal/metrics"
	"github.com/torosent/wrkr/internal/tracing"
)

func flush(local *metrics.LocalStats) metrics.Snapshot {
	agg := metrics.NewAggregator("test")
	local.FlushTo(agg)
	return agg.Snapshot(0, time.Second, nil)
}

func newExecutor(t *testing.T, url string, opts ...ExecutorOption) *Executor {
	t.Helper()
	exec, err := NewExecutor(NewClient(Options{Timeout: time.Second, MaxConns: 4}), url, opts...)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	return exec
}

func TestExecutorRecordsSuccessfulRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hello" {
			t.Errorf("expected path /hello, got %s", r.URL.Path)
		}
		w.Header().Set("X-Test", "yes")
		_, _ = io.WriteString(w, "hello")
	}))
	defer server.Close()

	exec := newExecutor(t, server.URL)
	local := metrics.NewLocalStats()
	resp := exec.Do(context.Background(), Request{URL: "/hello"}, local)

	if resp.Status() != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Status(), resp.Err())
	}
	if string(resp.Body()) != "hello" {
		t.Errorf("unexpected body %q", resp.Body())
	}
	if v, ok := resp.Header("x-test"); !ok || v != "yes" {
		t.Errorf("expected X-Test header, got %q", v)
	}

	snap := flush(local)
	if snap.TotalRequests != 1 || snap.TotalErrors != 0 {
		t.Fatalf("unexpected totals requests=%d errors=%d", snap.TotalRequests, snap.TotalErrors)
	}
	if snap.BytesReceived != uint64(resp.Size()) {
		t.Errorf("expected %d bytes received, got %d", resp.Size(), snap.BytesReceived)
	}
	if snap.BytesSent == 0 {
		t.Errorf("expected request size to be estimated")
	}
	if snap.Latency().Samples != 1 {
		t.Errorf("expected one latency sample, got %d", snap.Latency().Samples)
	}
}

func TestExecutorStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	exec := newExecutor(t, server.URL)

	local := metrics.NewLocalStats()
	exec.Do(context.Background(), Request{}, local)
	snap := flush(local)
	if snap.Errors[metrics.StatusErrorName] != 1 {
		t.Fatalf("expected status error, got %v", snap.Errors)
	}
	if snap.Latency().Samples != 1 {
		t.Errorf("a response with a bad status still has a latency sample")
	}

	local = metrics.NewLocalStats()
	exec.Do(context.Background(), Request{SkipStatusCheck: true}, local)
	if snap := flush(local); snap.TotalErrors != 0 {
		t.Errorf("expected no errors with status tracking off, got %v", snap.Errors)
	}
}

func TestExecutorDoesNotFollowRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/final" {
			t.Errorf("redirect was followed")
		}
		http.Redirect(w, r, "/final", http.StatusFound)
	}))
	defer server.Close()

	local := metrics.NewLocalStats()
	resp := newExecutor(t, server.URL).Do(context.Background(), Request{URL: "/start"}, local)
	if resp.Status() != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.Status())
	}
	if snap := flush(local); snap.TotalErrors != 0 {
		t.Errorf("3xx must not be an error, got %v", snap.Errors)
	}
}

func TestExecutorTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	local := metrics.NewLocalStats()
	resp := newExecutor(t, url).Do(context.Background(), Request{}, local)
	if resp.Status() != 0 || resp.Err() == "" {
		t.Fatalf("expected failed response, got status %d err %q", resp.Status(), resp.Err())
	}

	snap := flush(local)
	if snap.TotalRequests != 1 || snap.TotalErrors != 1 {
		t.Fatalf("unexpected totals requests=%d errors=%d", snap.TotalRequests, snap.TotalErrors)
	}
	if cat := metrics.CategorizeErrors(snap.Errors); cat.Connect != 1 {
		t.Errorf("expected a connect error, got %v", snap.Errors)
	}
	if snap.Latency().Samples != 0 {
		t.Errorf("failed requests must not record latency")
	}
}

func TestExecutorTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()
	defer close(release)

	exec, err := NewExecutor(NewClient(Options{Timeout: 50 * time.Millisecond}), server.URL)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	local := metrics.NewLocalStats()
	exec.Do(context.Background(), Request{}, local)
	if snap := flush(local); snap.Errors[metrics.TimeoutErrorName] != 1 {
		t.Fatalf("expected timeout error, got %v", snap.Errors)
	}
}

func TestExecutorIgnoresContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		_, _ = io.WriteString(w, "done")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := newExecutor(t, server.URL).Do(ctx, Request{}, metrics.NewLocalStats())
	if resp.Status() != http.StatusOK {
		t.Fatalf("expected in-flight request to complete, got %d (%s)", resp.Status(), resp.Err())
	}
}

func TestBuildRequest(t *testing.T) {
	t.Run("json body sets content type", func(t *testing.T) {
		req, err := buildRequest(context.Background(), "http://example.com", Request{
			Method: "post",
			URL:    "/api",
			Body:   []byte(`{"a":1}`),
			JSON:   true,
		})
		if err != nil {
			t.Fatalf("buildRequest() error = %v", err)
		}
		if req.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", req.Method)
		}
		if req.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected JSON content type, got %q", req.Header.Get("Content-Type"))
		}
		if req.ContentLength != 7 {
			t.Errorf("expected content length 7, got %d", req.ContentLength)
		}
	})

	t.Run("explicit content type wins", func(t *testing.T) {
		req, err := buildRequest(context.Background(), "http://example.com", Request{
			Headers: map[string]string{"content-type": "application/x-protobuf"},
			Body:    []byte{1},
			JSON:    true,
		})
		if err != nil {
			t.Fatalf("buildRequest() error = %v", err)
		}
		if got := req.Header.Get("Content-Type"); got != "application/x-protobuf" {
			t.Errorf("expected caller content type, got %q", got)
		}
	})

	t.Run("invalid headers", func(t *testing.T) {
		for _, h := range []map[string]string{
			{"": "x"},
			{"Bad\nKey": "x"},
			{"X-Ok": "bad\r\nvalue"},
		} {
			if _, err := buildRequest(context.Background(), "http://example.com", Request{Headers: h}); err == nil {
				t.Errorf("expected error for headers %v", h)
			}
		}
	})
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, target, want string
	}{
		{"http://h:1", "", "http://h:1/"},
		{"http://h:1/", "/a", "http://h:1/a"},
		{"http://h:1", "a?b=1", "http://h:1/a?b=1"},
		{"http://h:1", "https://other/x", "https://other/x"},
	}
	for _, tt := range tests {
		if got := ResolveURL(tt.base, tt.target); got != tt.want {
			t.Errorf("ResolveURL(%q, %q) = %q, want %q", tt.base, tt.target, got, tt.want)
		}
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := map[string]string{
		"":        http.MethodGet,
		"delete":  http.MethodDelete,
		" Patch ": http.MethodPatch,
		"head":    http.MethodHead,
		"OPTIONS": http.MethodGet,
	}
	for in, want := range tests {
		if got := NormalizeMethod(in); got != want {
			t.Errorf("NormalizeMethod(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResponseEquality(t *testing.T) {
	h := http.Header{"A": {"1"}}
	a := NewResponse(200, h, []byte("x"))
	b := NewResponse(200, h, []byte("x"))
	if !a.Equal(b) {
		t.Errorf("expected equal responses")
	}
	if a.Equal(NewResponse(201, h, []byte("x"))) {
		t.Errorf("different status must not be equal")
	}
	if a.Equal(NewResponse(200, http.Header{"A": {"2"}}, []byte("x"))) {
		t.Errorf("different headers must not be equal")
	}

	long := NewResponse(200, nil, []byte("xyz"))
	if !a.BodyHasPrefixOf(long, 1) {
		t.Errorf("expected prefix match")
	}
	if a.BodyHasPrefixOf(long, 4) {
		t.Errorf("prefix longer than body must not match")
	}
	if got := NewResponse(200, http.Header{"Ab": {"cd"}}, []byte("12345")).Size(); got != 5+2+2+4+12 {
		t.Errorf("unexpected size %d", got)
	}
}

func TestExecutorTracing(t *testing.T) {
	var traceparent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("Traceparent")
	}))
	defer server.Close()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	provider := tracing.NewProvider(tp, propagation.TraceContext{}, true)

	newExecutor(t, server.URL, WithTracing(provider)).Do(context.Background(), Request{URL: "/traced"}, metrics.NewLocalStats())

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "GET /traced" {
		t.Errorf("unexpected span name %q", spans[0].Name)
	}
	if traceparent == "" {
		t.Errorf("expected traceparent header to be injected")
	}
}
