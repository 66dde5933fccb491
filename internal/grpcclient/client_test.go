package grpcclient

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/torosent/wrkr/internal/metrics"
	"github.com/torosent/wrkr/internal/pbwire"
)

// startEchoServer serves every method with a raw-bytes handler: "/test.Echo/Say"
// echoes the request, "/test.Echo/Fail" returns NOT_FOUND and
// "/test.Echo/Slow" sleeps past short deadlines.
func startEchoServer(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer(
		grpc.ForceServerCodec(rawCodec{}),
		grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
			method, _ := grpc.MethodFromServerStream(stream)
			var in []byte
			if err := stream.RecvMsg(&in); err != nil {
				return err
			}
			switch method {
			case "/test.Echo/Fail":
				return status.Error(codes.NotFound, "nope")
			case "/test.Echo/Slow":
				time.Sleep(200 * time.Millisecond)
			}
			if md, ok := metadata.FromIncomingContext(stream.Context()); ok {
				if v := md.Get("x-echo"); len(v) > 0 {
					_ = stream.SetHeader(metadata.Pairs("x-echo", v[0]))
				}
			}
			return stream.SendMsg(in)
		}),
	)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func newInvoker(t *testing.T, addr string) *Invoker {
	t.Helper()
	pool := NewConnPool(DialConfig{})
	t.Cleanup(func() { _ = pool.Close() })
	inv, err := NewInvoker(pool, "http://"+addr, time.Second)
	if err != nil {
		t.Fatalf("NewInvoker() error = %v", err)
	}
	return inv
}

func snapshot(local *metrics.LocalStats) metrics.Snapshot {
	agg := metrics.NewAggregator("test")
	local.FlushTo(agg)
	return agg.Snapshot(0, time.Second, nil)
}

func TestInvokeEchoesRawMessage(t *testing.T) {
	inv := newInvoker(t, startEchoServer(t))
	body := pbwire.NewBuilder().String(1, "hello").Int32(2, 7).Encoded()

	local := metrics.NewLocalStats()
	resp := inv.Invoke(context.Background(), Call{
		Method:   "test.Echo/Say",
		Body:     body,
		Metadata: map[string]string{"x-echo": "ping"},
	}, local)

	if resp.Status() != int(codes.OK) {
		t.Fatalf("expected OK, got %d (%s)", resp.Status(), resp.Err())
	}
	if string(resp.Body()) != string(body) {
		t.Errorf("expected echoed body %x, got %x", body, resp.Body())
	}
	if v, _ := resp.Header("x-echo"); v != "ping" {
		t.Errorf("expected x-echo header metadata, got %q", v)
	}
	if v, _ := resp.Header(StatusHeader); v != "0" {
		t.Errorf("expected grpc-status 0, got %q", v)
	}

	snap := snapshot(local)
	if snap.TotalRequests != 1 || snap.TotalErrors != 0 {
		t.Fatalf("unexpected totals requests=%d errors=%d", snap.TotalRequests, snap.TotalErrors)
	}
	if snap.Latency().Samples != 1 {
		t.Errorf("expected one latency sample")
	}
	if snap.BytesSent < uint64(len(body)) {
		t.Errorf("expected at least %d bytes sent, got %d", len(body), snap.BytesSent)
	}
}

func TestInvokeRecordsStatusErrors(t *testing.T) {
	inv := newInvoker(t, startEchoServer(t))

	local := metrics.NewLocalStats()
	resp := inv.Invoke(context.Background(), Call{Method: "/test.Echo/Fail"}, local)
	if resp.Status() != int(codes.NotFound) {
		t.Fatalf("expected NOT_FOUND, got %d", resp.Status())
	}
	snap := snapshot(local)
	if snap.Errors["gRPC status: NOT_FOUND"] != 1 {
		t.Errorf("expected NOT_FOUND error, got %v", snap.Errors)
	}
}

func TestInvokeTimeout(t *testing.T) {
	inv := newInvoker(t, startEchoServer(t))

	local := metrics.NewLocalStats()
	resp := inv.Invoke(context.Background(), Call{Method: "/test.Echo/Slow", Timeout: 20 * time.Millisecond}, local)
	if resp.Status() != int(codes.DeadlineExceeded) {
		t.Fatalf("expected DEADLINE_EXCEEDED, got %d", resp.Status())
	}
	if snap := snapshot(local); snap.Errors[metrics.TimeoutErrorName] != 1 {
		t.Errorf("expected timeout error, got %v", snap.Errors)
	}
}

func TestInvokeRequiresMethod(t *testing.T) {
	inv := newInvoker(t, "127.0.0.1:1")
	local := metrics.NewLocalStats()
	resp := inv.Invoke(context.Background(), Call{}, local)
	if resp.Err() == "" {
		t.Fatalf("expected error response")
	}
	if snap := snapshot(local); snap.TotalRequests != 1 || snap.TotalErrors != 1 {
		t.Errorf("unexpected totals %d/%d", snap.TotalRequests, snap.TotalErrors)
	}
}

func TestConnPoolReusesConnections(t *testing.T) {
	pool := NewConnPool(DialConfig{})
	defer pool.Close()

	a, err := pool.Get(context.Background(), "127.0.0.1:1", false)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	b, _ := pool.Get(context.Background(), "127.0.0.1:1", false)
	if a != b {
		t.Errorf("expected the same connection for the same target")
	}
	c, _ := pool.Get(context.Background(), "127.0.0.1:1", true)
	if a == c {
		t.Errorf("TLS and plaintext connections must not be shared")
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := pool.Get(context.Background(), "127.0.0.1:2", false); err == nil {
		t.Errorf("expected error from closed pool")
	}
}

func TestTargetFromURL(t *testing.T) {
	tests := []struct {
		base    string
		target  string
		useTLS  bool
		wantErr bool
	}{
		{"http://localhost:50051", "localhost:50051", false, false},
		{"https://api.example.com", "api.example.com:443", true, false},
		{"http://api.example.com/prefix", "api.example.com:80", false, false},
		{"localhost", "", false, true},
	}
	for _, tt := range tests {
		target, useTLS, err := TargetFromURL(tt.base)
		if (err != nil) != tt.wantErr {
			t.Errorf("TargetFromURL(%q) error = %v, wantErr %v", tt.base, err, tt.wantErr)
			continue
		}
		if target != tt.target || useTLS != tt.useTLS {
			t.Errorf("TargetFromURL(%q) = %q, %v; want %q, %v", tt.base, target, useTLS, tt.target, tt.useTLS)
		}
	}
}

func TestCodeName(t *testing.T) {
	if CodeName(int(codes.Unavailable)) != "UNAVAILABLE" {
		t.Errorf("unexpected name %q", CodeName(int(codes.Unavailable)))
	}
	if CodeName(99) != "UNKNOWN" {
		t.Errorf("out of range codes must map to UNKNOWN")
	}
	for c := codes.OK; c <= codes.Unauthenticated; c++ {
		want := strings.ToUpper(strings.ReplaceAll(c.String(), "Canceled", "Cancelled"))
		got := strings.ReplaceAll(CodeName(int(c)), "_", "")
		if got != want {
			t.Errorf("code %d: got %q, want %q", c, got, want)
		}
	}
}

func TestRawCodec(t *testing.T) {
	var c rawCodec
	out, err := c.Marshal([]byte{1, 2})
	if err != nil || len(out) != 2 {
		t.Fatalf("Marshal() = %v, %v", out, err)
	}
	if _, err := c.Marshal("nope"); err == nil {
		t.Errorf("expected error for unsupported type")
	}
	var dst []byte
	if err := c.Unmarshal([]byte{3}, &dst); err != nil || dst[0] != 3 {
		t.Errorf("Unmarshal() = %v, %v", dst, err)
	}
}
