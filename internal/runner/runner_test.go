package runner_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/wrkr/internal/metrics"
	"github.com/torosent/wrkr/internal/runner"
	"github.com/torosent/wrkr/internal/script"
)

// hitCounter counts requests per path.
type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func (h *hitCounter) get(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

func newCountingServer(t *testing.T) (*httptest.Server, *hitCounter) {
	t.Helper()
	counter := &hitCounter{hits: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter.mu.Lock()
		counter.hits[r.URL.Path]++
		counter.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, counter
}

func compile(t *testing.T, src string) script.Program {
	t.Helper()
	prog, err := script.Compile("scenario.lua", src)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return prog
}

func TestRunRecordsScenarioErrors(t *testing.T) {
	srv, _ := newCountingServer(t)
	r := runner.New(runner.Options{
		BaseURL:          srv.URL,
		Program:          compile(t, `function scenario(ctx) ctx:pace(5); error("boom") end`),
		Duration:         300 * time.Millisecond,
		Connections:      2,
		StartConnections: 2,
	})

	snap, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if snap.TotalRequests != 0 {
		t.Fatalf("TotalRequests = %d, want 0", snap.TotalRequests)
	}
	if snap.TotalErrors == 0 {
		t.Fatal("expected scenario errors to be recorded")
	}
	if len(snap.Errors) != 1 {
		t.Fatalf("Errors = %v, want a single error name", snap.Errors)
	}
	for name, count := range snap.Errors {
		if !strings.HasSuffix(name, "boom") || count != snap.TotalErrors {
			t.Fatalf("error %q count = %d, want %d", name, count, snap.TotalErrors)
		}
	}
	if snap.Connections != 2 {
		t.Fatalf("Connections = %d, want 2", snap.Connections)
	}
	if snap.Elapsed != 300*time.Millisecond {
		t.Fatalf("Elapsed = %s, want the configured duration", snap.Elapsed)
	}
}

func TestRunHooksRunOncePerScope(t *testing.T) {
	srv, hits := newCountingServer(t)
	src := `
function global_setup(ctx) ctx:get("/global_setup") end
function setup(ctx) ctx:get("/setup") end
function scenario(ctx) ctx:get("/scenario"); ctx:pace(10) end
function teardown(ctx) ctx:get("/teardown") end
function global_teardown(ctx) ctx:get("/global_teardown") end
`
	r := runner.New(runner.Options{
		BaseURL:          srv.URL,
		Program:          compile(t, src),
		Duration:         400 * time.Millisecond,
		Connections:      3,
		StartConnections: 3,
	})

	snap, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for path, want := range map[string]int{
		"/global_setup":    1,
		"/setup":           3,
		"/teardown":        3,
		"/global_teardown": 1,
	} {
		if got := hits.get(path); got != want {
			t.Errorf("%s hits = %d, want %d", path, got, want)
		}
	}
	scenarios := hits.get("/scenario")
	if scenarios == 0 {
		t.Fatal("scenario never ran")
	}
	if want := uint64(scenarios + 8); snap.TotalRequests != want {
		t.Fatalf("TotalRequests = %d, want %d", snap.TotalRequests, want)
	}
	if snap.TotalErrors != 0 {
		t.Fatalf("TotalErrors = %d, errors %v", snap.TotalErrors, snap.Errors)
	}
}

func TestRunOnceSingleRequest(t *testing.T) {
	srv, hits := newCountingServer(t)
	r := runner.New(runner.Options{
		BaseURL: srv.URL,
		Program: compile(t, `function scenario(ctx) ctx:get("/") end`),
	})

	snap, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if snap.TotalRequests != 1 {
		t.Fatalf("TotalRequests = %d, want 1", snap.TotalRequests)
	}
	if got := snap.Latency().Samples; got != 1 {
		t.Fatalf("latency samples = %d, want 1", got)
	}
	if hits.get("/") != 1 {
		t.Fatalf("server hits = %d, want 1", hits.get("/"))
	}
	if snap.Duration != snap.Elapsed || snap.Elapsed <= 0 {
		t.Fatalf("Duration = %s, Elapsed = %s", snap.Duration, snap.Elapsed)
	}
}

func TestMissingScenario(t *testing.T) {
	srv, _ := newCountingServer(t)
	r := runner.New(runner.Options{
		BaseURL:  srv.URL,
		Program:  compile(t, `function setup(ctx) end`),
		Duration: time.Second,
	})
	if _, err := r.Run(context.Background()); !errors.Is(err, runner.ErrScenarioMissing) {
		t.Fatalf("Run() error = %v, want ErrScenarioMissing", err)
	}
	if _, err := r.RunOnce(context.Background()); !errors.Is(err, runner.ErrScenarioMissing) {
		t.Fatalf("RunOnce() error = %v, want ErrScenarioMissing", err)
	}
}

func TestGlobalSetupFailureAbortsRun(t *testing.T) {
	srv, hits := newCountingServer(t)
	r := runner.New(runner.Options{
		BaseURL:  srv.URL,
		Program:  compile(t, `function global_setup(ctx) error("no fixtures") end function scenario(ctx) ctx:get("/") end`),
		Duration: time.Second,
	})

	_, err := r.Run(context.Background())
	var hookErr *runner.HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("Run() error = %v, want *HookError", err)
	}
	if hookErr.Hook != script.HookGlobalSetup || hookErr.VU != 0 {
		t.Fatalf("hook error = %+v", hookErr)
	}
	if hits.get("/") != 0 {
		t.Fatal("scenario ran after global setup failed")
	}
}

func TestVUSetupFailureOnlyStopsThatVU(t *testing.T) {
	srv, _ := newCountingServer(t)
	src := `
function setup(ctx) if ctx:vu() == 1 then error("bad vu") end end
function scenario(ctx) ctx:get("/"); ctx:pace(10) end
`
	r := runner.New(runner.Options{
		BaseURL:          srv.URL,
		Program:          compile(t, src),
		Duration:         300 * time.Millisecond,
		Connections:      2,
		StartConnections: 2,
	})
	snap, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if snap.TotalRequests == 0 {
		t.Fatal("healthy VU made no requests")
	}
}

func TestRateLimitCapsIterations(t *testing.T) {
	srv, hits := newCountingServer(t)
	r := runner.New(runner.Options{
		BaseURL:          srv.URL,
		Program:          compile(t, `function scenario(ctx) ctx:get("/") end`),
		Duration:         500 * time.Millisecond,
		Connections:      4,
		StartConnections: 4,
		RatePerSecond:    20,
		LimiterFactory:   func(rps int) *rate.Limiter { return rate.NewLimiter(rate.Limit(rps), 1) },
	})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// 20/s for 0.5s plus the initial token
	if got := hits.get("/"); got > 13 {
		t.Fatalf("iterations = %d, want at most 13", got)
	}
}

func TestProgressReportsEachTick(t *testing.T) {
	srv, _ := newCountingServer(t)
	var reports []metrics.Snapshot
	r := runner.New(runner.Options{
		BaseURL:          srv.URL,
		Program:          compile(t, `function scenario(ctx) ctx:get("/"); ctx:pace(20) end`),
		Duration:         2500 * time.Millisecond,
		Connections:      1,
		StartConnections: 1,
		RunID:            "run-1",
		Progress: func(s metrics.Snapshot) {
			reports = append(reports, s)
		},
	})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("progress calls = %d, want 2", len(reports))
	}
	first := reports[0]
	if first.Elapsed < time.Second || first.Elapsed > 1500*time.Millisecond {
		t.Fatalf("first report at %s, want about 1s", first.Elapsed)
	}
	if first.RunID != "run-1" || first.TotalRequests == 0 {
		t.Fatalf("progress snapshot = %+v", first)
	}
	if len(first.RPSSamples) == 0 {
		t.Fatal("progress snapshot carries no RPS samples")
	}
}

func TestProgressSeesCurrentTickSpawns(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-second ramp")
	}
	srv, _ := newCountingServer(t)
	var conns []int64
	r := runner.New(runner.Options{
		BaseURL:     srv.URL,
		Program:     compile(t, `function scenario(ctx) ctx:pace(50) end`),
		Duration:    3500 * time.Millisecond,
		Connections: 4,
		RampUp:      3 * time.Second,
		Progress: func(s metrics.Snapshot) {
			conns = append(conns, s.Connections)
		},
	})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []int64{1, 2, 4}
	if len(conns) != len(want) {
		t.Fatalf("connections per report = %v, want %v", conns, want)
	}
	for i := range want {
		if conns[i] != want[i] {
			t.Fatalf("connections per report = %v, want %v", conns, want)
		}
	}
}

func TestVUTeardownFailureStaysLocal(t *testing.T) {
	srv, hits := newCountingServer(t)
	src := `
function teardown(ctx) if ctx:vu() == 1 then error("cleanup failed") end ctx:get("/bye") end
function global_teardown(ctx) ctx:get("/done") end
function scenario(ctx) ctx:get("/"); ctx:pace(10) end
`
	r := runner.New(runner.Options{
		BaseURL:          srv.URL,
		Program:          compile(t, src),
		Duration:         300 * time.Millisecond,
		Connections:      2,
		StartConnections: 2,
	})
	snap, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := hits.get("/bye"); got != 1 {
		t.Fatalf("teardown requests = %d, want 1 from the healthy VU", got)
	}
	if got := hits.get("/done"); got != 1 {
		t.Fatalf("global teardown requests = %d, want 1", got)
	}
	if snap.TotalRequests == 0 {
		t.Fatal("no scenario requests recorded")
	}
}

func TestGlobalTeardownFailureIsReturned(t *testing.T) {
	srv, hits := newCountingServer(t)
	src := `
function global_teardown(ctx) error("report upload failed") end
function scenario(ctx) ctx:get("/"); ctx:pace(10) end
`
	r := runner.New(runner.Options{
		BaseURL:          srv.URL,
		Program:          compile(t, src),
		Duration:         200 * time.Millisecond,
		Connections:      1,
		StartConnections: 1,
	})
	snap, err := r.Run(context.Background())
	var hookErr *runner.HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("Run() error = %v, want *HookError", err)
	}
	if hookErr.Hook != script.HookGlobalTeardown || hookErr.VU != 0 {
		t.Fatalf("hook error = %+v", hookErr)
	}
	if !strings.Contains(err.Error(), "report upload failed") {
		t.Fatalf("error message = %q", err.Error())
	}
	if hits.get("/") == 0 || snap.TotalRequests == 0 {
		t.Fatal("the scenario should have run before global teardown")
	}

	_, err = r.RunOnce(context.Background())
	if !errors.As(err, &hookErr) || hookErr.Hook != script.HookGlobalTeardown {
		t.Fatalf("RunOnce() error = %v, want global teardown *HookError", err)
	}
}

func TestCancelStopsRun(t *testing.T) {
	srv, _ := newCountingServer(t)
	r := runner.New(runner.Options{
		BaseURL:          srv.URL,
		Program:          compile(t, `function scenario(ctx) ctx:pace(50) end`),
		Duration:         time.Minute,
		Connections:      2,
		StartConnections: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	snap, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("run ignored cancellation: %s", time.Since(start))
	}
	if snap.Elapsed >= time.Minute {
		t.Fatalf("Elapsed = %s, want the interrupted time", snap.Elapsed)
	}
}
