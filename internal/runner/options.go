package runner

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/wrkr/internal/grpcclient"
	"github.com/torosent/wrkr/internal/httpclient"
	"github.com/torosent/wrkr/internal/metrics"
	"github.com/torosent/wrkr/internal/script"
	"github.com/torosent/wrkr/internal/tracing"
)

// ProgressFunc receives a snapshot once per tick. It runs on the scheduler
// goroutine and delays the next spawn decision, so it must return quickly.
type ProgressFunc func(metrics.Snapshot)

// Options configure the Runner.
type Options struct {
	BaseURL string         // URL relative script requests resolve against (required)
	Program script.Program // compiled scenario (required)
	RunID   string         // stamped on every snapshot

	Duration         time.Duration // wall-clock run length (Run only)
	Connections      int           // target VU count
	StartConnections int           // VUs active at t=0
	RampUp           time.Duration // window to reach Connections; 0 means max(Duration-1s, 1s)
	StepConnections  []int         // stepped ramp levels, used with StepDuration
	StepDuration     time.Duration // hold time per step

	Timeout       time.Duration // per-request client timeout
	HTTP2         bool          // speak HTTP/2 (h2c for plain http targets)
	GRPCInsecure  bool          // skip TLS verification for gRPC targets
	RatePerSecond int           // global scenario iterations per second (0 means unlimited)

	Tracing  *tracing.Provider
	Logger   *zap.Logger
	Progress ProgressFunc

	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.Connections <= 0 {
		o.Connections = 1
	}
	if o.StartConnections < 0 {
		o.StartConnections = 0
	}
	if o.RampUp < 0 {
		o.RampUp = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = httpclient.DefaultTimeout
	}
	if o.RatePerSecond < 0 {
		o.RatePerSecond = 0
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst equal to rps to smooth pacing under concurrency.
			return rate.NewLimiter(rate.Limit(rps), rps)
		}
	}
}

func (o *Options) rampWindow() time.Duration {
	if o.RampUp > 0 {
		return o.RampUp
	}
	return max(o.Duration-time.Second, time.Second)
}

func (o *Options) dialConfig() grpcclient.DialConfig {
	return grpcclient.DialConfig{Insecure: o.GRPCInsecure}
}
