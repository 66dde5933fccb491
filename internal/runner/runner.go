package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/torosent/wrkr/internal/grpcclient"
	"github.com/torosent/wrkr/internal/httpclient"
	"github.com/torosent/wrkr/internal/metrics"
	"github.com/torosent/wrkr/internal/script"
)

const (
	tickInterval  = time.Second
	flushInterval = time.Second
)

// Runner drives virtual users through a compiled scenario.
type Runner struct {
	opt  Options
	plan *rampPlan
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt, plan: compileRampPlan(opt)}
}

// services are the host-side collaborators shared by every VU of a run.
type services struct {
	agg    *metrics.Aggregator
	http   *httpclient.Executor
	grpc   *grpcclient.Invoker
	client *http.Client
	pool   *grpcclient.ConnPool
}

func (r *Runner) newServices(maxConns int) (*services, error) {
	if r.opt.Program == nil {
		return nil, errors.New("runner: a compiled script is required")
	}
	client := httpclient.NewClient(httpclient.Options{
		Timeout:  r.opt.Timeout,
		MaxConns: maxConns,
		HTTP2:    r.opt.HTTP2,
	})
	exec, err := httpclient.NewExecutor(client, r.opt.BaseURL, httpclient.WithTracing(r.opt.Tracing))
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	pool := grpcclient.NewConnPool(r.opt.dialConfig())
	inv, err := grpcclient.NewInvoker(pool, r.opt.BaseURL, r.opt.Timeout, grpcclient.WithTracing(r.opt.Tracing))
	if err != nil {
		// the base URL is not a gRPC target; ctx:grpc reports it per call
		r.opt.Logger.Debug("grpc disabled", zap.Error(err))
		inv = nil
	}
	return &services{
		agg:    metrics.NewAggregator(r.opt.RunID),
		http:   exec,
		grpc:   inv,
		client: client,
		pool:   pool,
	}, nil
}

func (s *services) close() {
	s.client.CloseIdleConnections()
	_ = s.pool.Close()
}

// vu is one prepared virtual user.
type vu struct {
	id    int
	inst  script.Instance
	stats *metrics.LocalStats
}

func (r *Runner) prepare(svc *services, id int) (*vu, error) {
	stats := metrics.NewLocalStats()
	inst, err := r.opt.Program.NewInstance(script.Env{
		VU:    id,
		HTTP:  svc.http,
		GRPC:  svc.grpc,
		Stats: stats,
	})
	if err != nil {
		return nil, fmt.Errorf("load script for vu %d: %w", id, err)
	}
	return &vu{id: id, inst: inst, stats: stats}, nil
}

// prepareAll instantiates count VUs in parallel, ids 1..count.
func (r *Runner) prepareAll(ctx context.Context, svc *services, count int) ([]*vu, error) {
	vus := make([]*vu, count)
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range vus {
		g.Go(func() error {
			v, err := r.prepare(svc, i+1)
			if err != nil {
				return err
			}
			vus[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, v := range vus {
			if v != nil {
				v.inst.Close()
			}
		}
		return nil, err
	}
	return vus, nil
}

// startGlobal prepares the VU 0 instance, checks the script defines a
// scenario and runs global_setup.
func (r *Runner) startGlobal(ctx context.Context, svc *services) (*vu, error) {
	global, err := r.prepare(svc, 0)
	if err != nil {
		return nil, err
	}
	if !global.inst.HasHook(script.HookScenario) {
		global.inst.Close()
		return nil, ErrScenarioMissing
	}
	err = global.inst.Call(ctx, script.HookGlobalSetup)
	global.stats.FlushTo(svc.agg)
	if err != nil {
		global.inst.Close()
		r.opt.Logger.Error("global setup failed", zap.Error(err))
		return nil, &HookError{Hook: script.HookGlobalSetup, Err: err}
	}
	return global, nil
}

func (r *Runner) finishGlobal(ctx context.Context, svc *services, global *vu) error {
	defer global.inst.Close()
	err := global.inst.Call(context.WithoutCancel(ctx), script.HookGlobalTeardown)
	global.stats.FlushTo(svc.agg)
	if err != nil {
		r.opt.Logger.Error("global teardown failed", zap.Error(err))
		return &HookError{Hook: script.HookGlobalTeardown, Err: err}
	}
	return nil
}

// Run executes the scenario for opt.Duration, ramping VUs up per the plan,
// and returns the final snapshot. Only script load failures, a missing
// scenario and global hook failures are returned as errors; everything else
// is recorded in the snapshot's error breakdown.
//
// Cancelling ctx stops spawning and lets VUs exit at their next iteration
// boundary.
func (r *Runner) Run(ctx context.Context) (metrics.Snapshot, error) {
	maxVUs := max(r.plan.maxVUs(), 1)
	svc, err := r.newServices(maxVUs)
	if err != nil {
		return metrics.Snapshot{}, err
	}
	defer svc.close()

	global, err := r.startGlobal(ctx, svc)
	if err != nil {
		return metrics.Snapshot{}, err
	}

	vus, err := r.prepareAll(ctx, svc, maxVUs)
	if err != nil {
		global.inst.Close()
		return metrics.Snapshot{}, err
	}
	r.opt.Logger.Debug("prepared vus", zap.String("script", r.opt.Program.Name()), zap.Int("count", len(vus)))

	var limiter *rate.Limiter
	if r.opt.RatePerSecond > 0 {
		limiter = r.opt.LimiterFactory(r.opt.RatePerSecond)
	}

	start := time.Now()
	deadline := start.Add(r.opt.Duration)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var wg sync.WaitGroup
	spawned := 0
	spawnUpTo := func(target int) {
		for spawned < target {
			if spawned >= len(vus) {
				r.opt.Logger.Warn("not enough prepared VUs", zap.Int("target", target), zap.Int("prepared", len(vus)))
				return
			}
			v := vus[spawned]
			spawned++
			svc.agg.IncConnections()
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.runVU(runCtx, svc.agg, v, deadline, limiter)
			}()
		}
	}

	sampler := newRPSSampler(start)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	// no report at t=0, it would be all zeros
	spawnUpTo(r.plan.targetAt(0))
loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case now := <-ticker.C:
			sampler.observe(now, svc.agg.TotalRequests())
		}
		if runCtx.Err() != nil {
			break
		}

		spawnUpTo(r.plan.targetAt(time.Since(start)))
		if r.opt.Progress != nil {
			r.opt.Progress(svc.agg.Snapshot(r.opt.Duration, time.Since(start), sampler.samples()))
		}
	}

	for _, v := range vus[spawned:] {
		v.inst.Close()
	}
	r.opt.Logger.Debug("draining", zap.Int("vus", spawned))
	wg.Wait()
	r.opt.Logger.Debug("drained")

	elapsed := r.opt.Duration
	if ctx.Err() != nil {
		elapsed = min(time.Since(start), r.opt.Duration)
	}

	if err := r.finishGlobal(ctx, svc, global); err != nil {
		return svc.agg.Snapshot(r.opt.Duration, elapsed, sampler.samples()), err
	}
	return svc.agg.Snapshot(r.opt.Duration, elapsed, sampler.samples()), nil
}

// RunOnce runs exactly one scenario iteration on VU 1, wrapped in the global
// and per-VU hooks. The snapshot's duration and elapsed time are the wall
// time taken.
func (r *Runner) RunOnce(ctx context.Context) (metrics.Snapshot, error) {
	start := time.Now()
	svc, err := r.newServices(1)
	if err != nil {
		return metrics.Snapshot{}, err
	}
	defer svc.close()

	global, err := r.startGlobal(ctx, svc)
	if err != nil {
		return metrics.Snapshot{}, err
	}

	v, err := r.prepare(svc, 1)
	if err != nil {
		global.inst.Close()
		return metrics.Snapshot{}, err
	}
	svc.agg.IncConnections()
	r.runOnceVU(ctx, svc.agg, v)

	err = r.finishGlobal(ctx, svc, global)
	elapsed := time.Since(start)
	return svc.agg.Snapshot(elapsed, elapsed, nil), err
}

func (r *Runner) runVU(ctx context.Context, agg *metrics.Aggregator, v *vu, deadline time.Time, limiter *rate.Limiter) {
	defer v.inst.Close()
	defer v.stats.FlushTo(agg)

	if !r.setupVU(ctx, v) {
		return
	}

	lastFlush := time.Now()
	for time.Now().Before(deadline) && ctx.Err() == nil {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		if time.Since(lastFlush) >= flushInterval {
			v.stats.FlushTo(agg)
			lastFlush = time.Now()
		}
		r.iterate(ctx, v)
	}

	r.teardownVU(ctx, v)
}

func (r *Runner) runOnceVU(ctx context.Context, agg *metrics.Aggregator, v *vu) {
	defer v.inst.Close()
	defer v.stats.FlushTo(agg)

	if !r.setupVU(ctx, v) {
		return
	}
	r.iterate(ctx, v)
	r.teardownVU(ctx, v)
}

// iterate runs one scenario call; a script error is recorded, never raised.
func (r *Runner) iterate(ctx context.Context, v *vu) {
	if err := v.inst.Call(ctx, script.HookScenario); err != nil {
		v.stats.RecordError(script.CleanErrorMessage(err))
	}
}

func (r *Runner) setupVU(ctx context.Context, v *vu) bool {
	if err := v.inst.Call(ctx, script.HookSetup); err != nil {
		r.opt.Logger.Error("vu setup failed", zap.Int("vu", v.id),
			zap.Error(&HookError{Hook: script.HookSetup, VU: v.id, Err: err}))
		return false
	}
	return true
}

func (r *Runner) teardownVU(ctx context.Context, v *vu) {
	if err := v.inst.Call(context.WithoutCancel(ctx), script.HookTeardown); err != nil {
		r.opt.Logger.Error("vu teardown failed", zap.Int("vu", v.id),
			zap.Error(&HookError{Hook: script.HookTeardown, VU: v.id, Err: err}))
	}
}

// rpsSampler turns the running request total into one requests-per-second
// sample per elapsed second.
type rpsSampler struct {
	last     time.Time
	lastReqs uint64
	values   []float64
}

func newRPSSampler(start time.Time) *rpsSampler {
	return &rpsSampler{last: start}
}

func (s *rpsSampler) observe(now time.Time, total uint64) {
	elapsed := now.Sub(s.last)
	if elapsed < time.Second {
		return
	}
	s.values = append(s.values, float64(total-s.lastReqs)/elapsed.Seconds())
	s.last = now
	s.lastReqs = total
}

func (s *rpsSampler) samples() []float64 {
	return s.values
}
