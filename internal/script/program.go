package script

import (
	"context"

	"github.com/torosent/wrkr/internal/grpcclient"
	"github.com/torosent/wrkr/internal/httpclient"
	"github.com/torosent/wrkr/internal/metrics"
)

// Hook names a script entry point.
type Hook string

const (
	HookGlobalSetup    Hook = "global_setup"
	HookGlobalTeardown Hook = "global_teardown"
	HookSetup          Hook = "setup"
	HookTeardown       Hook = "teardown"
	HookScenario       Hook = "scenario"
)

// Env carries the host services one instance may use. HTTP and Stats are
// required; GRPC may be nil, in which case ctx:grpc raises a script error.
type Env struct {
	VU    int
	HTTP  *httpclient.Executor
	GRPC  *grpcclient.Invoker
	Stats *metrics.LocalStats
}

// Program is a compiled scenario shared read-only by every VU.
type Program interface {
	Name() string
	// NewInstance creates an isolated interpreter and runs the script's top
	// level in it.
	NewInstance(env Env) (Instance, error)
}

// Instance is one VU's interpreter. It must only be used from one goroutine.
type Instance interface {
	VU() int
	HasHook(h Hook) bool
	// Call runs hook with the ctx object. ctx bounds pace() sleeps but does
	// not interrupt in-flight requests.
	Call(ctx context.Context, h Hook) error
	Close()
}
