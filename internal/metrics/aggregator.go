package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Aggregator is the run-wide statistics sink shared by every VU.
// All methods are safe for concurrent use.
type Aggregator struct {
	runID string

	connections   atomic.Int64
	requests      atomic.Uint64
	errors        atomic.Uint64
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	// error name -> *atomic.Uint64
	errorsByName sync.Map

	histMu sync.Mutex
	hist   *hdrhistogram.Histogram
}

// NewAggregator returns an empty Aggregator tagged with runID.
func NewAggregator(runID string) *Aggregator {
	return &Aggregator{
		runID: runID,
		hist:  newLatencyHistogram(),
	}
}

// IncConnections records one more active VU.
func (a *Aggregator) IncConnections() {
	a.connections.Add(1)
}

// Connections reports the number of VUs that have been activated.
func (a *Aggregator) Connections() int64 {
	return a.connections.Load()
}

// TotalRequests reports the merged request count.
func (a *Aggregator) TotalRequests() uint64 {
	return a.requests.Load()
}

func (a *Aggregator) merge(l *LocalStats) {
	a.requests.Add(l.requests)
	a.bytesSent.Add(l.bytesSent)
	a.bytesReceived.Add(l.bytesReceived)

	var errCount uint64
	for name, n := range l.errors {
		errCount += n
		v, ok := a.errorsByName.Load(name)
		if !ok {
			v, _ = a.errorsByName.LoadOrStore(name, new(atomic.Uint64))
		}
		v.(*atomic.Uint64).Add(n)
	}
	a.errors.Add(errCount)

	if l.hist.TotalCount() > 0 {
		a.histMu.Lock()
		a.hist.Merge(l.hist)
		a.histMu.Unlock()
	}
}

// Snapshot captures the current totals. duration is the configured run length
// and elapsed the wall time spent so far. The returned Snapshot owns copies of
// all mutable state and is unaffected by later merges.
func (a *Aggregator) Snapshot(duration, elapsed time.Duration, rpsSamples []float64) Snapshot {
	errs := make(map[string]uint64)
	a.errorsByName.Range(func(k, v any) bool {
		errs[k.(string)] = v.(*atomic.Uint64).Load()
		return true
	})

	a.histMu.Lock()
	hist := hdrhistogram.Import(a.hist.Export())
	a.histMu.Unlock()

	samples := make([]float64, len(rpsSamples))
	copy(samples, rpsSamples)

	return Snapshot{
		RunID:         a.runID,
		Duration:      duration,
		Elapsed:       elapsed,
		Connections:   a.connections.Load(),
		TotalRequests: a.requests.Load(),
		TotalErrors:   a.errors.Load(),
		BytesSent:     a.bytesSent.Load(),
		BytesReceived: a.bytesReceived.Load(),
		Errors:        errs,
		RPSSamples:    samples,
		hist:          hist,
	}
}
