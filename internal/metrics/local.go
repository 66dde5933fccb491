package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	lowestLatencyUs  = 1
	highestLatencyUs = 60_000_000
	latencySigFigs   = 3
)

func newLatencyHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(lowestLatencyUs, highestLatencyUs, latencySigFigs)
}

func clampMicros(d time.Duration) int64 {
	us := d.Microseconds()
	if us < lowestLatencyUs {
		return lowestLatencyUs
	}
	if us > highestLatencyUs {
		return highestLatencyUs
	}
	return us
}

// LocalStats accumulates one VU's measurements between flushes.
// It is owned by a single goroutine and is not safe for concurrent use.
type LocalStats struct {
	requests      uint64
	bytesSent     uint64
	bytesReceived uint64
	errors        map[string]uint64
	hist          *hdrhistogram.Histogram
}

// NewLocalStats returns an empty LocalStats.
func NewLocalStats() *LocalStats {
	return &LocalStats{
		errors: make(map[string]uint64),
		hist:   newLatencyHistogram(),
	}
}

// RecordRequest counts one completed request along with its wire sizes and
// latency sample.
func (l *LocalStats) RecordRequest(latency time.Duration, sent, received int) {
	l.requests++
	if sent > 0 {
		l.bytesSent += uint64(sent)
	}
	if received > 0 {
		l.bytesReceived += uint64(received)
	}
	_ = l.hist.RecordValue(clampMicros(latency))
}

// RecordAttempt counts a request that produced no response and therefore has
// no latency sample.
func (l *LocalStats) RecordAttempt(sent int) {
	l.requests++
	if sent > 0 {
		l.bytesSent += uint64(sent)
	}
}

// RecordError increments the counter for name.
func (l *LocalStats) RecordError(name string) {
	l.errors[name]++
}

// Empty reports whether nothing has been recorded since the last flush.
func (l *LocalStats) Empty() bool {
	return l.requests == 0 && l.bytesSent == 0 && l.bytesReceived == 0 &&
		len(l.errors) == 0 && l.hist.TotalCount() == 0
}

// FlushTo merges the accumulated delta into agg and clears the local state.
// Each sample is therefore merged exactly once.
func (l *LocalStats) FlushTo(agg *Aggregator) {
	if l.Empty() {
		return
	}
	agg.merge(l)
	l.reset()
}

func (l *LocalStats) reset() {
	l.requests = 0
	l.bytesSent = 0
	l.bytesReceived = 0
	clear(l.errors)
	l.hist.Reset()
}
