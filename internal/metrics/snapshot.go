package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Snapshot is an immutable view of the aggregated statistics.
type Snapshot struct {
	RunID         string
	Duration      time.Duration
	Elapsed       time.Duration
	Connections   int64
	TotalRequests uint64
	TotalErrors   uint64
	BytesSent     uint64
	BytesReceived uint64
	Errors        map[string]uint64
	RPSSamples    []float64

	hist *hdrhistogram.Histogram
}

// Percentile is one point of the latency distribution.
type Percentile struct {
	Percent int
	Latency time.Duration
}

// LatencyStats summarises the latency histogram.
type LatencyStats struct {
	Samples int64
	Min     time.Duration
	Max     time.Duration
	Mean    time.Duration
	Stdev   time.Duration
	P50     time.Duration
	P75     time.Duration
	P90     time.Duration
	P99     time.Duration
	// WithinStdev is the percentage of samples within one standard
	// deviation of the mean.
	WithinStdev  float64
	Distribution []Percentile
}

// distributionPercents are the points reported in LatencyStats.Distribution.
var distributionPercents = []int{10, 25, 50, 75, 90, 99}

func micros(v float64) time.Duration {
	return time.Duration(v * float64(time.Microsecond))
}

// Latency computes summary statistics from the histogram. All fields are zero
// when no samples were recorded.
func (s Snapshot) Latency() LatencyStats {
	if s.hist == nil || s.hist.TotalCount() == 0 {
		return LatencyStats{}
	}
	h := s.hist
	ls := LatencyStats{
		Samples: h.TotalCount(),
		Min:     micros(float64(h.Min())),
		Max:     micros(float64(h.Max())),
		Mean:    micros(h.Mean()),
		Stdev:   micros(h.StdDev()),
		P50:     micros(float64(h.ValueAtQuantile(50))),
		P75:     micros(float64(h.ValueAtQuantile(75))),
		P90:     micros(float64(h.ValueAtQuantile(90))),
		P99:     micros(float64(h.ValueAtQuantile(99))),
	}
	ls.Distribution = make([]Percentile, 0, len(distributionPercents))
	for _, p := range distributionPercents {
		ls.Distribution = append(ls.Distribution, Percentile{
			Percent: p,
			Latency: micros(float64(h.ValueAtQuantile(float64(p)))),
		})
	}

	lo := int64(h.Mean() - h.StdDev())
	hi := int64(h.Mean() + h.StdDev())
	var within int64
	for _, bar := range h.Distribution() {
		if bar.Count == 0 {
			continue
		}
		if bar.To >= lo && bar.To <= hi {
			within += bar.Count
		}
	}
	ls.WithinStdev = float64(within) / float64(h.TotalCount()) * 100
	return ls
}

// LatencyAt returns the latency at quantile q in [0, 100].
func (s Snapshot) LatencyAt(q float64) time.Duration {
	if s.hist == nil || s.hist.TotalCount() == 0 {
		return 0
	}
	return micros(float64(s.hist.ValueAtQuantile(q)))
}

// RequestsPerSec is the average throughput over the elapsed time.
func (s Snapshot) RequestsPerSec() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.TotalRequests) / s.Elapsed.Seconds()
}

// ErrorRate is the fraction of requests that failed, in [0, 1] for request
// errors. Script errors raised outside a request can push it above 1.
func (s Snapshot) ErrorRate() float64 {
	if s.TotalRequests == 0 {
		if s.TotalErrors > 0 {
			return 1
		}
		return 0
	}
	return float64(s.TotalErrors) / float64(s.TotalRequests)
}

// BytesPerSec is the average received throughput over the elapsed time.
func (s Snapshot) BytesPerSec() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.BytesReceived) / s.Elapsed.Seconds()
}

// RPSStats summarises the per-second throughput samples.
type RPSStats struct {
	Mean  float64
	Stdev float64
	Max   float64
}

// RPS returns the mean, sample standard deviation and maximum of the
// per-second throughput samples.
func (s Snapshot) RPS() RPSStats {
	n := len(s.RPSSamples)
	if n == 0 {
		return RPSStats{}
	}
	var st RPSStats
	var sum float64
	for _, v := range s.RPSSamples {
		sum += v
		st.Max = math.Max(st.Max, v)
	}
	st.Mean = sum / float64(n)
	if n > 1 {
		var sq float64
		for _, v := range s.RPSSamples {
			sq += (v - st.Mean) * (v - st.Mean)
		}
		st.Stdev = math.Sqrt(sq / float64(n-1))
	}
	return st
}

// ErrorCount is one row of the error breakdown.
type ErrorCount struct {
	Name  string `json:"name" yaml:"name"`
	Count uint64 `json:"count" yaml:"count"`
}

// SortedErrors returns the error breakdown sorted by descending count, then by
// name for stability.
func (s Snapshot) SortedErrors() []ErrorCount {
	if len(s.Errors) == 0 {
		return nil
	}
	rows := make([]ErrorCount, 0, len(s.Errors))
	for name, n := range s.Errors {
		rows = append(rows, ErrorCount{Name: name, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
