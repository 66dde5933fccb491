package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/torosent/wrkr/internal/metrics"
)

// ProgressLine is one NDJSON record emitted per progress tick. Throughput
// fields cover the interval since the previous tick; latency figures are
// cumulative and in microseconds.
type ProgressLine struct {
	ElapsedSecs         uint64            `json:"elapsed_secs"`
	Connections         int64             `json:"connections"`
	RequestsPerSec      float64           `json:"requests_per_sec"`
	BytesPerSec         uint64            `json:"bytes_per_sec"`
	TotalRequests       uint64            `json:"total_requests"`
	TotalBytes          uint64            `json:"total_bytes"`
	TotalErrors         uint64            `json:"total_errors"`
	LatencyMean         float64           `json:"latency_mean"`
	LatencyStdev        float64           `json:"latency_stdev"`
	LatencyMax          float64           `json:"latency_max"`
	LatencyP50          float64           `json:"latency_p50"`
	LatencyP75          float64           `json:"latency_p75"`
	LatencyP90          float64           `json:"latency_p90"`
	LatencyP99          float64           `json:"latency_p99"`
	LatencyStdevPct     float64           `json:"latency_stdev_pct"`
	LatencyDistribution [][2]float64      `json:"latency_distribution"`
	Errors              map[string]uint64 `json:"errors"`
	ReqPerSecAvg        float64           `json:"req_per_sec_avg"`
	ReqPerSecStdev      float64           `json:"req_per_sec_stdev"`
	ReqPerSecMax        float64           `json:"req_per_sec_max"`
	ReqPerSecStdevPct   float64           `json:"req_per_sec_stdev_pct"`
}

// ProgressReporter renders live progress snapshots, either as NDJSON lines or
// as a single rewritten status line. It is safe for concurrent use.
type ProgressReporter struct {
	mu     sync.Mutex
	writer io.Writer
	json   bool

	lastElapsed  time.Duration
	lastRequests uint64
	lastBytes    uint64
	seenErrors   map[string]uint64
}

// NewProgressReporter returns a reporter writing NDJSON when asJSON is set,
// and a status line otherwise. A nil writer discards output.
func NewProgressReporter(writer io.Writer, asJSON bool) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		writer:     writer,
		json:       asJSON,
		seenErrors: map[string]uint64{},
	}
}

// Report consumes one progress snapshot. It matches runner.ProgressFunc.
func (p *ProgressReporter) Report(snap metrics.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	interval := (snap.Elapsed - p.lastElapsed).Seconds()
	var rps float64
	var bps uint64
	if interval > 0 {
		rps = float64(snap.TotalRequests-p.lastRequests) / interval
		bps = uint64(float64(snap.BytesReceived-p.lastBytes) / interval)
	}
	p.lastElapsed = snap.Elapsed
	p.lastRequests = snap.TotalRequests
	p.lastBytes = snap.BytesReceived

	if p.json {
		// nothing useful to report before the first request completes
		if snap.TotalRequests == 0 {
			return
		}
		line := NewProgressLine(snap, rps, bps)
		data, err := json.Marshal(line)
		if err != nil {
			return
		}
		fmt.Fprintf(p.writer, "%s\n", data)
		return
	}

	fmt.Fprintf(p.writer, "\r[%s] Conns: %d | RPS: %.0f | TPS: %s",
		formatSeconds(snap.Elapsed.Truncate(time.Second)), snap.Connections, rps, HumanizeBytes(bps))
	errColor := color.New(color.FgRed)
	for _, row := range snap.SortedErrors() {
		if p.seenErrors[row.Name] == row.Count {
			continue
		}
		p.seenErrors[row.Name] = row.Count
		errColor.Fprintf(p.writer, "\nError: %s - %d", row.Name, row.Count)
	}
}

// Finish terminates the status line so following output starts on a fresh
// line.
func (p *ProgressReporter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.json && p.lastElapsed > 0 {
		fmt.Fprintln(p.writer)
	}
}

// NewProgressLine builds the NDJSON record for snap with the given interval
// throughput.
func NewProgressLine(snap metrics.Snapshot, rps float64, bytesPerSec uint64) ProgressLine {
	lat := snap.Latency()
	rpsStats := snap.RPS()

	errs := snap.Errors
	if errs == nil {
		errs = map[string]uint64{}
	}
	line := ProgressLine{
		ElapsedSecs:       uint64(snap.Elapsed / time.Second),
		Connections:       snap.Connections,
		RequestsPerSec:    rps,
		BytesPerSec:       bytesPerSec,
		TotalRequests:     snap.TotalRequests,
		TotalBytes:        snap.BytesReceived,
		TotalErrors:       snap.TotalErrors,
		LatencyMean:       toMicros(lat.Mean),
		LatencyStdev:      toMicros(lat.Stdev),
		LatencyMax:        toMicros(lat.Max),
		LatencyP50:        toMicros(lat.P50),
		LatencyP75:        toMicros(lat.P75),
		LatencyP90:        toMicros(lat.P90),
		LatencyP99:        toMicros(lat.P99),
		LatencyStdevPct:   pctOf(toMicros(lat.Stdev), toMicros(lat.Mean)),
		Errors:            errs,
		ReqPerSecAvg:      rpsStats.Mean,
		ReqPerSecStdev:    rpsStats.Stdev,
		ReqPerSecMax:      rpsStats.Max,
		ReqPerSecStdevPct: pctOf(rpsStats.Stdev, rpsStats.Mean),
	}
	line.LatencyDistribution = make([][2]float64, 0, len(lat.Distribution))
	for _, d := range lat.Distribution {
		line.LatencyDistribution = append(line.LatencyDistribution, [2]float64{float64(d.Percent), toMicros(d.Latency)})
	}
	return line
}
