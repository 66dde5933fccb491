package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/torosent/wrkr/internal/metrics"
	"github.com/torosent/wrkr/internal/threshold"
)

// RunInfo describes the run a report belongs to.
type RunInfo struct {
	Target      string
	Script      string
	Duration    time.Duration
	Connections int
}

// PrintHeader writes the banner shown before a text-mode run starts.
func PrintHeader(w io.Writer, info RunInfo) {
	fmt.Fprintf(w, "Running %s test @ %s\n", formatSeconds(info.Duration), info.Target)
	fmt.Fprintf(w, "  %d connections\n", info.Connections)
	fmt.Fprintf(w, "  Script: %s\n", info.Script)
}

// PrintReport outputs a wrk-style human-readable summary.
func PrintReport(w io.Writer, snap metrics.Snapshot) {
	lat := snap.Latency()

	fmt.Fprintln(w, "  Thread Stats   Avg      Stdev     Max   +/- Stdev")
	fmt.Fprintf(w, "    Latency   %8s %8s %8s %8.2f%%\n",
		FormatLatency(lat.Mean), FormatLatency(lat.Stdev), FormatLatency(lat.Max), lat.WithinStdev)

	fmt.Fprintln(w, "  Latency Distribution")
	for _, p := range []struct {
		pct int
		val time.Duration
	}{{50, lat.P50}, {75, lat.P75}, {90, lat.P90}, {99, lat.P99}} {
		fmt.Fprintf(w, "     %d%%   %8s\n", p.pct, FormatLatency(p.val))
	}

	fmt.Fprintf(w, "  %d requests in %.2fs, %s read\n",
		snap.TotalRequests, snap.Elapsed.Seconds(), HumanizeBytes(snap.BytesReceived))
	fmt.Fprintf(w, "Requests/sec: %.2f\n", snap.RequestsPerSec())
	fmt.Fprintf(w, "Transfer/sec: %s\n", HumanizeBytes(uint64(snap.BytesPerSec())))

	sock := metrics.CategorizeErrors(snap.Errors)
	warn := color.New(color.FgYellow)
	if sock.Status > 0 {
		warn.Fprintf(w, "  Non-2xx or 3xx responses: %d\n", sock.Status)
	}
	if sock.Other > 0 {
		warn.Fprintf(w, "  Errors: %d\n", sock.Other)
	}
	fmt.Fprintf(w, "Socket errors: connect %d, read %d, write %d, timeout %d\n",
		sock.Connect, sock.Read, sock.Write, sock.Timeout)
}

// PrintErrorBreakdown lists every distinct error message with its count.
func PrintErrorBreakdown(w io.Writer, snap metrics.Snapshot) {
	rows := snap.SortedErrors()
	if len(rows) == 0 {
		return
	}
	fmt.Fprintln(w, "  Error Breakdown")
	for _, row := range rows {
		fmt.Fprintf(w, "    %6d  %s\n", row.Count, row.Name)
	}
}

// PrintThresholdResults writes one line per evaluated threshold.
func PrintThresholdResults(w io.Writer, results []threshold.Result) {
	if len(results) == 0 {
		return
	}
	pass := color.New(color.FgGreen)
	fail := color.New(color.FgRed, color.Bold)
	fmt.Fprintln(w, "Thresholds:")
	for _, r := range results {
		if r.Pass {
			pass.Fprintf(w, "  %s\n", r.Message)
		} else {
			fail.Fprintf(w, "  %s\n", r.Message)
		}
	}
	if failed := threshold.Failed(results); failed > 0 {
		fail.Fprintf(w, "%d of %d thresholds failed\n", failed, len(results))
	}
}

// Report is the machine-readable final summary.
type Report struct {
	RunID          string               `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Target         string               `json:"target" yaml:"target"`
	Script         string               `json:"script" yaml:"script"`
	DurationSecs   float64              `json:"duration_secs" yaml:"duration_secs"`
	ElapsedSecs    float64              `json:"elapsed_secs" yaml:"elapsed_secs"`
	Connections    int64                `json:"connections" yaml:"connections"`
	TotalRequests  uint64               `json:"total_requests" yaml:"total_requests"`
	TotalErrors    uint64               `json:"total_errors" yaml:"total_errors"`
	BytesSent      uint64               `json:"bytes_sent" yaml:"bytes_sent"`
	BytesReceived  uint64               `json:"bytes_received" yaml:"bytes_received"`
	RequestsPerSec float64              `json:"requests_per_sec" yaml:"requests_per_sec"`
	BytesPerSec    float64              `json:"bytes_per_sec" yaml:"bytes_per_sec"`
	ErrorRate      float64              `json:"error_rate" yaml:"error_rate"`
	Latency        LatencyReport        `json:"latency" yaml:"latency"`
	ReqPerSec      RPSReport            `json:"req_per_sec" yaml:"req_per_sec"`
	SocketErrors   SocketErrorReport    `json:"socket_errors" yaml:"socket_errors"`
	Errors         []metrics.ErrorCount `json:"errors,omitempty" yaml:"errors,omitempty"`
	Thresholds     []ThresholdReport    `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// LatencyReport carries latency figures in microseconds.
type LatencyReport struct {
	Samples        int64           `json:"samples" yaml:"samples"`
	MinUs          float64         `json:"min_us" yaml:"min_us"`
	MaxUs          float64         `json:"max_us" yaml:"max_us"`
	MeanUs         float64         `json:"mean_us" yaml:"mean_us"`
	StdevUs        float64         `json:"stdev_us" yaml:"stdev_us"`
	P50Us          float64         `json:"p50_us" yaml:"p50_us"`
	P75Us          float64         `json:"p75_us" yaml:"p75_us"`
	P90Us          float64         `json:"p90_us" yaml:"p90_us"`
	P99Us          float64         `json:"p99_us" yaml:"p99_us"`
	WithinStdevPct float64         `json:"within_stdev_pct" yaml:"within_stdev_pct"`
	Distribution   []PercentileRow `json:"distribution,omitempty" yaml:"distribution,omitempty"`
}

type PercentileRow struct {
	Percent   int     `json:"percent" yaml:"percent"`
	LatencyUs float64 `json:"latency_us" yaml:"latency_us"`
}

type RPSReport struct {
	Avg      float64 `json:"avg" yaml:"avg"`
	Stdev    float64 `json:"stdev" yaml:"stdev"`
	Max      float64 `json:"max" yaml:"max"`
	StdevPct float64 `json:"stdev_pct" yaml:"stdev_pct"`
}

type SocketErrorReport struct {
	Connect uint64 `json:"connect" yaml:"connect"`
	Read    uint64 `json:"read" yaml:"read"`
	Write   uint64 `json:"write" yaml:"write"`
	Timeout uint64 `json:"timeout" yaml:"timeout"`
	Status  uint64 `json:"status" yaml:"status"`
	Other   uint64 `json:"other" yaml:"other"`
}

type ThresholdReport struct {
	Threshold string  `json:"threshold" yaml:"threshold"`
	Actual    float64 `json:"actual" yaml:"actual"`
	Pass      bool    `json:"pass" yaml:"pass"`
}

// NewReport builds a Report from the final snapshot and threshold results.
func NewReport(info RunInfo, snap metrics.Snapshot, results []threshold.Result) Report {
	lat := snap.Latency()
	rps := snap.RPS()
	sock := metrics.CategorizeErrors(snap.Errors)

	r := Report{
		RunID:          snap.RunID,
		Target:         info.Target,
		Script:         info.Script,
		DurationSecs:   snap.Duration.Seconds(),
		ElapsedSecs:    snap.Elapsed.Seconds(),
		Connections:    snap.Connections,
		TotalRequests:  snap.TotalRequests,
		TotalErrors:    snap.TotalErrors,
		BytesSent:      snap.BytesSent,
		BytesReceived:  snap.BytesReceived,
		RequestsPerSec: snap.RequestsPerSec(),
		BytesPerSec:    snap.BytesPerSec(),
		ErrorRate:      snap.ErrorRate(),
		Latency: LatencyReport{
			Samples:        lat.Samples,
			MinUs:          toMicros(lat.Min),
			MaxUs:          toMicros(lat.Max),
			MeanUs:         toMicros(lat.Mean),
			StdevUs:        toMicros(lat.Stdev),
			P50Us:          toMicros(lat.P50),
			P75Us:          toMicros(lat.P75),
			P90Us:          toMicros(lat.P90),
			P99Us:          toMicros(lat.P99),
			WithinStdevPct: lat.WithinStdev,
		},
		ReqPerSec: RPSReport{
			Avg:      rps.Mean,
			Stdev:    rps.Stdev,
			Max:      rps.Max,
			StdevPct: pctOf(rps.Stdev, rps.Mean),
		},
		SocketErrors: SocketErrorReport(sock),
		Errors:       snap.SortedErrors(),
	}
	for _, p := range lat.Distribution {
		r.Latency.Distribution = append(r.Latency.Distribution, PercentileRow{
			Percent:   p.Percent,
			LatencyUs: toMicros(p.Latency),
		})
	}
	for _, res := range results {
		r.Thresholds = append(r.Thresholds, ThresholdReport{
			Threshold: res.Threshold.Raw,
			Actual:    res.Actual,
			Pass:      res.Pass,
		})
	}
	return r
}

// PrintJSONReport outputs the report as a single JSON line, so it can follow
// NDJSON progress records on the same stream.
func PrintJSONReport(w io.Writer, report Report) error {
	return json.NewEncoder(w).Encode(report)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, report Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return enc.Close()
}

// FormatLatency renders d with two decimals in the largest fitting unit
// among s, ms and us.
func FormatLatency(d time.Duration) string {
	us := toMicros(d)
	switch {
	case us >= 1_000_000:
		return fmt.Sprintf("%.2fs", us/1_000_000)
	case us >= 1_000:
		return fmt.Sprintf("%.2fms", us/1_000)
	default:
		return fmt.Sprintf("%.2fus", us)
	}
}

var binaryUnits = []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

// HumanizeBytes renders n with binary prefixes, e.g. "512 B" or "1.5 MiB".
func HumanizeBytes(n uint64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n) / 1024
	unit := 0
	for v >= 1024 && unit < len(binaryUnits)-1 {
		v /= 1024
		unit++
	}
	s := strings.TrimSuffix(fmt.Sprintf("%.1f", v), ".0")
	return s + " " + binaryUnits[unit]
}

func formatSeconds(d time.Duration) string {
	return strings.TrimSuffix(fmt.Sprintf("%.1f", d.Seconds()), ".0") + "s"
}

func toMicros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

func pctOf(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}
