package threshold

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/wrkr/internal/metrics"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // "latency", "errors" or "requests"
	Aggregate string  // e.g. "p99", "mean", "rate", "count"
	Operator  string  // e.g. "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against a final snapshot.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against snap.
func (e *Evaluator) Evaluate(snap metrics.Snapshot) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	latency := snap.Latency()
	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, snap, latency))
	}
	return results
}

// Failed counts the results that did not pass.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Pass {
			n++
		}
	}
	return n
}

func evaluateOne(t Threshold, snap metrics.Snapshot, latency metrics.LatencyStats) Result {
	actual, err := extractMetricValue(t, snap, latency)
	if err != nil {
		return Result{
			Threshold: t,
			Actual:    0,
			Pass:      false,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	message := fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value)
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   message,
	}
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

var (
	validMetrics   = []string{"latency", "errors", "requests"}
	validOperators = []string{"<", "<=", ">", ">=", "=="}
	validAggregate = map[string][]string{
		"latency":  {"p50", "p75", "p90", "p99", "mean", "min", "max", "stdev"},
		"errors":   {"count", "rate"},
		"requests": {"count", "rate"},
	}
)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "latency:p99 < 500"    (latency percentile in ms)
// - "latency:mean < 200"   (mean latency in ms)
// - "latency:stdev < 50"   (latency standard deviation in ms)
// - "errors:rate < 0.01"   (errors per request as decimal)
// - "errors:count < 10"    (error count)
// - "requests:rate > 100"  (requests per second)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'latency:p99 < 500')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	if !slices.Contains(validMetrics, metric) {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: %s)", metric, strings.Join(validMetrics, ", "))
	}
	if aggs := validAggregate[metric]; !slices.Contains(aggs, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(aggs, ", "))
	}
	if !slices.Contains(validOperators, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: %s)", operator, strings.Join(validOperators, ", "))
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

func extractMetricValue(t Threshold, snap metrics.Snapshot, latency metrics.LatencyStats) (float64, error) {
	switch t.Metric {
	case "latency":
		return extractLatencyMetric(t.Aggregate, latency)
	case "errors":
		return extractErrorMetric(t.Aggregate, snap)
	case "requests":
		return extractRequestMetric(t.Aggregate, snap)
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func extractLatencyMetric(aggregate string, l metrics.LatencyStats) (float64, error) {
	switch aggregate {
	case "p50":
		return millis(l.P50), nil
	case "p75":
		return millis(l.P75), nil
	case "p90":
		return millis(l.P90), nil
	case "p99":
		return millis(l.P99), nil
	case "mean":
		return millis(l.Mean), nil
	case "min":
		return millis(l.Min), nil
	case "max":
		return millis(l.Max), nil
	case "stdev":
		return millis(l.Stdev), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for latency", aggregate)
	}
}

func extractErrorMetric(aggregate string, snap metrics.Snapshot) (float64, error) {
	switch aggregate {
	case "count":
		return float64(snap.TotalErrors), nil
	case "rate":
		return snap.ErrorRate(), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for errors (use 'count' or 'rate')", aggregate)
	}
}

func extractRequestMetric(aggregate string, snap metrics.Snapshot) (float64, error) {
	switch aggregate {
	case "count":
		return float64(snap.TotalRequests), nil
	case "rate":
		return snap.RequestsPerSec(), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for requests (use 'count' or 'rate')", aggregate)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
