package threshold

import (
	"testing"
	"time"

	"github.com/torosent/wrkr/internal/metrics"
)

// sampleSnapshot holds 100 requests with latencies of 1..100ms and 5 errors
// over 10 seconds.
func sampleSnapshot() metrics.Snapshot {
	local := metrics.NewLocalStats()
	for i := 1; i <= 100; i++ {
		local.RecordRequest(time.Duration(i)*time.Millisecond, 100, 200)
	}
	for i := 0; i < 5; i++ {
		local.RecordError(metrics.StatusErrorName)
	}
	agg := metrics.NewAggregator("test")
	local.FlushTo(agg)
	return agg.Snapshot(10*time.Second, 10*time.Second, nil)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "valid p99 latency threshold",
			input: "latency:p99 < 500",
			want: Threshold{
				Metric:    "latency",
				Aggregate: "p99",
				Operator:  "<",
				Value:     500,
				Raw:       "latency:p99 < 500",
			},
		},
		{
			name:  "valid error rate threshold",
			input: "errors:rate < 0.01",
			want: Threshold{
				Metric:    "errors",
				Aggregate: "rate",
				Operator:  "<",
				Value:     0.01,
				Raw:       "errors:rate < 0.01",
			},
		},
		{
			name:  "valid stdev with <=",
			input: "latency:stdev<=20",
			want: Threshold{
				Metric:    "latency",
				Aggregate: "stdev",
				Operator:  "<=",
				Value:     20,
				Raw:       "latency:stdev<=20",
			},
		},
		{
			name:  "valid requests rate threshold with >",
			input: "  requests:rate > 100 ",
			want: Threshold{
				Metric:    "requests",
				Aggregate: "rate",
				Operator:  ">",
				Value:     100,
				Raw:       "requests:rate > 100",
			},
		},
		{name: "empty string", input: "", wantError: true},
		{name: "missing operator", input: "latency:p99 500", wantError: true},
		{name: "invalid metric", input: "throughput:p99 < 500", wantError: true},
		{name: "invalid aggregate", input: "latency:p95 < 500", wantError: true},
		{name: "aggregate of another metric", input: "errors:p99 < 5", wantError: true},
		{name: "invalid operator", input: "latency:p99 << 500", wantError: true},
		{name: "not a number", input: "latency:p99 < abc", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("Parse() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	tests := []struct {
		name      string
		input     []string
		wantCount int
		wantError bool
	}{
		{
			name:      "all valid",
			input:     []string{"latency:p99 < 500", "errors:rate < 0.01", "requests:rate > 100"},
			wantCount: 3,
		},
		{name: "empty slice", input: []string{}, wantCount: 0},
		{
			name:      "one valid, one invalid",
			input:     []string{"latency:p99 < 500", "invalid threshold"},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMultiple(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ParseMultiple() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && len(got) != tt.wantCount {
				t.Errorf("ParseMultiple() returned %d thresholds, want %d", len(got), tt.wantCount)
			}
		})
	}
}

func TestEvaluator(t *testing.T) {
	snap := sampleSnapshot()

	tests := []struct {
		name       string
		thresholds []string
		wantPass   []bool
	}{
		{
			name:       "all thresholds pass",
			thresholds: []string{"latency:p99 < 150", "errors:rate < 0.1", "requests:rate > 5"},
			wantPass:   []bool{true, true, true},
		},
		{
			name:       "some thresholds fail",
			thresholds: []string{"latency:p99 < 50", "errors:rate < 0.01", "requests:rate > 5"},
			wantPass:   []bool{false, false, true},
		},
		{
			name:       "latency percentiles",
			thresholds: []string{"latency:p50 < 55", "latency:p75 < 80", "latency:p90 < 95", "latency:p99 > 90"},
			wantPass:   []bool{true, true, true, true},
		},
		{
			name:       "mean, min, max and stdev",
			thresholds: []string{"latency:mean < 60", "latency:max < 110", "latency:min >= 1", "latency:stdev > 20"},
			wantPass:   []bool{true, true, true, true},
		},
		{
			name:       "counts",
			thresholds: []string{"errors:count == 5", "requests:count >= 100"},
			wantPass:   []bool{true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thresholds, err := ParseMultiple(tt.thresholds)
			if err != nil {
				t.Fatalf("ParseMultiple() error = %v", err)
			}

			results := NewEvaluator(thresholds).Evaluate(snap)
			if len(results) != len(tt.wantPass) {
				t.Fatalf("got %d results, want %d", len(results), len(tt.wantPass))
			}

			wantFailed := 0
			for i, result := range results {
				if !tt.wantPass[i] {
					wantFailed++
				}
				if result.Pass != tt.wantPass[i] {
					t.Errorf("threshold[%d] %q: got pass=%v, want %v (actual=%.2f)",
						i, result.Threshold.Raw, result.Pass, tt.wantPass[i], result.Actual)
				}
			}
			if got := Failed(results); got != wantFailed {
				t.Errorf("Failed() = %d, want %d", got, wantFailed)
			}
		})
	}
}

func TestEvaluateWithoutThresholds(t *testing.T) {
	if results := NewEvaluator(nil).Evaluate(sampleSnapshot()); results != nil {
		t.Fatalf("Evaluate() = %v, want nil", results)
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name     string
		actual   float64
		operator string
		expected float64
		want     bool
	}{
		{"less than true", 50, "<", 100, true},
		{"less than false", 100, "<", 50, false},
		{"less than equal", 100, "<", 100, false},
		{"less than or equal true", 50, "<=", 100, true},
		{"less than or equal equal", 100, "<=", 100, true},
		{"less than or equal false", 150, "<=", 100, false},
		{"greater than true", 150, ">", 100, true},
		{"greater than false", 50, ">", 100, false},
		{"greater than equal", 100, ">", 100, false},
		{"greater than or equal true", 150, ">=", 100, true},
		{"greater than or equal equal", 100, ">=", 100, true},
		{"greater than or equal false", 50, ">=", 100, false},
		{"equal true", 100, "==", 100, true},
		{"equal false", 100, "==", 101, false},
		{"equal with floating point precision", 100.0000000001, "==", 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compareValues(tt.actual, tt.operator, tt.expected)
			if got != tt.want {
				t.Errorf("compareValues(%.2f, %s, %.2f) = %v, want %v",
					tt.actual, tt.operator, tt.expected, got, tt.want)
			}
		})
	}
}

func TestExtractMetricValue(t *testing.T) {
	snap := sampleSnapshot()
	latency := snap.Latency()

	tests := []struct {
		name      string
		threshold Threshold
		want      float64
		wantError bool
	}{
		{name: "errors rate", threshold: Threshold{Metric: "errors", Aggregate: "rate"}, want: 0.05},
		{name: "errors count", threshold: Threshold{Metric: "errors", Aggregate: "count"}, want: 5},
		{name: "requests rate", threshold: Threshold{Metric: "requests", Aggregate: "rate"}, want: 10},
		{name: "requests count", threshold: Threshold{Metric: "requests", Aggregate: "count"}, want: 100},
		{name: "latency min", threshold: Threshold{Metric: "latency", Aggregate: "min"}, want: 1},
		{name: "unsupported metric", threshold: Threshold{Metric: "invalid_metric", Aggregate: "p99"}, wantError: true},
		{name: "unsupported aggregate for metric", threshold: Threshold{Metric: "errors", Aggregate: "p99"}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractMetricValue(tt.threshold, snap, latency)
			if (err != nil) != tt.wantError {
				t.Errorf("extractMetricValue() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && got != tt.want {
				t.Errorf("extractMetricValue() = %v, want %v", got, tt.want)
			}
		})
	}
}
