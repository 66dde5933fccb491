package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/torosent/wrkr/internal/threshold"
)

// OutputFormat selects the final report renderer.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

// DefaultTimeout is the per-request timeout when none is configured.
const DefaultTimeout = 10 * time.Second

// Config holds all run settings.
type Config struct {
	TargetURL        string        `mapstructure:"target"`
	ScriptFile       string        `mapstructure:"script"`
	ScriptContent    string        `mapstructure:"script_content"`
	Duration         time.Duration `mapstructure:"duration"`
	Connections      int           `mapstructure:"connections"`
	StartConnections int           `mapstructure:"start_connections"`
	RampUp           time.Duration `mapstructure:"ramp_up"`
	StepConnections  []int         `mapstructure:"step_connections"`
	StepDuration     time.Duration `mapstructure:"step_duration"`
	Timeout          time.Duration `mapstructure:"timeout"`
	HTTP2            bool          `mapstructure:"http2"`
	GRPCInsecure     bool          `mapstructure:"grpc_insecure"`
	Rate             int           `mapstructure:"rate"`
	Once             bool          `mapstructure:"once"`
	Output           OutputFormat  `mapstructure:"output"`
	OutFile          string        `mapstructure:"out_file"`
	Thresholds       []string      `mapstructure:"thresholds"`
	Tracing          TracingConfig `mapstructure:"tracing"`
	Log              LogConfig     `mapstructure:"log"`
	ConfigFile       string        `mapstructure:"-"`
}

// TracingConfig configures OTLP export of request spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`     // OTLP collector host:port
	Protocol    string  `mapstructure:"protocol"`     // "grpc" (default) or "http"
	ServiceName string  `mapstructure:"service_name"` // defaults to OTEL_SERVICE_NAME, then "wrkr"
	SampleRate  float64 `mapstructure:"sample_rate"`  // 0.0 - 1.0
	Insecure    bool    `mapstructure:"insecure"`     // plaintext connection to the collector
	Propagate   *bool   `mapstructure:"propagate"`    // inject W3C headers; defaults to Enabled()
}

// Enabled reports whether an OTLP endpoint is configured, directly or via
// OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether trace context headers should be injected
// into outgoing requests.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// LogConfig configures the diagnostic logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// ValidationError aggregates every configuration problem found.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the configuration and prints operator warnings to stderr.
func (c Config) Validate() error {
	var issues []string
	var warnings []string

	target := strings.TrimSpace(c.TargetURL)
	if target == "" {
		issues = append(issues, "target is required (use --help for usage information)")
	} else if u, err := url.Parse(target); err != nil || u.Scheme == "" || u.Host == "" {
		issues = append(issues, fmt.Sprintf("target %q must be an absolute URL", target))
	}
	if strings.TrimSpace(c.ScriptFile) == "" && strings.TrimSpace(c.ScriptContent) == "" {
		issues = append(issues, "script is required")
	}

	if c.Connections > 500 || c.StartConnections > 500 {
		warnings = append(warnings, fmt.Sprintf("WARNING: High concurrency configured (%d connections). Ensure you have authorization to test the target system.", max(c.Connections, c.StartConnections)))
	}
	if c.Rate > 1000 {
		warnings = append(warnings, fmt.Sprintf("WARNING: High rate limit configured (%d iterations/s). Ensure you have authorization to test the target system.", c.Rate))
	}
	if c.GRPCInsecure {
		warnings = append(warnings, "WARNING: gRPC TLS verification is DISABLED (grpc_insecure: true). This should ONLY be used in development/testing environments. Man-in-the-middle attacks are possible.")
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, w)
	}

	if !c.Once && c.Duration <= 0 {
		issues = append(issues, "duration must be > 0")
	}
	if c.Connections < 1 {
		issues = append(issues, "connections must be >= 1")
	}
	if c.StartConnections < 0 {
		issues = append(issues, "start_connections must be >= 0")
	}
	if c.RampUp < 0 {
		issues = append(issues, "ramp_up must be >= 0")
	}
	for i, s := range c.StepConnections {
		if s < 0 {
			issues = append(issues, fmt.Sprintf("step_connections[%d] must be >= 0", i))
		}
	}
	if len(c.StepConnections) > 0 && c.StepDuration <= 0 {
		issues = append(issues, "step_duration must be > 0 when step_connections is set")
	}
	if c.StepDuration < 0 {
		issues = append(issues, "step_duration must be >= 0")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}

	switch c.Output {
	case "", OutputText, OutputJSON, OutputYAML:
	default:
		issues = append(issues, fmt.Sprintf("output format %q is not supported (use text, json or yaml)", c.Output))
	}

	if _, err := threshold.ParseMultiple(c.Thresholds); err != nil {
		issues = append(issues, err.Error())
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing.sample_rate must be between 0.0 and 1.0")
	}
	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol %q is not supported (use grpc or http)", c.Tracing.Protocol))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log.format %q is not supported (use console or json)", c.Log.Format))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}

	return nil
}

// Script returns the scenario source and a display name for it, reading
// ScriptFile when no inline content is set.
func (c Config) Script() (name, source string, err error) {
	if c.ScriptContent != "" {
		return "inline", c.ScriptContent, nil
	}
	data, err := os.ReadFile(c.ScriptFile)
	if err != nil {
		return "", "", fmt.Errorf("read script: %w", err)
	}
	return c.ScriptFile, string(data), nil
}
