package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wrkr",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Target and script
	flags.StringP("target", "u", "", "Base URL of the system under test")
	flags.StringP("script", "s", "", "Path to the Lua scenario script")

	// Load shape
	flags.IntP("connections", "c", 10, "Target number of concurrent virtual users")
	flags.Int("start-connections", 0, "Virtual users active at the start of the run")
	flags.DurationP("duration", "d", 10*time.Second, "How long to run the test (e.g. 30s, 1m)")
	flags.Duration("ramp-up", 0, "Time to ramp from start-connections to connections (default: duration - 1s)")
	flags.IntSlice("step-connections", nil, "Stepped ramp levels, comma separated (e.g. 10,50,100)")
	flags.Duration("step-duration", 0, "Hold time for each step-connections level")
	flags.IntP("rate", "r", 0, "Global scenario iterations per second (0 means unlimited)")
	flags.Bool("once", false, "Run a single iteration on one virtual user and exit")

	// Transport
	flags.Duration("timeout", DefaultTimeout, "Per-request timeout")
	flags.Bool("http2", false, "Use HTTP/2 (prior knowledge for plain http targets)")
	flags.Bool("grpc-insecure", false, "Skip TLS verification for gRPC targets")

	// Output flags
	flags.StringP("output", "o", string(OutputText), "Report format: text, json or yaml")
	flags.String("out-file", "", "Append the final report to this file")
	flags.String("config", "", "Path to configuration file (JSON, YAML or TOML)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "console", "Log format: console or json")

	// Threshold flags
	flags.StringSlice("threshold", nil, "Performance thresholds (repeatable, e.g., 'latency:p99 < 500')")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (host:port)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported on spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of requests to trace (0.0 - 1.0)")
	flags.Bool("tracing-insecure", false, "Use a plaintext connection to the collector")
	flags.Bool("tracing-propagate", false, "Inject W3C trace context headers (default: on when tracing is enabled)")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("target") {
		val, err := fs.GetString("target")
		if err != nil {
			return err
		}
		cfg.TargetURL = strings.TrimSpace(val)
	}
	if fs.Changed("script") {
		val, err := fs.GetString("script")
		if err != nil {
			return err
		}
		cfg.ScriptFile = strings.TrimSpace(val)
		cfg.ScriptContent = ""
	}
	if fs.Changed("connections") {
		val, err := fs.GetInt("connections")
		if err != nil {
			return err
		}
		cfg.Connections = val
	}
	if fs.Changed("start-connections") {
		val, err := fs.GetInt("start-connections")
		if err != nil {
			return err
		}
		cfg.StartConnections = val
	}
	if fs.Changed("duration") {
		val, err := fs.GetDuration("duration")
		if err != nil {
			return err
		}
		cfg.Duration = val
	}
	if fs.Changed("ramp-up") {
		val, err := fs.GetDuration("ramp-up")
		if err != nil {
			return err
		}
		cfg.RampUp = val
	}
	if fs.Changed("step-connections") {
		val, err := fs.GetIntSlice("step-connections")
		if err != nil {
			return err
		}
		cfg.StepConnections = val
	}
	if fs.Changed("step-duration") {
		val, err := fs.GetDuration("step-duration")
		if err != nil {
			return err
		}
		cfg.StepDuration = val
	}
	if fs.Changed("rate") {
		val, err := fs.GetInt("rate")
		if err != nil {
			return err
		}
		cfg.Rate = val
	}
	if fs.Changed("once") {
		val, err := fs.GetBool("once")
		if err != nil {
			return err
		}
		cfg.Once = val
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("http2") {
		val, err := fs.GetBool("http2")
		if err != nil {
			return err
		}
		cfg.HTTP2 = val
	}
	if fs.Changed("grpc-insecure") {
		val, err := fs.GetBool("grpc-insecure")
		if err != nil {
			return err
		}
		cfg.GRPCInsecure = val
	}
	if fs.Changed("output") {
		val, err := fs.GetString("output")
		if err != nil {
			return err
		}
		cfg.Output = OutputFormat(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("out-file") {
		val, err := fs.GetString("out-file")
		if err != nil {
			return err
		}
		cfg.OutFile = strings.TrimSpace(val)
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.Log.Level = val
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.Log.Format = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}
	return applyTracingFlags(&cfg.Tracing, fs)
}

func applyTracingFlags(tc *TracingConfig, fs *pflag.FlagSet) error {
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		tc.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		tc.Protocol = val
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		tc.ServiceName = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		tc.SampleRate = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		tc.Insecure = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		tc.Propagate = &val
	}
	return nil
}
