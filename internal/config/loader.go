package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}
	cfg, err := LoadFlags(cmd.Flags(), len(args) == 0)
	if errors.Is(err, ErrHelpRequested) {
		displayHelp(cmd)
	}
	return cfg, err
}

// LoadFlags builds a Config from an already parsed flag set. It returns
// ErrHelpRequested when --help was passed, or when noArgs is true and no
// config file was given.
func LoadFlags(flagSet *pflag.FlagSet, noArgs bool) (*Config, error) {
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if noArgs && configPath == "" {
		return nil, ErrHelpRequested
	}
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	settings := cfgViper.AllSettings()

	cfg := &Config{
		Connections: 10,
		Duration:    10 * time.Second,
		Timeout:     DefaultTimeout,
		Output:      OutputText,
		ConfigFile:  configPath,
		Tracing:     TracingConfig{Protocol: "grpc", SampleRate: 1.0},
		Log:         LogConfig{Level: "info", Format: "console"},
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.TargetURL = strings.TrimSpace(cfg.TargetURL)
	cfg.ScriptFile = strings.TrimSpace(cfg.ScriptFile)
	cfg.Output = OutputFormat(strings.ToLower(string(cfg.Output)))
	if cfg.Output == "" {
		cfg.Output = OutputText
	}

	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "target", "url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		cfg.TargetURL = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "script", "script_file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("script: %w", err)
		}
		cfg.ScriptFile = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "script_content"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("script_content: %w", err)
		}
		cfg.ScriptContent = val
	}

	if raw, ok := lookupSetting(settings, "duration"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		cfg.Duration = val
	}

	if raw, ok := lookupSetting(settings, "connections"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("connections: %w", err)
		}
		cfg.Connections = val
	}

	if raw, ok := lookupSetting(settings, "start_connections"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("start_connections: %w", err)
		}
		cfg.StartConnections = val
	}

	if raw, ok := lookupSetting(settings, "ramp_up"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("ramp_up: %w", err)
		}
		cfg.RampUp = val
	}

	if raw, ok := lookupSetting(settings, "step_connections"); ok {
		val, err := asIntSlice(raw)
		if err != nil {
			return fmt.Errorf("step_connections: %w", err)
		}
		cfg.StepConnections = val
	}

	if raw, ok := lookupSetting(settings, "step_duration"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("step_duration: %w", err)
		}
		cfg.StepDuration = val
	}

	if raw, ok := lookupSetting(settings, "timeout"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = val
	}

	if raw, ok := lookupSetting(settings, "http2"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("http2: %w", err)
		}
		cfg.HTTP2 = val
	}

	if raw, ok := lookupSetting(settings, "grpc_insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("grpc_insecure: %w", err)
		}
		cfg.GRPCInsecure = val
	}

	if raw, ok := lookupSetting(settings, "rate"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		cfg.Rate = val
	}

	if raw, ok := lookupSetting(settings, "once"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("once: %w", err)
		}
		cfg.Once = val
	}

	if raw, ok := lookupSetting(settings, "output"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
		cfg.Output = OutputFormat(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "out_file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("out_file: %w", err)
		}
		cfg.OutFile = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = val
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := parseTracing(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "log"); ok {
		if err := parseLog(&cfg.Log, raw); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}

	return nil
}

func parseTracing(tc *TracingConfig, value interface{}) error {
	if value == nil {
		return nil
	}
	entry, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(entry, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		tc.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(entry, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		tc.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(entry, "service_name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		tc.ServiceName = val
	}
	if raw, ok := lookupSetting(entry, "sample_rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		tc.SampleRate = val
	}
	if raw, ok := lookupSetting(entry, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		tc.Insecure = val
	}
	if raw, ok := lookupSetting(entry, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		tc.Propagate = &val
	}
	return nil
}

func parseLog(lc *LogConfig, value interface{}) error {
	if value == nil {
		return nil
	}
	entry, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(entry, "level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("level: %w", err)
		}
		lc.Level = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(entry, "format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}
		lc.Format = strings.ToLower(strings.TrimSpace(val))
	}
	return nil
}
