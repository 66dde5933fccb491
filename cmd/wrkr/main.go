package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/torosent/wrkr/internal/config"
	"github.com/torosent/wrkr/internal/logging"
	"github.com/torosent/wrkr/internal/metrics"
	"github.com/torosent/wrkr/internal/output"
	"github.com/torosent/wrkr/internal/runner"
	"github.com/torosent/wrkr/internal/script"
	"github.com/torosent/wrkr/internal/threshold"
	"github.com/torosent/wrkr/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: stderr})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	name, source, err := cfg.Script()
	if err != nil {
		return err
	}
	program, err := script.Compile(name, source)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runID := ulid.Make().String()
	tp, err := tracing.Init(ctx, cfg.Tracing, tracing.WithRunID(runID))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	opts := runnerOptions(cfg)
	opts.Program = program
	opts.RunID = runID
	opts.Tracing = tp
	opts.Logger = logger.With(zap.String("run_id", opts.RunID))

	info := output.RunInfo{
		Target:      cfg.TargetURL,
		Script:      name,
		Duration:    cfg.Duration,
		Connections: cfg.Connections,
	}
	if cfg.Output == config.OutputText && !cfg.Once {
		output.PrintHeader(stdout, info)
	}

	var progress *output.ProgressReporter
	switch {
	case cfg.Once:
	case cfg.Output == config.OutputJSON:
		progress = output.NewProgressReporter(stdout, true)
	case cfg.Output == config.OutputText && isTerminal(stderr):
		progress = output.NewProgressReporter(stderr, false)
	}
	if progress != nil {
		opts.Progress = progress.Report
	}

	r := runner.New(opts)
	logger.Debug("starting run",
		zap.String("run_id", opts.RunID),
		zap.String("target", cfg.TargetURL),
		zap.Int("connections", cfg.Connections),
		zap.Duration("duration", cfg.Duration))

	var snap metrics.Snapshot
	if cfg.Once {
		snap, err = r.RunOnce(ctx)
	} else {
		snap, err = r.Run(ctx)
	}
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		return err
	}

	results := threshold.NewEvaluator(thresholds).Evaluate(snap)

	data, err := renderReport(cfg.Output, info, snap, results)
	if err != nil {
		return err
	}
	if _, err := stdout.Write(data); err != nil {
		return err
	}
	if cfg.OutFile != "" {
		if err := output.AppendFile(cfg.OutFile, data); err != nil {
			return err
		}
	}

	if failed := threshold.Failed(results); failed > 0 {
		return fmt.Errorf("%d of %d thresholds failed", failed, len(results))
	}
	return nil
}

// runnerOptions maps the run settings onto runner options. Program, RunID,
// tracing and logging are wired by the caller.
func runnerOptions(cfg *config.Config) runner.Options {
	return runner.Options{
		BaseURL:          cfg.TargetURL,
		Duration:         cfg.Duration,
		Connections:      cfg.Connections,
		StartConnections: cfg.StartConnections,
		RampUp:           cfg.RampUp,
		StepConnections:  cfg.StepConnections,
		StepDuration:     cfg.StepDuration,
		Timeout:          cfg.Timeout,
		HTTP2:            cfg.HTTP2,
		GRPCInsecure:     cfg.GRPCInsecure,
		RatePerSecond:    cfg.Rate,
	}
}

func renderReport(format config.OutputFormat, info output.RunInfo, snap metrics.Snapshot, results []threshold.Result) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case config.OutputJSON:
		if err := output.PrintJSONReport(&buf, output.NewReport(info, snap, results)); err != nil {
			return nil, err
		}
	case config.OutputYAML:
		if err := output.PrintYAMLReport(&buf, output.NewReport(info, snap, results)); err != nil {
			return nil, err
		}
	default:
		output.PrintReport(&buf, snap)
		output.PrintErrorBreakdown(&buf, snap)
		output.PrintThresholdResults(&buf, results)
	}
	return buf.Bytes(), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
