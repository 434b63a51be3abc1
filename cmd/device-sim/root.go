package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"medfleet-sim/internal/config"
	"medfleet-sim/internal/logging"
	"medfleet-sim/internal/transport"
	"medfleet-sim/internal/vitals"
)

// Simulator modes.
const (
	modeTelemetry = "telemetry"
	modeUpload    = "upload"
	modeReplay    = "replay"
)

type simFlags struct {
	configPath   string
	schemaPath   string
	output       string
	logFile      string
	logLevel     string
	adminAddr    string
	warningRate  float64
	criticalRate float64
	speed        float64
}

func newRootCmd() *cobra.Command {
	f := &simFlags{}
	cmd := &cobra.Command{
		Use:   "device-sim <deviceId> telemetry [intervalMs] | upload <filePath> | replay <logFile>",
		Short: "Simulated medical telemetry device",
		Long: "device-sim connects as one device and either streams simulated vital signs, " +
			"uploads a file, or replays a recorded telemetry log.",
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, args)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "Path to configuration YAML")
	fl.StringVar(&f.schemaPath, "schema", "", "Path to CUE schema file (defaults to the built-in schema)")
	fl.StringVar(&f.output, "output", "auto", "Operator output: auto, console, json or tui")
	fl.StringVar(&f.logFile, "log-file", "", "Path to record events as JSONL (replayable)")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fl.StringVar(&f.adminAddr, "admin-addr", "", "Serve session status on this address (e.g. :8080)")
	fl.Float64Var(&f.warningRate, "warning-rate", 0, "Percentage of readings forced into the warning tier")
	fl.Float64Var(&f.criticalRate, "critical-rate", 0, "Percentage of readings forced into the critical tier")
	fl.Float64Var(&f.speed, "speed", 1.0, "Replay speed multiplier (0 sends without delay)")
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig applies file, environment and flag settings in that order.
func loadConfig(cmd *cobra.Command, f *simFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath, f.schemaPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("warning-rate") {
		cfg.Telemetry.WarningRate = f.warningRate
	}
	if cmd.Flags().Changed("critical-rate") {
		cfg.Telemetry.CriticalRate = f.criticalRate
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if r := cfg.Telemetry; r.WarningRate < 0 || r.CriticalRate < 0 || r.WarningRate+r.CriticalRate > 100 {
		return nil, fmt.Errorf("%w: anomaly rates must be non-negative and sum to at most 100", config.ErrConfig)
	}
	return cfg, nil
}

// parseInterval reads the optional intervalMs argument. Non-positive values
// fall back to the default.
func parseInterval(args []string, def time.Duration) (time.Duration, error) {
	if len(args) < 3 {
		return def, nil
	}
	ms, err := strconv.Atoi(args[2])
	if err != nil {
		return 0, fmt.Errorf("%w: invalid interval %q", config.ErrConfig, args[2])
	}
	if ms <= 0 {
		return def, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// connect reads the device connection string and opens the transport.
func connect(ctx context.Context, cmd *cobra.Command, deviceID string, opts transport.Options) (transport.Device, transport.ConnectionString, error) {
	raw, err := config.DeviceConnectionString(deviceID)
	if err != nil {
		var missing *config.MissingEnvError
		if errors.As(err, &missing) {
			fmt.Fprintf(cmd.OutOrStdout(), "Error: %s\n%s\n", missing.Error(), missing.Hint())
		}
		return nil, transport.ConnectionString{}, err
	}
	cs, err := transport.ParseConnectionString(raw)
	if err != nil {
		return nil, cs, err
	}
	dev, err := transport.OpenDevice(ctx, cs, deviceID, opts)
	if err != nil {
		return nil, cs, fmt.Errorf("open %s transport: %w", cs.Kind(), err)
	}
	return dev, cs, nil
}

// signalContext cancels the returned context on SIGINT or SIGTERM.
func signalContext(parent context.Context, log *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case s := <-sigs:
			log.Info("signal received, stopping", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
}

func rates(cfg *config.Config) vitals.Rates {
	return vitals.Rates{Warning: cfg.Telemetry.WarningRate, Critical: cfg.Telemetry.CriticalRate}
}
