package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"medfleet-sim/internal/config"
	"medfleet-sim/internal/dispatch"
	"medfleet-sim/internal/logging"
	"medfleet-sim/internal/report"
	"medfleet-sim/internal/transport"
)

type managerFlags struct {
	device     string
	sendAll    bool
	list       bool
	configPath string
	schemaPath string
	output     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	f := &managerFlags{}
	cmd := &cobra.Command{
		Use:           "device-manager --device <deviceId> | --send_all | --list",
		Short:         "Send diagnostic commands to simulated devices",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.device, "device", "", "Send a diagnostic command to one device")
	fl.BoolVar(&f.sendAll, "send_all", false, "Send a diagnostic command to every configured target")
	fl.BoolVar(&f.sendAll, "all", false, "Alias for --send_all")
	fl.BoolVar(&f.list, "list", false, "List devices known to the transport")
	fl.StringVar(&f.configPath, "config", "", "Path to configuration YAML")
	fl.StringVar(&f.schemaPath, "schema", "", "Path to CUE schema file (defaults to the built-in schema)")
	fl.StringVar(&f.output, "output", "auto", "Output: auto, console or json")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, f *managerFlags) error {
	modes := 0
	for _, on := range []bool{f.device != "", f.sendAll, f.list} {
		if on {
			modes++
		}
	}
	if modes != 1 {
		return fmt.Errorf("%w: choose exactly one of --device, --send_all or --list", config.ErrConfig)
	}

	cfg, err := config.Load(f.configPath, f.schemaPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	log := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	reporter, err := newReporter(cmd.OutOrStdout(), f.output)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logging.NewContext(ctx, log)

	svc, err := connect(ctx, cmd.OutOrStdout(), cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	if f.list {
		return listDevices(ctx, cmd.OutOrStdout(), svc, cfg, log)
	}

	ctl := dispatch.New(svc, dispatch.Options{
		PerTargetTimeout: cfg.Dispatch.Timeout(),
		PollInterval:     cfg.Dispatch.Poll(),
		InterTargetDelay: cfg.Dispatch.Delay(),
		Log:              log,
		Reporter:         reporter,
	})
	// A failed target is reported, not returned: the process still exits 0.
	if f.device != "" {
		ctl.Dispatch(ctx, f.device)
		return nil
	}

	results := ctl.DispatchAll(ctx, cfg.Dispatch.Targets)
	ok, failed := dispatch.Summary(results)
	fmt.Fprintf(cmd.OutOrStdout(), "Dispatched to %d devices: %d acknowledged, %d failed\n", len(results), ok, failed)
	return nil
}

// connect reads IOTHUB_CONNECTION_STRING and opens the service transport.
func connect(ctx context.Context, out io.Writer, cfg *config.Config, log *slog.Logger) (transport.Service, error) {
	raw, err := config.ServiceConnectionString()
	if err != nil {
		var missing *config.MissingEnvError
		if errors.As(err, &missing) {
			fmt.Fprintf(out, "Error: %s\n%s\n", missing.Error(), missing.Hint())
		}
		return nil, err
	}
	cs, err := transport.ParseConnectionString(raw)
	if err != nil {
		return nil, err
	}
	svc, err := transport.OpenService(ctx, cs, transport.Options{
		Log: log,
		Loopback: transport.LoopbackOptions{
			Latency:     cfg.Loopback.Latency(),
			FailureRate: cfg.Loopback.FailureRate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open %s transport: %w", cs.Kind(), err)
	}
	return svc, nil
}

// listDevices prints the transport's device registry, or the configured
// targets when the transport has none.
func listDevices(ctx context.Context, out io.Writer, svc transport.Service, cfg *config.Config, log *slog.Logger) error {
	ids, err := svc.ListDevices(ctx)
	if errors.Is(err, transport.ErrUnsupported) {
		log.Info("transport cannot list devices; showing configured targets")
		ids, err = cfg.Dispatch.Targets, nil
	}
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No devices found")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func newReporter(out io.Writer, output string) (report.Reporter, error) {
	switch output {
	case "", "auto":
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return report.NewConsole(out, nil), nil
		}
		return report.NewJSON(out), nil
	case "console":
		return report.NewConsole(out, nil), nil
	case "json":
		return report.NewJSON(out), nil
	default:
		return nil, fmt.Errorf("%w: unknown output %q", config.ErrConfig, output)
	}
}
