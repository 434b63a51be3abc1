package main

import (
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"

	"medfleet-sim/internal/admin"
	"medfleet-sim/internal/config"
	"medfleet-sim/internal/logging"
	"medfleet-sim/internal/report"
	"medfleet-sim/internal/session"
	"medfleet-sim/internal/transport"
	"medfleet-sim/internal/upload"
	"medfleet-sim/internal/vitals"
)

func run(cmd *cobra.Command, f *simFlags, args []string) error {
	deviceID, mode := args[0], args[1]
	switch mode {
	case modeTelemetry:
	case modeUpload, modeReplay:
		if len(args) < 3 {
			return fmt.Errorf("%w: %s mode requires a file path", config.ErrConfig, mode)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q (want telemetry, upload or replay)", config.ErrConfig, mode)
	}

	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	interval := cfg.Telemetry.Interval()
	if mode == modeTelemetry {
		if interval, err = parseInterval(args, interval); err != nil {
			return err
		}
	}

	log := newLogger(cfg).With("device", deviceID)
	ctx, cancel := signalContext(cmd.Context(), log)
	defer cancel()
	ctx = logging.NewContext(ctx, log)

	var sessRef atomic.Pointer[session.Session]
	opts := transport.Options{
		Log: log,
		OnConnectionChange: func(st transport.ConnectionState) {
			if s := sessRef.Load(); s != nil {
				s.SetConnectionState(st)
			}
		},
		Loopback: transport.LoopbackOptions{
			Latency:     cfg.Loopback.Latency(),
			FailureRate: cfg.Loopback.FailureRate,
		},
	}
	dev, cs, err := connect(ctx, cmd, deviceID, opts)
	if err != nil {
		return err
	}

	overview := &report.Overview{DeviceID: deviceID, Mode: mode, Transport: cs.Kind(), Rates: rates(cfg)}
	if mode == modeTelemetry {
		overview.Interval = interval
	}
	reporter, cleanup, err := newReporter(cmd.OutOrStdout(), f.output, f.logFile, overview, stdoutIsTerminal())
	if err != nil {
		dev.Close()
		return err
	}
	// close the transport first so late completions still reach the reporter
	defer func() {
		dev.Close()
		cleanup()
	}()

	sess := session.New(dev, vitals.NewGenerator(rates(cfg)), session.Options{Reporter: reporter, Log: log})
	sessRef.Store(sess)
	sess.SetConnectionState(transport.Authenticated)
	dev.OnCommand(sess.HandleCommand)

	if f.adminAddr != "" {
		srv := admin.NewServer(sess, log)
		go func() {
			if err := srv.Start(ctx, f.adminAddr); err != nil {
				log.Error("admin server failed", "error", err)
			}
		}()
	}

	switch mode {
	case modeUpload:
		c := upload.New(dev, upload.Config{Log: log, Reporter: reporter})
		res := c.Upload(ctx, deviceID, args[2], upload.Options{
			Deadline:     cfg.Upload.Deadline(),
			PollInterval: cfg.Upload.Poll(),
		})
		if res.Err != nil {
			return fmt.Errorf("upload %s: %w", res.Status, res.Err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s as %s (%d bytes)\n", args[2], res.Job.DestinationName, res.Job.SizeBytes)
		return nil
	case modeReplay:
		return sess.ReplayFile(ctx, deviceID, args[2], f.speed)
	default:
		if err := sess.Run(ctx, deviceID, interval); err != nil {
			return err
		}
		log.Info("device simulation stopped", "sent", sess.Sent())
		return nil
	}
}
