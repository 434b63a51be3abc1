// Package dispatch sends a diagnostic command to a list of devices in order,
// waiting a bounded time for each acknowledgment. The sweep is best effort:
// a failed target is recorded and the next one is tried. Nothing is retried.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"medfleet-sim/internal/config"
	"medfleet-sim/internal/gate"
	"medfleet-sim/internal/payload"
	"medfleet-sim/internal/report"
	"medfleet-sim/internal/transport"
)

// Defaults for Options.
const (
	DefaultPerTargetTimeout = time.Second
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultInterTargetDelay = 500 * time.Millisecond
)

// DefaultTargets returns the built-in broadcast list.
func DefaultTargets() []string {
	return append([]string(nil), config.DefaultTargets...)
}

// Options configure a Controller.
type Options struct {
	PerTargetTimeout time.Duration
	PollInterval     time.Duration
	// InterTargetDelay separates consecutive targets. No delay follows the last one.
	InterTargetDelay time.Duration
	Log              *slog.Logger
	Reporter         report.Reporter
	// Now stamps composed commands. Defaults to time.Now.
	Now func() time.Time
}

// TargetResult is the outcome for one device.
type TargetResult struct {
	DeviceID  string
	MessageID string
	Outcome   gate.Outcome
	Reason    gate.Reason
	Err       error
	Elapsed   time.Duration
}

// OK reports whether the device acknowledged in time.
func (r TargetResult) OK() bool { return r.Outcome == gate.OK }

// Controller sequences command sends over one shared gate. Only one command
// is outstanding at a time.
type Controller struct {
	sender transport.CommandSender
	gate   *gate.Gate
	opts   Options
}

// New creates a Controller that submits through sender.
func New(sender transport.CommandSender, opts Options) *Controller {
	if opts.PerTargetTimeout <= 0 {
		opts.PerTargetTimeout = DefaultPerTargetTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.InterTargetDelay < 0 {
		opts.InterTargetDelay = 0
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Reporter == nil {
		opts.Reporter = report.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Controller{sender: sender, gate: gate.New(), opts: opts}
	c.gate.OnLate = func(err error) {
		opts.Log.Warn("acknowledgment arrived after its wait ended; ignored", "error", err)
	}
	return c
}

// DispatchAll sends to every target in order. If ctx is cancelled the
// remaining targets are marked cancelled without being contacted.
func (c *Controller) DispatchAll(ctx context.Context, targets []string) []TargetResult {
	results := make([]TargetResult, 0, len(targets))
	c.opts.Log.Info("dispatching to targets", "count", len(targets))
	for i, target := range targets {
		if ctx.Err() != nil {
			results = append(results, cancelled(target))
			continue
		}
		results = append(results, c.Dispatch(ctx, target))
		if i < len(targets)-1 && c.opts.InterTargetDelay > 0 {
			t := time.NewTimer(c.opts.InterTargetDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	}
	return results
}

// Dispatch sends one diagnostic command to deviceID and waits for its acknowledgment.
func (c *Controller) Dispatch(ctx context.Context, deviceID string) TargetResult {
	start := time.Now()
	log := c.opts.Log.With("device", deviceID)

	res := c.dispatch(ctx, deviceID)
	res.Elapsed = time.Since(start)

	if res.OK() {
		log.Info("command acknowledged", "messageId", res.MessageID, "elapsed", res.Elapsed)
	} else {
		log.Error("command failed", "messageId", res.MessageID, "reason", res.Reason, "error", res.Err)
	}
	e := report.Outcome(report.KindDispatch, deviceID, res.Err)
	e.MessageID = res.MessageID
	if err := c.opts.Reporter.Report(e); err != nil {
		log.Warn("report failed", "error", err)
	}
	return res
}

func (c *Controller) dispatch(ctx context.Context, deviceID string) TargetResult {
	res := TargetResult{DeviceID: deviceID}
	msg, err := payload.ComposeDiagnosticCommand(deviceID, c.opts.Now())
	if err != nil {
		res.Outcome, res.Reason, res.Err = gate.Failed, gate.ReasonTransport, err
		return res
	}
	res.MessageID = msg.MessageID

	notify := c.gate.Reset()
	if err := c.sender.SendCommand(ctx, deviceID, msg, notify); err != nil {
		res.Outcome, res.Reason, res.Err = gate.Failed, gate.ReasonTransport, err
		return res
	}
	out := c.gate.Await(ctx, gate.WaitOptions{
		Deadline:     c.opts.PerTargetTimeout,
		PollInterval: c.opts.PollInterval,
	})
	res.Outcome, res.Reason, res.Err = out.Outcome, out.Reason, out.Error()
	return res
}

func cancelled(deviceID string) TargetResult {
	return TargetResult{
		DeviceID: deviceID,
		Outcome:  gate.Failed,
		Reason:   gate.ReasonCancelled,
		Err:      gate.ErrCancelled,
	}
}

// Summary counts acknowledged and failed targets.
func Summary(results []TargetResult) (ok, failed int) {
	for _, r := range results {
		if r.OK() {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}
