// Package session drives the periodic telemetry loop of one simulated device.
//
// Telemetry sends are fire-and-forget: the loop submits a message and moves
// on. Confirmations arrive later on transport goroutines, possibly out of
// order, and are counted and reported without being matched to the snapshot
// that produced them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"medfleet-sim/internal/payload"
	"medfleet-sim/internal/report"
	"medfleet-sim/internal/transport"
	"medfleet-sim/internal/vitals"
)

// DefaultInterval is used when Run is given a non-positive interval.
const DefaultInterval = 5 * time.Second

// State is the lifecycle position of a session.
type State int32

// Session states.
const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

var (
	// ErrStopped is returned by Run on a session that has already stopped.
	ErrStopped = errors.New("session stopped")
	// ErrRunning is returned by Run while another Run is active.
	ErrRunning = errors.New("session already running")
)

// Options configure a Session.
type Options struct {
	Reporter report.Reporter
	Log      *slog.Logger
}

// Session sends generated vitals for one device at a fixed interval.
type Session struct {
	sender   transport.EventSender
	gen      *vitals.Generator
	reporter report.Reporter
	log      *slog.Logger

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once

	sent      atomic.Int64
	confirmed atomic.Int64
	failed    atomic.Int64
	conn      atomic.Int32

	mu       sync.Mutex
	deviceID string
	latest   json.RawMessage
}

// New creates an idle session.
func New(sender transport.EventSender, gen *vitals.Generator, opts Options) *Session {
	s := &Session{
		sender:   sender,
		gen:      gen,
		reporter: opts.Reporter,
		log:      opts.Log,
		stop:     make(chan struct{}),
	}
	if s.reporter == nil {
		s.reporter = report.Nop{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Sent returns the number of telemetry messages accepted by the transport.
func (s *Session) Sent() int64 { return s.sent.Load() }

// Run sends telemetry for deviceID every interval until ctx is done or Stop is
// called. Cancellation is observed at the top of each iteration and during the
// sleep. A graceful stop returns nil.
func (s *Session) Run(ctx context.Context, deviceID string, interval time.Duration) error {
	if err := s.begin(deviceID); err != nil {
		return err
	}
	defer s.Stop()

	if interval <= 0 {
		interval = DefaultInterval
	}
	log := s.log.With("device", deviceID)
	log.Info("telemetry session started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			log.Info("telemetry session stopping", "reason", ctx.Err(), "sent", s.Sent())
			return nil
		case <-s.stop:
			log.Info("telemetry session stopping", "reason", "stopped", "sent", s.Sent())
			return nil
		default:
		}

		s.tick(ctx, log, s.gen.Generate(deviceID))
		s.sleep(ctx, interval)
	}
}

func (s *Session) begin(deviceID string) error {
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		if s.State() == Running {
			return ErrRunning
		}
		return ErrStopped
	}
	s.mu.Lock()
	s.deviceID = deviceID
	s.mu.Unlock()
	return nil
}

// Stop ends the session. It is safe to call more than once and from any goroutine.
func (s *Session) Stop() {
	s.state.Store(int32(Stopped))
	s.stopOnce.Do(func() { close(s.stop) })
}

// tick submits one snapshot. A failed submit is reported and the loop goes on.
func (s *Session) tick(ctx context.Context, log *slog.Logger, snap vitals.Snapshot) {
	msg, err := payload.EncodeVitals(snap)
	if err != nil {
		log.Error("encode telemetry failed", "error", err)
		return
	}
	s.mu.Lock()
	s.latest = json.RawMessage(msg.Payload)
	s.mu.Unlock()

	deviceID := snap.DeviceID
	err = s.sender.SendEvent(ctx, msg, func(err error) {
		if err != nil {
			s.failed.Add(1)
			log.Warn("telemetry confirmation failed", "error", err)
		} else {
			s.confirmed.Add(1)
			log.Debug("telemetry confirmed")
		}
		s.emit(report.Outcome(report.KindConfirmation, deviceID, err))
	})
	if err != nil {
		s.failed.Add(1)
		log.Error("telemetry submit failed", "error", err)
		s.emit(report.Outcome(report.KindConfirmation, deviceID, err))
		return
	}
	s.sent.Add(1)
	log.Debug("telemetry submitted", "status", snap.Status)
	s.emit(report.Telemetry(snap, msg))
}

func (s *Session) emit(e report.Event) {
	if err := s.reporter.Report(e); err != nil {
		s.log.Warn("report failed", "kind", e.Kind, "error", err)
	}
}

// HandleCommand reports a cloud-to-device command. Install it with
// transport.CommandReceiver.OnCommand. A payload that is not a command is
// still reported, with its raw text as the detail.
func (s *Session) HandleCommand(msg payload.Message) {
	s.mu.Lock()
	id := s.deviceID
	s.mu.Unlock()
	e := report.Event{
		Kind:          report.KindCommand,
		Time:          time.Now().UTC(),
		DeviceID:      id,
		MessageID:     msg.MessageID,
		CorrelationID: msg.CorrelationID,
		OK:            true,
	}
	cmd, err := payload.DecodeCommand(msg.Payload)
	if err != nil {
		s.log.Warn("command received with unreadable payload", "device", id, "messageId", msg.MessageID, "error", err)
		e.Detail = string(msg.Payload)
	} else {
		s.log.Info("command received", "device", id, "command", cmd.Command,
			"messageId", msg.MessageID, "correlationId", msg.CorrelationID)
		e.Detail = cmd.Command
		e.Payload = json.RawMessage(append([]byte(nil), msg.Payload...))
	}
	s.emit(e)
}

// SetConnectionState records a transport connection change. Install it as
// transport.Options.OnConnectionChange.
func (s *Session) SetConnectionState(cs transport.ConnectionState) {
	s.conn.Store(int32(cs))
	s.mu.Lock()
	id := s.deviceID
	s.mu.Unlock()
	s.emit(report.Event{
		Kind:     report.KindConnection,
		Time:     time.Now().UTC(),
		DeviceID: id,
		OK:       cs == transport.Authenticated,
		Detail:   cs.String(),
	})
}

// Status is a point-in-time view of a session.
type Status struct {
	DeviceID   string          `json:"deviceId"`
	State      string          `json:"state"`
	Sent       int64           `json:"sent"`
	Confirmed  int64           `json:"confirmed"`
	Failed     int64           `json:"failed"`
	Connection string          `json:"connection"`
	Latest     json.RawMessage `json:"latest,omitempty"`
}

// Status returns the current counters and the most recent encoded snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		DeviceID:   s.deviceID,
		State:      s.State().String(),
		Sent:       s.sent.Load(),
		Confirmed:  s.confirmed.Load(),
		Failed:     s.failed.Load(),
		Connection: transport.ConnectionState(s.conn.Load()).String(),
		Latest:     s.latest,
	}
}
