// Package report renders simulator and console activity for the operator.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"medfleet-sim/internal/payload"
	"medfleet-sim/internal/vitals"
)

// Kind identifies what an Event describes.
type Kind string

// Event kinds.
const (
	KindTelemetry    Kind = "telemetry"
	KindConfirmation Kind = "confirmation"
	KindCommand      Kind = "command"
	KindUpload       Kind = "upload"
	KindDispatch     Kind = "dispatch"
	KindConnection   Kind = "connection"
)

// Event is one reportable occurrence. Payload holds the wire JSON for
// telemetry and command events.
type Event struct {
	Kind          Kind            `json:"kind"`
	Time          time.Time       `json:"time"`
	DeviceID      string          `json:"deviceId"`
	MessageID     string          `json:"messageId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Status        vitals.Status   `json:"status,omitempty"`
	Alerts        []string        `json:"alerts,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	OK            bool            `json:"ok"`
	Error         string          `json:"error,omitempty"`
	Detail        string          `json:"detail,omitempty"`

	// Snapshot is set for in-process telemetry events and never serialized.
	Snapshot *vitals.Snapshot `json:"-"`
}

// Reporter consumes events. Implementations must be safe for concurrent use:
// completion callbacks report from transport goroutines.
type Reporter interface {
	Report(Event) error
}

// Overview describes the run and is printed once by the console reporter.
type Overview struct {
	DeviceID  string
	Mode      string
	Interval  time.Duration
	Transport string
	Rates     vitals.Rates
}

// Telemetry builds the event for a submitted snapshot.
func Telemetry(s vitals.Snapshot, msg payload.Message) Event {
	snap := s
	return Event{
		Kind:     KindTelemetry,
		Time:     s.Timestamp,
		DeviceID: s.DeviceID,
		Status:   s.Status,
		Alerts:   vitals.Alerts(s),
		Payload:  json.RawMessage(msg.Payload),
		OK:       true,
		Snapshot: &snap,
	}
}

// Outcome builds an event of kind k whose success is decided by err.
func Outcome(k Kind, deviceID string, err error) Event {
	e := Event{Kind: k, Time: time.Now().UTC(), DeviceID: deviceID, OK: err == nil}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Nop discards every event.
type Nop struct{}

// Report implements Reporter.
func (Nop) Report(Event) error { return nil }

// snapshot returns the event's snapshot, decoding the payload when needed.
func (e Event) snapshot() (vitals.Snapshot, bool) {
	if e.Snapshot != nil {
		return *e.Snapshot, true
	}
	if len(e.Payload) == 0 {
		return vitals.Snapshot{}, false
	}
	s, err := payload.DecodeVitals(e.Payload)
	if err != nil {
		return vitals.Snapshot{}, false
	}
	return s, true
}

// plainLine renders an event without colors.
func plainLine(e Event) string {
	return formatLine(e, palette{})
}

type palette struct {
	reset, red, green, yellow, blue, magenta, cyan, gray string
}

var ansi = palette{
	reset:   colorReset,
	red:     colorRed,
	green:   colorGreen,
	yellow:  colorYellow,
	blue:    colorBlue,
	magenta: colorMagenta,
	cyan:    colorCyan,
	gray:    colorGray,
}

func (p palette) status(s vitals.Status) string {
	switch s {
	case vitals.StatusCritical:
		return p.red
	case vitals.StatusWarning:
		return p.yellow
	default:
		return p.green
	}
}

func (p palette) outcome(ok bool) string {
	if ok {
		return p.green
	}
	return p.red
}

func formatLine(e Event, p palette) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s]%s ", p.gray, e.Time.UTC().Format(time.RFC3339), p.reset)
	switch e.Kind {
	case KindTelemetry:
		s, ok := e.snapshot()
		if !ok {
			fmt.Fprintf(&b, "%sTELEMETRY%s device=%s", p.blue, p.reset, e.DeviceID)
			break
		}
		fmt.Fprintf(&b, "%sdevice=%s%s ", p.blue, s.DeviceID, p.reset)
		fmt.Fprintf(&b, "%shr=%d%s ", p.magenta, s.HeartRate, p.reset)
		fmt.Fprintf(&b, "%sbp=%d/%d%s ", p.cyan, s.Systolic, s.Diastolic, p.reset)
		fmt.Fprintf(&b, "%stemp=%.1f%s ", p.yellow, s.TemperatureC, p.reset)
		fmt.Fprintf(&b, "%sspo2=%d%s ", p.cyan, s.SpO2, p.reset)
		fmt.Fprintf(&b, "%srr=%.1f%s ", p.magenta, s.RespiratoryRate, p.reset)
		fmt.Fprintf(&b, "%sstatus=%s%s", p.status(s.Status), s.Status, p.reset)
		if len(e.Alerts) > 0 {
			fmt.Fprintf(&b, " %salerts=%s%s", p.red, strings.Join(e.Alerts, ","), p.reset)
		}
	case KindConfirmation:
		if e.OK {
			fmt.Fprintf(&b, "%sCONFIRMED%s device=%s", p.green, p.reset, e.DeviceID)
		} else {
			fmt.Fprintf(&b, "%sSEND FAILED%s device=%s error=%s", p.red, p.reset, e.DeviceID, e.Error)
		}
	case KindCommand:
		fmt.Fprintf(&b, "%sCOMMAND%s device=%s id=%s correlation=%s %s",
			p.red, p.reset, e.DeviceID, e.MessageID, e.CorrelationID, commandContent(e))
	case KindUpload, KindDispatch:
		label := "UPLOAD"
		if e.Kind == KindDispatch {
			label = "DISPATCH"
		}
		result := "ok"
		if !e.OK {
			result = "failed: " + e.Error
		}
		fmt.Fprintf(&b, "%s%s%s device=%s", p.blue, label, p.reset, e.DeviceID)
		if e.MessageID != "" {
			fmt.Fprintf(&b, " id=%s", e.MessageID)
		}
		if e.Detail != "" {
			fmt.Fprintf(&b, " %s", e.Detail)
		}
		fmt.Fprintf(&b, " %s%s%s", p.outcome(e.OK), result, p.reset)
	case KindConnection:
		fmt.Fprintf(&b, "%sCONNECTION%s device=%s %s", p.cyan, p.reset, e.DeviceID, e.Detail)
	default:
		fmt.Fprintf(&b, "%s device=%s %s", e.Kind, e.DeviceID, e.Detail)
	}
	return b.String()
}

// commandContent is the command's JSON, or the raw text of a payload that
// did not decode.
func commandContent(e Event) string {
	if len(e.Payload) > 0 {
		return string(e.Payload)
	}
	return e.Detail
}
