package payload

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Diagnostic command constants.
const (
	CommandRequestDiagnostic = "request_diagnostic_data"
	CommandSender            = "management-app"
	PriorityNormal           = "normal"
	diagnosticDescription    = "Request diagnostic data"
	diagnosticRangeHours     = 24
)

// CommandParameters is the fixed parameter block of a diagnostic request.
type CommandParameters struct {
	IncludeLogs    bool `json:"include_logs"`
	TimeRangeHours int  `json:"time_range_hours"`
}

// Command is the JSON shape of a cloud-to-device command.
type Command struct {
	MessageID   string            `json:"messageId"`
	Timestamp   string            `json:"timestamp"`
	Command     string            `json:"command"`
	Description string            `json:"description"`
	Parameters  CommandParameters `json:"parameters"`
	Sender      string            `json:"sender"`
	Priority    string            `json:"priority"`
}

// NewMessageID returns an id derived from now plus a random suffix, unique per call.
func NewMessageID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("msg-%s-%s", now.UTC().Format("20060102150405"), suffix)
}

// ComposeDiagnosticCommand builds a request_diagnostic_data command.
// deviceID is not part of the payload; the transport addresses the target.
func ComposeDiagnosticCommand(deviceID string, now time.Time) (Message, error) {
	cmd := Command{
		MessageID:   NewMessageID(now),
		Timestamp:   now.UTC().Format(TimestampLayout),
		Command:     CommandRequestDiagnostic,
		Description: diagnosticDescription,
		Parameters: CommandParameters{
			IncludeLogs:    true,
			TimeRangeHours: diagnosticRangeHours,
		},
		Sender:   CommandSender,
		Priority: PriorityNormal,
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return Message{}, fmt.Errorf("encode command: %w", err)
	}
	return Message{
		MessageID:       cmd.MessageID,
		CorrelationID:   uuid.NewString(),
		Payload:         data,
		ContentType:     ContentTypeJSON,
		ContentEncoding: EncodingUTF8,
	}, nil
}

// DecodeCommand parses a command payload.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}
