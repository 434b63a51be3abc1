// Wire payloads exchanged with the transport
package payload

import (
	"strconv"
)

// Content metadata attached to every message.
const (
	ContentTypeJSON = "application/json"
	EncodingUTF8    = "utf-8"
)

// TimestampLayout is the wire format for timestamps (%Y-%m-%dT%H:%M:%SZ).
const TimestampLayout = "2006-01-02T15:04:05Z"

// Message is a payload handed to the transport. The transport copies Payload
// before the submit call returns.
type Message struct {
	MessageID       string
	CorrelationID   string
	Payload         []byte
	ContentType     string
	ContentEncoding string
}

// Decimal1 is a float serialized with exactly one decimal place.
type Decimal1 float64

// MarshalJSON implements json.Marshaler.
func (d Decimal1) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, float64(d), 'f', 1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Decimal1) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*d = Decimal1(v)
	return nil
}
