package payload

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"medfleet-sim/internal/vitals"
)

// TelemetryBody is the JSON shape of a telemetry message. Field order is part
// of the wire contract.
type TelemetryBody struct {
	DeviceID               string   `json:"deviceId"`
	Timestamp              string   `json:"timestamp"`
	HeartRate              int      `json:"heartRate"`
	BloodPressureSystolic  int      `json:"bloodPressureSystolic"`
	BloodPressureDiastolic int      `json:"bloodPressureDiastolic"`
	BodyTemperature        Decimal1 `json:"bodyTemperature"`
	SpO2                   int      `json:"spo2"`
	RespiratoryRate        Decimal1 `json:"respiratoryRate"`
	PatientStatus          string   `json:"patientStatus"`
}

// EncodeVitals serializes a snapshot into a UTF-8 JSON telemetry message.
func EncodeVitals(s vitals.Snapshot) (Message, error) {
	body := TelemetryBody{
		DeviceID:               s.DeviceID,
		Timestamp:              s.Timestamp.UTC().Format(TimestampLayout),
		HeartRate:              s.HeartRate,
		BloodPressureSystolic:  s.Systolic,
		BloodPressureDiastolic: s.Diastolic,
		BodyTemperature:        Decimal1(s.TemperatureC),
		SpO2:                   s.SpO2,
		RespiratoryRate:        Decimal1(s.RespiratoryRate),
		PatientStatus:          string(s.Status),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("encode telemetry: %w", err)
	}
	return Message{
		Payload:         data,
		ContentType:     ContentTypeJSON,
		ContentEncoding: EncodingUTF8,
	}, nil
}

// DecodeVitals parses a telemetry payload back into a snapshot.
func DecodeVitals(data []byte) (vitals.Snapshot, error) {
	var body TelemetryBody
	if err := json.Unmarshal(data, &body); err != nil {
		return vitals.Snapshot{}, fmt.Errorf("decode telemetry: %w", err)
	}
	ts, err := time.Parse(TimestampLayout, body.Timestamp)
	if err != nil {
		return vitals.Snapshot{}, fmt.Errorf("decode telemetry timestamp: %w", err)
	}
	return vitals.Snapshot{
		DeviceID:        body.DeviceID,
		Timestamp:       ts,
		HeartRate:       body.HeartRate,
		Systolic:        body.BloodPressureSystolic,
		Diastolic:       body.BloodPressureDiastolic,
		TemperatureC:    round1(float64(body.BodyTemperature)),
		SpO2:            body.SpO2,
		RespiratoryRate: round1(float64(body.RespiratoryRate)),
		Status:          vitals.Status(body.PatientStatus),
	}, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
