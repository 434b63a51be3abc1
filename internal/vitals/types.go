// Vital-sign snapshot types and severity classification
package vitals

import "time"

// Status is the severity tier derived from a snapshot's vitals.
type Status string

// Patient status constants.
const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Classification thresholds shared by the simulator and the console.
const (
	HeartRateWarning  = 100
	HeartRateCritical = 120
	TempWarning       = 37.5
	TempCritical      = 38.5
	SpO2Warning       = 95
	SpO2Critical      = 90
)

// Snapshot is one simulated reading of a patient's vitals.
type Snapshot struct {
	DeviceID        string
	Timestamp       time.Time
	HeartRate       int
	Systolic        int
	Diastolic       int
	TemperatureC    float64
	SpO2            int
	RespiratoryRate float64
	Status          Status
}

// Classify derives the patient status. Critical overrides warning overrides normal.
func Classify(heartRate int, temperatureC float64, spo2 int) Status {
	if heartRate > HeartRateCritical || temperatureC > TempCritical || spo2 < SpO2Critical {
		return StatusCritical
	}
	if heartRate > HeartRateWarning || temperatureC > TempWarning || spo2 < SpO2Warning {
		return StatusWarning
	}
	return StatusNormal
}

// Alerts returns per-vital alert tags in heartRate, bodyTemperature, spo2 order.
func Alerts(s Snapshot) []string {
	var alerts []string
	switch {
	case s.HeartRate > HeartRateCritical:
		alerts = append(alerts, "heartRate:high")
	case s.HeartRate > HeartRateWarning:
		alerts = append(alerts, "heartRate:elevated")
	}
	switch {
	case s.TemperatureC > TempCritical:
		alerts = append(alerts, "bodyTemperature:high")
	case s.TemperatureC > TempWarning:
		alerts = append(alerts, "bodyTemperature:elevated")
	}
	switch {
	case s.SpO2 < SpO2Critical:
		alerts = append(alerts, "spo2:low")
	case s.SpO2 < SpO2Warning:
		alerts = append(alerts, "spo2:elevated")
	}
	return alerts
}
