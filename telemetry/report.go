package telemetry

import "time"

// Report is the JSON body a device sends over HTTP or MQTT
type Report struct {
	TransmitterMAC  string     `json:"transmitter_mac"`
	SensorDeviceMAC string     `json:"sensor_device_mac"`
	SensorAddress   string     `json:"sensor_address"`
	Temperature     *float64   `json:"temperature"`
	RecordedAt      *time.Time `json:"recorded_at,omitempty"`
}

// Sample converts the report, rejecting a missing temperature
func (r Report) Sample() (Sample, error) {
	if r.Temperature == nil {
		return Sample{}, &ValidationError{Field: "temperature", Reason: "is required"}
	}
	s := Sample{
		TransmitterMAC:  r.TransmitterMAC,
		SensorDeviceMAC: r.SensorDeviceMAC,
		SensorAddress:   r.SensorAddress,
		Temperature:     *r.Temperature,
	}
	if r.RecordedAt != nil {
		s.RecordedAt = *r.RecordedAt
	}
	return s, s.Validate()
}
