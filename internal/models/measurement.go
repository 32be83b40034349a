package models

// Measurement types extracted from device telemetry.
const (
	MeasurementSoilMoisture   = "soil_moisture"
	MeasurementAirTemperature = "air_temperature"
	MeasurementAirHumidity    = "air_humidity"
)

// SensorMeasurement is one normalized reading handed to the time-series
// recorder. Value is nil when a sensor is present but produced no reading
// (Detected then reports whether the sensor was seen at all).
type SensorMeasurement struct {
	Type     string   `json:"type"`
	Channel  int      `json:"channel"`
	Value    *float64 `json:"value,omitempty"`
	Detected bool     `json:"detected"`
}
