package models

import "time"

// DeviceState is the nested snapshot a device reports on its state topic.
// Every field is optional: an absent field means "no information", not
// "cleared", so pointers distinguish omitted values from zero values.
type DeviceState struct {
	ManualWatering  *ManualWateringState `json:"manual_watering,omitempty"`
	FirmwareVersion *string              `json:"fw_version,omitempty"`
	Air             *AirState            `json:"air,omitempty"`
	Soil            *SoilState           `json:"soil,omitempty"`
	Relays          *RelayState          `json:"relays,omitempty"`
	Scenarios       *ScenarioToggles     `json:"scenarios,omitempty"`

	// Legacy flat sensor fields still sent by old firmware.
	SoilMoisture   *float64 `json:"soil_moisture,omitempty"`
	AirTemperature *float64 `json:"air_temperature,omitempty"`
	AirHumidity    *float64 `json:"air_humidity,omitempty"`
}

// ManualWateringState tracks a user-triggered pump run. CorrelationID ties the
// state to the command that started it; JournalWrittenFor records which
// correlation ID already produced a durable journal entry, so redelivered
// telemetry cannot trigger the side effect twice.
type ManualWateringState struct {
	Status              string     `json:"status,omitempty"`
	DurationS           *int       `json:"duration_s,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	RemainingS          *int       `json:"remaining_s,omitempty"`
	CorrelationID       string     `json:"correlation_id,omitempty"`
	WaterVolumeL        *float64   `json:"water_volume_l,omitempty"`
	PH                  *float64   `json:"ph,omitempty"`
	FertilizersPerLiter *float64   `json:"fertilizers_per_liter,omitempty"`
	JournalWrittenFor   string     `json:"journal_written_for_correlation_id,omitempty"`
}

// AirState is the structured air sensor sub-state.
type AirState struct {
	Available   *bool    `json:"available,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
}

// SoilState holds one entry per physical soil sensor port.
type SoilState struct {
	Ports []SoilPort `json:"ports,omitempty"`
}

// SoilPort reports a single soil moisture probe. Detected=false with no value
// still matters: it signals sensor disappearance.
type SoilPort struct {
	Moisture *float64 `json:"moisture,omitempty"`
	Detected *bool    `json:"detected,omitempty"`
}

// RelayState reports the light and pump relay positions.
type RelayState struct {
	Light *bool `json:"light,omitempty"`
	Pump  *bool `json:"pump,omitempty"`
}

// ScenarioToggles reports which automation scenarios the device has enabled.
type ScenarioToggles struct {
	AutoWatering *bool `json:"auto_watering,omitempty"`
	AutoLight    *bool `json:"auto_light,omitempty"`
}

// DeviceSnapshot is the read model returned to callers of the shadow store.
// It is derived on every read, never stored.
type DeviceSnapshot struct {
	State     DeviceState `json:"state"`
	UpdatedAt time.Time   `json:"updated_at"`
	IsOnline  bool        `json:"is_online"`
	Source    string      `json:"source"`
}

// ManualWateringView is the display-ready projection returned to the REST
// layer. The duplicated duration/started_at fields are a deliberate
// backward-compatible surface for older clients.
type ManualWateringView struct {
	Status        string `json:"status"`
	DurationS     *int   `json:"duration_s,omitempty"`
	Duration      *int   `json:"duration,omitempty"`
	StartedAt     string `json:"started_at,omitempty"`
	StartTime     string `json:"start_time,omitempty"`
	RemainingS    *int   `json:"remaining_s,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	UpdatedAt     string `json:"updated_at"`
	LastSeenAt    string `json:"last_seen_at"`
	IsOnline      bool   `json:"is_online"`
	Source        string `json:"source"`
}
