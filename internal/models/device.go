package models

import "time"

// Device is a registered device row from the durability tier. Settings are
// nullable: a nil value means the device never reported a calibration and
// the configured default applies.
type Device struct {
	ID                    string     `json:"id"`
	ExternalID            string     `json:"external_id"`
	Name                  string     `json:"name"`
	WateringRateMlPerHour *float64   `json:"watering_rate_ml_per_hour,omitempty"`
	OnlineThresholdS      *int       `json:"online_threshold_s,omitempty"`
	LastSeenAt            *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}
