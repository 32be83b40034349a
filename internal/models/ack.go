package models

import (
	"encoding/json"
	"time"
)

// CommandAck is a device acknowledgment for an issued command, keyed by
// correlation ID. A retransmitted ack for the same correlation ID supersedes
// the earlier one. A zero ExpiresAt means the ack never expires.
type CommandAck struct {
	CorrelationID string          `json:"correlation_id"`
	DeviceID      string          `json:"device_id,omitempty"`
	Result        string          `json:"result,omitempty"`
	Status        string          `json:"status,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ReceivedAt    time.Time       `json:"received_at,omitempty"`
	ExpiresAt     time.Time       `json:"expires_at,omitempty"`
}

// Expired reports whether the ack is past its expiry at the given instant.
func (a CommandAck) Expired(now time.Time) bool {
	if a.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(a.ExpiresAt)
}
