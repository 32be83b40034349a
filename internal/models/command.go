package models

// CommandPayload is the JSON body published to a device's command topic.
// Type selects the operation; CorrelationID links the eventual ack back to
// this command.
type CommandPayload struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id"`
	DurationS     int    `json:"duration_s,omitempty"`

	// OTA fields, present only for type "ota".
	URL     string `json:"url,omitempty"`
	Version string `json:"version,omitempty"`
	SHA256  string `json:"sha256,omitempty"`
}
