package constants

import "time"

// Command types published on the device command topic.
const (
	CommandTypePumpStart = "pump_start"
	CommandTypePumpStop  = "pump_stop"
	CommandTypeReboot    = "reboot"
	CommandTypeOTA       = "ota"
)

// Ack statuses reported by devices.
const (
	// AckStatusAccepted indicates that the device accepted the command
	AckStatusAccepted = "accepted"
	// AckStatusRejected indicates that the device refused the command
	AckStatusRejected = "rejected"
	// AckStatusFailed indicates that the device failed while executing the command
	AckStatusFailed = "failed"
)

const (
	// DefaultAckWaitTimeout bounds how long a caller blocks on a device ack by default.
	DefaultAckWaitTimeout = 10 * time.Second
	// MaxAckWaitTimeout is the hard upper bound on a single ack wait.
	MaxAckWaitTimeout = 60 * time.Second
	// DefaultAckPollInterval is the period between ack store lookups while waiting.
	DefaultAckPollInterval = 250 * time.Millisecond
)
