package constants

import "time"

// Manual watering statuses as reported by devices.
const (
	WateringStatusIdle     = "idle"
	WateringStatusRunning  = "running"
	WateringStatusStopping = "stopping"
	WateringStatusStopped  = "stopped"
	WateringStatusError    = "error"
)

// Snapshot sources describe where a device snapshot was served from.
const (
	// SnapshotSourceMemory means the in-memory shadow entry was used.
	SnapshotSourceMemory = "memory"
	// SnapshotSourcePersistedState means the entry was cold-loaded from the
	// persisted state snapshot and adopted into memory.
	SnapshotSourcePersistedState = "persisted-state"
	// SnapshotSourcePersistedFallback means the device is known but no state
	// snapshot exists; only registry metadata was available.
	SnapshotSourcePersistedFallback = "persisted-fallback"
)

const (
	// DefaultOnlineThreshold is the recency window within which a device
	// counts as online.
	DefaultOnlineThreshold = 60 * time.Second
	// DefaultWateringRateMlPerHour is applied to devices that never reported
	// a calibrated pump delivery rate.
	DefaultWateringRateMlPerHour = 2000.0
	// DefaultAckTTL bounds how long a command ack stays retrievable.
	DefaultAckTTL = 5 * time.Minute
	// DefaultAckCleanupPeriod is the sweep interval for expired acks.
	DefaultAckCleanupPeriod = time.Minute
)
