package shadow

import (
	"github.com/sproutlink/gardend/internal/models"
)

// mergeState folds an incoming state into the previous one. Sub-states
// outside manual watering are periodic full snapshots, so a present sub-state
// replaces the previous one wholesale and an absent one keeps it. Manual
// watering is delta-reported and gets the field-level treatment below.
func mergeState(prev, next models.DeviceState) models.DeviceState {
	merged := next

	if next.ManualWatering == nil {
		merged.ManualWatering = prev.ManualWatering
	} else if prev.ManualWatering != nil {
		merged.ManualWatering = mergeManualWatering(prev.ManualWatering, next.ManualWatering)
	}

	if next.FirmwareVersion == nil {
		merged.FirmwareVersion = prev.FirmwareVersion
	}
	if next.Air == nil {
		merged.Air = prev.Air
	}
	if next.Soil == nil {
		merged.Soil = prev.Soil
	}
	if next.Relays == nil {
		merged.Relays = prev.Relays
	}
	if next.Scenarios == nil {
		merged.Scenarios = prev.Scenarios
	}
	if next.SoilMoisture == nil {
		merged.SoilMoisture = prev.SoilMoisture
	}
	if next.AirTemperature == nil {
		merged.AirTemperature = prev.AirTemperature
	}
	if next.AirHumidity == nil {
		merged.AirHumidity = prev.AirHumidity
	}

	return merged
}

// mergeManualWatering applies the correlation-aware merge rule:
//
//  1. The effective correlation ID is the incoming one when non-blank,
//     otherwise the previous one.
//  2. A changed correlation ID means a new command superseded the old one;
//     the incoming sub-state replaces the previous one entirely.
//  3. An unchanged correlation ID means the same in-flight command; fields
//     merge individually so a partial delta cannot wipe values an earlier
//     message established.
//  4. If the previous entry recorded a journal entry for this correlation ID
//     and the incoming message does not carry that marker, the previous
//     status wins. A redelivered or reordered message must not regress the
//     status past a durable side effect that already happened.
func mergeManualWatering(prev, next *models.ManualWateringState) *models.ManualWateringState {
	correlationID := next.CorrelationID
	if correlationID == "" {
		correlationID = prev.CorrelationID
	}

	if correlationID != prev.CorrelationID {
		replaced := *next
		replaced.CorrelationID = correlationID
		return &replaced
	}

	merged := *prev
	merged.CorrelationID = correlationID

	if next.Status != "" {
		merged.Status = next.Status
	}
	if next.DurationS != nil {
		merged.DurationS = next.DurationS
	}
	if next.StartedAt != nil {
		merged.StartedAt = next.StartedAt
	}
	if next.RemainingS != nil {
		merged.RemainingS = next.RemainingS
	}
	if next.WaterVolumeL != nil {
		merged.WaterVolumeL = next.WaterVolumeL
	}
	if next.PH != nil {
		merged.PH = next.PH
	}
	if next.FertilizersPerLiter != nil {
		merged.FertilizersPerLiter = next.FertilizersPerLiter
	}

	// Last write wins on the journal marker itself.
	if next.JournalWrittenFor != "" {
		merged.JournalWrittenFor = next.JournalWrittenFor
	}

	if prev.JournalWrittenFor == correlationID && next.JournalWrittenFor != correlationID {
		merged.Status = prev.Status
	}

	return &merged
}
