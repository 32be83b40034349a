package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sproutlink/gardend/internal/acks"
	"github.com/sproutlink/gardend/internal/constants"
	"github.com/sproutlink/gardend/internal/models"
	"github.com/sproutlink/gardend/internal/shadow"
	"github.com/sproutlink/gardend/pkg/mqtt"
)

var (
	// ErrTransportUnavailable reports a failed publish to the broker.
	ErrTransportUnavailable = errors.New("command transport unavailable")
	// ErrInvalidDuration reports a non-positive watering duration.
	ErrInvalidDuration = errors.New("watering duration must be positive")
	// ErrNoNewerVersion reports an OTA request that would not upgrade the device.
	ErrNoNewerVersion = errors.New("device firmware is already at or above the requested version")
)

// PumpCommandService issues asynchronous commands to devices over the
// command topic and tracks their acknowledgment through the ack store. Each
// command carries a fresh correlation ID returned to the caller.
type PumpCommandService struct {
	// Configuration fields
	topicPrefix          string
	qos                  int
	defaultRateMlPerHour float64
	defaultWaitTimeout   time.Duration
	maxWaitTimeout       time.Duration
	pollInterval         time.Duration

	// Dependencies
	mqttClient mqtt.MQTTClient
	shadow     *shadow.Store
	acks       *acks.Store
	logger     zerolog.Logger

	now func() time.Time
}

// NewPumpCommandService initializes a new PumpCommandService.
func NewPumpCommandService(
	topicPrefix string,
	qos int,
	defaultRateMlPerHour float64,
	defaultWaitTimeout time.Duration,
	maxWaitTimeout time.Duration,
	pollInterval time.Duration,
	mqttClient mqtt.MQTTClient,
	shadowStore *shadow.Store,
	ackStore *acks.Store,
	logger zerolog.Logger,
) *PumpCommandService {
	if defaultRateMlPerHour <= 0 {
		defaultRateMlPerHour = constants.DefaultWateringRateMlPerHour
	}
	if defaultWaitTimeout <= 0 {
		defaultWaitTimeout = constants.DefaultAckWaitTimeout
	}
	if maxWaitTimeout <= 0 {
		maxWaitTimeout = constants.MaxAckWaitTimeout
	}
	if pollInterval <= 0 {
		pollInterval = constants.DefaultAckPollInterval
	}
	return &PumpCommandService{
		topicPrefix:          topicPrefix,
		qos:                  qos,
		defaultRateMlPerHour: defaultRateMlPerHour,
		defaultWaitTimeout:   defaultWaitTimeout,
		maxWaitTimeout:       maxWaitTimeout,
		pollInterval:         pollInterval,
		mqttClient:           mqttClient,
		shadow:               shadowStore,
		acks:                 ackStore,
		logger:               logger,
		now:                  time.Now,
	}
}

// SetClock overrides the service clock. Test use only.
func (ps *PumpCommandService) SetClock(now func() time.Time) {
	ps.now = now
}

// StartWatering publishes a pump start command and applies an optimistic
// shadow update so a read issued right after the call already reflects the
// running state. The optimistic write is skipped when the publish fails:
// the device never saw the command, so the shadow must not claim it runs.
func (ps *PumpCommandService) StartWatering(deviceID string, durationS int) (string, error) {
	if durationS <= 0 {
		return "", ErrInvalidDuration
	}

	correlationID := uuid.New().String()
	payload := models.CommandPayload{
		Type:          constants.CommandTypePumpStart,
		CorrelationID: correlationID,
		DurationS:     durationS,
	}
	if err := ps.publish(deviceID, payload); err != nil {
		return "", err
	}

	now := ps.now()
	ps.shadow.UpdateFromState(deviceID, models.DeviceState{
		ManualWatering: &models.ManualWateringState{
			Status:        constants.WateringStatusRunning,
			DurationS:     &durationS,
			StartedAt:     &now,
			RemainingS:    &durationS,
			CorrelationID: correlationID,
		},
	}, now)

	ps.logger.Info().
		Str("device_id", deviceID).
		Str("correlation_id", correlationID).
		Int("duration_s", durationS).
		Msg("Issued pump start command")
	return correlationID, nil
}

// StartWateringByVolume derives the watering duration from a target volume
// and the delivery rates of every binding the command fans out to, then
// starts the pump.
func (ps *PumpCommandService) StartWateringByVolume(deviceID string, volumeL float64, ratesMlPerHour []float64) (string, error) {
	durationS, err := ps.DurationFromVolume(volumeL, ratesMlPerHour)
	if err != nil {
		return "", err
	}
	return ps.StartWatering(deviceID, durationS)
}

// DurationFromVolume computes ceil(volume_l / (avg_rate_ml_per_hour / 1000) * 3600),
// averaging the per-target delivery rates. A non-positive result is a
// validation failure, never a silently clamped zero.
func (ps *PumpCommandService) DurationFromVolume(volumeL float64, ratesMlPerHour []float64) (int, error) {
	avgRate := ps.defaultRateMlPerHour
	if len(ratesMlPerHour) > 0 {
		sum := 0.0
		for _, rate := range ratesMlPerHour {
			sum += rate
		}
		avgRate = sum / float64(len(ratesMlPerHour))
	}
	if avgRate <= 0 {
		return 0, ErrInvalidDuration
	}

	durationS := int(math.Ceil(volumeL / (avgRate / 1000) * 3600))
	if durationS <= 0 {
		return 0, ErrInvalidDuration
	}
	return durationS, nil
}

// StopWatering publishes a pump stop command. The shadow is not touched:
// the stop outcome is reflected once the device reports its new state.
func (ps *PumpCommandService) StopWatering(deviceID string) (string, error) {
	return ps.publishSimple(deviceID, constants.CommandTypePumpStop)
}

// Reboot publishes a reboot command.
func (ps *PumpCommandService) Reboot(deviceID string) (string, error) {
	return ps.publishSimple(deviceID, constants.CommandTypeReboot)
}

// StartOTA publishes a firmware update command. When the device's shadow
// carries a parseable firmware version, the request is rejected unless the
// target version is strictly newer; an unknown or unparseable current
// version does not block the update.
func (ps *PumpCommandService) StartOTA(ctx context.Context, deviceID, url, version, sha256 string) (string, error) {
	target, err := semver.NewVersion(version)
	if err != nil {
		return "", fmt.Errorf("invalid firmware version %q: %w", version, err)
	}

	snap, err := ps.shadow.GetSnapshotOrLoad(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if snap != nil && snap.State.FirmwareVersion != nil {
		if current, err := semver.NewVersion(*snap.State.FirmwareVersion); err == nil {
			if !target.GreaterThan(current) {
				return "", ErrNoNewerVersion
			}
		}
	}

	correlationID := uuid.New().String()
	payload := models.CommandPayload{
		Type:          constants.CommandTypeOTA,
		CorrelationID: correlationID,
		URL:           url,
		Version:       version,
		SHA256:        sha256,
	}
	if err := ps.publish(deviceID, payload); err != nil {
		return "", err
	}

	ps.logger.Info().
		Str("device_id", deviceID).
		Str("correlation_id", correlationID).
		Str("version", version).
		Msg("Issued OTA command")
	return correlationID, nil
}

// WaitForAck polls the ack store until the correlation ID resolves or the
// timeout elapses. Timing out is a normal outcome, reported by ok=false
// rather than an error: the device may simply be offline. The loop stops
// exactly at its deadline and respects caller cancellation.
func (ps *PumpCommandService) WaitForAck(ctx context.Context, correlationID string, timeout time.Duration) (*models.CommandAck, bool) {
	if timeout <= 0 {
		timeout = ps.defaultWaitTimeout
	}
	if timeout > ps.maxWaitTimeout {
		timeout = ps.maxWaitTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if ack := ps.acks.Get(correlationID); ack != nil {
		return ack, true
	}

	ticker := time.NewTicker(ps.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if ack := ps.acks.Get(correlationID); ack != nil {
				return ack, true
			}
		case <-waitCtx.Done():
			return nil, false
		}
	}
}

func (ps *PumpCommandService) publishSimple(deviceID, commandType string) (string, error) {
	correlationID := uuid.New().String()
	payload := models.CommandPayload{
		Type:          commandType,
		CorrelationID: correlationID,
	}
	if err := ps.publish(deviceID, payload); err != nil {
		return "", err
	}

	ps.logger.Info().
		Str("device_id", deviceID).
		Str("correlation_id", correlationID).
		Str("type", commandType).
		Msg("Issued device command")
	return correlationID, nil
}

func (ps *PumpCommandService) publish(deviceID string, payload models.CommandPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize command payload: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/cmd", ps.topicPrefix, deviceID)
	token := ps.mqttClient.Publish(topic, byte(ps.qos), false, body)
	token.Wait()
	if err := token.Error(); err != nil {
		ps.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish command")
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return nil
}
