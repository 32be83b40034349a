package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sproutlink/gardend/internal/acks"
	"github.com/sproutlink/gardend/internal/constants"
	"github.com/sproutlink/gardend/internal/models"
	"github.com/sproutlink/gardend/internal/shadow"
	"github.com/sproutlink/gardend/internal/timeseries"
	"github.com/sproutlink/gardend/internal/utils"
	"github.com/sproutlink/gardend/pkg/mqtt"
)

// DeviceRegistry is the slice of the durability tier the ingestion path
// needs for device bookkeeping.
type DeviceRegistry interface {
	EnsureDevice(ctx context.Context, externalID string) (*models.Device, error)
	TouchLastSeen(ctx context.Context, externalID string, seenAt time.Time) error
}

// TelemetryService binds the transport to the ingestion pipeline and the ack
// store. It subscribes to the device state and ack topics and routes each
// message by its topic suffix.
type TelemetryService struct {
	// Configuration fields
	topicPrefix string
	qos         int

	// Dependencies
	mqttClient mqtt.MQTTClient
	shadow     *shadow.Store
	acks       *acks.Store
	devices    DeviceRegistry
	recorder   timeseries.Recorder
	pool       *utils.WorkerPool
	logger     zerolog.Logger

	now func() time.Time
}

// NewTelemetryService initializes a new TelemetryService.
func NewTelemetryService(
	topicPrefix string,
	qos int,
	workers int,
	mqttClient mqtt.MQTTClient,
	shadowStore *shadow.Store,
	ackStore *acks.Store,
	devices DeviceRegistry,
	recorder timeseries.Recorder,
	logger zerolog.Logger,
) *TelemetryService {
	if workers <= 0 {
		workers = 4
	}
	return &TelemetryService{
		topicPrefix: topicPrefix,
		qos:         qos,
		mqttClient:  mqttClient,
		shadow:      shadowStore,
		acks:        ackStore,
		devices:     devices,
		recorder:    recorder,
		pool:        utils.NewWorkerPool(workers),
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock overrides the service clock. Test use only.
func (ts *TelemetryService) SetClock(now func() time.Time) {
	ts.now = now
}

func (ts *TelemetryService) stateTopic() string {
	return ts.topicPrefix + "/+/state"
}

func (ts *TelemetryService) ackTopic() string {
	return ts.topicPrefix + "/+/state/ack"
}

// Start subscribes to the device state and ack topic patterns.
func (ts *TelemetryService) Start() error {
	// Acks first: an ack for a command must never race its own subscription.
	for _, sub := range []struct {
		topic   string
		handler MQTT.MessageHandler
	}{
		{ts.ackTopic(), ts.handleAckMessage},
		{ts.stateTopic(), ts.handleStateMessage},
	} {
		token := ts.mqttClient.Subscribe(sub.topic, byte(ts.qos), sub.handler)
		token.Wait()
		if err := token.Error(); err != nil {
			ts.logger.Error().Err(err).Str("topic", sub.topic).Msg("Failed to subscribe to MQTT topic")
			return err
		}
		ts.logger.Info().Str("topic", sub.topic).Msg("Subscribed to MQTT topic")
	}
	return nil
}

// Stop unsubscribes and drains the recording worker pool.
func (ts *TelemetryService) Stop() error {
	token := ts.mqttClient.Unsubscribe(ts.stateTopic(), ts.ackTopic())
	token.Wait()
	if err := token.Error(); err != nil {
		ts.logger.Error().Err(err).Msg("Failed to unsubscribe from MQTT topics")
		return err
	}

	ts.pool.Shutdown()
	ts.logger.Info().Msg("TelemetryService stopped successfully")
	return nil
}

// handleStateMessage ingests one raw telemetry message. Shadow and registry
// updates run synchronously on the subscriber goroutine so per-device
// ordering is preserved; only the time-series hand-off is deferred to the
// worker pool.
func (ts *TelemetryService) handleStateMessage(client MQTT.Client, msg MQTT.Message) {
	deviceID, err := ts.deviceIDFromTopic(msg.Topic())
	if err != nil {
		ts.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Dropping state message with unparseable topic")
		return
	}

	var state models.DeviceState
	if err := json.Unmarshal(msg.Payload(), &state); err != nil {
		ts.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Dropping malformed state payload")
		return
	}

	now := ts.now()
	measurements, err := ts.HandleState(context.Background(), deviceID, state, now)
	if err != nil {
		ts.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to ingest device state")
		return
	}

	if len(measurements) > 0 {
		ts.pool.Submit(func() {
			if err := ts.recorder.RecordMeasurements(context.Background(), deviceID, measurements, now); err != nil {
				ts.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to record measurements")
			}
		})
	}

	if mw := state.ManualWatering; mw != nil && mw.Status == constants.WateringStatusStopped &&
		mw.WaterVolumeL != nil && mw.CorrelationID != "" {
		volume := *mw.WaterVolumeL
		correlationID := mw.CorrelationID
		at := now
		if mw.StartedAt != nil {
			at = *mw.StartedAt
		}
		ts.pool.Submit(func() {
			if err := ts.recorder.RecordWateringVolume(context.Background(), deviceID, correlationID, volume, at); err != nil {
				ts.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to record watering volume")
			}
		})
	}
}

// HandleState runs the ingestion pipeline for one state message: idempotent
// device registration, last-seen bookkeeping, shadow update with snapshot
// write-through, and measurement extraction. A durability-tier failure is
// returned: accepting the shadow update without the snapshot would leave
// memory and durable state inconsistent after a restart.
func (ts *TelemetryService) HandleState(ctx context.Context, deviceID string, state models.DeviceState, now time.Time) ([]models.SensorMeasurement, error) {
	if _, err := ts.devices.EnsureDevice(ctx, deviceID); err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}
	if err := ts.devices.TouchLastSeen(ctx, deviceID, now); err != nil {
		return nil, fmt.Errorf("failed to update last seen: %w", err)
	}
	if err := ts.shadow.UpdateFromStateAndPersist(ctx, deviceID, state, now); err != nil {
		return nil, fmt.Errorf("failed to update shadow: %w", err)
	}
	return ExtractMeasurements(state), nil
}

// handleAckMessage records a command acknowledgment in the ack store.
func (ts *TelemetryService) handleAckMessage(client MQTT.Client, msg MQTT.Message) {
	deviceID, err := ts.deviceIDFromTopic(msg.Topic())
	if err != nil {
		ts.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Dropping ack message with unparseable topic")
		return
	}

	var ack models.CommandAck
	if err := json.Unmarshal(msg.Payload(), &ack); err != nil {
		ts.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Dropping malformed ack payload")
		return
	}
	if ack.CorrelationID == "" {
		ts.logger.Warn().Str("device_id", deviceID).Msg("Dropping ack without correlation ID")
		return
	}

	ts.acks.Put(deviceID, ack)
	ts.logger.Debug().
		Str("device_id", deviceID).
		Str("correlation_id", ack.CorrelationID).
		Msg("Recorded command ack")
}

// deviceIDFromTopic extracts the wildcard segment following the topic prefix.
func (ts *TelemetryService) deviceIDFromTopic(topic string) (string, error) {
	prefixDepth := len(strings.Split(ts.topicPrefix, "/"))
	parts := strings.Split(topic, "/")
	if len(parts) <= prefixDepth || parts[prefixDepth] == "" {
		return "", fmt.Errorf("topic %q has no device segment", topic)
	}
	return parts[prefixDepth], nil
}

// ExtractMeasurements normalizes the two telemetry shapes into a uniform
// measurement list: legacy flat fields map to channel 0, the structured air
// sub-state is used only when the sensor reports itself available, and each
// soil port maps to its own channel. A port with detected=false and no value
// still yields an entry so consumers can observe sensor disappearance.
func ExtractMeasurements(state models.DeviceState) []models.SensorMeasurement {
	var measurements []models.SensorMeasurement

	if state.SoilMoisture != nil {
		measurements = append(measurements, models.SensorMeasurement{
			Type: models.MeasurementSoilMoisture, Channel: 0, Value: state.SoilMoisture, Detected: true,
		})
	}
	if state.AirTemperature != nil {
		measurements = append(measurements, models.SensorMeasurement{
			Type: models.MeasurementAirTemperature, Channel: 0, Value: state.AirTemperature, Detected: true,
		})
	}
	if state.AirHumidity != nil {
		measurements = append(measurements, models.SensorMeasurement{
			Type: models.MeasurementAirHumidity, Channel: 0, Value: state.AirHumidity, Detected: true,
		})
	}

	if air := state.Air; air != nil && air.Available != nil && *air.Available {
		if air.Temperature != nil {
			measurements = append(measurements, models.SensorMeasurement{
				Type: models.MeasurementAirTemperature, Channel: 0, Value: air.Temperature, Detected: true,
			})
		}
		if air.Humidity != nil {
			measurements = append(measurements, models.SensorMeasurement{
				Type: models.MeasurementAirHumidity, Channel: 0, Value: air.Humidity, Detected: true,
			})
		}
	}

	if state.Soil != nil {
		for i, port := range state.Soil.Ports {
			if port.Moisture == nil && port.Detected == nil {
				continue
			}
			detected := port.Moisture != nil
			if port.Detected != nil {
				detected = *port.Detected
			}
			measurements = append(measurements, models.SensorMeasurement{
				Type: models.MeasurementSoilMoisture, Channel: i, Value: port.Moisture, Detected: detected,
			})
		}
	}

	return measurements
}
