package timeseries

import (
	"context"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/sproutlink/gardend/internal/models"
)

// Recorder accepts normalized sensor measurements and watering events for
// time-series storage.
type Recorder interface {
	RecordMeasurements(ctx context.Context, deviceID string, measurements []models.SensorMeasurement, at time.Time) error
	RecordWateringVolume(ctx context.Context, deviceID, correlationID string, volumeL float64, at time.Time) error
}

// InfluxRecorder writes measurements through the InfluxDB blocking write API.
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   zerolog.Logger
}

// NewInfluxRecorder builds a recorder for the given InfluxDB endpoint.
func NewInfluxRecorder(url, token, org, bucket string, logger zerolog.Logger) *InfluxRecorder {
	client := influxdb2.NewClient(url, token)
	return &InfluxRecorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		logger:   logger,
	}
}

// Close shuts down the underlying client.
func (r *InfluxRecorder) Close() {
	if r != nil && r.client != nil {
		r.client.Close()
	}
}

// RecordMeasurements writes one point per measurement, tagged by device,
// measurement type and channel.
func (r *InfluxRecorder) RecordMeasurements(ctx context.Context, deviceID string, measurements []models.SensorMeasurement, at time.Time) error {
	points := make([]*write.Point, 0, len(measurements))
	for _, m := range measurements {
		fields := map[string]interface{}{
			"detected": m.Detected,
		}
		if m.Value != nil {
			fields["value"] = *m.Value
		}
		points = append(points, write.NewPoint(
			m.Type,
			map[string]string{
				"device_id": deviceID,
				"channel":   strconv.Itoa(m.Channel),
			},
			fields,
			at,
		))
	}
	if len(points) == 0 {
		return nil
	}
	return r.writeAPI.WritePoint(ctx, points...)
}

// RecordWateringVolume writes a watering event for plant history. The
// correlation ID tag and the fixed timestamp make redelivered telemetry
// overwrite the same point instead of duplicating it.
func (r *InfluxRecorder) RecordWateringVolume(ctx context.Context, deviceID, correlationID string, volumeL float64, at time.Time) error {
	point := write.NewPoint(
		"watering_volume",
		map[string]string{
			"device_id":      deviceID,
			"correlation_id": correlationID,
		},
		map[string]interface{}{
			"volume_l": volumeL,
		},
		at,
	)
	return r.writeAPI.WritePoint(ctx, point)
}
