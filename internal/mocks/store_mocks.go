package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sproutlink/gardend/internal/models"
)

// MockStatePersister mocks the shadow store's durability tier.
type MockStatePersister struct {
	mock.Mock
}

func (m *MockStatePersister) LoadLastState(ctx context.Context, deviceID string) (*models.DeviceState, time.Time, error) {
	args := m.Called(ctx, deviceID)
	var state *models.DeviceState
	if args.Get(0) != nil {
		state = args.Get(0).(*models.DeviceState)
	}
	return state, args.Get(1).(time.Time), args.Error(2)
}

func (m *MockStatePersister) PersistState(ctx context.Context, deviceID string, state models.DeviceState, updatedAt time.Time) error {
	args := m.Called(ctx, deviceID, state, updatedAt)
	return args.Error(0)
}

func (m *MockStatePersister) FindDeviceByExternalID(ctx context.Context, externalID string) (*models.Device, error) {
	args := m.Called(ctx, externalID)
	var device *models.Device
	if args.Get(0) != nil {
		device = args.Get(0).(*models.Device)
	}
	return device, args.Error(1)
}

// MockAckPersister mocks the ack store's durable tier.
type MockAckPersister struct {
	mock.Mock
}

func (m *MockAckPersister) UpsertAck(ctx context.Context, ack models.CommandAck) error {
	args := m.Called(ctx, ack)
	return args.Error(0)
}

func (m *MockAckPersister) DeleteExpiredAcks(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// MockDeviceRegistry mocks the device registration slice of the durability tier.
type MockDeviceRegistry struct {
	mock.Mock
}

func (m *MockDeviceRegistry) EnsureDevice(ctx context.Context, externalID string) (*models.Device, error) {
	args := m.Called(ctx, externalID)
	var device *models.Device
	if args.Get(0) != nil {
		device = args.Get(0).(*models.Device)
	}
	return device, args.Error(1)
}

func (m *MockDeviceRegistry) TouchLastSeen(ctx context.Context, externalID string, seenAt time.Time) error {
	args := m.Called(ctx, externalID, seenAt)
	return args.Error(0)
}

// MockRecorder mocks the time-series collaborator.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordMeasurements(ctx context.Context, deviceID string, measurements []models.SensorMeasurement, at time.Time) error {
	args := m.Called(ctx, deviceID, measurements, at)
	return args.Error(0)
}

func (m *MockRecorder) RecordWateringVolume(ctx context.Context, deviceID, correlationID string, volumeL float64, at time.Time) error {
	args := m.Called(ctx, deviceID, correlationID, volumeL, at)
	return args.Error(0)
}
