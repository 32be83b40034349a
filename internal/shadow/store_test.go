package shadow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sproutlink/gardend/internal/constants"
	"github.com/sproutlink/gardend/internal/mocks"
	"github.com/sproutlink/gardend/internal/models"
	"github.com/sproutlink/gardend/internal/shadow"
)

func intPtr(v int) *int              { return &v }
func floatPtr(v float64) *float64    { return &v }
func timePtr(v time.Time) *time.Time { return &v }

func newTestStore(t *testing.T, persister shadow.StatePersister, at time.Time) *shadow.Store {
	t.Helper()
	store := shadow.NewStore(persister, 60*time.Second, zerolog.Nop())
	store.SetClock(func() time.Time { return at })
	return store
}

func TestStore_MergeIdempotence(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, new(mocks.MockStatePersister), now)

	state := models.DeviceState{
		ManualWatering: &models.ManualWateringState{
			Status:        constants.WateringStatusRunning,
			DurationS:     intPtr(30),
			CorrelationID: "corr-1",
		},
		SoilMoisture: floatPtr(41.5),
	}

	store.UpdateFromState("dev-1", state, now)
	first, err := store.GetSnapshotOrLoad(context.Background(), "dev-1")
	require.NoError(t, err)

	store.UpdateFromState("dev-1", state, now)
	second, err := store.GetSnapshotOrLoad(context.Background(), "dev-1")
	require.NoError(t, err)

	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestStore_CorrelationSupersession(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, new(mocks.MockStatePersister), now)

	store.UpdateFromState("dev-1", models.DeviceState{
		ManualWatering: &models.ManualWateringState{
			Status:        constants.WateringStatusRunning,
			DurationS:     intPtr(30),
			WaterVolumeL:  floatPtr(1.5),
			PH:            floatPtr(6.4),
			CorrelationID: "corr-1",
		},
	}, now)

	incoming := &models.ManualWateringState{
		Status:        constants.WateringStatusRunning,
		DurationS:     intPtr(60),
		CorrelationID: "corr-2",
	}
	store.UpdateFromState("dev-1", models.DeviceState{ManualWatering: incoming}, now.Add(time.Second))

	snap, err := store.GetSnapshotOrLoad(context.Background(), "dev-1")
	require.NoError(t, err)
	// No field may leak from the corr-1 record.
	assert.Equal(t, incoming, snap.State.ManualWatering)
	assert.Nil(t, snap.State.ManualWatering.WaterVolumeL)
	assert.Nil(t, snap.State.ManualWatering.PH)
}

func TestStore_PartialUpdatePreservation(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, new(mocks.MockStatePersister), now)

	started := now.Add(-10 * time.Second)
	store.UpdateFromState("dev-1", models.DeviceState{
		ManualWatering: &models.ManualWateringState{
			Status:        constants.WateringStatusRunning,
			DurationS:     intPtr(30),
			StartedAt:     timePtr(started),
			CorrelationID: "corr-1",
		},
	}, now)

	// Delta update omitting duration_s must not wipe it.
	store.UpdateFromState("dev-1", models.DeviceState{
		ManualWatering: &models.ManualWateringState{
			Status:        constants.WateringStatusRunning,
			CorrelationID: "corr-1",
		},
	}, now.Add(time.Second))

	snap, err := store.GetSnapshotOrLoad(context.Background(), "dev-1")
	require.NoError(t, err)
	require.NotNil(t, snap.State.ManualWatering.DurationS)
	assert.Equal(t, 30, *snap.State.ManualWatering.DurationS)
	require.NotNil(t, snap.State.ManualWatering.StartedAt)
	assert.Equal(t, started, *snap.State.ManualWatering.StartedAt)
}

func TestStore_BlankCorrelationKeepsPrevious(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, new(mocks.MockStatePersister), now)

	store.UpdateFromState("dev-1", models.DeviceState{
		ManualWatering: &models.ManualWateringState{
			Status:        constants.WateringStatusRunning,
			DurationS:     intPtr(30),
			CorrelationID: "corr-1",
		},
	}, now)

	store.UpdateFromState("dev-1", models.DeviceState{
		ManualWatering: &models.ManualWateringState{
			RemainingS: intPtr(12),
		},
	}, now.Add(time.Second))

	snap, err := store.GetSnapshotOrLoad(context.Background(), "dev-1")
	require.NoError(t, err)
	mw := snap.State.ManualWatering
	assert.Equal(t, "corr-1", mw.CorrelationID)
	assert.Equal(t, constants.WateringStatusRunning, mw.Status)
	assert.Equal(t, 30, *mw.DurationS)
	assert.Equal(t, 12, *mw.RemainingS)
}

func TestStore_JournalMarkerBlocksStatusRegression(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, new(mocks.MockStatePersister), now)

	store.UpdateFromState("dev-1", models.DeviceState{
		ManualWatering: &models.ManualWateringState{
			Status:            constants.WateringStatusRunning,
			CorrelationID:     "corr-x",
			JournalWrittenFor: "corr-x",
		},
	}, now)

	// Redelivered message without the marker must not regress the status.
	store.UpdateFromState("dev-1", models.DeviceState{
		ManualWatering: &models.ManualWateringState{
			Status:        constants.WateringStatusStopped,
			CorrelationID: "corr-x",
		},
	}, now.Add(time.Second))

	snap, err := store.GetSnapshotOrLoad(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, constants.WateringStatusRunning, snap.State.ManualWatering.Status)
	assert.Equal(t, "corr-x", snap.State.ManualWatering.JournalWrittenFor)

	// An update that itself carries the marker is accepted verbatim.
	store.UpdateFromState("dev-1", models.DeviceState{
		ManualWatering: &models.ManualWateringState{
			Status:            constants.WateringStatusStopped,
			CorrelationID:     "corr-x",
			JournalWrittenFor: "corr-x",
		},
	}, now.Add(2*time.Second))

	snap, err = store.GetSnapshotOrLoad(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, constants.WateringStatusStopped, snap.State.ManualWatering.Status)
}

func TestStore_NonWateringSubStatesSurviveAbsence(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, new(mocks.MockStatePersister), now)

	available := true
	store.UpdateFromState("dev-1", models.DeviceState{
		FirmwareVersion: strPtr("1.2.0"),
		Air:             &models.AirState{Available: &available, Temperature: floatPtr(21.0)},
	}, now)

	// A message carrying only watering state keeps the air sub-state.
	store.UpdateFromState("dev-1", models.DeviceState{
		ManualWatering: &models.ManualWateringState{Status: constants.WateringStatusIdle},
	}, now.Add(time.Second))

	snap, err := store.GetSnapshotOrLoad(context.Background(), "dev-1")
	require.NoError(t, err)
	require.NotNil(t, snap.State.Air)
	assert.Equal(t, 21.0, *snap.State.Air.Temperature)
	assert.Equal(t, "1.2.0", *snap.State.FirmwareVersion)
}

func TestStore_OnlineThresholdBoundary(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, new(mocks.MockStatePersister), now)

	store.UpdateFromState("on-time", models.DeviceState{}, now.Add(-60*time.Second))
	store.UpdateFromState("too-old", models.DeviceState{}, now.Add(-61*time.Second))

	snap, err := store.GetSnapshotOrLoad(context.Background(), "on-time")
	require.NoError(t, err)
	assert.True(t, snap.IsOnline)

	snap, err = store.GetSnapshotOrLoad(context.Background(), "too-old")
	require.NoError(t, err)
	assert.False(t, snap.IsOnline)
}

func TestStore_ColdStartAdoption(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	persistedAt := now.Add(-30 * time.Second)
	persisted := &models.DeviceState{SoilMoisture: floatPtr(33.0)}

	persister := new(mocks.MockStatePersister)
	persister.On("LoadLastState", mock.Anything, "dev-1").Return(persisted, persistedAt, nil).Once()

	store := newTestStore(t, persister, now)

	snap, err := store.GetSnapshotOrLoad(context.Background(), "dev-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, constants.SnapshotSourcePersistedState, snap.Source)
	assert.Equal(t, *persisted, snap.State)
	assert.Equal(t, persistedAt, snap.UpdatedAt)

	// Second read must come from memory with identical values.
	snap, err = store.GetSnapshotOrLoad(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, constants.SnapshotSourceMemory, snap.Source)
	assert.Equal(t, *persisted, snap.State)
	assert.Equal(t, persistedAt, snap.UpdatedAt)

	persister.AssertExpectations(t)
}

func TestStore_UnknownDeviceReturnsNil(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	persister := new(mocks.MockStatePersister)
	persister.On("LoadLastState", mock.Anything, "ghost").Return(nil, time.Time{}, nil)
	persister.On("FindDeviceByExternalID", mock.Anything, "ghost").Return(nil, nil)

	store := newTestStore(t, persister, now)

	snap, err := store.GetSnapshotOrLoad(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestStore_PersistedFallback(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	lastSeen := now.Add(-5 * time.Minute)

	persister := new(mocks.MockStatePersister)
	persister.On("LoadLastState", mock.Anything, "dev-1").Return(nil, time.Time{}, nil)
	persister.On("FindDeviceByExternalID", mock.Anything, "dev-1").
		Return(&models.Device{ExternalID: "dev-1", LastSeenAt: &lastSeen}, nil)

	store := newTestStore(t, persister, now)

	snap, err := store.GetSnapshotOrLoad(context.Background(), "dev-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, constants.SnapshotSourcePersistedFallback, snap.Source)
	assert.Equal(t, lastSeen, snap.UpdatedAt)
	assert.False(t, snap.IsOnline)
}

func TestStore_PersistFailureLeavesMemoryUntouched(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	persister := new(mocks.MockStatePersister)
	persister.On("PersistState", mock.Anything, "dev-1", mock.Anything, mock.Anything).
		Return(errors.New("database gone")).Once()
	persister.On("LoadLastState", mock.Anything, "dev-1").Return(nil, time.Time{}, nil)
	persister.On("FindDeviceByExternalID", mock.Anything, "dev-1").Return(nil, nil)

	store := newTestStore(t, persister, now)

	err := store.UpdateFromStateAndPersist(context.Background(), "dev-1", models.DeviceState{
		SoilMoisture: floatPtr(10),
	}, now)
	require.Error(t, err)

	snap, err := store.GetSnapshotOrLoad(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestStore_UpdateFromStateAndPersist(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	state := models.DeviceState{SoilMoisture: floatPtr(44.0)}

	persister := new(mocks.MockStatePersister)
	persister.On("PersistState", mock.Anything, "dev-1", state, now).Return(nil).Once()

	store := newTestStore(t, persister, now)

	require.NoError(t, store.UpdateFromStateAndPersist(context.Background(), "dev-1", state, now))

	snap, err := store.GetSnapshotOrLoad(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, state, snap.State)
	persister.AssertExpectations(t)
}

func TestStore_GetManualWateringView(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	started := now.Add(-10 * time.Second)
	store := newTestStore(t, new(mocks.MockStatePersister), now)

	store.UpdateFromState("dev-1", models.DeviceState{
		ManualWatering: &models.ManualWateringState{
			Status:        constants.WateringStatusRunning,
			DurationS:     intPtr(30),
			StartedAt:     timePtr(started),
			CorrelationID: "corr-1",
		},
	}, now)

	view, err := store.GetManualWateringView(context.Background(), "dev-1")
	require.NoError(t, err)
	require.NotNil(t, view)

	assert.Equal(t, constants.WateringStatusRunning, view.Status)
	assert.Equal(t, view.DurationS, view.Duration)
	assert.Equal(t, view.StartedAt, view.StartTime)
	assert.Equal(t, started.UTC().Format(time.RFC3339), view.StartedAt)
	require.NotNil(t, view.RemainingS)
	assert.Equal(t, 20, *view.RemainingS)
	assert.True(t, view.IsOnline)
	assert.Equal(t, constants.SnapshotSourceMemory, view.Source)
}

func TestStore_ViewRemainingClampsAtZero(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	started := now.Add(-90 * time.Second)
	store := newTestStore(t, new(mocks.MockStatePersister), now)

	store.UpdateFromState("dev-1", models.DeviceState{
		ManualWatering: &models.ManualWateringState{
			Status:        constants.WateringStatusRunning,
			DurationS:     intPtr(30),
			StartedAt:     timePtr(started),
			CorrelationID: "corr-1",
		},
	}, now)

	view, err := store.GetManualWateringView(context.Background(), "dev-1")
	require.NoError(t, err)
	require.NotNil(t, view.RemainingS)
	assert.Equal(t, 0, *view.RemainingS)
}

func TestStore_ViewNotRecomputedWhenStopped(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, new(mocks.MockStatePersister), now)

	store.UpdateFromState("dev-1", models.DeviceState{
		ManualWatering: &models.ManualWateringState{
			Status:        constants.WateringStatusStopped,
			DurationS:     intPtr(30),
			StartedAt:     timePtr(now.Add(-5 * time.Second)),
			RemainingS:    intPtr(7),
			CorrelationID: "corr-1",
		},
	}, now)

	view, err := store.GetManualWateringView(context.Background(), "dev-1")
	require.NoError(t, err)
	require.NotNil(t, view.RemainingS)
	assert.Equal(t, 7, *view.RemainingS)
}

func TestStore_RemoveAndClear(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	persister := new(mocks.MockStatePersister)
	persister.On("LoadLastState", mock.Anything, mock.Anything).Return(nil, time.Time{}, nil)
	persister.On("FindDeviceByExternalID", mock.Anything, mock.Anything).Return(nil, nil)

	store := newTestStore(t, persister, now)
	store.UpdateFromState("dev-1", models.DeviceState{}, now)
	store.UpdateFromState("dev-2", models.DeviceState{}, now)

	store.Remove("dev-1")
	snap, err := store.GetSnapshotOrLoad(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	store.Clear()
	snap, err = store.GetSnapshotOrLoad(context.Background(), "dev-2")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func strPtr(v string) *string { return &v }
