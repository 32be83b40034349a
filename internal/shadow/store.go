package shadow

import (
	"context"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/sproutlink/gardend/internal/constants"
	"github.com/sproutlink/gardend/internal/models"
)

// StatePersister is the durability tier the store reads through on a cold
// miss and writes through on ingestion. LoadLastState returns nil state when
// no snapshot exists for the device.
type StatePersister interface {
	LoadLastState(ctx context.Context, deviceID string) (*models.DeviceState, time.Time, error)
	PersistState(ctx context.Context, deviceID string, state models.DeviceState, updatedAt time.Time) error
	FindDeviceByExternalID(ctx context.Context, externalID string) (*models.Device, error)
}

type entry struct {
	state     models.DeviceState
	updatedAt time.Time
}

// Store keeps the authoritative in-memory view of each device's last
// reported state. The map is sharded by device ID, so updates to unrelated
// devices never contend; each device's entry is replaced as a whole under its
// shard lock.
type Store struct {
	entries         cmap.ConcurrentMap[string, entry]
	persister       StatePersister
	onlineThreshold time.Duration
	logger          zerolog.Logger
	now             func() time.Time
}

// NewStore initializes a shadow store backed by the given durability tier.
func NewStore(persister StatePersister, onlineThreshold time.Duration, logger zerolog.Logger) *Store {
	if onlineThreshold <= 0 {
		onlineThreshold = constants.DefaultOnlineThreshold
	}
	return &Store{
		entries:         cmap.New[entry](),
		persister:       persister,
		onlineThreshold: onlineThreshold,
		logger:          logger,
		now:             time.Now,
	}
}

// SetClock overrides the store's clock. Test use only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// UpdateFromState merges the incoming state into the device's entry and
// stamps it with observedAt. Absent fields in the incoming state carry no
// information and never clear established values.
func (s *Store) UpdateFromState(deviceID string, state models.DeviceState, observedAt time.Time) {
	s.entries.Upsert(deviceID, entry{state: state, updatedAt: observedAt}, func(exist bool, current, incoming entry) entry {
		if !exist {
			return incoming
		}
		return entry{
			state:     mergeState(current.state, incoming.state),
			updatedAt: incoming.updatedAt,
		}
	})
}

// UpdateFromStateAndPersist merges like UpdateFromState and writes the raw
// incoming state through to the durability tier. A persist failure is
// returned to the caller so the message can be retried or dropped; the
// in-memory update is not applied in that case, keeping memory and durable
// state consistent on restart.
func (s *Store) UpdateFromStateAndPersist(ctx context.Context, deviceID string, state models.DeviceState, observedAt time.Time) error {
	if err := s.persister.PersistState(ctx, deviceID, state, observedAt); err != nil {
		return err
	}
	s.UpdateFromState(deviceID, state, observedAt)
	return nil
}

// GetSnapshotOrLoad returns the in-memory snapshot for the device, cold
// loading from the durability tier on a miss. The loaded entry is adopted
// only if memory is still empty at adoption time, so a racing ingestion
// write is never clobbered by older persisted data. Returns nil when the
// device has never been seen anywhere.
func (s *Store) GetSnapshotOrLoad(ctx context.Context, deviceID string) (*models.DeviceSnapshot, error) {
	if e, ok := s.entries.Get(deviceID); ok {
		return s.snapshot(e, constants.SnapshotSourceMemory), nil
	}

	state, updatedAt, err := s.persister.LoadLastState(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return s.fallbackSnapshot(ctx, deviceID)
	}

	loaded := entry{state: *state, updatedAt: updatedAt}
	if !s.entries.SetIfAbsent(deviceID, loaded) {
		// Lost the race to a concurrent write; that write is strictly newer.
		if e, ok := s.entries.Get(deviceID); ok {
			return s.snapshot(e, constants.SnapshotSourceMemory), nil
		}
	}
	return s.snapshot(loaded, constants.SnapshotSourcePersistedState), nil
}

// fallbackSnapshot serves a device that has no persisted state snapshot but
// is present in the device registry. The synthesized snapshot carries only
// the last-seen timestamp and is not adopted into memory.
func (s *Store) fallbackSnapshot(ctx context.Context, deviceID string) (*models.DeviceSnapshot, error) {
	device, err := s.persister.FindDeviceByExternalID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil || device.LastSeenAt == nil {
		return nil, nil
	}
	return s.snapshot(entry{updatedAt: *device.LastSeenAt}, constants.SnapshotSourcePersistedFallback), nil
}

// GetManualWateringView projects the device's manual watering sub-state into
// the display-ready REST shape. Returns nil when the device is unknown or
// has never reported manual watering state.
func (s *Store) GetManualWateringView(ctx context.Context, deviceID string) (*models.ManualWateringView, error) {
	snap, err := s.GetSnapshotOrLoad(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if snap == nil || snap.State.ManualWatering == nil {
		return nil, nil
	}

	mw := snap.State.ManualWatering
	view := &models.ManualWateringView{
		Status:        mw.Status,
		DurationS:     mw.DurationS,
		Duration:      mw.DurationS,
		RemainingS:    mw.RemainingS,
		CorrelationID: mw.CorrelationID,
		UpdatedAt:     snap.UpdatedAt.UTC().Format(time.RFC3339),
		LastSeenAt:    snap.UpdatedAt.UTC().Format(time.RFC3339),
		IsOnline:      snap.IsOnline,
		Source:        snap.Source,
	}
	if mw.StartedAt != nil {
		started := mw.StartedAt.UTC().Format(time.RFC3339)
		view.StartedAt = started
		view.StartTime = started
	}

	// Recompute the countdown only while the pump is actually running;
	// otherwise the device-reported value stands.
	if mw.Status == constants.WateringStatusRunning && mw.DurationS != nil && mw.StartedAt != nil {
		remaining := *mw.DurationS - int(s.now().Sub(*mw.StartedAt).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		view.RemainingS = &remaining
	}

	return view, nil
}

// Remove evicts the device's in-memory entry.
func (s *Store) Remove(deviceID string) {
	s.entries.Remove(deviceID)
}

// Clear drops every in-memory entry.
func (s *Store) Clear() {
	s.entries.Clear()
}

func (s *Store) snapshot(e entry, source string) *models.DeviceSnapshot {
	return &models.DeviceSnapshot{
		State:     e.state,
		UpdatedAt: e.updatedAt,
		IsOnline:  s.now().Sub(e.updatedAt) <= s.onlineThreshold,
		Source:    source,
	}
}
