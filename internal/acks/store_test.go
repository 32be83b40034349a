package acks_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sproutlink/gardend/internal/acks"
	"github.com/sproutlink/gardend/internal/constants"
	"github.com/sproutlink/gardend/internal/mocks"
	"github.com/sproutlink/gardend/internal/models"
)

func newTestStore(ttl time.Duration, persister acks.Persister) (*acks.Store, *time.Time) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store := acks.NewStore(persister, ttl, time.Minute, zerolog.Nop())
	store.SetClock(func() time.Time { return now })
	return store, &now
}

func TestStore_TTLBoundary(t *testing.T) {
	persister := new(mocks.MockAckPersister)
	persister.On("UpsertAck", mock.Anything, mock.Anything).Return(nil)

	store, now := newTestStore(10*time.Second, persister)
	base := *now

	store.Put("dev-1", models.CommandAck{
		CorrelationID: "corr-1",
		Status:        constants.AckStatusAccepted,
	})

	*now = base.Add(9 * time.Second)
	ack := store.Get("corr-1")
	require.NotNil(t, ack)
	assert.Equal(t, constants.AckStatusAccepted, ack.Status)
	assert.Equal(t, "dev-1", ack.DeviceID)

	*now = base.Add(11 * time.Second)
	assert.Nil(t, store.Get("corr-1"))

	// A read of an expired record must not consume it; the sweep still
	// removes exactly that row.
	assert.Equal(t, 1, store.CleanupExpired())
	assert.Equal(t, 0, store.CleanupExpired())
}

func TestStore_PutSupersedesByCorrelationID(t *testing.T) {
	persister := new(mocks.MockAckPersister)
	persister.On("UpsertAck", mock.Anything, mock.Anything).Return(nil)

	store, _ := newTestStore(time.Minute, persister)

	store.Put("dev-1", models.CommandAck{CorrelationID: "corr-1", Status: constants.AckStatusFailed})
	store.Put("dev-1", models.CommandAck{CorrelationID: "corr-1", Status: constants.AckStatusAccepted})

	ack := store.Get("corr-1")
	require.NotNil(t, ack)
	assert.Equal(t, constants.AckStatusAccepted, ack.Status)
	assert.Equal(t, 0, store.CleanupExpired())
}

func TestStore_ZeroTTLNeverExpires(t *testing.T) {
	persister := new(mocks.MockAckPersister)
	persister.On("UpsertAck", mock.Anything, mock.Anything).Return(nil)

	store, now := newTestStore(0, persister)
	base := *now

	store.Put("dev-1", models.CommandAck{CorrelationID: "corr-1"})

	*now = base.Add(24 * time.Hour)
	require.NotNil(t, store.Get("corr-1"))
	assert.Equal(t, 0, store.CleanupExpired())
}

func TestStore_GetUnknownCorrelationID(t *testing.T) {
	store, _ := newTestStore(time.Minute, new(mocks.MockAckPersister))
	assert.Nil(t, store.Get("never-seen"))
}

func TestStore_PutWritesThrough(t *testing.T) {
	persister := new(mocks.MockAckPersister)
	persister.On("UpsertAck", mock.Anything, mock.MatchedBy(func(ack models.CommandAck) bool {
		return ack.CorrelationID == "corr-1" && ack.DeviceID == "dev-1" && !ack.ExpiresAt.IsZero()
	})).Return(nil).Once()

	store, _ := newTestStore(time.Minute, persister)
	store.Put("dev-1", models.CommandAck{CorrelationID: "corr-1"})

	persister.AssertExpectations(t)
}

func TestStore_StartStopSweep(t *testing.T) {
	persister := new(mocks.MockAckPersister)
	persister.On("DeleteExpiredAcks", mock.Anything, mock.Anything).Return(int64(0), nil).Maybe()

	store := acks.NewStore(persister, time.Minute, 10*time.Millisecond, zerolog.Nop())
	require.NoError(t, store.Start())
	assert.Error(t, store.Start())

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, store.Stop())
	require.NoError(t, store.Stop())
}

func TestStore_StartWithExpiryDisabled(t *testing.T) {
	store := acks.NewStore(nil, 0, time.Minute, zerolog.Nop())
	require.NoError(t, store.Start())
	require.NoError(t, store.Stop())
}
