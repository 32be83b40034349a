package acks

import (
	"context"
	"errors"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/sproutlink/gardend/internal/constants"
	"github.com/sproutlink/gardend/internal/models"
)

// Persister is the durable tier backing the in-memory ack table across
// restarts.
type Persister interface {
	UpsertAck(ctx context.Context, ack models.CommandAck) error
	DeleteExpiredAcks(ctx context.Context, before time.Time) (int64, error)
}

// Store is a TTL-bounded table of command acknowledgments keyed by
// correlation ID. Expiry is enforced both at read time and by a periodic
// sweep, so a slow sweep can never cause a stale read. A TTL of zero
// disables expiry entirely.
type Store struct {
	acks          cmap.ConcurrentMap[string, models.CommandAck]
	persister     Persister
	ttl           time.Duration
	cleanupPeriod time.Duration
	logger        zerolog.Logger
	now           func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewStore initializes an ack store. persister may be nil for diagnostic
// setups that need no durability.
func NewStore(persister Persister, ttl, cleanupPeriod time.Duration, logger zerolog.Logger) *Store {
	if cleanupPeriod <= 0 {
		cleanupPeriod = constants.DefaultAckCleanupPeriod
	}
	return &Store{
		acks:          cmap.New[models.CommandAck](),
		persister:     persister,
		ttl:           ttl,
		cleanupPeriod: cleanupPeriod,
		logger:        logger,
		now:           time.Now,
	}
}

// SetClock overrides the store's clock. Test use only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Put upserts an ack by correlation ID. A retransmitted ack replaces the
// earlier record rather than duplicating it. The durable write-through is
// best effort: losing it only costs ack visibility across a restart.
func (s *Store) Put(deviceID string, ack models.CommandAck) {
	now := s.now()
	ack.DeviceID = deviceID
	ack.ReceivedAt = now
	if s.ttl > 0 {
		ack.ExpiresAt = now.Add(s.ttl)
	} else {
		ack.ExpiresAt = time.Time{}
	}

	s.acks.Set(ack.CorrelationID, ack)

	if s.persister != nil {
		if err := s.persister.UpsertAck(context.Background(), ack); err != nil {
			s.logger.Warn().Err(err).
				Str("correlation_id", ack.CorrelationID).
				Msg("Failed to persist command ack")
		}
	}
}

// Get returns the ack for the correlation ID, or nil when it is absent or
// already expired. Expired records are left for the sweep to remove.
func (s *Store) Get(correlationID string) *models.CommandAck {
	ack, ok := s.acks.Get(correlationID)
	if !ok {
		return nil
	}
	if ack.Expired(s.now()) {
		return nil
	}
	return &ack
}

// CleanupExpired removes every in-memory ack whose expiry has passed and
// returns the number removed. Safe to call concurrently with Put and Get.
func (s *Store) CleanupExpired() int {
	now := s.now()
	removed := 0
	for item := range s.acks.IterBuffered() {
		if item.Val.Expired(now) {
			s.acks.Remove(item.Key)
			removed++
		}
	}
	return removed
}

// Start launches the periodic sweep. It runs on its own schedule and shares
// no lock with Put/Get beyond the map's shard locks. With expiry disabled
// there is nothing to sweep and no goroutine is started.
func (s *Store) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return errors.New("ack store sweep is already running")
	}
	if s.ttl <= 0 {
		s.logger.Info().Msg("Ack expiry disabled, sweep not started")
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSweepLoop()
	}()

	s.logger.Info().Dur("period", s.cleanupPeriod).Msg("Ack sweep started")
	return nil
}

// Stop halts the periodic sweep.
func (s *Store) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		return nil
	}

	s.cancel()
	s.wg.Wait()
	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("Ack sweep stopped")
	return nil
}

func (s *Store) runSweepLoop() {
	ticker := time.NewTicker(s.cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := s.CleanupExpired()
			if removed > 0 {
				s.logger.Debug().Int("removed", removed).Msg("Swept expired acks")
			}
			if s.persister != nil {
				if _, err := s.persister.DeleteExpiredAcks(s.ctx, s.now()); err != nil {
					s.logger.Warn().Err(err).Msg("Failed to sweep persisted acks")
				}
			}
		case <-s.ctx.Done():
			return
		}
	}
}
