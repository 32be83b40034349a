package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/sproutlink/gardend/internal/models"
)

// pq error code for unique constraint violations.
const uniqueViolation = "23505"

// Store is the relational durability tier: the device registry, the
// last-known-state snapshots, and the persisted command acks.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger

	defaultRateMlPerHour float64
	defaultOnlineS       int
}

// Open connects to Postgres, verifies the connection and applies the schema.
func Open(dsn string, defaultRateMlPerHour float64, defaultOnlineS int, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:                   db,
		logger:               logger,
		defaultRateMlPerHour: defaultRateMlPerHour,
		defaultOnlineS:       defaultOnlineS,
	}
	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) applySchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			external_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			watering_rate_ml_per_hour DOUBLE PRECISION,
			online_threshold_s INT,
			last_seen_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS device_states (
			device_id TEXT PRIMARY KEY,
			state JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS command_acks (
			correlation_id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			payload JSONB,
			received_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_command_acks_expires_at
			ON command_acks (expires_at) WHERE expires_at IS NOT NULL`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// FindDeviceByExternalID returns the device row, or nil when unknown.
func (s *Store) FindDeviceByExternalID(ctx context.Context, externalID string) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, watering_rate_ml_per_hour, online_threshold_s, last_seen_at, created_at
		FROM devices WHERE external_id = $1`, externalID)
	return scanDevice(row)
}

// EnsureDevice registers the device if it is missing. Defaults fill only
// null settings; explicit values are never overwritten, so the call is
// idempotent. Two concurrent first contacts for the same device resolve by
// one insert winning and the other re-reading the now-existing row.
func (s *Store) EnsureDevice(ctx context.Context, externalID string) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO devices (external_id, watering_rate_ml_per_hour, online_threshold_s)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_id) DO UPDATE SET
			watering_rate_ml_per_hour = COALESCE(devices.watering_rate_ml_per_hour, EXCLUDED.watering_rate_ml_per_hour),
			online_threshold_s = COALESCE(devices.online_threshold_s, EXCLUDED.online_threshold_s)
		RETURNING id, external_id, name, watering_rate_ml_per_hour, online_threshold_s, last_seen_at, created_at`,
		externalID, s.defaultRateMlPerHour, s.defaultOnlineS)

	device, err := scanDevice(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			// Someone else won the registration race; their row is ours now.
			return s.FindDeviceByExternalID(ctx, externalID)
		}
		return nil, fmt.Errorf("failed to ensure device %s: %w", externalID, err)
	}
	return device, nil
}

// TouchLastSeen stamps the device's last contact time.
func (s *Store) TouchLastSeen(ctx context.Context, externalID string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE devices SET last_seen_at = $2 WHERE external_id = $1`, externalID, seenAt)
	if err != nil {
		return fmt.Errorf("failed to update last seen for %s: %w", externalID, err)
	}
	return nil
}

// LoadLastState returns the persisted state snapshot, or a nil state when
// the device never had one persisted.
func (s *Store) LoadLastState(ctx context.Context, deviceID string) (*models.DeviceState, time.Time, error) {
	var raw []byte
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT state, updated_at FROM device_states WHERE device_id = $1`, deviceID).
		Scan(&raw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load state for %s: %w", deviceID, err)
	}

	var state models.DeviceState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to decode persisted state for %s: %w", deviceID, err)
	}
	return &state, updatedAt, nil
}

// PersistState upserts the device's raw state snapshot.
func (s *Store) PersistState(ctx context.Context, deviceID string, state models.DeviceState, updatedAt time.Time) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", deviceID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO device_states (device_id, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`,
		deviceID, raw, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to persist state for %s: %w", deviceID, err)
	}
	return nil
}

// UpsertAck stores a command ack, replacing any earlier record with the same
// correlation ID.
func (s *Store) UpsertAck(ctx context.Context, ack models.CommandAck) error {
	var expiresAt *time.Time
	if !ack.ExpiresAt.IsZero() {
		expiresAt = &ack.ExpiresAt
	}
	var payload []byte
	if len(ack.Payload) > 0 {
		payload = ack.Payload
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO command_acks (correlation_id, device_id, result, status, payload, received_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (correlation_id) DO UPDATE SET
			device_id = EXCLUDED.device_id,
			result = EXCLUDED.result,
			status = EXCLUDED.status,
			payload = EXCLUDED.payload,
			received_at = EXCLUDED.received_at,
			expires_at = EXCLUDED.expires_at`,
		ack.CorrelationID, ack.DeviceID, ack.Result, ack.Status, payload, ack.ReceivedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert ack %s: %w", ack.CorrelationID, err)
	}
	return nil
}

// DeleteExpiredAcks removes every persisted ack that expired at or before
// the given instant and returns the number deleted.
func (s *Store) DeleteExpiredAcks(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM command_acks WHERE expires_at IS NOT NULL AND expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired acks: %w", err)
	}
	return res.RowsAffected()
}

// DeleteDevice removes the device row together with its state snapshot and
// any persisted acks.
func (s *Store) DeleteDevice(ctx context.Context, externalID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin device removal: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM command_acks WHERE device_id = $1`,
		`DELETE FROM device_states WHERE device_id = $1`,
		`DELETE FROM devices WHERE external_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, externalID); err != nil {
			return fmt.Errorf("failed to remove device %s: %w", externalID, err)
		}
	}
	return tx.Commit()
}

func scanDevice(row *sql.Row) (*models.Device, error) {
	var d models.Device
	var rate sql.NullFloat64
	var online sql.NullInt64
	var lastSeen sql.NullTime
	err := row.Scan(&d.ID, &d.ExternalID, &d.Name, &rate, &online, &lastSeen, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rate.Valid {
		d.WateringRateMlPerHour = &rate.Float64
	}
	if online.Valid {
		v := int(online.Int64)
		d.OnlineThresholdS = &v
	}
	if lastSeen.Valid {
		d.LastSeenAt = &lastSeen.Time
	}
	return &d, nil
}
