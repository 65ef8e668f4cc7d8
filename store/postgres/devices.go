package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feedrlabs/identity"
)

func (s *Store) UpsertTrustedDevice(ctx context.Context, device *identity.TrustedDevice) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO trusted_devices (id, account_id, fingerprint, device,
			expires_at, last_used_at, created_at)
		VALUES (:id, :account_id, :fingerprint, :device,
			:expires_at, :last_used_at, :created_at)
		ON CONFLICT (account_id, fingerprint) DO UPDATE SET
			device = EXCLUDED.device,
			expires_at = EXCLUDED.expires_at,
			last_used_at = EXCLUDED.last_used_at`, device)
	if err != nil {
		return fmt.Errorf("postgres: upsert trusted device: %w", err)
	}
	return nil
}

func (s *Store) TrustedDeviceByFingerprint(ctx context.Context, accountID uuid.UUID, fingerprint string) (*identity.TrustedDevice, error) {
	var device identity.TrustedDevice
	err := s.db.GetContext(ctx, &device, `
		SELECT * FROM trusted_devices
		WHERE account_id = $1 AND fingerprint = $2`, accountID, fingerprint)
	if noRows(err) {
		return nil, identity.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: trusted device by fingerprint: %w", err)
	}
	return &device, nil
}

func (s *Store) TouchTrustedDevice(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE trusted_devices SET last_used_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("postgres: touch trusted device: %w", err)
	}
	return nil
}

func (s *Store) DeleteTrustedDevice(ctx context.Context, accountID, deviceID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM trusted_devices WHERE id = $1 AND account_id = $2`, deviceID, accountID)
	if err != nil {
		return fmt.Errorf("postgres: delete trusted device: %w", err)
	}
	return mustAffect(res, identity.ErrDeviceNotFound)
}

func (s *Store) DeleteTrustedDevices(ctx context.Context, accountID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM trusted_devices WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trusted devices: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) TrustedDevices(ctx context.Context, accountID uuid.UUID) ([]identity.TrustedDevice, error) {
	var devices []identity.TrustedDevice
	err := s.db.SelectContext(ctx, &devices, `
		SELECT * FROM trusted_devices WHERE account_id = $1
		ORDER BY last_used_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres: trusted devices: %w", err)
	}
	return devices, nil
}

func (s *Store) PruneTrustedDevices(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM trusted_devices WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune trusted devices: %w", err)
	}
	return res.RowsAffected()
}
