package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/feedrlabs/identity/internal"
)

// DeviceTrustManager recognizes returning devices by a stable fingerprint
// and grants them a temporary MFA bypass.
type DeviceTrustManager struct {
	cfg     DeviceConfig
	devices DeviceStore
}

// Fingerprint derives the device identity from the stable request
// attributes. The IP address is excluded on purpose: it churns far too
// often to recognize a device by.
func (m *DeviceTrustManager) Fingerprint(rc RequestContext) string {
	return internal.Fingerprint(rc.UserAgent, rc.AcceptLanguage, rc.AcceptEncoding)
}

// IsTrusted reports whether the fingerprint has an unexpired trust grant
// for the account, refreshing its last-used time when it does.
func (m *DeviceTrustManager) IsTrusted(ctx context.Context, accountID uuid.UUID, fingerprint string) (bool, error) {
	device, err := m.devices.TrustedDeviceByFingerprint(ctx, accountID, fingerprint)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return false, nil
		}
		return false, err
	}

	now := time.Now().UTC()
	if !device.ExpiresAt.After(now) {
		return false, nil
	}

	if err := m.devices.TouchTrustedDevice(ctx, device.ID, now); err != nil {
		return false, err
	}
	return true, nil
}

// Trust upserts a trust grant for the request's device, expiring TrustTTL
// from now. Re-trusting an already-trusted device extends the expiry.
func (m *DeviceTrustManager) Trust(ctx context.Context, accountID uuid.UUID, rc RequestContext) (*TrustedDevice, error) {
	now := time.Now().UTC()
	device := &TrustedDevice{
		ID:          uuid.New(),
		AccountID:   accountID,
		Fingerprint: m.Fingerprint(rc),
		Device:      rc.UserAgent,
		ExpiresAt:   now.Add(m.cfg.TrustTTL),
		LastUsedAt:  now,
		CreatedAt:   now,
	}
	if err := m.devices.UpsertTrustedDevice(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// List returns the account's trust grants, expired ones included, so the
// owner sees everything that was ever granted and not yet pruned.
func (m *DeviceTrustManager) List(ctx context.Context, accountID uuid.UUID) ([]TrustedDevice, error) {
	return m.devices.TrustedDevices(ctx, accountID)
}

// Revoke removes one trust grant. The next login from that device requires
// MFA again.
func (m *DeviceTrustManager) Revoke(ctx context.Context, accountID, deviceID uuid.UUID) error {
	return m.devices.DeleteTrustedDevice(ctx, accountID, deviceID)
}

// RevokeAll removes every trust grant for the account and returns the
// count removed.
func (m *DeviceTrustManager) RevokeAll(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return m.devices.DeleteTrustedDevices(ctx, accountID)
}
