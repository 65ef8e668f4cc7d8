package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/feedrlabs/identity/internal"
)

func TestSessionListFlagsCurrent(t *testing.T) {
	core, _, _ := newTestCore(t, testConfig())
	ctx := context.Background()
	account := registerTestAccount(t, core)

	pair1, s1, err := core.Tokens.IssueTokens(ctx, account, testRC)
	if err != nil {
		t.Fatalf("issue 1: %v", err)
	}
	if _, _, err := core.Tokens.IssueTokens(ctx, account, testRC); err != nil {
		t.Fatalf("issue 2: %v", err)
	}

	infos, err := core.Sessions.List(ctx, account.ID, internal.HashToken(pair1.RefreshToken))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("sessions = %d, want 2", len(infos))
	}
	currents := 0
	for _, info := range infos {
		if info.IsCurrent {
			currents++
			if info.ID != s1.ID {
				t.Fatal("wrong session flagged current")
			}
		}
	}
	if currents != 1 {
		t.Fatalf("current sessions = %d, want exactly 1", currents)
	}

	// Without a hash nothing is current.
	infos, err = core.Sessions.List(ctx, account.ID, "")
	if err != nil {
		t.Fatalf("list without hash: %v", err)
	}
	for _, info := range infos {
		if info.IsCurrent {
			t.Fatal("session flagged current with no hash supplied")
		}
	}
}

func TestSessionRevoke(t *testing.T) {
	core, _, _ := newTestCore(t, testConfig())
	ctx := context.Background()
	account := registerTestAccount(t, core)

	pair, session, err := core.Tokens.IssueTokens(ctx, account, testRC)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := core.Sessions.Revoke(ctx, account.ID, session.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	// The paired refresh token dies with the session.
	if _, _, err := core.Tokens.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh after revoke: got %v, want ErrTokenInvalid", err)
	}

	err = core.Sessions.Revoke(ctx, account.ID, session.ID)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("double revoke: got %v, want ErrSessionNotFound", err)
	}
	// Another account cannot revoke it either.
	err = core.Sessions.Revoke(ctx, uuid.New(), session.ID)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("foreign revoke: got %v, want ErrSessionNotFound", err)
	}
}

func TestSessionRevokeOthers(t *testing.T) {
	core, _, _ := newTestCore(t, testConfig())
	ctx := context.Background()
	account := registerTestAccount(t, core)

	keep, _, err := core.Tokens.IssueTokens(ctx, account, testRC)
	if err != nil {
		t.Fatalf("issue keeper: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, _, err := core.Tokens.IssueTokens(ctx, account, testRC); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}

	n, err := core.Sessions.RevokeOthers(ctx, account.ID, internal.HashToken(keep.RefreshToken))
	if err != nil {
		t.Fatalf("revoke others: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked = %d, want 2", n)
	}
	if _, _, err := core.Tokens.Refresh(ctx, keep.RefreshToken); err != nil {
		t.Fatalf("keeper no longer refreshes: %v", err)
	}
}

func TestDeviceTrustLifecycle(t *testing.T) {
	core, _, _ := newTestCore(t, testConfig())
	ctx := context.Background()
	account := registerTestAccount(t, core)
	fp := core.Devices.Fingerprint(testRC)

	trusted, err := core.Devices.IsTrusted(ctx, account.ID, fp)
	if err != nil {
		t.Fatalf("is trusted: %v", err)
	}
	if trusted {
		t.Fatal("unknown device reported trusted")
	}

	device, err := core.Devices.Trust(ctx, account.ID, testRC)
	if err != nil {
		t.Fatalf("trust: %v", err)
	}

	trusted, err = core.Devices.IsTrusted(ctx, account.ID, fp)
	if err != nil {
		t.Fatalf("is trusted: %v", err)
	}
	if !trusted {
		t.Fatal("granted device not trusted")
	}

	devices, err := core.Devices.List(ctx, account.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(devices) != 1 || devices[0].Fingerprint != fp {
		t.Fatalf("list = %+v, want the one grant", devices)
	}

	if err := core.Devices.Revoke(ctx, account.ID, device.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	trusted, _ = core.Devices.IsTrusted(ctx, account.ID, fp)
	if trusted {
		t.Fatal("revoked device still trusted")
	}
	if err := core.Devices.Revoke(ctx, account.ID, device.ID); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("double revoke: got %v, want ErrDeviceNotFound", err)
	}
}

func TestDeviceFingerprintIgnoresIP(t *testing.T) {
	core, _, _ := newTestCore(t, testConfig())

	a := testRC
	b := testRC
	b.IP = "198.51.100.99"
	if core.Devices.Fingerprint(a) != core.Devices.Fingerprint(b) {
		t.Fatal("fingerprint changed with the ip address")
	}

	c := testRC
	c.UserAgent = "other-agent/1.0"
	if core.Devices.Fingerprint(a) == core.Devices.Fingerprint(c) {
		t.Fatal("fingerprint identical across different user agents")
	}
}

func TestReTrustExtendsExpiry(t *testing.T) {
	core, store, _ := newTestCore(t, testConfig())
	ctx := context.Background()
	account := registerTestAccount(t, core)

	first, err := core.Devices.Trust(ctx, account.ID, testRC)
	if err != nil {
		t.Fatalf("trust: %v", err)
	}

	// Age the grant, then re-trust.
	fp := first.Fingerprint
	store.mu.Lock()
	aged := first.ExpiresAt.Add(-time.Hour)
	store.devices[account.ID][fp].ExpiresAt = aged
	store.mu.Unlock()

	if _, err := core.Devices.Trust(ctx, account.ID, testRC); err != nil {
		t.Fatalf("re-trust: %v", err)
	}

	got, err := store.TrustedDeviceByFingerprint(ctx, account.ID, fp)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !got.ExpiresAt.After(aged) {
		t.Fatal("re-trust did not extend the expiry")
	}

	devices, _ := core.Devices.List(ctx, account.ID)
	if len(devices) != 1 {
		t.Fatalf("grants = %d after re-trust, want 1", len(devices))
	}
}
