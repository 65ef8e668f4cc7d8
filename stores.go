package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccountStore is the relational persistence surface for accounts,
// credential history and MFA configuration. Implementations must use
// parameter-bound queries only and return the package sentinel errors
// (ErrAccountNotFound, ErrIdentifierTaken) for the conditions the core
// branches on.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *Account) error
	AccountByID(ctx context.Context, id uuid.UUID) (*Account, error)
	AccountByEmail(ctx context.Context, email string) (*Account, error)
	// IdentifierInUse checks username and email in a single query so the
	// caller cannot tell which of the two collided.
	IdentifierInUse(ctx context.Context, username, email string) (bool, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string, changedAt time.Time) error
	SetForcePasswordReset(ctx context.Context, id uuid.UUID, forced bool) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	DeleteAccount(ctx context.Context, id uuid.UUID) error

	// RecordLoginFailure increments the failure counter and applies the
	// lockout in one atomic read-modify-write. It returns the counter
	// value after the increment and the lock deadline, if one is now set.
	RecordLoginFailure(ctx context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration, now time.Time) (int, *time.Time, error)
	// ClearLockout resets the failure counter and removes the lock deadline.
	ClearLockout(ctx context.Context, id uuid.UUID) error

	AppendPasswordHistory(ctx context.Context, id uuid.UUID, hash string, now time.Time) error
	// PasswordHistory returns every history entry created at or after
	// since, newest first.
	PasswordHistory(ctx context.Context, id uuid.UUID, since time.Time) ([]PasswordHistoryEntry, error)
	PrunePasswordHistory(ctx context.Context, before time.Time) (int64, error)

	// SetTOTPPending stores a generated secret without enabling it.
	SetTOTPPending(ctx context.Context, id uuid.UUID, secret string) error
	EnableTOTP(ctx context.Context, id uuid.UUID) error
	SetChannelMFA(ctx context.Context, id uuid.UUID, channel Channel, enabled bool) error
	// ClearMFA removes the TOTP secret and all enabled-factor flags.
	ClearMFA(ctx context.Context, id uuid.UUID) error
}

// TokenStore persists refresh tokens and their paired sessions. The
// rotation and teardown operations are transactional: a crash mid-rotation
// must never leave two live tokens valid, nor zero.
type TokenStore interface {
	// CreateTokenSession inserts a live token and its session atomically.
	CreateTokenSession(ctx context.Context, token *RefreshToken, session *Session) error
	// RotateTokenSession atomically claims the live row whose hash is
	// oldHash (marking it rotated), inserts the replacement token and
	// re-points the paired session at it. The store assigns
	// next.AccountID from the claimed row before inserting. Exactly one
	// of N concurrent calls with the same oldHash may succeed; the rest
	// observe ErrTokenInvalid. The updated session is returned.
	RotateTokenSession(ctx context.Context, oldHash string, next *RefreshToken, now time.Time) (*Session, error)
	// TokenByHash returns the row for hash whether live or tombstoned,
	// or ErrTokenInvalid when no row exists at all.
	TokenByHash(ctx context.Context, hash string) (*RefreshToken, error)
	// RevokeAllTokens deletes every live token and paired session for the
	// account and returns how many were removed.
	RevokeAllTokens(ctx context.Context, accountID uuid.UUID) (int64, error)
	PruneTokenTombstones(ctx context.Context, before time.Time) (int64, error)
}

// SessionStore is the read/revoke surface over the session rows owned by
// TokenStore transitions.
type SessionStore interface {
	SessionsByAccount(ctx context.Context, accountID uuid.UUID) ([]Session, error)
	// DeleteSession removes the session and its paired refresh token in
	// one transaction, returning ErrSessionNotFound when the account does
	// not own a session with that id.
	DeleteSession(ctx context.Context, accountID, sessionID uuid.UUID) error
	// DeleteOtherSessions removes every session (and paired token) except
	// the one holding keepHash, returning the number removed.
	DeleteOtherSessions(ctx context.Context, accountID uuid.UUID, keepHash string) (int64, error)
	TouchSession(ctx context.Context, tokenHash string, now time.Time) error
}

// DeviceStore persists trusted-device grants.
type DeviceStore interface {
	// UpsertTrustedDevice inserts the device or, when the (account,
	// fingerprint) pair already exists, refreshes its expiry and
	// last-used time.
	UpsertTrustedDevice(ctx context.Context, device *TrustedDevice) error
	TrustedDeviceByFingerprint(ctx context.Context, accountID uuid.UUID, fingerprint string) (*TrustedDevice, error)
	TouchTrustedDevice(ctx context.Context, id uuid.UUID, now time.Time) error
	DeleteTrustedDevice(ctx context.Context, accountID, deviceID uuid.UUID) error
	DeleteTrustedDevices(ctx context.Context, accountID uuid.UUID) (int64, error)
	TrustedDevices(ctx context.Context, accountID uuid.UUID) ([]TrustedDevice, error)
	PruneTrustedDevices(ctx context.Context, before time.Time) (int64, error)
}

// MFACodeStore persists hashed backup and recovery codes.
type MFACodeStore interface {
	// ReplaceBackupCodes swaps the stored set for the given hashes.
	ReplaceBackupCodes(ctx context.Context, accountID uuid.UUID, hashes []string) error
	// ConsumeBackupCode deletes the matching hash if present and reports
	// whether it existed plus how many codes remain. Delete-on-use is
	// atomic so a code can be consumed at most once.
	ConsumeBackupCode(ctx context.Context, accountID uuid.UUID, hash string) (bool, int, error)
	CountBackupCodes(ctx context.Context, accountID uuid.UUID) (int, error)
	DeleteBackupCodes(ctx context.Context, accountID uuid.UUID) error

	ReplaceRecoveryCodes(ctx context.Context, accountID uuid.UUID, codes []RecoveryCode) error
	// RedeemRecoveryCode marks the matching unused, unexpired code as used
	// and reports whether one matched.
	RedeemRecoveryCode(ctx context.Context, accountID uuid.UUID, hash string, now time.Time) (bool, error)
	PruneRecoveryCodes(ctx context.Context, before time.Time) (int64, error)
}

// AttemptStore persists the append-only login-attempt log and answers the
// history questions the risk engine asks. The Seen* lookups scan all prior
// successful attempts with no time bound: the comparison set is a
// permanent allow-list.
type AttemptStore interface {
	RecordLoginAttempt(ctx context.Context, attempt *LoginAttempt) error
	CountRecentFailures(ctx context.Context, email string, since time.Time) (int, error)
	SeenIP(ctx context.Context, accountID uuid.UUID, ip string) (bool, error)
	SeenDevice(ctx context.Context, accountID uuid.UUID, device string) (bool, error)
	SeenLocation(ctx context.Context, accountID uuid.UUID, location string) (bool, error)
	// HasSuccessfulLogin reports whether the account has ever logged in
	// successfully; a first login is never flagged as anomalous.
	HasSuccessfulLogin(ctx context.Context, accountID uuid.UUID) (bool, error)
}

// AuditStore persists the append-only audit log. Inserts only; no update
// or delete surface exists, which is what makes the log tamper-evident.
type AuditStore interface {
	InsertAuditEntry(ctx context.Context, entry *AuditEntry) error
	AuditEntriesByTime(ctx context.Context, from, to time.Time, page Page) ([]AuditEntry, error)
	AuditEntriesByActor(ctx context.Context, actorID uuid.UUID, page Page) ([]AuditEntry, error)
	AuditEntriesByTarget(ctx context.Context, targetType, targetID string, page Page) ([]AuditEntry, error)
}

// Store aggregates every persistence surface the core needs. The postgres
// implementation satisfies it in full; tests substitute per-interface
// fakes.
type Store interface {
	AccountStore
	TokenStore
	SessionStore
	DeviceStore
	MFACodeStore
	AttemptStore
	AuditStore
}
