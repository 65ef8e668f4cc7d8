package identity

import (
	"time"

	"github.com/google/uuid"
)

// Account is the identity record. Email is stored lower-cased and compared
// case-insensitively. The zero UUID is never a valid account id.
type Account struct {
	ID                 uuid.UUID  `db:"id"`
	Username           string     `db:"username"`
	Email              string     `db:"email"`
	PasswordHash       string     `db:"password_hash"`
	EmailVerified      bool       `db:"email_verified"`
	Phone              string     `db:"phone"`
	TOTPSecret         string     `db:"totp_secret"`
	TOTPEnabled        bool       `db:"totp_enabled"`
	SMSMFAEnabled      bool       `db:"sms_mfa_enabled"`
	EmailMFAEnabled    bool       `db:"email_mfa_enabled"`
	FailedAttempts     int        `db:"failed_attempts"`
	LockedUntil        *time.Time `db:"locked_until"`
	ForcePasswordReset bool       `db:"force_password_reset"`
	PasswordChangedAt  time.Time  `db:"password_changed_at"`
	CreatedAt          time.Time  `db:"created_at"`
}

// MFAEnabled reports whether any second factor is active for the account.
func (a *Account) MFAEnabled() bool {
	return a.TOTPEnabled || a.SMSMFAEnabled || a.EmailMFAEnabled
}

// PasswordHistoryEntry is an append-only record of a previous password
// hash, used to reject reuse inside the history window.
type PasswordHistoryEntry struct {
	AccountID    uuid.UUID `db:"account_id"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// RefreshToken is the stored form of a refresh token. Only the SHA-256 hash
// of the raw value is ever persisted. A row is live while RotatedAt is nil
// and ExpiresAt is in the future; a rotated row remains as a tombstone for
// the replay grace window and is then pruned.
type RefreshToken struct {
	TokenHash string     `db:"token_hash"`
	AccountID uuid.UUID  `db:"account_id"`
	ExpiresAt time.Time  `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
	RotatedAt *time.Time `db:"rotated_at"`
}

// Session pairs 1:1 with a live refresh token and carries the device and
// network context captured at issuance. It is created, re-pointed on
// rotation, and destroyed in the same transaction as its token.
type Session struct {
	ID           uuid.UUID `db:"id"`
	AccountID    uuid.UUID `db:"account_id"`
	TokenHash    string    `db:"token_hash"`
	Device       string    `db:"device"`
	IP           string    `db:"ip"`
	Location     string    `db:"location"`
	LastActiveAt time.Time `db:"last_active_at"`
	ExpiresAt    time.Time `db:"expires_at"`
	CreatedAt    time.Time `db:"created_at"`
}

// SessionInfo is a session as reported to the owner, with the current
// session flagged by refresh-hash match.
type SessionInfo struct {
	Session
	IsCurrent bool
}

// TrustedDevice grants a temporary MFA bypass for a recognized device
// fingerprint. Unique per (account, fingerprint); re-trusting refreshes
// the expiry.
type TrustedDevice struct {
	ID          uuid.UUID `db:"id"`
	AccountID   uuid.UUID `db:"account_id"`
	Fingerprint string    `db:"fingerprint"`
	Device      string    `db:"device"`
	ExpiresAt   time.Time `db:"expires_at"`
	LastUsedAt  time.Time `db:"last_used_at"`
	CreatedAt   time.Time `db:"created_at"`
}

// RecoveryCode is a long-lived single-use credential for regaining account
// access outside the normal login flow. Redeemed codes are marked used,
// never deleted, so redemption stays auditable.
type RecoveryCode struct {
	ID        uuid.UUID  `db:"id"`
	AccountID uuid.UUID  `db:"account_id"`
	CodeHash  string     `db:"code_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	UsedAt    *time.Time `db:"used_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// LoginAttempt is the immutable record of one login attempt, successful or
// not. AccountID is nil when the email did not resolve to an account.
type LoginAttempt struct {
	ID              uuid.UUID  `db:"id"`
	AccountID       *uuid.UUID `db:"account_id"`
	Email           string     `db:"email"`
	Success         bool       `db:"success"`
	FailureReason   string     `db:"failure_reason"`
	IP              string     `db:"ip"`
	Device          string     `db:"device"`
	Location        string     `db:"location"`
	Suspicious      bool       `db:"suspicious"`
	SuspicionReason string     `db:"suspicion_reason"`
	CreatedAt       time.Time  `db:"created_at"`
}

// AuditAction enumerates the privileged administrative actions recorded in
// the audit log.
type AuditAction string

const (
	AuditAccountLocked       AuditAction = "account.locked"
	AuditAccountUnlocked     AuditAction = "account.unlocked"
	AuditAccountDeleted      AuditAction = "account.deleted"
	AuditAccountUpdated      AuditAction = "account.updated"
	AuditPasswordResetForced AuditAction = "account.password_reset_forced"
	AuditMFAReset            AuditAction = "account.mfa_reset"
	AuditSessionRevoked      AuditAction = "session.revoked"
	AuditSessionsRevoked     AuditAction = "session.revoked_all"
	AuditDeviceRevoked       AuditAction = "device.revoked"
)

// AuditEntry is an immutable record of a privileged action. The detail
// payload is structured (serialized as JSON at the store boundary) so
// entries stay queryable without string parsing.
type AuditEntry struct {
	ID            uuid.UUID         `db:"id"`
	ActorID       uuid.UUID         `db:"actor_id"`
	ActorUsername string            `db:"actor_username"`
	Action        AuditAction       `db:"action"`
	TargetType    string            `db:"target_type"`
	TargetID      string            `db:"target_id"`
	TargetLabel   string            `db:"target_label"`
	Detail        map[string]string `db:"-"`
	IP            string            `db:"ip"`
	UserAgent     string            `db:"user_agent"`
	CreatedAt     time.Time         `db:"created_at"`
}

// RequestContext is the immutable per-request value object carrying the
// client's network and device attributes. It is constructed once per
// inbound call by the web layer and passed by value into the components
// that need it; the core never reads these out of ambient state.
type RequestContext struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	Location       string
}

// Channel selects the delivery path for one-time login codes.
type Channel string

const (
	// ChannelSMS delivers codes through the SMS gateway.
	ChannelSMS Channel = "sms"
	// ChannelEmail delivers codes through the email gateway.
	ChannelEmail Channel = "email"
)

// TokenPair is the result of a successful authentication: a short-lived
// signed access token and the raw refresh token (returned once, stored
// only as a hash).
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult is returned by Core.Login. When MFARequired is set the token
// pair is empty and the caller must complete the challenge with one of the
// CompleteLogin* operations using ChallengeID.
type LoginResult struct {
	Account     *Account
	Tokens      TokenPair
	Session     *Session
	MFARequired bool
	ChallengeID string
	Suspicious  bool
}

// RiskAssessment is the outcome of evaluating one login attempt against
// the account's full prior history.
type RiskAssessment struct {
	NewIP         bool
	NewDevice     bool
	NewLocation   bool
	BurstFailures bool
	Suspicious    bool
	Reason        string
}

// Page bounds a read of an append-only log. Size is capped server-side
// regardless of the requested value.
type Page struct {
	Offset int
	Size   int
}
