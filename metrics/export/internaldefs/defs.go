// Package internaldefs holds the shared counter definitions the otel and
// prometheus exporters render from. Internal to the export packages; not
// a stable API.
package internaldefs

import (
	"github.com/feedrlabs/identity"
)

// CounterDef binds a core counter id to its exposition name and help
// text. Configured at init, immutable afterwards.
type CounterDef struct {
	ID   identity.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: identity.MetricRegisterSuccess, Name: "identity_register_success_total", Help: "Successful account registrations."},
	{ID: identity.MetricRegisterRejected, Name: "identity_register_rejected_total", Help: "Registrations rejected by validation or collision."},
	{ID: identity.MetricLoginSuccess, Name: "identity_login_success_total", Help: "Successful login attempts."},
	{ID: identity.MetricLoginFailure, Name: "identity_login_failure_total", Help: "Failed login attempts."},
	{ID: identity.MetricLoginLocked, Name: "identity_login_locked_total", Help: "Logins refused by an active lockout."},
	{ID: identity.MetricLoginSuspicious, Name: "identity_login_suspicious_total", Help: "Successful logins flagged as suspicious."},
	{ID: identity.MetricMFAChallenged, Name: "identity_mfa_challenged_total", Help: "Logins held for a second factor."},
	{ID: identity.MetricMFABypassedTrustedDevice, Name: "identity_mfa_bypassed_trusted_device_total", Help: "MFA bypasses granted to trusted devices."},
	{ID: identity.MetricRefreshSuccess, Name: "identity_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: identity.MetricRefreshFailure, Name: "identity_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: identity.MetricReplayDetected, Name: "identity_replay_detected_total", Help: "Refresh token replays detected."},
	{ID: identity.MetricSessionCreated, Name: "identity_session_created_total", Help: "Created sessions."},
	{ID: identity.MetricSessionRevoked, Name: "identity_session_revoked_total", Help: "Revoked sessions."},
	{ID: identity.MetricBackupCodeUsed, Name: "identity_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: identity.MetricOTPIssued, Name: "identity_otp_issued_total", Help: "One-time codes issued over SMS or email."},
	{ID: identity.MetricOTPRateLimited, Name: "identity_otp_rate_limited_total", Help: "One-time code requests refused by the rate limit."},
	{ID: identity.MetricRecoveryCodeRedeemed, Name: "identity_recovery_code_redeemed_total", Help: "Recovery codes redeemed."},
	{ID: identity.MetricAuditRecorded, Name: "identity_audit_recorded_total", Help: "Audit entries persisted."},
	{ID: identity.MetricAuditWriteFailed, Name: "identity_audit_write_failed_total", Help: "Audit entries that failed to persist."},
}
