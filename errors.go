package identity

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors: malformed input, always recoverable by the caller
// correcting its input.
var (
	// ErrInvalidUsername is returned when a username violates the
	// 3-50 character, leading-letter, alphanumeric+underscore policy.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidEmail is returned for a syntactically unusable email address.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrWeakPassword is returned when a password fails the strength policy.
	ErrWeakPassword = errors.New("password does not meet strength requirements")
	// ErrSamePassword is returned when a password change supplies the
	// current password as the new one.
	ErrSamePassword = errors.New("new password must differ from current password")
	// ErrPasswordRecentlyUsed is returned when a new password matches an
	// entry in the trailing history window.
	ErrPasswordRecentlyUsed = errors.New("password was used recently")
	// ErrCaptchaRejected is returned when the CAPTCHA verifier declines
	// the request before any core logic runs.
	ErrCaptchaRejected = errors.New("captcha verification failed")
)

// Authentication errors: surfaced to end users as generic messages so the
// caller cannot enumerate accounts or factors.
var (
	// ErrIdentifierTaken is returned on registration when either the
	// username or the email collides. Deliberately generic.
	ErrIdentifierTaken = errors.New("username or email already in use")
	// ErrInvalidCredentials covers unknown email and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is matched by [LockedError] via errors.Is.
	ErrAccountLocked = errors.New("account temporarily locked")
	// ErrPasswordResetRequired is returned at login when the account
	// carries the force-password-reset flag.
	ErrPasswordResetRequired = errors.New("password reset required")
	// ErrTokenInvalid is returned for an unknown or malformed token.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrMFARequired signals that password verification succeeded but a
	// second factor must be presented to finish the login.
	ErrMFARequired = errors.New("multi-factor authentication required")
	// ErrMFAAlreadyEnabled is returned by BeginTOTPSetup on an account
	// with TOTP already confirmed.
	ErrMFAAlreadyEnabled = errors.New("totp already enabled")
	// ErrMFANotPending is returned by ConfirmTOTPSetup without a prior
	// BeginTOTPSetup.
	ErrMFANotPending = errors.New("no pending totp setup")
	// ErrMFANotEnabled is returned by operations that require an active factor.
	ErrMFANotEnabled = errors.New("multi-factor authentication not enabled")
	// ErrMFACodeInvalid covers wrong TOTP codes during setup, login and disable.
	ErrMFACodeInvalid = errors.New("invalid verification code")
	// ErrBackupCodeInvalid is returned for an unknown or already-used backup code.
	ErrBackupCodeInvalid = errors.New("invalid backup code")
	// ErrOTPInvalid is returned for a wrong or already-consumed one-time code.
	ErrOTPInvalid = errors.New("invalid one-time code")
	// ErrOTPRateLimited is returned when code issuance exceeds the rolling
	// per-channel budget.
	ErrOTPRateLimited = errors.New("one-time code requests rate limited")
	// ErrRecoveryCodeInvalid is returned for an unknown, used or expired
	// recovery code.
	ErrRecoveryCodeInvalid = errors.New("invalid recovery code")
)

// Security alerts: trigger defensive action and are never silently ignored.
var (
	// ErrReplayDetected is returned when an already-rotated refresh token
	// is replayed inside the grace window. All live tokens for the owning
	// account are revoked as a side effect before this error is returned.
	ErrReplayDetected = errors.New("refresh token reuse detected")
)

// Not-found errors: mapped to a generic "not found" for end users; callers
// with administrative context may surface specifics.
var (
	// ErrAccountNotFound is returned for an unknown account id or email.
	ErrAccountNotFound = errors.New("account not found")
	// ErrSessionNotFound is returned for an unknown or already-revoked session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDeviceNotFound is returned for an unknown trusted device.
	ErrDeviceNotFound = errors.New("trusted device not found")
)

// Dependency errors: the store or cache is unavailable. Propagated as a
// fatal failure for the current request; the core never retries internally.
var (
	// ErrStoreUnavailable wraps relational store failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrCacheUnavailable wraps ephemeral cache failures.
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// LockedError carries the lockout deadline alongside [ErrAccountLocked].
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account temporarily locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrAccountLocked) hold for LockedError values.
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// CredentialsError carries the remaining attempt budget alongside
// [ErrInvalidCredentials]. AttemptsRemaining is how many further failures
// are tolerated before the account locks.
type CredentialsError struct {
	AttemptsRemaining int
}

func (e *CredentialsError) Error() string {
	return fmt.Sprintf("invalid credentials (%d attempts remaining)", e.AttemptsRemaining)
}

// Is makes errors.Is(err, ErrInvalidCredentials) hold for CredentialsError values.
func (e *CredentialsError) Is(target error) bool {
	return target == ErrInvalidCredentials
}
