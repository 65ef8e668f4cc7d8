package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/feedrlabs/identity/cache"
	"github.com/feedrlabs/identity/internal"
	"github.com/feedrlabs/identity/notify"
	"github.com/feedrlabs/identity/password"
)

// MFAEngine owns the TOTP lifecycle (Disabled → PendingSetup → Enabled),
// backup codes, recovery codes and the SMS/email one-time-code path.
type MFAEngine struct {
	cfg      MFAConfig
	recovery RecoveryConfig
	accounts AccountStore
	codes    MFACodeStore
	cache    cache.Cache
	hasher   *password.Hasher
	notifier notify.Gateway
	metrics  *Metrics
}

// TOTPSetup is returned by BeginTOTPSetup: the shared secret and the
// otpauth:// payload an authenticator app enrolls from.
type TOTPSetup struct {
	Secret          string
	ProvisioningURI string
}

// BackupCodeResult reports the outcome of consuming a backup code.
// LowSupply is set when the remaining set has shrunk below the configured
// threshold, so callers can prompt the user to regenerate.
type BackupCodeResult struct {
	Remaining int
	LowSupply bool
}

// BeginTOTPSetup generates a fresh secret and stores it un-enabled
// (PendingSetup). Fails when TOTP is already enabled; call DisableMFA
// first to re-enroll.
func (e *MFAEngine) BeginTOTPSetup(ctx context.Context, accountID uuid.UUID) (*TOTPSetup, error) {
	account, err := e.accounts.AccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.TOTPEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.cfg.Issuer,
		AccountName: account.Email,
	})
	if err != nil {
		return nil, err
	}

	if err := e.accounts.SetTOTPPending(ctx, accountID, key.Secret()); err != nil {
		return nil, err
	}

	return &TOTPSetup{Secret: key.Secret(), ProvisioningURI: key.URL()}, nil
}

// ConfirmTOTPSetup finishes enrollment. The password re-entry defends
// against a hijacked session enabling MFA under the attacker's secret. On
// success the account transitions to Enabled and a fresh backup-code set
// is issued; the plaintext codes are returned exactly once.
func (e *MFAEngine) ConfirmTOTPSetup(ctx context.Context, accountID uuid.UUID, code, plaintext string) ([]string, error) {
	account, err := e.accounts.AccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.TOTPEnabled {
		return nil, ErrMFAAlreadyEnabled
	}
	if account.TOTPSecret == "" {
		return nil, ErrMFANotPending
	}

	ok, err := e.hasher.Verify(plaintext, account.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !e.VerifyTOTP(account.TOTPSecret, code) {
		return nil, ErrMFACodeInvalid
	}

	if err := e.accounts.EnableTOTP(ctx, accountID); err != nil {
		return nil, err
	}

	return e.issueBackupCodes(ctx, accountID)
}

// VerifyTOTP checks a time-stepped code against the secret with a ±1 step
// tolerance for clock skew.
func (e *MFAEngine) VerifyTOTP(secret, code string) bool {
	ok, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// VerifyBackupCode consumes a backup code. A code verifies exactly once:
// the matching hash is deleted from the stored set atomically, so a
// concurrent second use finds nothing.
func (e *MFAEngine) VerifyBackupCode(ctx context.Context, accountID uuid.UUID, code string) (*BackupCodeResult, error) {
	hash := internal.HashCode(accountID.String(), code)
	consumed, remaining, err := e.codes.ConsumeBackupCode(ctx, accountID, hash)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, ErrBackupCodeInvalid
	}
	e.metrics.Inc(MetricBackupCodeUsed)
	return &BackupCodeResult{
		Remaining: remaining,
		LowSupply: remaining < e.cfg.BackupCodeLowWater,
	}, nil
}

// RegenerateBackupCodes replaces the stored set after re-verifying the
// password and a current factor.
func (e *MFAEngine) RegenerateBackupCodes(ctx context.Context, accountID uuid.UUID, plaintext, code string) ([]string, error) {
	account, err := e.accounts.AccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.TOTPEnabled {
		return nil, ErrMFANotEnabled
	}
	ok, err := e.hasher.Verify(plaintext, account.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := e.verifyFactor(ctx, account, code); err != nil {
		return nil, err
	}
	return e.issueBackupCodes(ctx, accountID)
}

// DisableMFA clears all MFA state. Both the password and a current factor
// (TOTP or backup code) must verify, so neither a stolen session nor a
// stolen password alone can strip the second factor.
func (e *MFAEngine) DisableMFA(ctx context.Context, accountID uuid.UUID, plaintext, code string) error {
	account, err := e.accounts.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.MFAEnabled() {
		return ErrMFANotEnabled
	}

	ok, err := e.hasher.Verify(plaintext, account.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if err := e.verifyFactor(ctx, account, code); err != nil {
		return err
	}

	if err := e.codes.DeleteBackupCodes(ctx, accountID); err != nil {
		return err
	}
	return e.accounts.ClearMFA(ctx, accountID)
}

// verifyFactor accepts either a current TOTP code or an unused backup
// code.
func (e *MFAEngine) verifyFactor(ctx context.Context, account *Account, code string) error {
	if account.TOTPEnabled && e.VerifyTOTP(account.TOTPSecret, code) {
		return nil
	}
	if _, err := e.VerifyBackupCode(ctx, account.ID, code); err == nil {
		return nil
	} else if !errors.Is(err, ErrBackupCodeInvalid) {
		return err
	}
	return ErrMFACodeInvalid
}

func (e *MFAEngine) issueBackupCodes(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	plaintexts := make([]string, 0, e.cfg.BackupCodeCount)
	hashes := make([]string, 0, e.cfg.BackupCodeCount)
	for i := 0; i < e.cfg.BackupCodeCount; i++ {
		code, err := internal.NewUserCode(5)
		if err != nil {
			return nil, err
		}
		plaintexts = append(plaintexts, code)
		hashes = append(hashes, internal.HashCode(accountID.String(), code))
	}

	if err := e.codes.ReplaceBackupCodes(ctx, accountID, hashes); err != nil {
		return nil, err
	}
	return plaintexts, nil
}
