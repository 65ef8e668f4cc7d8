package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/feedrlabs/identity/cache"
	"github.com/feedrlabs/identity/internal"
)

// LoginRequest carries the caller-supplied inputs for one login attempt.
// CaptchaToken is consulted before any core logic when the CAPTCHA gate is
// enabled. RememberDevice asks for a trust grant after MFA succeeds.
type LoginRequest struct {
	Email          string
	Password       string
	CaptchaToken   string
	RememberDevice bool
}

const (
	mfaChallengeTTL         = 5 * time.Minute
	mfaChallengeMaxAttempts = 5
)

func mfaChallengeKey(id string) string {
	return "mfach:" + id
}

// mfaChallenge is the cache-resident continuation between a successful
// password check and the MFA completion call.
type mfaChallenge struct {
	AccountID      uuid.UUID `json:"account_id"`
	Email          string    `json:"email"`
	RememberDevice bool      `json:"remember_device"`
	Attempts       int       `json:"attempts"`
}

// Register runs the CAPTCHA gate and creates the account.
func (c *Core) Register(ctx context.Context, rc RequestContext, username, email, plaintext, captchaToken string) (*Account, error) {
	if err := c.checkCaptcha(ctx, captchaToken, "register"); err != nil {
		return nil, err
	}
	return c.Credentials.Register(ctx, username, email, plaintext)
}

// Login runs the full flow: CAPTCHA → credentials (with lockout) →
// device-trust bypass check → MFA challenge → risk scoring → token
// issuance. When MFA is required and the device is not trusted, the
// returned result carries a challenge id for the CompleteLogin* calls and
// no tokens.
func (c *Core) Login(ctx context.Context, rc RequestContext, req LoginRequest) (*LoginResult, error) {
	if err := c.checkCaptcha(ctx, req.CaptchaToken, "login"); err != nil {
		return nil, err
	}

	fingerprint := c.Devices.Fingerprint(rc)

	account, err := c.Credentials.VerifyCredentials(ctx, req.Email, req.Password)
	if err != nil {
		c.recordFailedLogin(ctx, rc, nil, req.Email, fingerprint, err)
		switch {
		case errors.Is(err, ErrAccountNotFound):
			// Same generic answer as a wrong password.
			return nil, ErrInvalidCredentials
		default:
			return nil, err
		}
	}

	if account.ForcePasswordReset {
		c.recordFailedLogin(ctx, rc, &account.ID, req.Email, fingerprint, ErrPasswordResetRequired)
		return nil, ErrPasswordResetRequired
	}

	if account.MFAEnabled() {
		trusted, err := c.Devices.IsTrusted(ctx, account.ID, fingerprint)
		if err != nil {
			return nil, err
		}
		if !trusted {
			challengeID, err := c.createMFAChallenge(ctx, account, req.RememberDevice)
			if err != nil {
				return nil, err
			}
			c.metrics.Inc(MetricMFAChallenged)
			return &LoginResult{Account: account, MFARequired: true, ChallengeID: challengeID}, nil
		}
		c.metrics.Inc(MetricMFABypassedTrustedDevice)
	}

	return c.finishLogin(ctx, rc, account, fingerprint, false)
}

// CompleteLoginTOTP finishes a pending MFA login with an authenticator
// code.
func (c *Core) CompleteLoginTOTP(ctx context.Context, rc RequestContext, challengeID, code string) (*LoginResult, error) {
	return c.completeMFALogin(ctx, rc, challengeID, func(account *Account) error {
		if !account.TOTPEnabled || !c.MFA.VerifyTOTP(account.TOTPSecret, code) {
			return ErrMFACodeInvalid
		}
		return nil
	})
}

// CompleteLoginBackupCode finishes a pending MFA login by spending a
// backup code. The result's Suspicious flag is unrelated to the code; a
// low-supply warning is delivered through the notifier.
func (c *Core) CompleteLoginBackupCode(ctx context.Context, rc RequestContext, challengeID, code string) (*LoginResult, error) {
	return c.completeMFALogin(ctx, rc, challengeID, func(account *Account) error {
		res, err := c.MFA.VerifyBackupCode(ctx, account.ID, code)
		if err != nil {
			return err
		}
		if res.LowSupply {
			c.notifyLowBackupCodes(ctx, account, res.Remaining)
		}
		return nil
	})
}

// CompleteLoginOTP finishes a pending MFA login with a one-time code
// previously requested on the given channel.
func (c *Core) CompleteLoginOTP(ctx context.Context, rc RequestContext, challengeID string, channel Channel, code string) (*LoginResult, error) {
	return c.completeMFALogin(ctx, rc, challengeID, func(account *Account) error {
		return c.MFA.VerifyCode(ctx, account.ID, channel, code)
	})
}

// RequestLoginOTP sends a one-time code for a pending MFA challenge.
func (c *Core) RequestLoginOTP(ctx context.Context, challengeID string, channel Channel) error {
	challenge, err := c.loadMFAChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	return c.MFA.RequestCode(ctx, challenge.AccountID, channel)
}

// ChangePassword verifies and rotates the password, keeping only the
// session tied to keepRefreshToken (the caller's own) alive.
func (c *Core) ChangePassword(ctx context.Context, accountID uuid.UUID, current, next, keepRefreshToken string) error {
	keepHash := ""
	if keepRefreshToken != "" {
		keepHash = internal.HashToken(keepRefreshToken)
	}
	return c.Credentials.ChangePassword(ctx, accountID, current, next, keepHash)
}

func (c *Core) checkCaptcha(ctx context.Context, token, action string) error {
	if !c.cfg.Captcha.Enabled {
		return nil
	}
	result, err := c.captcha.Verify(ctx, token, action)
	if err != nil {
		return err
	}
	if !result.Success {
		return ErrCaptchaRejected
	}
	return nil
}

func (c *Core) finishLogin(ctx context.Context, rc RequestContext, account *Account, fingerprint string, trustDevice bool) (*LoginResult, error) {
	assessment, err := c.Risk.Assess(ctx, account, rc, fingerprint)
	if err != nil {
		return nil, err
	}

	tokens, session, err := c.Tokens.IssueTokens(ctx, account, rc)
	if err != nil {
		return nil, err
	}

	id := account.ID
	if err := c.Risk.Record(ctx, &id, account.Email, rc, fingerprint, true, "", assessment); err != nil {
		return nil, err
	}
	c.Risk.NotifyOnSuccess(ctx, account, rc, assessment)

	if trustDevice {
		if _, err := c.Devices.Trust(ctx, account.ID, rc); err != nil {
			return nil, err
		}
	}

	c.metrics.Inc(MetricLoginSuccess)
	if assessment.Suspicious {
		c.metrics.Inc(MetricLoginSuspicious)
	}

	return &LoginResult{
		Account:    account,
		Tokens:     tokens,
		Session:    session,
		Suspicious: assessment.Suspicious,
	}, nil
}

func (c *Core) completeMFALogin(ctx context.Context, rc RequestContext, challengeID string, verify func(*Account) error) (*LoginResult, error) {
	challenge, err := c.loadMFAChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	account, err := c.store.AccountByID(ctx, challenge.AccountID)
	if err != nil {
		return nil, err
	}

	fingerprint := c.Devices.Fingerprint(rc)

	if err := verify(account); err != nil {
		if errors.Is(err, ErrMFACodeInvalid) || errors.Is(err, ErrBackupCodeInvalid) || errors.Is(err, ErrOTPInvalid) {
			c.bumpMFAChallengeAttempts(ctx, challengeID, challenge)
			c.recordFailedLogin(ctx, rc, &challenge.AccountID, challenge.Email, fingerprint, err)
		}
		return nil, err
	}

	// Single use: the continuation dies with the first success.
	if err := c.MFA.cache.Delete(ctx, mfaChallengeKey(challengeID)); err != nil && !errors.Is(err, cache.ErrNotFound) {
		return nil, err
	}

	return c.finishLogin(ctx, rc, account, fingerprint, challenge.RememberDevice)
}

func (c *Core) createMFAChallenge(ctx context.Context, account *Account, rememberDevice bool) (string, error) {
	id, err := internal.NewRefreshToken()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(mfaChallenge{
		AccountID:      account.ID,
		Email:          account.Email,
		RememberDevice: rememberDevice,
	})
	if err != nil {
		return "", err
	}
	if err := c.MFA.cache.Set(ctx, mfaChallengeKey(id), string(payload), mfaChallengeTTL); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Core) loadMFAChallenge(ctx context.Context, challengeID string) (*mfaChallenge, error) {
	raw, err := c.MFA.cache.Get(ctx, mfaChallengeKey(challengeID))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrMFARequired
		}
		return nil, err
	}
	var challenge mfaChallenge
	if err := json.Unmarshal([]byte(raw), &challenge); err != nil {
		return nil, fmt.Errorf("corrupt mfa challenge: %w", err)
	}
	return &challenge, nil
}

// bumpMFAChallengeAttempts burns the challenge after too many wrong codes
// so the password-proven continuation cannot be brute-forced.
func (c *Core) bumpMFAChallengeAttempts(ctx context.Context, challengeID string, challenge *mfaChallenge) {
	challenge.Attempts++
	key := mfaChallengeKey(challengeID)
	if challenge.Attempts >= mfaChallengeMaxAttempts {
		_ = c.MFA.cache.Delete(ctx, key)
		return
	}
	if payload, err := json.Marshal(challenge); err == nil {
		_ = c.MFA.cache.Set(ctx, key, string(payload), mfaChallengeTTL)
	}
}

func (c *Core) recordFailedLogin(ctx context.Context, rc RequestContext, accountID *uuid.UUID, email, fingerprint string, cause error) {
	reason := "invalid_credentials"
	switch {
	case errors.Is(cause, ErrAccountLocked):
		reason = "account_locked"
	case errors.Is(cause, ErrAccountNotFound):
		reason = "unknown_account"
	case errors.Is(cause, ErrPasswordResetRequired):
		reason = "password_reset_required"
	case errors.Is(cause, ErrMFACodeInvalid), errors.Is(cause, ErrBackupCodeInvalid), errors.Is(cause, ErrOTPInvalid):
		reason = "mfa_failed"
	}

	// A wrong password against a real account still ties the attempt to
	// that account.
	if accountID == nil && !errors.Is(cause, ErrAccountNotFound) {
		if account, err := c.store.AccountByEmail(ctx, normalizeEmail(email)); err == nil {
			accountID = &account.ID
		}
	}

	// Failed attempts skip anomaly scoring; only the burst counter and
	// the immutable record matter here.
	if err := c.Risk.Record(ctx, accountID, email, rc, fingerprint, false, reason, RiskAssessment{}); err != nil {
		// Attempt logging is best-effort on the failure path; the login
		// verdict already stands.
		c.metrics.Inc(MetricLoginFailure)
		return
	}
	c.metrics.Inc(MetricLoginFailure)
}

func (c *Core) notifyLowBackupCodes(ctx context.Context, account *Account, remaining int) {
	err := c.MFA.notifier.SendEmail(ctx, account.Email,
		"You are running low on backup codes",
		fmt.Sprintf("Only %d backup codes remain. Generate a new set from your security settings.", remaining))
	if err != nil {
		log.Print("identity: low backup code notification failed")
	}
}
