package identity

import (
	"context"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/feedrlabs/identity/notify"
	"github.com/feedrlabs/identity/password"
)

// CredentialStore owns account registration, password verification with
// lockout, and password changes with history enforcement. Lockout state
// lives on the account row and is mutated through atomic store operations,
// never read-modify-write in process.
type CredentialStore struct {
	cfg      Config
	accounts AccountStore
	sessions SessionStore
	hasher   *password.Hasher
	notifier notify.Gateway
	metrics  *Metrics
}

// Register creates a new account. Username and email collisions are
// reported as the same generic [ErrIdentifierTaken] so callers cannot
// probe which identifiers exist.
func (s *CredentialStore) Register(ctx context.Context, username, email, plaintext string) (*Account, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)

	if err := validateUsername(username); err != nil {
		s.metrics.Inc(MetricRegisterRejected)
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		s.metrics.Inc(MetricRegisterRejected)
		return nil, err
	}
	if err := validatePasswordStrength(plaintext, s.cfg.Password.MinLength); err != nil {
		s.metrics.Inc(MetricRegisterRejected)
		return nil, err
	}

	// One query over both columns; which one collided is not revealed.
	taken, err := s.accounts.IdentifierInUse(ctx, username, email)
	if err != nil {
		return nil, err
	}
	if taken {
		s.metrics.Inc(MetricRegisterRejected)
		return nil, ErrIdentifierTaken
	}

	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	account := &Account{
		ID:                uuid.New(),
		Username:          username,
		Email:             email,
		PasswordHash:      hash,
		PasswordChangedAt: now,
		CreatedAt:         now,
	}

	// The insert still races a concurrent registration; the store maps
	// the unique violation back to ErrIdentifierTaken.
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	if err := s.accounts.AppendPasswordHistory(ctx, account.ID, hash, now); err != nil {
		return nil, err
	}

	s.metrics.Inc(MetricRegisterSuccess)
	return account, nil
}

// VerifyCredentials checks email+password against the stored hash,
// honoring lockout state. The lock is consulted before any password
// comparison; an expired lock is cleared first so a post-expiry failure
// restarts the counter at 1 rather than continuing at 6.
func (s *CredentialStore) VerifyCredentials(ctx context.Context, email, plaintext string) (*Account, error) {
	account, err := s.accounts.AccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if account.LockedUntil != nil {
		if account.LockedUntil.After(now) {
			s.metrics.Inc(MetricLoginLocked)
			return nil, &LockedError{Until: *account.LockedUntil}
		}
		if err := s.accounts.ClearLockout(ctx, account.ID); err != nil {
			return nil, err
		}
		account.FailedAttempts = 0
		account.LockedUntil = nil
	}

	ok, err := s.hasher.Verify(plaintext, account.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		attempts, lockedUntil, err := s.accounts.RecordLoginFailure(
			ctx, account.ID, s.cfg.Lockout.MaxAttempts, s.cfg.Lockout.LockDuration, now)
		if err != nil {
			return nil, err
		}
		if lockedUntil != nil {
			s.metrics.Inc(MetricLoginLocked)
			s.notifyLockout(ctx, account, *lockedUntil)
			return nil, &LockedError{Until: *lockedUntil}
		}
		return nil, &CredentialsError{AttemptsRemaining: s.cfg.Lockout.MaxAttempts - attempts}
	}

	if account.FailedAttempts > 0 {
		if err := s.accounts.ClearLockout(ctx, account.ID); err != nil {
			return nil, err
		}
		account.FailedAttempts = 0
	}

	if s.cfg.Password.RehashOnLogin {
		// Opportunistic parameter upgrade; never blocks a valid login.
		if needs, err := s.hasher.NeedsRehash(account.PasswordHash); err == nil && needs {
			if upgraded, err := s.hasher.Hash(plaintext); err == nil {
				if err := s.accounts.UpdatePasswordHash(ctx, account.ID, upgraded, account.PasswordChangedAt); err != nil {
					log.Print("identity: password rehash update failed")
				}
			}
		}
	}

	return account, nil
}

// ChangePassword rotates the account password. The new password is checked
// against every history entry inside the configured window, and the
// pre-change hash is appended to history before the account row is
// overwritten. All sessions except the one holding keepTokenHash are
// revoked afterwards.
func (s *CredentialStore) ChangePassword(ctx context.Context, accountID uuid.UUID, current, next, keepTokenHash string) error {
	account, err := s.accounts.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Verify(current, account.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if current == next {
		return ErrSamePassword
	}
	if err := validatePasswordStrength(next, s.cfg.Password.MinLength); err != nil {
		return err
	}

	now := time.Now().UTC()
	history, err := s.accounts.PasswordHistory(ctx, accountID, now.Add(-s.cfg.Password.HistoryWindow))
	if err != nil {
		return err
	}
	// Every stored hash in the window is compared; reuse anywhere in the
	// window is rejected, not just reuse of the latest entry.
	reused := false
	for _, entry := range history {
		match, err := s.hasher.Verify(next, entry.PasswordHash)
		if err != nil {
			return err
		}
		if match {
			reused = true
		}
	}
	if reused {
		return ErrPasswordRecentlyUsed
	}

	newHash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}

	if err := s.accounts.AppendPasswordHistory(ctx, accountID, account.PasswordHash, now); err != nil {
		return err
	}
	if err := s.accounts.UpdatePasswordHash(ctx, accountID, newHash, now); err != nil {
		return err
	}

	if _, err := s.sessions.DeleteOtherSessions(ctx, accountID, keepTokenHash); err != nil {
		log.Print("identity: session revocation after password change failed")
	}

	return nil
}

func (s *CredentialStore) notifyLockout(ctx context.Context, account *Account, until time.Time) {
	err := s.notifier.SendEmail(ctx, account.Email,
		"Your account has been temporarily locked",
		"Too many failed sign-in attempts. The lock lifts at "+until.UTC().Format(time.RFC1123)+".")
	if err != nil {
		log.Print("identity: lockout notification failed")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateUsername(username string) error {
	if len(username) < 3 || len(username) > 50 {
		return ErrInvalidUsername
	}
	if !unicode.IsLetter(rune(username[0])) || username[0] > unicode.MaxASCII {
		return ErrInvalidUsername
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return ErrInvalidUsername
		}
	}
	return nil
}

func validateEmail(email string) error {
	at := strings.IndexByte(email, '@')
	if at < 1 || at == len(email)-1 {
		return ErrInvalidEmail
	}
	if strings.IndexByte(email[at+1:], '.') < 1 {
		return ErrInvalidEmail
	}
	if len(email) > 254 {
		return ErrInvalidEmail
	}
	return nil
}

func validatePasswordStrength(plaintext string, minLength int) error {
	if len(plaintext) < minLength {
		return ErrWeakPassword
	}
	var upper, lower, digit bool
	for _, r := range plaintext {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return ErrWeakPassword
	}
	return nil
}
