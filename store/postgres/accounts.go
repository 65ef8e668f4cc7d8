package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/feedrlabs/identity"
)

const uniqueViolation = "23505"

func (s *Store) CreateAccount(ctx context.Context, account *identity.Account) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO accounts (
			id, username, email, password_hash, email_verified, phone,
			totp_secret, totp_enabled, sms_mfa_enabled, email_mfa_enabled,
			failed_attempts, locked_until, force_password_reset,
			password_changed_at, created_at
		) VALUES (
			:id, :username, :email, :password_hash, :email_verified, :phone,
			:totp_secret, :totp_enabled, :sms_mfa_enabled, :email_mfa_enabled,
			:failed_attempts, :locked_until, :force_password_reset,
			:password_changed_at, :created_at
		)`, account)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return identity.ErrIdentifierTaken
		}
		return fmt.Errorf("postgres: create account: %w", err)
	}
	return nil
}

func (s *Store) AccountByID(ctx context.Context, id uuid.UUID) (*identity.Account, error) {
	var account identity.Account
	err := s.db.GetContext(ctx, &account, `SELECT * FROM accounts WHERE id = $1`, id)
	if noRows(err) {
		return nil, identity.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: account by id: %w", err)
	}
	return &account, nil
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (*identity.Account, error) {
	var account identity.Account
	err := s.db.GetContext(ctx, &account, `SELECT * FROM accounts WHERE email = lower($1)`, email)
	if noRows(err) {
		return nil, identity.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: account by email: %w", err)
	}
	return &account, nil
}

func (s *Store) IdentifierInUse(ctx context.Context, username, email string) (bool, error) {
	var taken bool
	err := s.db.GetContext(ctx, &taken, `
		SELECT EXISTS (
			SELECT 1 FROM accounts
			WHERE lower(username) = lower($1) OR email = lower($2)
		)`, username, email)
	if err != nil {
		return false, fmt.Errorf("postgres: identifier in use: %w", err)
	}
	return taken, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string, changedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = $2, password_changed_at = $3, force_password_reset = FALSE
		WHERE id = $1`, id, hash, changedAt)
	if err != nil {
		return fmt.Errorf("postgres: update password hash: %w", err)
	}
	return mustAffect(res, identity.ErrAccountNotFound)
}

func (s *Store) SetForcePasswordReset(ctx context.Context, id uuid.UUID, forced bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET force_password_reset = $2 WHERE id = $1`, id, forced)
	if err != nil {
		return fmt.Errorf("postgres: set force password reset: %w", err)
	}
	return mustAffect(res, identity.ErrAccountNotFound)
}

func (s *Store) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET email_verified = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark email verified: %w", err)
	}
	return mustAffect(res, identity.ErrAccountNotFound)
}

func (s *Store) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete account: %w", err)
	}
	return mustAffect(res, identity.ErrAccountNotFound)
}

// RecordLoginFailure increments the failure counter and applies the lock
// in a single statement so concurrent failures cannot lose an increment.
// An expired lock is treated as a fresh start: the counter restarts at 1.
func (s *Store) RecordLoginFailure(ctx context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
	var row struct {
		FailedAttempts int        `db:"failed_attempts"`
		LockedUntil    *time.Time `db:"locked_until"`
	}
	err := s.db.GetContext(ctx, &row, `
		UPDATE accounts SET
			failed_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN 1
				ELSE failed_attempts + 1
			END,
			locked_until = CASE
				WHEN locked_until IS NOT NULL AND locked_until > $2 THEN locked_until
				WHEN (CASE
					WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN 1
					ELSE failed_attempts + 1
				END) >= $3 THEN $4
				ELSE NULL
			END
		WHERE id = $1
		RETURNING failed_attempts, locked_until`,
		id, now, maxAttempts, now.Add(lockFor))
	if noRows(err) {
		return 0, nil, identity.ErrAccountNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("postgres: record login failure: %w", err)
	}
	return row.FailedAttempts, row.LockedUntil, nil
}

func (s *Store) ClearLockout(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET failed_attempts = 0, locked_until = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: clear lockout: %w", err)
	}
	return mustAffect(res, identity.ErrAccountNotFound)
}

func (s *Store) AppendPasswordHistory(ctx context.Context, id uuid.UUID, hash string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_history (account_id, password_hash, created_at)
		VALUES ($1, $2, $3)`, id, hash, now)
	if err != nil {
		return fmt.Errorf("postgres: append password history: %w", err)
	}
	return nil
}

func (s *Store) PasswordHistory(ctx context.Context, id uuid.UUID, since time.Time) ([]identity.PasswordHistoryEntry, error) {
	var entries []identity.PasswordHistoryEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT * FROM password_history
		WHERE account_id = $1 AND created_at >= $2
		ORDER BY created_at DESC`, id, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: password history: %w", err)
	}
	return entries, nil
}

func (s *Store) PrunePasswordHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM password_history WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune password history: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) SetTOTPPending(ctx context.Context, id uuid.UUID, secret string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET totp_secret = $2, totp_enabled = FALSE WHERE id = $1`, id, secret)
	if err != nil {
		return fmt.Errorf("postgres: set totp pending: %w", err)
	}
	return mustAffect(res, identity.ErrAccountNotFound)
}

func (s *Store) EnableTOTP(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET totp_enabled = TRUE WHERE id = $1 AND totp_secret <> ''`, id)
	if err != nil {
		return fmt.Errorf("postgres: enable totp: %w", err)
	}
	return mustAffect(res, identity.ErrAccountNotFound)
}

func (s *Store) SetChannelMFA(ctx context.Context, id uuid.UUID, channel identity.Channel, enabled bool) error {
	var column string
	switch channel {
	case identity.ChannelSMS:
		column = "sms_mfa_enabled"
	case identity.ChannelEmail:
		column = "email_mfa_enabled"
	default:
		return fmt.Errorf("postgres: unknown mfa channel %q", channel)
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE accounts SET %s = $2 WHERE id = $1`, column), id, enabled)
	if err != nil {
		return fmt.Errorf("postgres: set channel mfa: %w", err)
	}
	return mustAffect(res, identity.ErrAccountNotFound)
}

func (s *Store) ClearMFA(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET totp_secret = '', totp_enabled = FALSE,
		    sms_mfa_enabled = FALSE, email_mfa_enabled = FALSE
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: clear mfa: %w", err)
	}
	return mustAffect(res, identity.ErrAccountNotFound)
}
