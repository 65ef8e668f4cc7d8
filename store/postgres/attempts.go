package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feedrlabs/identity"
)

func (s *Store) RecordLoginAttempt(ctx context.Context, attempt *identity.LoginAttempt) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO login_attempts (id, account_id, email, success,
			failure_reason, ip, device, location,
			suspicious, suspicion_reason, created_at)
		VALUES (:id, :account_id, :email, :success,
			:failure_reason, :ip, :device, :location,
			:suspicious, :suspicion_reason, :created_at)`, attempt)
	if err != nil {
		return fmt.Errorf("postgres: record login attempt: %w", err)
	}
	return nil
}

func (s *Store) CountRecentFailures(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM login_attempts
		WHERE email = lower($1) AND NOT success AND created_at >= $2`, email, since)
	if err != nil {
		return 0, fmt.Errorf("postgres: count recent failures: %w", err)
	}
	return count, nil
}

func (s *Store) SeenIP(ctx context.Context, accountID uuid.UUID, ip string) (bool, error) {
	return s.seen(ctx, accountID, "ip", ip)
}

func (s *Store) SeenDevice(ctx context.Context, accountID uuid.UUID, device string) (bool, error) {
	return s.seen(ctx, accountID, "device", device)
}

func (s *Store) SeenLocation(ctx context.Context, accountID uuid.UUID, location string) (bool, error) {
	return s.seen(ctx, accountID, "location", location)
}

// seen scans all prior successful attempts; the comparison set has no
// time bound.
func (s *Store) seen(ctx context.Context, accountID uuid.UUID, column, value string) (bool, error) {
	var found bool
	err := s.db.GetContext(ctx, &found, fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM login_attempts
			WHERE account_id = $1 AND success AND %s = $2
		)`, column), accountID, value)
	if err != nil {
		return false, fmt.Errorf("postgres: seen %s: %w", column, err)
	}
	return found, nil
}

func (s *Store) HasSuccessfulLogin(ctx context.Context, accountID uuid.UUID) (bool, error) {
	var found bool
	err := s.db.GetContext(ctx, &found, `
		SELECT EXISTS (
			SELECT 1 FROM login_attempts WHERE account_id = $1 AND success
		)`, accountID)
	if err != nil {
		return false, fmt.Errorf("postgres: has successful login: %w", err)
	}
	return found, nil
}
