package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/feedrlabs/identity"
)

func (s *Store) ReplaceBackupCodes(ctx context.Context, accountID uuid.UUID, hashes []string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM backup_codes WHERE account_id = $1`, accountID); err != nil {
			return fmt.Errorf("postgres: clear backup codes: %w", err)
		}
		now := time.Now().UTC()
		for _, hash := range hashes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO backup_codes (account_id, code_hash, created_at)
				VALUES ($1, $2, $3)`, accountID, hash, now); err != nil {
				return fmt.Errorf("postgres: insert backup code: %w", err)
			}
		}
		return nil
	})
}

// ConsumeBackupCode deletes the matching row and counts the remainder in
// one transaction, so the same code can never verify twice.
func (s *Store) ConsumeBackupCode(ctx context.Context, accountID uuid.UUID, hash string) (bool, int, error) {
	var (
		consumed  bool
		remaining int
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM backup_codes
			WHERE account_id = $1 AND code_hash = $2`, accountID, hash)
		if err != nil {
			return fmt.Errorf("postgres: consume backup code: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		consumed = n == 1
		return tx.GetContext(ctx, &remaining,
			`SELECT COUNT(*) FROM backup_codes WHERE account_id = $1`, accountID)
	})
	if err != nil {
		return false, 0, err
	}
	return consumed, remaining, nil
}

func (s *Store) CountBackupCodes(ctx context.Context, accountID uuid.UUID) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM backup_codes WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("postgres: count backup codes: %w", err)
	}
	return count, nil
}

func (s *Store) DeleteBackupCodes(ctx context.Context, accountID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("postgres: delete backup codes: %w", err)
	}
	return nil
}

func (s *Store) ReplaceRecoveryCodes(ctx context.Context, accountID uuid.UUID, codes []identity.RecoveryCode) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM recovery_codes WHERE account_id = $1`, accountID); err != nil {
			return fmt.Errorf("postgres: clear recovery codes: %w", err)
		}
		for i := range codes {
			if _, err := tx.NamedExecContext(ctx, `
				INSERT INTO recovery_codes (id, account_id, code_hash,
					expires_at, used_at, created_at)
				VALUES (:id, :account_id, :code_hash,
					:expires_at, :used_at, :created_at)`, &codes[i]); err != nil {
				return fmt.Errorf("postgres: insert recovery code: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) RedeemRecoveryCode(ctx context.Context, accountID uuid.UUID, hash string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recovery_codes SET used_at = $3
		WHERE account_id = $1 AND code_hash = $2
		  AND used_at IS NULL AND expires_at > $3`, accountID, hash, now)
	if err != nil {
		return false, fmt.Errorf("postgres: redeem recovery code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) PruneRecoveryCodes(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recovery_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune recovery codes: %w", err)
	}
	return res.RowsAffected()
}
