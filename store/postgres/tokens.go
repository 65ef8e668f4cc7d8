package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/feedrlabs/identity"
)

func (s *Store) CreateTokenSession(ctx context.Context, token *identity.RefreshToken, session *identity.Session) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertToken(ctx, tx, token); err != nil {
			return err
		}
		return insertSession(ctx, tx, session)
	})
}

// RotateTokenSession claims the live row, inserts the replacement and
// re-points the session, all in one transaction. The claim UPDATE matches
// only an unrotated, unexpired row, so exactly one of N racing calls wins
// and the rest see identity.ErrTokenInvalid.
func (s *Store) RotateTokenSession(ctx context.Context, oldHash string, next *identity.RefreshToken, now time.Time) (*identity.Session, error) {
	var session identity.Session
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var accountID uuid.UUID
		err := tx.GetContext(ctx, &accountID, `
			UPDATE refresh_tokens SET rotated_at = $2
			WHERE token_hash = $1 AND rotated_at IS NULL AND expires_at > $2
			RETURNING account_id`, oldHash, now)
		if noRows(err) {
			return identity.ErrTokenInvalid
		}
		if err != nil {
			return fmt.Errorf("postgres: claim token: %w", err)
		}
		next.AccountID = accountID

		if err := insertToken(ctx, tx, next); err != nil {
			return err
		}

		err = tx.GetContext(ctx, &session, `
			UPDATE sessions
			SET token_hash = $2, last_active_at = $3, expires_at = $4
			WHERE token_hash = $1
			RETURNING *`, oldHash, next.TokenHash, now, next.ExpiresAt)
		if noRows(err) {
			return identity.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: repoint session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) TokenByHash(ctx context.Context, hash string) (*identity.RefreshToken, error) {
	var token identity.RefreshToken
	err := s.db.GetContext(ctx, &token,
		`SELECT * FROM refresh_tokens WHERE token_hash = $1`, hash)
	if noRows(err) {
		return nil, identity.ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: token by hash: %w", err)
	}
	return &token, nil
}

func (s *Store) RevokeAllTokens(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var revoked int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sessions WHERE account_id = $1`, accountID); err != nil {
			return fmt.Errorf("postgres: revoke sessions: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM refresh_tokens WHERE account_id = $1`, accountID)
		if err != nil {
			return fmt.Errorf("postgres: revoke tokens: %w", err)
		}
		revoked, err = res.RowsAffected()
		return err
	})
	return revoked, err
}

func (s *Store) PruneTokenTombstones(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE rotated_at IS NOT NULL AND rotated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune tombstones: %w", err)
	}
	return res.RowsAffected()
}

func insertToken(ctx context.Context, tx *sqlx.Tx, token *identity.RefreshToken) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO refresh_tokens (token_hash, account_id, expires_at, created_at, rotated_at)
		VALUES (:token_hash, :account_id, :expires_at, :created_at, :rotated_at)`, token)
	if err != nil {
		return fmt.Errorf("postgres: insert token: %w", err)
	}
	return nil
}

func insertSession(ctx context.Context, tx *sqlx.Tx, session *identity.Session) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO sessions (id, account_id, token_hash, device, ip, location,
			last_active_at, expires_at, created_at)
		VALUES (:id, :account_id, :token_hash, :device, :ip, :location,
			:last_active_at, :expires_at, :created_at)`, session)
	if err != nil {
		return fmt.Errorf("postgres: insert session: %w", err)
	}
	return nil
}
