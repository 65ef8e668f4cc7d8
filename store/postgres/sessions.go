package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/feedrlabs/identity"
)

func (s *Store) SessionsByAccount(ctx context.Context, accountID uuid.UUID) ([]identity.Session, error) {
	var sessions []identity.Session
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions WHERE account_id = $1
		ORDER BY last_active_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres: sessions by account: %w", err)
	}
	return sessions, nil
}

func (s *Store) DeleteSession(ctx context.Context, accountID, sessionID uuid.UUID) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var tokenHash string
		err := tx.GetContext(ctx, &tokenHash, `
			DELETE FROM sessions WHERE id = $1 AND account_id = $2
			RETURNING token_hash`, sessionID, accountID)
		if noRows(err) {
			return identity.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: delete session: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM refresh_tokens WHERE token_hash = $1`, tokenHash); err != nil {
			return fmt.Errorf("postgres: delete session token: %w", err)
		}
		return nil
	})
}

func (s *Store) DeleteOtherSessions(ctx context.Context, accountID uuid.UUID, keepHash string) (int64, error) {
	var removed int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var hashes []string
		err := tx.SelectContext(ctx, &hashes, `
			DELETE FROM sessions
			WHERE account_id = $1 AND token_hash <> $2
			RETURNING token_hash`, accountID, keepHash)
		if err != nil {
			return fmt.Errorf("postgres: delete other sessions: %w", err)
		}
		if len(hashes) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM refresh_tokens WHERE token_hash = ANY($1)`, pq.Array(hashes)); err != nil {
			return fmt.Errorf("postgres: delete other tokens: %w", err)
		}
		removed = int64(len(hashes))
		return nil
	})
	return removed, err
}

func (s *Store) TouchSession(ctx context.Context, tokenHash string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = $2 WHERE token_hash = $1`, tokenHash, now)
	if err != nil {
		return fmt.Errorf("postgres: touch session: %w", err)
	}
	return nil
}
