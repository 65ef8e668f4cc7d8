package identity

import (
	"context"

	"github.com/google/uuid"
)

// SessionRegistry is the owner-facing view over the session rows that
// TokenService creates and destroys. One row exists per live refresh
// token; revoking a session always removes the paired token so the device
// is forced to re-authenticate.
type SessionRegistry struct {
	sessions SessionStore
	metrics  *Metrics
}

// List returns the account's sessions with the current one (by refresh
// hash) flagged.
func (r *SessionRegistry) List(ctx context.Context, accountID uuid.UUID, currentTokenHash string) ([]SessionInfo, error) {
	sessions, err := r.sessions.SessionsByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, SessionInfo{
			Session:   s,
			IsCurrent: currentTokenHash != "" && s.TokenHash == currentTokenHash,
		})
	}
	return infos, nil
}

// Revoke removes one session and its paired refresh token. Returns
// [ErrSessionNotFound] when the account owns no such session.
func (r *SessionRegistry) Revoke(ctx context.Context, accountID, sessionID uuid.UUID) error {
	if err := r.sessions.DeleteSession(ctx, accountID, sessionID); err != nil {
		return err
	}
	r.metrics.Inc(MetricSessionRevoked)
	return nil
}

// RevokeOthers removes every session except the one holding keepHash and
// returns how many were removed. Used for "sign out everywhere else".
func (r *SessionRegistry) RevokeOthers(ctx context.Context, accountID uuid.UUID, keepHash string) (int64, error) {
	n, err := r.sessions.DeleteOtherSessions(ctx, accountID, keepHash)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.metrics.Inc(MetricSessionRevoked)
	}
	return n, nil
}
