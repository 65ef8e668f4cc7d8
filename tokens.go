package identity

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/feedrlabs/identity/internal"
	"github.com/feedrlabs/identity/jwt"
	"github.com/feedrlabs/identity/notify"
)

// TokenService issues access/refresh token pairs and rotates refresh
// tokens. A refresh token is Live until it is rotated or expires; rotation
// is a single store transaction, and reuse of a rotated token inside the
// grace window is treated as theft: every live token for the account is
// revoked before the error is returned.
type TokenService struct {
	cfg      TokenConfig
	tokens   TokenStore
	accounts AccountStore
	jwt      *jwt.Manager
	notifier notify.Gateway
	metrics  *Metrics
}

// IssueTokens mints a fresh access/refresh pair for the account and
// records the paired session, capturing the request's device and network
// context. Used after password/MFA success.
func (s *TokenService) IssueTokens(ctx context.Context, account *Account, rc RequestContext) (TokenPair, *Session, error) {
	raw, err := internal.NewRefreshToken()
	if err != nil {
		return TokenPair{}, nil, err
	}

	now := time.Now().UTC()
	refreshExpiry := now.Add(s.cfg.RefreshTTL)

	token := &RefreshToken{
		TokenHash: internal.HashToken(raw),
		AccountID: account.ID,
		ExpiresAt: refreshExpiry,
		CreatedAt: now,
	}
	session := &Session{
		ID:           uuid.New(),
		AccountID:    account.ID,
		TokenHash:    token.TokenHash,
		Device:       rc.UserAgent,
		IP:           rc.IP,
		Location:     rc.Location,
		LastActiveAt: now,
		ExpiresAt:    refreshExpiry,
		CreatedAt:    now,
	}

	if err := s.tokens.CreateTokenSession(ctx, token, session); err != nil {
		return TokenPair{}, nil, err
	}

	access, accessExpiry, err := s.jwt.Create(account.ID.String(), account.Username, now)
	if err != nil {
		return TokenPair{}, nil, err
	}

	s.metrics.Inc(MetricSessionCreated)
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: refreshExpiry,
	}, session, nil
}

// Refresh rotates raw into a new token pair. Exactly one of N concurrent
// calls with the same token can win the rotation; the rest see
// [ErrTokenInvalid], or [ErrReplayDetected] when the token was rotated
// inside the grace window — in which case the whole account is logged out
// as a defensive measure.
func (s *TokenService) Refresh(ctx context.Context, raw string) (TokenPair, *Session, error) {
	if raw == "" {
		s.metrics.Inc(MetricRefreshFailure)
		return TokenPair{}, nil, ErrTokenInvalid
	}
	hash := internal.HashToken(raw)

	nextRaw, err := internal.NewRefreshToken()
	if err != nil {
		return TokenPair{}, nil, err
	}

	now := time.Now().UTC()
	next := &RefreshToken{
		TokenHash: internal.HashToken(nextRaw),
		AccountID: uuid.Nil, // filled by the store from the claimed row
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		CreatedAt: now,
	}

	session, err := s.tokens.RotateTokenSession(ctx, hash, next, now)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return TokenPair{}, nil, s.classifyRotationMiss(ctx, hash, now)
		}
		s.metrics.Inc(MetricRefreshFailure)
		return TokenPair{}, nil, err
	}

	account, err := s.accounts.AccountByID(ctx, session.AccountID)
	if err != nil {
		return TokenPair{}, nil, err
	}

	access, accessExpiry, err := s.jwt.Create(account.ID.String(), account.Username, now)
	if err != nil {
		return TokenPair{}, nil, err
	}

	s.metrics.Inc(MetricRefreshSuccess)
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     nextRaw,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: next.ExpiresAt,
	}, session, nil
}

// classifyRotationMiss distinguishes why no live row matched: a tombstone
// inside the grace window is a replay event, anything else is an ordinary
// invalid/expired token.
func (s *TokenService) classifyRotationMiss(ctx context.Context, hash string, now time.Time) error {
	row, err := s.tokens.TokenByHash(ctx, hash)
	if err != nil {
		s.metrics.Inc(MetricRefreshFailure)
		return ErrTokenInvalid
	}

	if row.RotatedAt != nil {
		if now.Sub(*row.RotatedAt) <= s.cfg.ReplayGrace {
			// Token theft. Tear down every live session for the account,
			// then alert the owner.
			if _, err := s.tokens.RevokeAllTokens(ctx, row.AccountID); err != nil {
				// Teardown must not be skipped silently; surface the
				// dependency failure instead of the replay verdict.
				return err
			}
			s.metrics.Inc(MetricReplayDetected)
			s.notifyReplay(ctx, row.AccountID)
			return ErrReplayDetected
		}
		s.metrics.Inc(MetricRefreshFailure)
		return ErrTokenInvalid
	}

	if !row.ExpiresAt.After(now) {
		s.metrics.Inc(MetricRefreshFailure)
		return ErrTokenExpired
	}

	// Live row that we failed to claim: lost a race with a concurrent
	// refresh that has not yet committed its tombstone.
	s.metrics.Inc(MetricRefreshFailure)
	return ErrTokenInvalid
}

// RevokeAll deletes every live refresh token (and paired session) for the
// account. Returns how many were revoked.
func (s *TokenService) RevokeAll(ctx context.Context, accountID uuid.UUID) (int64, error) {
	n, err := s.tokens.RevokeAllTokens(ctx, accountID)
	if err == nil && n > 0 {
		s.metrics.Inc(MetricSessionRevoked)
	}
	return n, err
}

// ParseAccess verifies a bearer access token and returns its claims. This
// is the validation hook for the web layer's middleware.
func (s *TokenService) ParseAccess(tokenStr string) (*jwt.AccessClaims, error) {
	claims, err := s.jwt.Parse(tokenStr)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *TokenService) notifyReplay(ctx context.Context, accountID uuid.UUID) {
	account, err := s.accounts.AccountByID(ctx, accountID)
	if err != nil {
		log.Print("identity: replay alert lookup failed")
		return
	}
	err = s.notifier.SendEmail(ctx, account.Email,
		"Security alert: your sessions were signed out",
		"A sign-in credential for your account was reused after it had been replaced. "+
			"All sessions have been signed out as a precaution. Please sign in again and review your account.")
	if err != nil {
		log.Print("identity: replay alert notification failed")
	}
}
