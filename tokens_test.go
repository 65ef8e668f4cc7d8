package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/feedrlabs/identity/internal"
)

func TestIssueAndRefresh(t *testing.T) {
	core, store, _ := newTestCore(t, testConfig())
	ctx := context.Background()
	account := registerTestAccount(t, core)

	pair, session, err := core.Tokens.IssueTokens(ctx, account, testRC)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("issued pair has empty tokens")
	}
	if session.Device != testRC.UserAgent || session.IP != testRC.IP {
		t.Fatalf("session context = %q/%q, want request context", session.Device, session.IP)
	}

	claims, err := core.Tokens.ParseAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.Subject != account.ID.String() {
		t.Fatalf("access subject = %q, want account id", claims.Subject)
	}

	next, nextSession, err := core.Tokens.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation returned the same refresh token")
	}
	if nextSession.ID != session.ID {
		t.Fatalf("rotation re-pointed a different session: %s != %s", nextSession.ID, session.ID)
	}

	// The old row stays as a tombstone until pruned.
	row, err := store.TokenByHash(ctx, internal.HashToken(pair.RefreshToken))
	if err != nil {
		t.Fatalf("tombstone lookup: %v", err)
	}
	if row.RotatedAt == nil {
		t.Fatal("rotated token has no tombstone mark")
	}

	// The replacement row must belong to the claimed row's owner, or an
	// account-wide revoke would miss it.
	successor, err := store.TokenByHash(ctx, internal.HashToken(next.RefreshToken))
	if err != nil {
		t.Fatalf("successor lookup: %v", err)
	}
	if successor.AccountID != account.ID {
		t.Fatalf("successor account = %s, want %s", successor.AccountID, account.ID)
	}
}

func TestRefreshRotationChain(t *testing.T) {
	core, _, _ := newTestCore(t, testConfig())
	ctx := context.Background()
	account := registerTestAccount(t, core)

	pair, session, err := core.Tokens.IssueTokens(ctx, account, testRC)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	for i := 0; i < 5; i++ {
		next, s, err := core.Tokens.Refresh(ctx, pair.RefreshToken)
		if err != nil {
			t.Fatalf("rotation %d: %v", i+1, err)
		}
		if s.ID != session.ID {
			t.Fatalf("rotation %d changed the session id", i+1)
		}
		pair = next
	}
}

func TestRefreshConcurrentRotation(t *testing.T) {
	core, _, _ := newTestCore(t, testConfig())
	ctx := context.Background()
	account := registerTestAccount(t, core)

	pair, _, err := core.Tokens.IssueTokens(ctx, account, testRC)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// All callers present the same token at once. Exactly one may win the
	// claim; the rest observe the tombstone (or its teardown aftermath).
	const callers = 8
	errs := make(chan error, callers)
	var gate sync.WaitGroup
	gate.Add(1)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gate.Wait()
			_, _, err := core.Tokens.Refresh(ctx, pair.RefreshToken)
			errs <- err
		}()
	}
	gate.Done()
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrReplayDetected):
		default:
			t.Fatalf("losing caller: got %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winning callers = %d, want exactly 1", wins)
	}
}

func TestRefreshReplayDetection(t *testing.T) {
	core, store, gateway := newTestCore(t, testConfig())
	ctx := context.Background()
	account := registerTestAccount(t, core)

	pair, _, err := core.Tokens.IssueTokens(ctx, account, testRC)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	next, _, err := core.Tokens.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	// Replaying the rotated token inside the grace window is theft: the
	// whole account is logged out and the owner alerted.
	_, _, err = core.Tokens.Refresh(ctx, pair.RefreshToken)
	if !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("replay: got %v, want ErrReplayDetected", err)
	}

	sessions, err := store.SessionsByAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions after replay = %d, want 0", len(sessions))
	}
	if email, ok := gateway.lastEmail(); !ok || email.To != account.Email {
		t.Fatalf("replay alert not delivered, got %+v", email)
	}

	// The successor from the legitimate refresh died in the teardown too.
	_, _, err = core.Tokens.Refresh(ctx, next.RefreshToken)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("successor after teardown: got %v, want ErrTokenInvalid", err)
	}
}

func TestRefreshReplayOutsideGraceWindow(t *testing.T) {
	cfg := testConfig()
	core, store, _ := newTestCore(t, cfg)
	ctx := context.Background()
	account := registerTestAccount(t, core)

	pair, _, err := core.Tokens.IssueTokens(ctx, account, testRC)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	next, _, err := core.Tokens.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// Age the tombstone past the grace window.
	hash := internal.HashToken(pair.RefreshToken)
	store.mu.Lock()
	old := time.Now().UTC().Add(-cfg.Token.ReplayGrace - time.Minute)
	store.tokens[hash].RotatedAt = &old
	store.mu.Unlock()

	_, _, err = core.Tokens.Refresh(ctx, pair.RefreshToken)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("stale tombstone: got %v, want ErrTokenInvalid", err)
	}

	// No teardown happened; the live successor still rotates.
	if _, _, err := core.Tokens.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("successor after stale replay: %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	core, store, _ := newTestCore(t, testConfig())
	ctx := context.Background()
	account := registerTestAccount(t, core)

	pair, _, err := core.Tokens.IssueTokens(ctx, account, testRC)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	hash := internal.HashToken(pair.RefreshToken)
	store.mu.Lock()
	store.tokens[hash].ExpiresAt = time.Now().UTC().Add(-time.Minute)
	store.mu.Unlock()

	_, _, err = core.Tokens.Refresh(ctx, pair.RefreshToken)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired token: got %v, want ErrTokenExpired", err)
	}
}

func TestRefreshUnknownToken(t *testing.T) {
	core, _, _ := newTestCore(t, testConfig())
	ctx := context.Background()

	_, _, err := core.Tokens.Refresh(ctx, "")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("empty token: got %v, want ErrTokenInvalid", err)
	}
	_, _, err = core.Tokens.Refresh(ctx, "never-issued")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("unknown token: got %v, want ErrTokenInvalid", err)
	}
}

func TestRevokeAll(t *testing.T) {
	core, _, _ := newTestCore(t, testConfig())
	ctx := context.Background()
	account := registerTestAccount(t, core)

	var raws []string
	for i := 0; i < 3; i++ {
		pair, _, err := core.Tokens.IssueTokens(ctx, account, testRC)
		if err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
		raws = append(raws, pair.RefreshToken)
	}

	n, err := core.Tokens.RevokeAll(ctx, account.ID)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 3 {
		t.Fatalf("revoked = %d, want 3", n)
	}
	for _, raw := range raws {
		if _, _, err := core.Tokens.Refresh(ctx, raw); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("revoked token still refreshes: %v", err)
		}
	}
}
