package identity

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Actor identifies who performed an administrative action. The zero value
// is rejected; privileged operations always attribute.
type Actor struct {
	ID       uuid.UUID
	Username string
}

func (c *Core) audit(ctx context.Context, actor Actor, rc RequestContext, action AuditAction, targetType, targetID, targetLabel string, detail map[string]string) {
	c.Audit.Record(ctx, AuditEntry{
		ID:            uuid.New(),
		ActorID:       actor.ID,
		ActorUsername: actor.Username,
		Action:        action,
		TargetType:    targetType,
		TargetID:      targetID,
		TargetLabel:   targetLabel,
		Detail:        detail,
		IP:            rc.IP,
		UserAgent:     rc.UserAgent,
		CreatedAt:     time.Now().UTC(),
	})
}

// AdminUnlockAccount clears an active lockout and the failure counter.
func (c *Core) AdminUnlockAccount(ctx context.Context, actor Actor, rc RequestContext, accountID uuid.UUID) error {
	account, err := c.store.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if err := c.store.ClearLockout(ctx, accountID); err != nil {
		return err
	}
	c.audit(ctx, actor, rc, AuditAccountUnlocked, "account", accountID.String(), account.Username, nil)
	return nil
}

// AdminForcePasswordReset flags the account so the next login is refused
// until the password is rotated, and revokes everything outstanding.
func (c *Core) AdminForcePasswordReset(ctx context.Context, actor Actor, rc RequestContext, accountID uuid.UUID) error {
	account, err := c.store.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if err := c.store.SetForcePasswordReset(ctx, accountID, true); err != nil {
		return err
	}
	revoked, err := c.Tokens.RevokeAll(ctx, accountID)
	if err != nil {
		return err
	}
	c.audit(ctx, actor, rc, AuditPasswordResetForced, "account", accountID.String(), account.Username,
		map[string]string{"sessions_revoked": strconv.FormatInt(revoked, 10)})
	return nil
}

// AdminResetMFA strips every second factor from the account: TOTP,
// channel MFA, backup codes and trusted devices. The user re-enrolls from
// scratch.
func (c *Core) AdminResetMFA(ctx context.Context, actor Actor, rc RequestContext, accountID uuid.UUID) error {
	account, err := c.store.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if err := c.store.ClearMFA(ctx, accountID); err != nil {
		return err
	}
	if err := c.store.DeleteBackupCodes(ctx, accountID); err != nil {
		return err
	}
	if _, err := c.Devices.RevokeAll(ctx, accountID); err != nil {
		return err
	}
	c.audit(ctx, actor, rc, AuditMFAReset, "account", accountID.String(), account.Username, nil)
	return nil
}

// AdminRevokeSessions tears down every session and refresh token the
// account holds.
func (c *Core) AdminRevokeSessions(ctx context.Context, actor Actor, rc RequestContext, accountID uuid.UUID) error {
	account, err := c.store.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	revoked, err := c.Tokens.RevokeAll(ctx, accountID)
	if err != nil {
		return err
	}
	c.audit(ctx, actor, rc, AuditSessionsRevoked, "account", accountID.String(), account.Username,
		map[string]string{"sessions_revoked": strconv.FormatInt(revoked, 10)})
	return nil
}

// AdminRevokeDevice removes one trusted device; the next login from it
// faces the full MFA challenge again.
func (c *Core) AdminRevokeDevice(ctx context.Context, actor Actor, rc RequestContext, accountID, deviceID uuid.UUID) error {
	if err := c.Devices.Revoke(ctx, accountID, deviceID); err != nil {
		return err
	}
	c.audit(ctx, actor, rc, AuditDeviceRevoked, "device", deviceID.String(), "", nil)
	return nil
}

// AdminDeleteAccount removes the account and, through the store's
// cascade, everything keyed to it. The audit entry is written
// synchronously so account deletions never ride the async queue.
func (c *Core) AdminDeleteAccount(ctx context.Context, actor Actor, rc RequestContext, accountID uuid.UUID) error {
	account, err := c.store.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if err := c.store.DeleteAccount(ctx, accountID); err != nil {
		return err
	}
	c.Audit.RecordSync(ctx, AuditEntry{
		ID:            uuid.New(),
		ActorID:       actor.ID,
		ActorUsername: actor.Username,
		Action:        AuditAccountDeleted,
		TargetType:    "account",
		TargetID:      accountID.String(),
		TargetLabel:   account.Username,
		IP:            rc.IP,
		UserAgent:     rc.UserAgent,
		CreatedAt:     time.Now().UTC(),
	})
	return nil
}
