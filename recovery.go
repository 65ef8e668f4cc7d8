package identity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/feedrlabs/identity/internal"
)

// Recovery codes are distinct from backup codes: long-lived (a year),
// issued in a fixed set, and marked used rather than deleted so every
// redemption stays visible afterwards.

// GenerateRecoveryCodes replaces the account's recovery set and returns
// the plaintext codes exactly once.
func (e *MFAEngine) GenerateRecoveryCodes(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	if _, err := e.accounts.AccountByID(ctx, accountID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	plaintexts := make([]string, 0, e.recovery.CodeCount)
	records := make([]RecoveryCode, 0, e.recovery.CodeCount)
	for i := 0; i < e.recovery.CodeCount; i++ {
		code, err := internal.NewUserCode(8)
		if err != nil {
			return nil, err
		}
		plaintexts = append(plaintexts, code)
		records = append(records, RecoveryCode{
			ID:        uuid.New(),
			AccountID: accountID,
			CodeHash:  internal.HashCode(accountID.String(), code),
			ExpiresAt: now.Add(e.recovery.CodeTTL),
			CreatedAt: now,
		})
	}

	if err := e.codes.ReplaceRecoveryCodes(ctx, accountID, records); err != nil {
		return nil, err
	}
	return plaintexts, nil
}

// RedeemRecoveryCode spends one recovery code. The matching row is marked
// used, never removed; a used or expired code fails with
// [ErrRecoveryCodeInvalid].
func (e *MFAEngine) RedeemRecoveryCode(ctx context.Context, accountID uuid.UUID, code string) error {
	hash := internal.HashCode(accountID.String(), code)
	redeemed, err := e.codes.RedeemRecoveryCode(ctx, accountID, hash, time.Now().UTC())
	if err != nil {
		return err
	}
	if !redeemed {
		return ErrRecoveryCodeInvalid
	}
	e.metrics.Inc(MetricRecoveryCodeRedeemed)
	return nil
}
