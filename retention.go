package identity

import (
	"context"
	"time"
)

// RetentionReport counts what one maintenance sweep removed.
type RetentionReport struct {
	PasswordHistory int64
	TokenTombstones int64
	TrustedDevices  int64
	RecoveryCodes   int64
}

// RunRetention deletes rows past their useful life: password history
// older than a year, rotated refresh-token tombstones past the replay
// grace window, expired device trusts and expired recovery codes. Call it
// from a periodic job; each category prunes independently, so a failure
// in one leaves the others done.
func (c *Core) RunRetention(ctx context.Context, now time.Time) (RetentionReport, error) {
	var report RetentionReport
	store := c.store

	n, err := store.PrunePasswordHistory(ctx, now.Add(-passwordHistoryRetention))
	if err != nil {
		return report, err
	}
	report.PasswordHistory = n

	// Tombstones only matter inside the replay window; keep one extra
	// window as slack for clock skew between app nodes.
	n, err = store.PruneTokenTombstones(ctx, now.Add(-2*c.cfg.Token.ReplayGrace))
	if err != nil {
		return report, err
	}
	report.TokenTombstones = n

	n, err = store.PruneTrustedDevices(ctx, now)
	if err != nil {
		return report, err
	}
	report.TrustedDevices = n

	n, err = store.PruneRecoveryCodes(ctx, now)
	if err != nil {
		return report, err
	}
	report.RecoveryCodes = n

	return report, nil
}

// Password history rows older than this no longer participate in reuse
// checks regardless of the configured window size.
const passwordHistoryRetention = 365 * 24 * time.Hour
