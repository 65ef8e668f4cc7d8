package identity

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feedrlabs/identity/notify"
)

// LoginRiskEngine scores each login attempt against the account's full
// prior history. The comparison set of known IPs, devices and locations is
// every prior successful login with no time bound: once seen, always
// trusted for scoring purposes.
type LoginRiskEngine struct {
	cfg      RiskConfig
	attempts AttemptStore
	notifier notify.Gateway
}

const (
	flagNewIP         = "new_ip"
	flagNewDevice     = "new_device"
	flagNewLocation   = "new_location"
	flagBurstFailures = "burst_failures"
)

// Assess computes the anomaly flags for a login by the given account from
// the given context. It reads history only; persisting the attempt is the
// caller's job via Record.
func (e *LoginRiskEngine) Assess(ctx context.Context, account *Account, rc RequestContext, fingerprint string) (RiskAssessment, error) {
	var a RiskAssessment

	// A first-ever login has no baseline to deviate from.
	hasHistory, err := e.attempts.HasSuccessfulLogin(ctx, account.ID)
	if err != nil {
		return a, err
	}

	if hasHistory {
		if rc.IP != "" {
			seen, err := e.attempts.SeenIP(ctx, account.ID, rc.IP)
			if err != nil {
				return a, err
			}
			a.NewIP = !seen
		}
		if fingerprint != "" {
			seen, err := e.attempts.SeenDevice(ctx, account.ID, fingerprint)
			if err != nil {
				return a, err
			}
			a.NewDevice = !seen
		}
		if rc.Location != "" {
			seen, err := e.attempts.SeenLocation(ctx, account.ID, rc.Location)
			if err != nil {
				return a, err
			}
			a.NewLocation = !seen
		}
	}

	failures, err := e.attempts.CountRecentFailures(ctx, account.Email, time.Now().UTC().Add(-e.cfg.BurstWindow))
	if err != nil {
		return a, err
	}
	a.BurstFailures = failures >= e.cfg.BurstThreshold

	var flags []string
	if a.NewIP {
		flags = append(flags, flagNewIP)
	}
	if a.NewDevice {
		flags = append(flags, flagNewDevice)
	}
	if a.NewLocation {
		flags = append(flags, flagNewLocation)
	}
	if a.BurstFailures {
		flags = append(flags, flagBurstFailures)
	}

	a.Suspicious = len(flags) >= e.cfg.SuspicionFlagCount
	a.Reason = strings.Join(flags, ",")
	return a, nil
}

// Record persists the attempt. Called for every login regardless of
// outcome; accountID is nil when the email resolved to no account.
func (e *LoginRiskEngine) Record(ctx context.Context, accountID *uuid.UUID, email string, rc RequestContext, fingerprint string, success bool, failureReason string, a RiskAssessment) error {
	return e.attempts.RecordLoginAttempt(ctx, &LoginAttempt{
		ID:              uuid.New(),
		AccountID:       accountID,
		Email:           normalizeEmail(email),
		Success:         success,
		FailureReason:   failureReason,
		IP:              rc.IP,
		Device:          fingerprint,
		Location:        rc.Location,
		Suspicious:      a.Suspicious,
		SuspicionReason: a.Reason,
		CreatedAt:       time.Now().UTC(),
	})
}

// NotifyOnSuccess dispatches the follow-up notifications for a successful
// login: a suspicious-login alert when scoring flagged it, and a separate
// new-device notice the first time a device or IP appears. Both are
// best-effort; failures are logged and never surfaced to the login.
func (e *LoginRiskEngine) NotifyOnSuccess(ctx context.Context, account *Account, rc RequestContext, a RiskAssessment) {
	if a.Suspicious {
		err := e.notifier.SendEmail(ctx, account.Email,
			"Suspicious sign-in to your account",
			"We noticed a sign-in that looked unusual ("+strings.ReplaceAll(a.Reason, ",", ", ")+"). "+
				"If this was not you, change your password and review your sessions.")
		if err != nil {
			log.Print("identity: suspicious-login alert failed")
		}
	}

	if a.NewDevice || a.NewIP {
		err := e.notifier.SendEmail(ctx, account.Email,
			"New sign-in on your account",
			"Your account was just signed in from a device or network we had not seen before.")
		if err != nil {
			log.Print("identity: new-device notification failed")
		}
	}
}
