package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/feedrlabs/identity/cache"
	"github.com/feedrlabs/identity/internal"
)

// SMS/email one-time codes live only in the ephemeral cache: a 10 minute
// TTL entry keyed by (account, channel), plus a rolling issuance counter.
// Nothing about a code is ever written to the relational store.

func otpCodeKey(accountID uuid.UUID, channel Channel) string {
	return fmt.Sprintf("otp:%s:%s", accountID, channel)
}

func otpRateKey(accountID uuid.UUID, channel Channel) string {
	return fmt.Sprintf("otprl:%s:%s", accountID, channel)
}

// RequestCode issues a fresh numeric one-time code on the given channel.
// Issuance is limited per (account, channel) over a rolling window;
// re-requesting inside the window replaces the previous code, so at most
// one code per channel is redeemable at a time.
func (e *MFAEngine) RequestCode(ctx context.Context, accountID uuid.UUID, channel Channel) error {
	account, err := e.accounts.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}

	switch channel {
	case ChannelSMS:
		if account.Phone == "" {
			return ErrMFANotEnabled
		}
	case ChannelEmail:
	default:
		return fmt.Errorf("unknown otp channel %q", channel)
	}

	count, err := e.cache.Increment(ctx, otpRateKey(accountID, channel), e.cfg.OTPRequestWindow)
	if err != nil {
		return err
	}
	if count > int64(e.cfg.OTPMaxRequests) {
		e.metrics.Inc(MetricOTPRateLimited)
		return ErrOTPRateLimited
	}

	code, err := internal.NewNumericCode(e.cfg.OTPDigits)
	if err != nil {
		return err
	}
	if err := e.cache.Set(ctx, otpCodeKey(accountID, channel), code, e.cfg.OTPTTL); err != nil {
		return err
	}

	e.metrics.Inc(MetricOTPIssued)
	switch channel {
	case ChannelSMS:
		return e.notifier.SendSMS(ctx, account.Phone,
			fmt.Sprintf("%s is your verification code. It expires in %d minutes.", code, int(e.cfg.OTPTTL.Minutes())))
	default:
		return e.notifier.SendEmail(ctx, account.Email,
			"Your verification code",
			fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(e.cfg.OTPTTL.Minutes())))
	}
}

// VerifyCode redeems a one-time code. A successful match deletes the cache
// entry before returning, so the same code can never verify twice.
func (e *MFAEngine) VerifyCode(ctx context.Context, accountID uuid.UUID, channel Channel, code string) error {
	key := otpCodeKey(accountID, channel)
	stored, err := e.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return ErrOTPInvalid
		}
		return err
	}

	if !internal.ConstantTimeEqual(stored, code) {
		return ErrOTPInvalid
	}

	// Single use: the entry is gone before the caller learns the result.
	if err := e.cache.Delete(ctx, key); err != nil {
		return err
	}
	return nil
}

// EnableChannel turns on SMS or email MFA for the account after the user
// proves control of the channel by redeeming a code sent over it.
func (e *MFAEngine) EnableChannel(ctx context.Context, accountID uuid.UUID, channel Channel, code string) error {
	if err := e.VerifyCode(ctx, accountID, channel, code); err != nil {
		return err
	}
	return e.accounts.SetChannelMFA(ctx, accountID, channel, true)
}
