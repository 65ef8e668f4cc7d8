package identity

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/feedrlabs/identity/jwt"
	"github.com/feedrlabs/identity/password"
)

// Config is the immutable configuration tree for a [Core]. Build it from
// [DefaultConfig] and override what you need; New rejects configurations
// that fail [Config.Validate].
type Config struct {
	Password PasswordConfig
	Lockout  LockoutConfig
	Token    TokenConfig
	MFA      MFAConfig
	Devices  DeviceConfig
	Recovery RecoveryConfig
	Risk     RiskConfig
	Audit    AuditConfig
	Captcha  CaptchaConfig
}

// PasswordConfig tunes the strength policy and reuse window.
type PasswordConfig struct {
	MinLength int
	// HistoryWindow is the trailing period inside which a previously used
	// password is rejected.
	HistoryWindow time.Duration
	Argon2        password.Params
	// RehashOnLogin upgrades weaker stored hashes opportunistically after
	// a successful verification.
	RehashOnLogin bool
}

// LockoutConfig tunes the consecutive-failure lockout.
type LockoutConfig struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// TokenConfig tunes token lifetimes and signing.
type TokenConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// ReplayGrace is the window after rotation inside which reuse of the
	// dead token is treated as theft rather than ordinary expiry.
	ReplayGrace time.Duration
	Signing     jwt.Config
}

// MFAConfig tunes the TOTP and one-time-code factors.
type MFAConfig struct {
	// Issuer is the label shown by authenticator apps.
	Issuer          string
	BackupCodeCount int
	// BackupCodeLowWater is the remaining-count threshold below which
	// verification results carry a low-supply warning.
	BackupCodeLowWater int
	OTPDigits          int
	OTPTTL             time.Duration
	// OTPMaxRequests per OTPRequestWindow per (account, channel).
	OTPMaxRequests   int
	OTPRequestWindow time.Duration
}

// DeviceConfig tunes trusted-device grants.
type DeviceConfig struct {
	TrustTTL time.Duration
}

// RecoveryConfig tunes account-recovery codes.
type RecoveryConfig struct {
	CodeCount int
	CodeTTL   time.Duration
}

// RiskConfig tunes the login risk engine.
type RiskConfig struct {
	// BurstWindow and BurstThreshold define the burst-failure flag.
	BurstWindow    time.Duration
	BurstThreshold int
	// SuspicionFlagCount is how many flags must trigger before an attempt
	// is marked suspicious.
	SuspicionFlagCount int
}

// AuditConfig tunes the audit dispatcher and read paths.
type AuditConfig struct {
	// BufferSize bounds the async dispatch queue.
	BufferSize int
	// MaxPageSize caps every audit read regardless of the requested size.
	MaxPageSize int
}

// CaptchaConfig toggles the pre-flight CAPTCHA gate.
type CaptchaConfig struct {
	Enabled bool
}

// DefaultConfig returns the production defaults described by the security
// policy: 5 attempts / 30 minute lockout, 30 minute access tokens, 30 day
// refresh tokens with a 5 minute replay grace window, 10 backup codes,
// 30 day device trust, 8 one-year recovery codes.
func DefaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			MinLength:     8,
			HistoryWindow: 365 * 24 * time.Hour,
			Argon2:        password.DefaultParams(),
			RehashOnLogin: true,
		},
		Lockout: LockoutConfig{
			MaxAttempts:  5,
			LockDuration: 30 * time.Minute,
		},
		Token: TokenConfig{
			AccessTTL:   30 * time.Minute,
			RefreshTTL:  30 * 24 * time.Hour,
			ReplayGrace: 5 * time.Minute,
			Signing: jwt.Config{
				Method:    jwt.MethodHS256,
				Issuer:    "feedr-identity",
				AccessTTL: 30 * time.Minute,
				Leeway:    30 * time.Second,
			},
		},
		MFA: MFAConfig{
			Issuer:             "feedr",
			BackupCodeCount:    10,
			BackupCodeLowWater: 3,
			OTPDigits:          6,
			OTPTTL:             10 * time.Minute,
			OTPMaxRequests:     3,
			OTPRequestWindow:   10 * time.Minute,
		},
		Devices: DeviceConfig{
			TrustTTL: 30 * 24 * time.Hour,
		},
		Recovery: RecoveryConfig{
			CodeCount: 8,
			CodeTTL:   365 * 24 * time.Hour,
		},
		Risk: RiskConfig{
			BurstWindow:        time.Hour,
			BurstThreshold:     3,
			SuspicionFlagCount: 2,
		},
		Audit: AuditConfig{
			BufferSize:  256,
			MaxPageSize: 100,
		},
		Captcha: CaptchaConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations that would weaken an invariant the rest
// of the core assumes.
func (c Config) Validate() error {
	if c.Password.MinLength < 8 {
		return errors.New("password minimum length below 8")
	}
	if c.Password.HistoryWindow <= 0 {
		return errors.New("password history window must be positive")
	}
	if c.Lockout.MaxAttempts < 1 {
		return errors.New("lockout max attempts below 1")
	}
	if c.Lockout.LockDuration <= 0 {
		return errors.New("lockout duration must be positive")
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.Token.AccessTTL >= c.Token.RefreshTTL {
		return errors.New("access ttl must be shorter than refresh ttl")
	}
	if c.Token.ReplayGrace <= 0 {
		return errors.New("replay grace window must be positive")
	}
	if c.MFA.BackupCodeCount < 1 {
		return errors.New("backup code count below 1")
	}
	if c.MFA.OTPDigits < 4 || c.MFA.OTPDigits > 10 {
		return errors.New("otp digits out of range")
	}
	if c.MFA.OTPTTL <= 0 || c.MFA.OTPRequestWindow <= 0 || c.MFA.OTPMaxRequests < 1 {
		return errors.New("otp issuance limits must be positive")
	}
	if c.Devices.TrustTTL <= 0 {
		return errors.New("device trust ttl must be positive")
	}
	if c.Recovery.CodeCount < 1 || c.Recovery.CodeTTL <= 0 {
		return errors.New("recovery code settings must be positive")
	}
	if c.Risk.BurstWindow <= 0 || c.Risk.BurstThreshold < 1 || c.Risk.SuspicionFlagCount < 1 {
		return errors.New("risk engine settings must be positive")
	}
	if c.Audit.MaxPageSize < 1 {
		return errors.New("audit max page size below 1")
	}
	return nil
}

// FromEnv loads config overrides from the environment, reading a .env file
// first when one exists. Only settings that make sense to vary per
// deployment are exposed; everything else keeps its default.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if v := os.Getenv("IDENTITY_JWT_SECRET"); v != "" {
		cfg.Token.Signing.PrivateKey = []byte(v)
	}
	if v := os.Getenv("IDENTITY_JWT_ISSUER"); v != "" {
		cfg.Token.Signing.Issuer = v
	}
	if v := os.Getenv("IDENTITY_MFA_ISSUER"); v != "" {
		cfg.MFA.Issuer = v
	}
	if v := os.Getenv("IDENTITY_CAPTCHA_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("IDENTITY_CAPTCHA_ENABLED: %w", err)
		}
		cfg.Captcha.Enabled = enabled
	}
	if v := os.Getenv("IDENTITY_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("IDENTITY_ACCESS_TTL: %w", err)
		}
		cfg.Token.AccessTTL = d
		cfg.Token.Signing.AccessTTL = d
	}
	if v := os.Getenv("IDENTITY_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("IDENTITY_REFRESH_TTL: %w", err)
		}
		cfg.Token.RefreshTTL = d
	}

	return cfg, cfg.Validate()
}
