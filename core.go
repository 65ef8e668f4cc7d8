package identity

import (
	"errors"

	"github.com/feedrlabs/identity/cache"
	"github.com/feedrlabs/identity/captcha"
	"github.com/feedrlabs/identity/jwt"
	"github.com/feedrlabs/identity/notify"
	"github.com/feedrlabs/identity/password"
)

// Deps are the external collaborators a [Core] is built on. Store and
// Cache are required; Notifier and Captcha fall back to the log-only
// gateway and the always-pass verifier.
type Deps struct {
	Store    Store
	Cache    cache.Cache
	Notifier notify.Gateway
	Captcha  captcha.Verifier
}

// Core wires the identity components over one set of dependencies. It
// holds no mutable state of its own: everything durable lives in the
// store, everything ephemeral in the cache, so a Core can be shared
// freely across request goroutines.
type Core struct {
	cfg     Config
	metrics *Metrics
	store   Store

	Credentials *CredentialStore
	Tokens      *TokenService
	MFA         *MFAEngine
	Devices     *DeviceTrustManager
	Sessions    *SessionRegistry
	Risk        *LoginRiskEngine
	Audit       *AuditLog

	captcha captcha.Verifier
}

// New validates cfg, wires every component and returns the Core. Call
// [Core.Close] to flush the audit dispatcher on shutdown.
func New(cfg Config, deps Deps) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("identity: store is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("identity: cache is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.LogGateway{}
	}
	if deps.Captcha == nil {
		deps.Captcha = captcha.Bypass{}
	}

	hasher, err := password.NewHasher(cfg.Password.Argon2)
	if err != nil {
		return nil, err
	}

	signing := cfg.Token.Signing
	signing.AccessTTL = cfg.Token.AccessTTL
	jwtManager, err := jwt.NewManager(signing)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()

	c := &Core{
		cfg:     cfg,
		metrics: metrics,
		store:   deps.Store,
		captcha: deps.Captcha,
	}

	c.Credentials = &CredentialStore{
		cfg:      cfg,
		accounts: deps.Store,
		sessions: deps.Store,
		hasher:   hasher,
		notifier: deps.Notifier,
		metrics:  metrics,
	}
	c.Tokens = &TokenService{
		cfg:      cfg.Token,
		tokens:   deps.Store,
		accounts: deps.Store,
		jwt:      jwtManager,
		notifier: deps.Notifier,
		metrics:  metrics,
	}
	c.MFA = &MFAEngine{
		cfg:      cfg.MFA,
		accounts: deps.Store,
		codes:    deps.Store,
		cache:    deps.Cache,
		hasher:   hasher,
		notifier: deps.Notifier,
		metrics:  metrics,
		recovery: cfg.Recovery,
	}
	c.Devices = &DeviceTrustManager{
		cfg:     cfg.Devices,
		devices: deps.Store,
	}
	c.Sessions = &SessionRegistry{
		sessions: deps.Store,
		metrics:  metrics,
	}
	c.Risk = &LoginRiskEngine{
		cfg:      cfg.Risk,
		attempts: deps.Store,
		notifier: deps.Notifier,
	}
	c.Audit = &AuditLog{
		cfg:        cfg.Audit,
		store:      deps.Store,
		dispatcher: newAuditDispatcher(cfg.Audit, deps.Store, metrics),
		metrics:    metrics,
	}

	return c, nil
}

// Close drains and stops the audit dispatcher. The Core must not be used
// after Close returns.
func (c *Core) Close() {
	if c == nil || c.Audit == nil {
		return
	}
	c.Audit.close()
}

// MetricsSnapshot exposes the counter registry for exporters.
func (c *Core) MetricsSnapshot() MetricsSnapshot {
	if c == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return c.metrics.Snapshot()
}

// AuditDropped reports how many audit events the async dispatcher has shed
// under backpressure.
func (c *Core) AuditDropped() uint64 {
	if c == nil || c.Audit == nil {
		return 0
	}
	return c.Audit.dropped()
}
