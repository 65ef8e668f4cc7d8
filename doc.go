// Package identity is the account-security core for the feedr backend:
// credential storage with argon2id and lockout, access/refresh token
// pairs with rotation and replay detection, multi-factor authentication
// (TOTP, backup codes, SMS/email one-time codes, recovery codes),
// trusted-device management, a per-account session registry, login risk
// scoring and an append-only audit log.
//
// Build a [Core] with [New], giving it a durable [Store] (see
// store/postgres) and a [cache.Cache] (see cache/redisc). All state lives
// behind those two interfaces; the Core itself is safe for concurrent use
// and carries no ambient globals.
//
//	cfg := identity.DefaultConfig()
//	cfg.Token.Signing.PrivateKey = secret
//	core, err := identity.New(cfg, identity.Deps{
//		Store: pg,
//		Cache: rc,
//	})
//
// Request-scoped client attributes travel in a [RequestContext] value
// built by the web layer per inbound call.
package identity
