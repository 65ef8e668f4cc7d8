// Package jwt issues and parses the short-lived signed access tokens
// minted after a successful authentication.
package jwt

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 private key.
	MethodEd25519 SigningMethod = "ed25519"
)

// ErrTokenInvalid is returned for any token that fails parsing, signature
// verification or time-based validation.
var ErrTokenInvalid = errors.New("invalid access token")

// Config configures a Manager. PrivateKey is the HMAC secret for HS256 or
// an Ed25519 seed/private key for Ed25519.
type Config struct {
	Method     SigningMethod
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	AccessTTL  time.Duration
	Leeway     time.Duration
}

// AccessClaims is the payload carried by an access token: the account it
// proves authentication for and the username captured at issuance.
type AccessClaims struct {
	AccountID string `json:"aid"`
	Username  string `json:"unm"`
	jwt.RegisteredClaims
}

// Manager creates and parses access tokens with a fixed configuration.
type Manager struct {
	cfg     Config
	signKey any
	ver     any
}

// NewManager validates cfg and prepares the signing keys.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("access ttl must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("leeway out of range")
	}

	m := &Manager{cfg: cfg}
	switch cfg.Method {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 secret must be at least 32 bytes")
		}
		m.signKey = cfg.PrivateKey
		m.ver = cfg.PrivateKey
	case MethodEd25519:
		switch len(cfg.PrivateKey) {
		case ed25519.SeedSize:
			priv := ed25519.NewKeyFromSeed(cfg.PrivateKey)
			m.signKey = priv
			m.ver = priv.Public()
		case ed25519.PrivateKeySize:
			priv := ed25519.PrivateKey(cfg.PrivateKey)
			m.signKey = priv
			m.ver = priv.Public()
		case 0:
			if len(cfg.PublicKey) != ed25519.PublicKeySize {
				return nil, errors.New("ed25519 requires a private or public key")
			}
			m.ver = ed25519.PublicKey(cfg.PublicKey)
		default:
			return nil, errors.New("invalid ed25519 private key size")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return m, nil
}

// Create mints an access token for the account, expiring AccessTTL from
// now. The expiry is also returned so callers can report it without
// re-parsing the token.
func (m *Manager) Create(accountID, username string, now time.Time) (string, time.Time, error) {
	if m.signKey == nil {
		return "", time.Time{}, errors.New("manager holds no signing key")
	}

	expires := now.Add(m.cfg.AccessTTL)
	claims := AccessClaims{
		AccountID: accountID,
		Username:  username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	var method jwt.SigningMethod = jwt.SigningMethodHS256
	if m.cfg.Method == MethodEd25519 {
		method = jwt.SigningMethodEdDSA
	}

	signed, err := jwt.NewWithClaims(method, claims).SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Parse verifies the signature, issuer and expiry and returns the claims.
func (m *Manager) Parse(tokenStr string) (*AccessClaims, error) {
	methods := []string{"HS256"}
	if m.cfg.Method == MethodEd25519 {
		methods = []string{"EdDSA"}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.cfg.Leeway),
	}
	if m.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer))
	}

	var claims AccessClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return m.ver, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.AccountID == "" {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}
