// Package internal holds the random credential-material helpers shared by
// the identity components.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const refreshTokenBytes = 32

// NewRefreshToken returns a high-entropy raw refresh token. The raw value
// is handed to the client exactly once; only its hash is stored.
func NewRefreshToken() (string, error) {
	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken is the one-way mapping from a raw token to its stored form.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashCode hashes a backup or recovery code with the account id as salt so
// identical codes held by different accounts never share a stored hash.
func HashCode(accountID, code string) string {
	sum := sha256.Sum256([]byte(accountID + ":" + CanonicalCode(code)))
	return hex.EncodeToString(sum[:])
}

// CanonicalCode strips grouping dashes and whitespace and upper-cases, so
// user-typed variants of the same code compare equal.
func CanonicalCode(code string) string {
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return strings.ToUpper(code)
}

// backup/recovery code alphabet: base32 without padding keeps the codes
// typeable and case-insensitive.
var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewUserCode returns a code of n random bytes rendered as grouped base32,
// e.g. "Q2F3-ZJ5K".
func NewUserCode(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	s := codeEncoding.EncodeToString(raw)
	if len(s) > 4 {
		var b strings.Builder
		for i, r := range s {
			if i > 0 && i%4 == 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
		}
		s = b.String()
	}
	return s, nil
}

// NewNumericCode returns a uniformly random zero-padded numeric code of
// the given number of digits, suitable for SMS/email delivery.
func NewNumericCode(digits int) (string, error) {
	mod := big.NewInt(1)
	for i := 0; i < digits; i++ {
		mod.Mul(mod, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, mod)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// ConstantTimeEqual compares two strings without leaking a length-
// dependent timing signal for equal-length inputs.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Fingerprint hashes the stable request attributes into the device
// fingerprint. The IP address is deliberately excluded: it is too volatile
// to identify a device on its own.
func Fingerprint(userAgent, acceptLanguage, acceptEncoding string) string {
	sum := sha256.Sum256([]byte(userAgent + "\x00" + acceptLanguage + "\x00" + acceptEncoding))
	return hex.EncodeToString(sum[:])
}
