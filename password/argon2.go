// Package password provides Argon2id password hashing with PHC-formatted
// encoding and parameter-upgrade detection.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const phcID = "argon2id"

// ErrMalformedHash is returned when a stored hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed password hash")

// Params tunes the Argon2id cost. The zero value is not usable; start from
// [DefaultParams].
type Params struct {
	MemoryKB    uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams follows the RFC 9106 second recommended option, sized for
// interactive logins.
func DefaultParams() Params {
	return Params{
		MemoryKB:    64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes and verifies passwords with a fixed parameter set.
type Hasher struct {
	params Params
}

// NewHasher validates params and returns a Hasher.
func NewHasher(p Params) (*Hasher, error) {
	switch {
	case p.MemoryKB < 8*1024:
		return nil, errors.New("argon2 memory below 8 MiB")
	case p.Iterations < 1:
		return nil, errors.New("argon2 iterations below 1")
	case p.Parallelism < 1:
		return nil, errors.New("argon2 parallelism below 1")
	case p.SaltLength < 16:
		return nil, errors.New("argon2 salt below 16 bytes")
	case p.KeyLength < 16:
		return nil, errors.New("argon2 key below 16 bytes")
	}
	return &Hasher{params: p}, nil
}

// Hash derives a salted Argon2id hash in PHC string format:
// $argon2id$v=19$m=...,t=...,p=...$salt$hash
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.MemoryKB, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcID,
		argon2.Version,
		h.params.MemoryKB,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash under the stored parameters and compares in
// constant time.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	p, salt, key, err := decode(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKB, p.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

// NeedsRehash reports whether the stored hash was produced with weaker
// parameters than the hasher's current ones.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	p, _, _, err := decode(encoded)
	if err != nil {
		return false, err
	}
	return p.MemoryKB < h.params.MemoryKB ||
		p.Iterations < h.params.Iterations ||
		p.Parallelism < h.params.Parallelism, nil
}

func decode(encoded string) (Params, []byte, []byte, error) {
	var p Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != phcID {
		return p, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, ErrMalformedHash
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: unsupported argon2 version %d", ErrMalformedHash, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKB, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, ErrMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return p, nil, nil, ErrMalformedHash
	}
	if len(salt) == 0 || len(key) == 0 {
		return p, nil, nil, ErrMalformedHash
	}

	return p, salt, key, nil
}
