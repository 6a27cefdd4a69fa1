// password.go

// Package password derives and verifies stored credentials with PBKDF2-HMAC-SHA256.
//
// Stored values come in two layouts:
//
//	legacy:    base64(salt || key)                       (100000 iterations implied)
//	versioned: $pbkdf2-sha256$i=<iterations>$base64(salt || key)
//
// Hash writes the legacy layout whenever the configured cost equals the legacy cost, so
// credentials created by earlier deployments keep verifying and stay byte-compatible.
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltLen = 16
	KeyLen  = 32

	// LegacyIterations is the cost implied by an unversioned stored value.
	LegacyIterations = 100000

	// MinIterations rejects configurations too cheap to slow down offline guessing.
	MinIterations = 1000

	// maxIterations bounds the cost Verify will accept from a stored value.
	maxIterations = 10_000_000

	versionedPrefix = "$pbkdf2-sha256$"
)

// ErrCrypto is wrapped by every failure of the random source or derivation primitive.
// Hash never falls back to a weaker method when it sees one.
var ErrCrypto = errors.New("password: crypto failure")

// Hasher hashes and verifies passwords at a fixed, configured cost.
// Safe for concurrent use.
type Hasher struct {
	iterations int
	rand       io.Reader
}

// New returns a Hasher deriving keys with the given iteration count.
func New(iterations int) (*Hasher, error) {
	if iterations < MinIterations {
		return nil, fmt.Errorf("password: iterations must be at least %d, got %d", MinIterations, iterations)
	}
	if iterations > maxIterations {
		return nil, fmt.Errorf("password: iterations must be at most %d, got %d", maxIterations, iterations)
	}
	return &Hasher{iterations: iterations, rand: rand.Reader}, nil
}

// Iterations returns the configured cost.
func (h *Hasher) Iterations() int {
	return h.iterations
}

// Hash returns the stored form of password under a fresh random salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, SaltLen)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return "", fmt.Errorf("%w: generating salt: %v", ErrCrypto, err)
	}

	return h.encode(password, salt)
}

// Placeholder returns a stored value for password under an all-zero salt. It costs the
// same to verify as a real credential but never touches the random source, so it cannot fail.
// Only for timing padding; never store it.
func (h *Hasher) Placeholder(password string) string {
	stored, err := h.encode(password, make([]byte, SaltLen))
	if err != nil {
		// derive always yields KeyLen bytes.
		panic(err)
	}
	return stored
}

func (h *Hasher) encode(password string, salt []byte) (string, error) {
	key := derive(password, salt, h.iterations)
	if len(key) != KeyLen {
		return "", fmt.Errorf("%w: derived key has %d bytes", ErrCrypto, len(key))
	}

	combined := make([]byte, 0, SaltLen+KeyLen)
	combined = append(combined, salt...)
	combined = append(combined, key...)
	encoded := base64.StdEncoding.EncodeToString(combined)

	if h.iterations == LegacyIterations {
		return encoded, nil
	}
	return versionedPrefix + "i=" + strconv.Itoa(h.iterations) + "$" + encoded, nil
}

// Verify reports whether password matches stored.
// Malformed stored values report false, same as a wrong password.
func (h *Hasher) Verify(password, stored string) bool {
	iterations, salt, expected, ok := parse(stored)
	if !ok {
		return false
	}
	return ConstantTimeEqual(derive(password, salt, iterations), expected)
}

// NeedsRehash reports whether stored was derived at a cost other than the configured one.
// Unparseable values report false; there is nothing to upgrade.
func (h *Hasher) NeedsRehash(stored string) bool {
	iterations, _, _, ok := parse(stored)
	return ok && iterations != h.iterations
}

// ConstantTimeEqual compares a and b without exiting early on the first differing byte.
// Buffers of different length never match.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var acc byte
	for i := 0; i < len(a); i++ {
		acc |= a[i] ^ b[i]
	}
	return acc == 0
}

func derive(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, KeyLen, sha256.New)
}

// parse splits a stored value into cost, salt and expected key.
func parse(stored string) (iterations int, salt, key []byte, ok bool) {
	iterations = LegacyIterations
	payload := stored

	if strings.HasPrefix(stored, "$") {
		// $pbkdf2-sha256$i=<n>$<payload>
		parts := strings.Split(stored, "$")
		if len(parts) != 4 || "$"+parts[1]+"$" != versionedPrefix {
			return 0, nil, nil, false
		}
		n, err := strconv.Atoi(strings.TrimPrefix(parts[2], "i="))
		if err != nil || !strings.HasPrefix(parts[2], "i=") || n < 1 || n > maxIterations {
			return 0, nil, nil, false
		}
		iterations = n
		payload = parts[3]
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(raw) != SaltLen+KeyLen {
		return 0, nil, nil, false
	}
	return iterations, raw[:SaltLen], raw[SaltLen:], true
}
