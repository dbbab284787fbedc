// Package password implements salted one-way hashing and verification of
// user passwords. Hashes are encoded as hex(salt):hex(digest).
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const saltLength = 16

// Argon2id parameters. Changing these invalidates stored hashes.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// Hash derives a fresh salted digest for the password. Two calls for the
// same password never produce the same output.
func Hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	digest := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(digest), nil
}

// Verify recomputes the digest with the embedded salt and compares in
// constant time. Malformed stored values verify as false, never as an error.
func Verify(stored, password string) bool {
	saltHex, digestHex, ok := strings.Cut(stored, ":")
	if !ok || saltHex == "" || digestHex == "" {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	if len(computed) != len(digest) {
		return false
	}
	return subtle.ConstantTimeCompare(computed, digest) == 1
}
