// Package crypto provides password hashing for stored credentials.
//
// The server historically stored passwords verbatim; hashed storage is
// opt-in so existing databases keep working. VerifyPassword accepts both
// stored forms transparently.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const hashPrefix = "$argon2id$"

// Argon2id parameters.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// HashPassword derives an argon2id hash with a fresh random salt and returns
// it in the encoded form "$argon2id$<salt>$<key>" (base64, no padding).
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	enc := base64.RawStdEncoding
	return hashPrefix + enc.EncodeToString(salt) + "$" + enc.EncodeToString(key), nil
}

// IsHashed reports whether a stored password is in encoded argon2id form.
func IsHashed(stored string) bool {
	return strings.HasPrefix(stored, hashPrefix)
}

// VerifyPassword compares a candidate password against the stored value.
// Plaintext stored values are compared byte-for-byte; encoded values are
// re-derived with the stored salt. Both paths are constant-time.
func VerifyPassword(stored, password string) bool {
	if !IsHashed(stored) {
		return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
	}

	parts := strings.Split(strings.TrimPrefix(stored, hashPrefix), "$")
	if len(parts) != 2 {
		return false
	}
	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := enc.DecodeString(parts[1])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
