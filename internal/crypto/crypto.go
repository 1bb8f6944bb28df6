// Package crypto holds the primitives used by pairing: hashing, key
// derivation, the unpadded AES-128-ECB cipher and signatures.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PairingIterations is the PBKDF2 round count for PIN key derivation.
	PairingIterations = 10000
	// DerivedKeySize is the AES-128 key length produced from the PIN.
	DerivedKeySize = 16
)

// SHA256 returns the SHA-256 digest of data.
func SHA256(data ...[]byte) []byte {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// HMACSHA256 returns HMAC-SHA256(key, data). Keys longer than the 64 byte
// block are hashed first.
func HMACSHA256(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil)
}

// PBKDF2HMACSHA256 derives keyLen bytes from password and salt.
func PBKDF2HMACSHA256(password, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New)
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	return ReadRandom(rand.Reader, n)
}

// ReadRandom fills n bytes from r.
func ReadRandom(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read %d random bytes: %w", n, err)
	}
	return b, nil
}
