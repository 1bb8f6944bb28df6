// Package pairing implements the PIN challenge/response handshake that
// proves the client identity to a streaming host.
package pairing

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"moonlink/native/internal/crypto"
)

const (
	ChallengeSize    = 16
	ClientSecretSize = 16
	MinSaltSize      = 8
	MaxSaltSize      = 16
)

var (
	ErrKeyLoad               = errors.New("pairing: client key could not be loaded")
	ErrChallengeSizeMismatch = errors.New("pairing: decrypted challenge has wrong size")
	ErrSignature             = errors.New("pairing: signing failed")
	ErrHostSignature         = errors.New("pairing: host signature invalid")
	ErrPairingRejected       = errors.New("pairing: host rejected pairing")
	ErrInvalidSalt           = errors.New("pairing: salt must be 8 to 16 bytes")
)

// IsStructural reports whether err is a local structural failure (bad
// challenge size, unusable key) rather than a host rejection, which most
// often means the PIN was wrong.
func IsStructural(err error) bool {
	return errors.Is(err, ErrChallengeSizeMismatch) ||
		errors.Is(err, ErrKeyLoad) ||
		errors.Is(err, ErrSignature) ||
		errors.Is(err, ErrInvalidSalt) ||
		errors.Is(err, ErrInvalidHex)
}

// Request is the immutable input to one pairing attempt.
type Request struct {
	PIN             string
	Salt            []byte
	ServerChallenge []byte // ciphertext under the derived key
	ClientKeyPEM    []byte
}

// Response is the handshake payload for one attempt.
type Response struct {
	ClientSecret []byte
	Signature    []byte
	Ciphertext   []byte
}

// DeriveKey derives the AES-128 key from the PIN and salt.
func DeriveKey(pin string, salt []byte) ([]byte, error) {
	if len(salt) < MinSaltSize || len(salt) > MaxSaltSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSalt, len(salt))
	}
	return crypto.PBKDF2HMACSHA256([]byte(pin), salt, crypto.PairingIterations, crypto.DerivedKeySize), nil
}

// Pairer runs pairing attempts. Rand supplies the client secret and
// defaults to crypto/rand.
type Pairer struct {
	Rand io.Reader
}

// Pair answers a server challenge with the system random source.
func Pair(req Request) (*Response, error) {
	var p Pairer
	return p.Pair(req)
}

// Pair answers a server challenge. Every step is a precondition for the
// next and nothing survives a failed attempt.
func (p *Pairer) Pair(req Request) (*Response, error) {
	key, err := DeriveKey(req.PIN, req.Salt)
	if err != nil {
		return nil, err
	}

	// Ciphertext that is not block aligned cannot decrypt to a challenge.
	challenge, err := crypto.DecryptECB(key, req.ServerChallenge)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChallengeSizeMismatch, err)
	}
	if len(challenge) != ChallengeSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrChallengeSizeMismatch, len(challenge))
	}

	signer, err := crypto.LoadPrivateKey(req.ClientKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
	}

	secret, err := crypto.ReadRandom(p.random(), ClientSecretSize)
	if err != nil {
		return nil, err
	}

	digest := crypto.SHA256(challenge, secret)
	sig, err := crypto.Sign(digest, signer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignature, err)
	}

	plain := make([]byte, 0, len(secret)+len(sig))
	plain = append(plain, secret...)
	plain = append(plain, sig...)
	ct, err := crypto.EncryptECB(key, padBlock(plain))
	if err != nil {
		return nil, fmt.Errorf("encrypt response: %w", err)
	}

	return &Response{
		ClientSecret: secret,
		Signature:    sig,
		Ciphertext:   ct,
	}, nil
}

func (p *Pairer) random() io.Reader {
	if p.Rand != nil {
		return p.Rand
	}
	return rand.Reader
}

// padBlock zero-extends b to a block multiple. RSA-2048 signatures are
// already aligned with the secret; ECDSA signatures vary in length and
// carry their own DER length so trailing zeros are unambiguous.
func padBlock(b []byte) []byte {
	if rem := len(b) % 16; rem != 0 {
		b = append(b, make([]byte, 16-rem)...)
	}
	return b
}
