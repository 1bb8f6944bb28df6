package crypto

import (
	gocrypto "crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

var (
	// ErrKeyLoad means the key material could not be parsed. Distinct from a
	// signature or verification failure.
	ErrKeyLoad = errors.New("load key")
	ErrSign    = errors.New("sign")
	ErrVerify  = errors.New("signature verification failed")
)

// LoadPrivateKey parses a PEM encoded RSA or ECDSA private key in PKCS#1,
// PKCS#8 or SEC1 form.
func LoadPrivateKey(pemBytes []byte) (gocrypto.Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyLoad)
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
		}
		return k, nil
	case "EC PRIVATE KEY":
		k, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
		}
		return k, nil
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
		}
		switch k := k.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case *ecdsa.PrivateKey:
			return k, nil
		default:
			return nil, fmt.Errorf("%w: unsupported key type %T", ErrKeyLoad, k)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrKeyLoad, block.Type)
	}
}

// LoadPublicKey parses a PEM certificate or PKIX public key.
func LoadPublicKey(pemBytes []byte) (gocrypto.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyLoad)
	}
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
		}
		return cert.PublicKey, nil
	case "PUBLIC KEY":
		k, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
		}
		return k, nil
	case "RSA PUBLIC KEY":
		k, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
		}
		return k, nil
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrKeyLoad, block.Type)
	}
}

// Sign signs a SHA-256 digest. RSA keys use PKCS#1 v1.5 and are
// deterministic; ECDSA keys produce an ASN.1 signature.
func Sign(digest []byte, key gocrypto.Signer) ([]byte, error) {
	if len(digest) != gocrypto.SHA256.Size() {
		return nil, fmt.Errorf("%w: digest must be %d bytes, got %d", ErrSign, gocrypto.SHA256.Size(), len(digest))
	}

	var (
		sig []byte
		err error
	)
	switch k := key.(type) {
	case *rsa.PrivateKey:
		sig, err = rsa.SignPKCS1v15(nil, k, gocrypto.SHA256, digest)
	case *ecdsa.PrivateKey:
		sig, err = ecdsa.SignASN1(rand.Reader, k, digest)
	default:
		sig, err = key.Sign(rand.Reader, digest, gocrypto.SHA256)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSign, err)
	}
	if len(sig) == 0 {
		return nil, fmt.Errorf("%w: empty signature", ErrSign)
	}
	return sig, nil
}

// SignPEM loads keyPEM and signs digest with it.
func SignPEM(digest, keyPEM []byte) ([]byte, error) {
	key, err := LoadPrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	return Sign(digest, key)
}

// Verify reports whether sig is a valid signature of the SHA-256 digest
// under pub. Unsupported key types never verify.
func Verify(digest, sig []byte, pub gocrypto.PublicKey) bool {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(k, gocrypto.SHA256, digest, sig) == nil
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(k, digest, sig)
	default:
		return false
	}
}
