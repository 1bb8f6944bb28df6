package pairing

import (
	gocrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"moonlink/native/internal/crypto"
)

const (
	identityKeyBits  = 2048
	identityValidity = 20 * 365 * 24 * time.Hour
	certFile         = "client.crt"
	keyFile          = "client.key"
	hostCertFile     = "host.crt"
)

// Identity is the client's long-lived certificate and signing key.
type Identity struct {
	CertPEM []byte
	KeyPEM  []byte
}

// GenerateIdentity creates a self-signed RSA-2048 client certificate.
func GenerateIdentity() (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, identityKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	notBefore := time.Now().Add(-1 * time.Minute)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "NVIDIA GameStream Client"},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(identityValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	return &Identity{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
	}, nil
}

// LoadIdentity reads client.crt and client.key from dir.
func LoadIdentity(dir string) (*Identity, error) {
	certPEM, err := os.ReadFile(filepath.Join(dir, certFile))
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(filepath.Join(dir, keyFile))
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	id := &Identity{CertPEM: certPEM, KeyPEM: keyPEM}
	if _, err := id.TLSCertificate(); err != nil {
		return nil, err
	}
	return id, nil
}

// LoadOrGenerateIdentity loads the identity in dir, creating and saving a
// new one if none exists.
func LoadOrGenerateIdentity(dir string) (*Identity, bool, error) {
	id, err := LoadIdentity(dir)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	id, err = GenerateIdentity()
	if err != nil {
		return nil, false, err
	}
	if err := id.Save(dir); err != nil {
		return nil, false, err
	}
	return id, true, nil
}

// Save writes the identity into dir. The key file is private to the user.
func (id *Identity) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, certFile), id.CertPEM, 0o644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, keyFile), id.KeyPEM, 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	return nil
}

// TLSCertificate returns the identity as a client certificate for mTLS.
func (id *Identity) TLSCertificate() (tls.Certificate, error) {
	cert, err := tls.X509KeyPair(id.CertPEM, id.KeyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %w", ErrKeyLoad, err)
	}
	return cert, nil
}

// Signer returns the identity's private key.
func (id *Identity) Signer() (gocrypto.Signer, error) {
	s, err := crypto.LoadPrivateKey(id.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
	}
	return s, nil
}

// Fingerprint is the SHA-256 of the certificate DER.
func (id *Identity) Fingerprint() ([32]byte, error) {
	block, _ := pem.Decode(id.CertPEM)
	if block == nil {
		return [32]byte{}, fmt.Errorf("%w: certificate is not PEM", ErrKeyLoad)
	}
	return sha256.Sum256(block.Bytes), nil
}

// SaveHostCert stores the certificate pinned during pairing next to the
// identity.
func SaveHostCert(dir string, certPEM []byte) error {
	if _, err := crypto.LoadPublicKey(certPEM); err != nil {
		return fmt.Errorf("invalid host certificate: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, hostCertFile), certPEM, 0o644); err != nil {
		return fmt.Errorf("write host certificate: %w", err)
	}
	return nil
}

// LoadHostCert reads the pinned host certificate. It returns an error
// wrapping fs.ErrNotExist when the client has not paired yet.
func LoadHostCert(dir string) ([]byte, error) {
	certPEM, err := os.ReadFile(filepath.Join(dir, hostCertFile))
	if err != nil {
		return nil, fmt.Errorf("read host certificate: %w", err)
	}
	return certPEM, nil
}

// RemoveHostCert forgets the pinned host certificate.
func RemoveHostCert(dir string) error {
	err := os.Remove(filepath.Join(dir, hostCertFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove host certificate: %w", err)
	}
	return nil
}
