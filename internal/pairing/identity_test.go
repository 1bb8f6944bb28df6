package pairing

import (
	"bytes"
	"errors"
	"io/fs"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGenerateIdentity(t *testing.T) {
	t.Parallel()
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}

	block, _ := pem.Decode(id.CertPEM)
	if block == nil {
		t.Fatal("certificate is not PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}
	if cert.NotAfter.Before(time.Now().Add(365 * 24 * time.Hour)) {
		t.Errorf("certificate expires too soon: %v", cert.NotAfter)
	}

	if _, err := id.TLSCertificate(); err != nil {
		t.Errorf("TLSCertificate: %v", err)
	}
	if _, err := id.Signer(); err != nil {
		t.Errorf("Signer: %v", err)
	}
	fp, err := id.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	if fp == [32]byte{} {
		t.Error("empty fingerprint")
	}
}

func TestIdentitySaveLoad(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "identity")

	id, created, err := LoadOrGenerateIdentity(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("expected a new identity")
	}

	info, err := os.Stat(filepath.Join(dir, "client.key"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}

	again, created, err := LoadOrGenerateIdentity(dir)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("expected the saved identity to be loaded")
	}
	if !bytes.Equal(again.CertPEM, id.CertPEM) || !bytes.Equal(again.KeyPEM, id.KeyPEM) {
		t.Error("loaded identity differs from saved identity")
	}
}

func TestLoadIdentityCorrupt(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "client.crt"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "client.key"), []byte("junk"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadOrGenerateIdentity(dir); err == nil {
		t.Error("expected corrupt identity to be reported, not replaced")
	}
}

func TestHostCertPersistence(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if _, err := LoadHostCert(dir); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("unpaired LoadHostCert err = %v, want fs.ErrNotExist", err)
	}
	if err := SaveHostCert(dir, []byte("not a certificate")); err == nil {
		t.Fatal("SaveHostCert accepted garbage")
	}

	host, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveHostCert(dir, host.CertPEM); err != nil {
		t.Fatalf("SaveHostCert: %v", err)
	}
	got, err := LoadHostCert(dir)
	if err != nil {
		t.Fatalf("LoadHostCert: %v", err)
	}
	if !bytes.Equal(got, host.CertPEM) {
		t.Error("host certificate changed on disk")
	}

	if err := RemoveHostCert(dir); err != nil {
		t.Fatalf("RemoveHostCert: %v", err)
	}
	if err := RemoveHostCert(dir); err != nil {
		t.Errorf("second RemoveHostCert: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "host.crt")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("host.crt still present: %v", err)
	}
}
