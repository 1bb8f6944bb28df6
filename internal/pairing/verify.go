package pairing

import (
	"errors"
	"fmt"

	"moonlink/native/internal/crypto"
)

// VerifyHostSecret checks the host pairing secret, host_secret(16) followed
// by the host's signature over sha256(host_secret), against the public key
// of the certificate the host presented earlier. A failure means the peer
// is not the host we fetched the certificate from.
func VerifyHostSecret(pairingSecret, hostCertPEM []byte) ([]byte, error) {
	if len(pairingSecret) <= ClientSecretSize {
		return nil, fmt.Errorf("%w: pairing secret too short (%d bytes)", ErrHostSignature, len(pairingSecret))
	}
	pub, err := crypto.LoadPublicKey(hostCertPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: host certificate: %w", ErrHostSignature, err)
	}

	secret := pairingSecret[:ClientSecretSize]
	sig := pairingSecret[ClientSecretSize:]
	if !crypto.Verify(crypto.SHA256(secret), sig, pub) {
		return nil, fmt.Errorf("%w: %w", ErrHostSignature, crypto.ErrVerify)
	}
	return secret, nil
}

// ClientPairingSecret builds the final confirmation payload:
// client_secret followed by sign(sha256(client_secret)).
func ClientPairingSecret(clientSecret, clientKeyPEM []byte) ([]byte, error) {
	sig, err := crypto.SignPEM(crypto.SHA256(clientSecret), clientKeyPEM)
	if err != nil {
		if errors.Is(err, crypto.ErrKeyLoad) {
			return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrSignature, err)
	}
	out := make([]byte, 0, len(clientSecret)+len(sig))
	out = append(out, clientSecret...)
	return append(out, sig...), nil
}
