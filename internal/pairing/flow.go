package pairing

import (
	"context"
	"fmt"
	"log/slog"

	"moonlink/native/internal/crypto"
)

// Host is the host side of the pairing exchange, one method per phase.
type Host interface {
	// GetServerCert sends the salt and client certificate and returns the
	// host certificate.
	GetServerCert(ctx context.Context, salt, clientCertPEM []byte) ([]byte, error)
	// GetChallenge returns the encrypted server challenge.
	GetChallenge(ctx context.Context) ([]byte, error)
	// SendResponse sends the encrypted challenge response and returns the
	// host pairing secret.
	SendResponse(ctx context.Context, response []byte) ([]byte, error)
	// SendPairingSecret sends the client pairing secret and reports whether
	// the host accepted the pairing.
	SendPairingSecret(ctx context.Context, secret []byte) (bool, error)
}

// Result of a successful pairing.
type Result struct {
	HostCertPEM []byte
}

// Flow drives a full pairing against a Host.
type Flow struct {
	Pairer Pairer
	Log    *slog.Logger
}

// Run pairs with the default Flow.
func Run(ctx context.Context, host Host, pin string, id *Identity) (*Result, error) {
	var f Flow
	return f.Run(ctx, host, pin, id)
}

// Run performs all phases. Any error is terminal for this attempt; the
// caller restarts from PIN entry.
func (f *Flow) Run(ctx context.Context, host Host, pin string, id *Identity) (*Result, error) {
	log := f.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "pairing")

	salt, err := crypto.ReadRandom(f.Pairer.random(), MaxSaltSize)
	if err != nil {
		return nil, err
	}

	log.Info("requesting host certificate")
	hostCert, err := host.GetServerCert(ctx, salt, id.CertPEM)
	if err != nil {
		return nil, fmt.Errorf("get server cert: %w", err)
	}
	if _, err := crypto.LoadPublicKey(hostCert); err != nil {
		return nil, fmt.Errorf("%w: host certificate: %w", ErrHostSignature, err)
	}

	challenge, err := host.GetChallenge(ctx)
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}

	resp, err := f.Pairer.Pair(Request{
		PIN:             pin,
		Salt:            salt,
		ServerChallenge: challenge,
		ClientKeyPEM:    id.KeyPEM,
	})
	if err != nil {
		log.Warn("challenge response failed", "error", err)
		return nil, err
	}

	hostSecret, err := host.SendResponse(ctx, resp.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("send response: %w", err)
	}
	if _, err := VerifyHostSecret(hostSecret, hostCert); err != nil {
		log.Error("host signature rejected, aborting pairing", "error", err)
		return nil, err
	}

	clientSecret, err := ClientPairingSecret(resp.ClientSecret, id.KeyPEM)
	if err != nil {
		return nil, err
	}
	paired, err := host.SendPairingSecret(ctx, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("send pairing secret: %w", err)
	}
	if !paired {
		log.Warn("host rejected pairing, check the PIN")
		return nil, ErrPairingRejected
	}

	log.Info("paired")
	return &Result{HostCertPEM: hostCert}, nil
}
