// Package api talks to the streaming host's HTTPS control API: pairing
// phases, server info and launch.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"moonlink/native/internal/domain"
	"moonlink/native/internal/pairing"

	"github.com/google/uuid"
)

const (
	defaultUniqueID   = "0123456789ABCDEF"
	defaultDeviceName = "moonlink"
	defaultTimeout    = 10 * time.Second
	// The host holds phase 1 open until the user types the PIN.
	pairTimeout = 90 * time.Second
	maxBodySize = 1 << 20
)

var (
	ErrHostStatus   = errors.New("api: host returned an error status")
	ErrMalformed    = errors.New("api: malformed host response")
	ErrCertMismatch = errors.New("api: host certificate does not match the pinned certificate")
)

// Options configures a Client.
type Options struct {
	// BaseURL is the host's HTTPS endpoint, e.g. https://10.0.0.2:47984.
	BaseURL  string
	Identity *pairing.Identity
	// HostCertPEM pins the host certificate from an earlier pairing.
	HostCertPEM []byte
	UniqueID    string
	DeviceName  string
	Timeout     time.Duration
	Log         *slog.Logger
}

// ServerInfo is the host's /serverinfo answer.
type ServerInfo struct {
	Hostname               string
	AppVersion             string
	GfeVersion             string
	ServerCodecModeSupport uint32
	Paired                 bool
	CurrentGame            int
	State                  string
}

type response struct {
	XMLName       xml.Name `xml:"root"`
	StatusCode    int      `xml:"status_code,attr"`
	StatusMessage string   `xml:"status_message,attr"`

	Paired        string `xml:"paired"`
	PlainCert     string `xml:"plaincert"`
	Challenge     string `xml:"challenge"`
	PairingSecret string `xml:"pairingsecret"`

	Hostname               string `xml:"hostname"`
	AppVersion             string `xml:"appversion"`
	GfeVersion             string `xml:"GfeVersion"`
	ServerCodecModeSupport uint32 `xml:"ServerCodecModeSupport"`
	PairStatus             int    `xml:"PairStatus"`
	CurrentGame            int    `xml:"currentgame"`
	State                  string `xml:"state"`

	GameSession int    `xml:"gamesession"`
	SessionURL  string `xml:"sessionUrl0"`
}

var _ pairing.Host = (*Client)(nil)

// Client is an mTLS client for the host API. The host certificate is
// trusted on first use during pairing and pinned from then on.
type Client struct {
	base *url.URL
	opts Options
	http *http.Client
	log  *slog.Logger

	mu     sync.Mutex
	pinned []byte // host certificate DER
}

// NewClient creates a client presenting the identity's certificate.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if opts.Identity == nil {
		return nil, fmt.Errorf("api: identity is required")
	}
	if opts.UniqueID == "" {
		opts.UniqueID = defaultUniqueID
	}
	if opts.DeviceName == "" {
		opts.DeviceName = defaultDeviceName
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	cert, err := opts.Identity.TLSCertificate()
	if err != nil {
		return nil, err
	}

	c := &Client{
		base: base,
		opts: opts,
		log:  log.With("component", "api", "host", base.Host),
	}
	if len(opts.HostCertPEM) > 0 {
		if err := c.pin(opts.HostCertPEM); err != nil {
			return nil, err
		}
	}

	c.http = &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				// Hosts present self-signed certificates; trust is
				// established by pinning in VerifyPeerCertificate.
				InsecureSkipVerify:    true,
				VerifyPeerCertificate: c.verifyPeer,
			},
		},
	}
	return c, nil
}

func (c *Client) pin(certPEM []byte) error {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return fmt.Errorf("%w: host certificate is not PEM", ErrMalformed)
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return fmt.Errorf("%w: host certificate: %w", ErrMalformed, err)
	}
	c.mu.Lock()
	c.pinned = block.Bytes
	c.mu.Unlock()
	return nil
}

func (c *Client) verifyPeer(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	c.mu.Lock()
	pinned := c.pinned
	c.mu.Unlock()
	if pinned == nil {
		return nil
	}
	if len(rawCerts) == 0 || !bytes.Equal(rawCerts[0], pinned) {
		return ErrCertMismatch
	}
	return nil
}

// HostCertPEM returns the pinned host certificate, if any.
func (c *Client) HostCertPEM() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned == nil {
		return nil
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.pinned})
}

func (c *Client) get(ctx context.Context, path string, params url.Values, timeout time.Duration) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if params == nil {
		params = url.Values{}
	}
	params.Set("uniqueid", c.opts.UniqueID)
	params.Set("uuid", uuid.NewString())

	u := *c.base
	u.Path = path
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}

	c.log.Debug("request", "path", path, "phrase", params.Get("phrase"))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d: %s", ErrHostStatus, resp.StatusCode, string(body))
	}

	var r response
	if err := xml.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if r.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d %s", ErrHostStatus, r.StatusCode, r.StatusMessage)
	}
	return &r, nil
}

func (c *Client) pair(ctx context.Context, params url.Values, timeout time.Duration) (*response, error) {
	params.Set("devicename", c.opts.DeviceName)
	params.Set("updateState", "1")
	r, err := c.get(ctx, "/pair", params, timeout)
	if err != nil {
		return nil, err
	}
	if r.Paired != "1" {
		return nil, pairing.ErrPairingRejected
	}
	return r, nil
}

func decodeField(name, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformed, name)
	}
	b, err := pairing.DecodeHex(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, name, err)
	}
	return b, nil
}

// GetServerCert runs phase 1. The returned certificate is pinned for the
// remaining phases and later sessions.
func (c *Client) GetServerCert(ctx context.Context, salt, clientCertPEM []byte) ([]byte, error) {
	r, err := c.pair(ctx, url.Values{
		"phrase":     {"getservercert"},
		"salt":       {pairing.EncodeHex(salt)},
		"clientcert": {pairing.EncodeHex(clientCertPEM)},
	}, pairTimeout)
	if err != nil {
		return nil, err
	}
	certPEM, err := decodeField("plaincert", r.PlainCert)
	if err != nil {
		return nil, err
	}
	if err := c.pin(certPEM); err != nil {
		return nil, err
	}
	c.log.Info("host certificate pinned")
	return certPEM, nil
}

// GetChallenge runs phase 2.
func (c *Client) GetChallenge(ctx context.Context) ([]byte, error) {
	r, err := c.pair(ctx, url.Values{"phrase": {"getchallenge"}}, c.opts.Timeout)
	if err != nil {
		return nil, err
	}
	return decodeField("challenge", r.Challenge)
}

// SendResponse runs phase 3 and returns the host pairing secret.
func (c *Client) SendResponse(ctx context.Context, resp []byte) ([]byte, error) {
	r, err := c.pair(ctx, url.Values{"serverchallengeresp": {pairing.EncodeHex(resp)}}, c.opts.Timeout)
	if err != nil {
		return nil, err
	}
	return decodeField("pairingsecret", r.PairingSecret)
}

// SendPairingSecret runs phase 4. A host answering paired=0 means the PIN
// was wrong.
func (c *Client) SendPairingSecret(ctx context.Context, secret []byte) (bool, error) {
	_, err := c.pair(ctx, url.Values{"clientpairingsecret": {pairing.EncodeHex(secret)}}, c.opts.Timeout)
	if errors.Is(err, pairing.ErrPairingRejected) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Unpair removes this client from the host.
func (c *Client) Unpair(ctx context.Context) error {
	_, err := c.get(ctx, "/unpair", nil, c.opts.Timeout)
	return err
}

// ServerInfo fetches the host's version and capabilities.
func (c *Client) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	r, err := c.get(ctx, "/serverinfo", nil, c.opts.Timeout)
	if err != nil {
		return nil, err
	}
	if r.AppVersion == "" {
		return nil, fmt.Errorf("%w: missing appversion", ErrMalformed)
	}
	return &ServerInfo{
		Hostname:               r.Hostname,
		AppVersion:             r.AppVersion,
		GfeVersion:             r.GfeVersion,
		ServerCodecModeSupport: r.ServerCodecModeSupport,
		Paired:                 r.PairStatus == 1,
		CurrentGame:            r.CurrentGame,
		State:                  r.State,
	}, nil
}

// Launch starts appID on the host with the stream parameters in cfg and
// returns the RTSP session URL.
func (c *Client) Launch(ctx context.Context, appID int, cfg *domain.StreamConfig) (string, error) {
	if len(cfg.RemoteInputIV) < domain.MinRemoteInputIVLen {
		return "", fmt.Errorf("%w: remote input iv too short", domain.ErrConfigValidation)
	}
	packed := domain.AudioConfigForChannels(cfg.AudioChannels)
	surround := packed>>16<<16 | uint32(domain.AudioConfigChannels(packed))

	r, err := c.get(ctx, "/launch", url.Values{
		"appid":              {strconv.Itoa(appID)},
		"mode":               {fmt.Sprintf("%dx%dx%d", cfg.Width, cfg.Height, cfg.FPS)},
		"additionalStates":   {"1"},
		"sops":               {"0"},
		"rikey":              {pairing.EncodeHex(cfg.RemoteInputKey)},
		"rikeyid":            {strconv.FormatInt(int64(int32(binary.BigEndian.Uint32(cfg.RemoteInputIV[:4]))), 10)},
		"localAudioPlayMode": {"0"},
		"surroundAudioInfo":  {strconv.FormatUint(uint64(surround), 10)},
	}, pairTimeout)
	if err != nil {
		return "", err
	}
	if r.GameSession == 0 {
		return "", fmt.Errorf("%w: launch refused", ErrHostStatus)
	}
	c.log.Info("launched", "app_id", appID, "session_url", r.SessionURL)
	return r.SessionURL, nil
}
