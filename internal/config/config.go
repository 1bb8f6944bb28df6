// Package config loads the environment and the YAML stream profile.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"moonlink/native/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultIdentityDir = "identity"
	defaultProfilePath = "moonlink.yaml"
	defaultHostPort    = "47984"
)

// Config holds the application configuration.
type Config struct {
	Host        string
	PIN         string
	SignalURL   string
	SignalToken string
	IdentityDir string
	ProfilePath string
	Profile     Profile
}

// Profile is the YAML stream profile.
type Profile struct {
	Stream  StreamProfile  `yaml:"stream"`
	Logging LoggingProfile `yaml:"logging"`
}

type StreamProfile struct {
	AppID         int    `yaml:"app_id"`
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	FPS           int    `yaml:"fps"`
	BitrateKbps   int    `yaml:"bitrate_kbps"`
	PacketSize    int    `yaml:"packet_size"`
	Codec         string `yaml:"codec"`
	ColorSpace    string `yaml:"color_space"`
	ColorRange    string `yaml:"color_range"`
	AudioChannels int    `yaml:"audio_channels"`
}

type LoggingProfile struct {
	Level string `yaml:"level"`
}

// DefaultProfile is used for any field the profile file leaves out.
func DefaultProfile() Profile {
	return Profile{
		Stream: StreamProfile{
			Width:         1920,
			Height:        1080,
			FPS:           60,
			BitrateKbps:   20000,
			PacketSize:    domain.DefaultPacketSize,
			Codec:         "h264",
			ColorSpace:    "rec709",
			ColorRange:    "limited",
			AudioChannels: 2,
		},
		Logging: LoggingProfile{Level: "info"},
	}
}

// Load reads configuration from a .env file (if present), environment
// variables and the stream profile. Environment variables take precedence
// over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		Host:        os.Getenv("MOONLINK_HOST"),
		PIN:         os.Getenv("MOONLINK_PIN"),
		SignalURL:   os.Getenv("MOONLINK_SIGNAL_URL"),
		SignalToken: os.Getenv("MOONLINK_SIGNAL_TOKEN"),
		IdentityDir: envOr("MOONLINK_IDENTITY_DIR", defaultIdentityDir),
		ProfilePath: envOr("MOONLINK_PROFILE", defaultProfilePath),
	}

	profile, err := LoadProfile(cfg.ProfilePath)
	if err != nil {
		return nil, err
	}
	cfg.Profile = *profile
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// LoadProfile parses the YAML profile at path. A missing file yields the
// defaults; unknown keys are rejected.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open profile: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &p, nil
}

// Validate checks every field and names the first bad one.
func (p *Profile) Validate() error {
	s := p.Stream
	switch {
	case s.Width <= 0:
		return fmt.Errorf("invalid stream.width: %d", s.Width)
	case s.Height <= 0:
		return fmt.Errorf("invalid stream.height: %d", s.Height)
	case s.FPS <= 0:
		return fmt.Errorf("invalid stream.fps: %d", s.FPS)
	case s.BitrateKbps <= 0:
		return fmt.Errorf("invalid stream.bitrate_kbps: %d", s.BitrateKbps)
	case s.PacketSize < 0:
		return fmt.Errorf("invalid stream.packet_size: %d", s.PacketSize)
	case s.AppID < 0:
		return fmt.Errorf("invalid stream.app_id: %d", s.AppID)
	}
	switch s.AudioChannels {
	case 2, 6, 8:
	default:
		return fmt.Errorf("invalid stream.audio_channels: %d (must be 2, 6 or 8)", s.AudioChannels)
	}
	if _, err := domain.ParseVideoCodec(s.Codec); err != nil {
		return fmt.Errorf("invalid stream.codec: %w", err)
	}
	if _, err := parseColorSpace(s.ColorSpace); err != nil {
		return err
	}
	if _, err := parseColorRange(s.ColorRange); err != nil {
		return err
	}
	if _, err := p.Logging.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func parseColorSpace(s string) (domain.ColorSpace, error) {
	switch strings.ToLower(s) {
	case "rec601", "bt601":
		return domain.ColorSpaceRec601, nil
	case "rec709", "bt709":
		return domain.ColorSpaceRec709, nil
	case "rec2020", "bt2020":
		return domain.ColorSpaceRec2020, nil
	}
	return 0, fmt.Errorf("invalid stream.color_space: %q", s)
}

func parseColorRange(s string) (domain.ColorRange, error) {
	switch strings.ToLower(s) {
	case "limited", "mpeg":
		return domain.ColorRangeLimited, nil
	case "full", "jpeg":
		return domain.ColorRangeFull, nil
	}
	return 0, fmt.Errorf("invalid stream.color_range: %q", s)
}

// Apply copies the profile's stream parameters into cfg. Host-provided
// fields (keys, app version, codec support) are left alone.
func (s StreamProfile) Apply(cfg *domain.StreamConfig) error {
	codec, err := domain.ParseVideoCodec(s.Codec)
	if err != nil {
		return err
	}
	cs, err := parseColorSpace(s.ColorSpace)
	if err != nil {
		return err
	}
	cr, err := parseColorRange(s.ColorRange)
	if err != nil {
		return err
	}
	cfg.Width = s.Width
	cfg.Height = s.Height
	cfg.FPS = s.FPS
	cfg.BitrateKbps = s.BitrateKbps
	cfg.PacketSize = s.PacketSize
	cfg.VideoCodec = codec
	cfg.ColorSpace = cs
	cfg.ColorRange = cr
	cfg.AudioChannels = s.AudioChannels
	return nil
}

// SlogLevel maps the configured level name.
func (l LoggingProfile) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid logging.level: %q (must be one of debug, info, warn, error)", l.Level)
}

// HostURL is the host's HTTPS API endpoint. A bare host gets the default
// port.
func (c *Config) HostURL() (string, error) {
	if c.Host == "" {
		return "", fmt.Errorf("MOONLINK_HOST environment variable is required")
	}
	host := c.Host
	if strings.HasPrefix(host, "https://") {
		return host, nil
	}
	if !strings.Contains(host, ":") {
		host += ":" + defaultHostPort
	}
	return "https://" + host, nil
}

// RequirePIN checks the pairing PIN is present and numeric.
func (c *Config) RequirePIN() error {
	if c.PIN == "" {
		return fmt.Errorf("MOONLINK_PIN environment variable is required")
	}
	for _, r := range c.PIN {
		if r < '0' || r > '9' {
			return fmt.Errorf("MOONLINK_PIN must be numeric")
		}
	}
	return nil
}

// RequireSignalURL checks the gateway endpoint is present.
func (c *Config) RequireSignalURL() error {
	if c.SignalURL == "" {
		return fmt.Errorf("MOONLINK_SIGNAL_URL environment variable is required")
	}
	return nil
}
